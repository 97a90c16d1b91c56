package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const improvePrompt = `Improve the English grammar, vocabulary, and clarity of the following text. 
Keep the same length, meaning, and overall message. Only fix language issues.

Text: %s

Improved text:`

// Improver is the text-improvement adapter. The model reply is trusted verbatim.
type Improver struct {
	llm     Completer
	timeout time.Duration
}

func NewImprover(llm Completer, timeout time.Duration) *Improver {
	return &Improver{llm: llm, timeout: timeout}
}

// Improve rewrites text for grammar and clarity. Blank input yields "" without
// calling the model. Remote failures are returned without retry.
func (i *Improver) Improve(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	reply, err := i.llm.Complete(ctx, BuildPrompt(text))
	if err != nil {
		return "", fmt.Errorf("improve text: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// BuildPrompt renders the rewrite instruction around text.
func BuildPrompt(text string) string {
	return fmt.Sprintf(improvePrompt, text)
}

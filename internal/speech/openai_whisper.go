package speech

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// localModelSizes are whisper size names that only make sense for local models.
var localModelSizes = map[string]bool{
	"tiny": true, "base": true, "small": true, "medium": true,
	"large": true, "large-v2": true, "large-v3": true, "turbo": true,
}

// OpenAIWhisper transcribes through the OpenAI audio API.
type OpenAIWhisper struct {
	client *openai.Client
	model  string
}

func NewOpenAIWhisper(client *openai.Client, model string) *OpenAIWhisper {
	if model == "" || localModelSizes[model] {
		model = openai.Whisper1
	}
	return &OpenAIWhisper{client: client, model: model}
}

func (c *OpenAIWhisper) Transcribe(ctx context.Context, filePath string) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: filePath,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return resp.Text, nil
}

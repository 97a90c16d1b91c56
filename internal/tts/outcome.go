package tts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable means the isolated environment or model assets are missing.
// Nothing was invoked.
var ErrUnavailable = errors.New("synthesis unavailable")

// ErrTimeout matches SynthesisError values of KindTimeout.
var ErrTimeout = errors.New("synthesis timed out")

// FailureKind classifies why an invocation did not succeed.
type FailureKind string

const (
	KindConvert  FailureKind = "convert"
	KindStart    FailureKind = "start"
	KindTimeout  FailureKind = "timeout"
	KindCanceled FailureKind = "canceled"
	KindExit     FailureKind = "exit"
	KindMarker   FailureKind = "marker"
	KindOutput   FailureKind = "output"
)

// Outcome describes one finished synthesis process.
type Outcome struct {
	OutputPath string
	ExitCode   int
	Stdout     []string
	Stderr     string
	Elapsed    time.Duration
}

// SynthesisError is an invocation failure after the readiness probe passed.
type SynthesisError struct {
	Kind     FailureKind
	ExitCode int
	Stderr   string
	Message  string
	Err      error
}

func (e *SynthesisError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "IndexTTS2 inference failed (%s): %s", e.Kind, e.Message)
	if e.Kind == KindExit {
		fmt.Fprintf(&b, " (exit=%d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" && e.Kind == KindExit {
		b.WriteString(": ")
		b.WriteString(s)
	}
	return b.String()
}

func (e *SynthesisError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is(err, ErrTimeout) match timeouts.
func (e *SynthesisError) Is(target error) bool {
	return target == ErrTimeout && e != nil && e.Kind == KindTimeout
}

package speech

import (
	"context"
	"strings"
)

// STTClient turns an audio file into text.
type STTClient interface {
	Transcribe(ctx context.Context, filePath string) (string, error)
}

// Service is the transcription adapter used by the pipeline.
type Service struct {
	stt STTClient
}

func NewService(stt STTClient) *Service {
	return &Service{stt: stt}
}

// Transcribe returns the transcript with segments joined by single spaces.
// Backend errors are returned as is; a decode failure will not improve on retry.
func (s *Service) Transcribe(ctx context.Context, filePath string) (string, error) {
	text, err := s.stt.Transcribe(ctx, filePath)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(text), " "), nil
}

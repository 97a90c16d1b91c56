package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(client *openai.Client, model string) *OpenAIClient {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client: client,
		model:  model,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", analyzeOpenAIError(err), err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// analyzeOpenAIError gives a short diagnosis for the common API failures.
func analyzeOpenAIError(err error) string {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusUnauthorized:
		return "invalid OpenAI API key"
	case http.StatusNotFound:
		return "model not found"
	case http.StatusTooManyRequests:
		return "OpenAI rate limit or quota exceeded"
	case http.StatusBadRequest:
		return "bad request to OpenAI"
	case 0:
		return "OpenAI request failed"
	}
	if status >= 500 {
		return "OpenAI internal error"
	}
	return fmt.Sprintf("OpenAI error (status %d)", status)
}

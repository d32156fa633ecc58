package labeler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaLabeler runs a local vision model through the Ollama chat API.
type OllamaLabeler struct {
	client  *api.Client
	model   string
	prompt  string
	timeout time.Duration
}

// NewOllamaLabeler points at the Ollama server at endpoint. Any path on the
// endpoint is ignored.
func NewOllamaLabeler(endpoint, model, prompt string) (*OllamaLabeler, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid ollama URL: %q", endpoint)
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}

	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &OllamaLabeler{
		client:  api.NewClient(base, http.DefaultClient),
		model:   model,
		prompt:  prompt,
		timeout: 2 * time.Minute,
	}, nil
}

// Label implements Labeler.
func (o *OllamaLabeler) Label(ctx context.Context, image []byte, mimeType string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	stream := false
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: o.prompt,
				Images:  []api.ImageData{api.ImageData(image)},
			},
		},
		Stream: &stream,
	}

	var content string
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return content, nil
}

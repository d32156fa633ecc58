package labeler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/replicate/replicate-go"
)

const (
	DefaultReplicateURL   = "https://api.replicate.com/v1"
	DefaultReplicateModel = "google/gemini-2.5-flash"
)

// ReplicateLabeler labels images with a hosted model on Replicate. The
// image goes up through the files API and the prediction references it.
type ReplicateLabeler struct {
	BaseURL      string
	Model        string
	Token        string
	Prompt       string
	PollInterval time.Duration
	httpClient   *http.Client
}

// NewReplicateLabeler creates a labeler for model, authenticated by token.
func NewReplicateLabeler(token, model, prompt string) *ReplicateLabeler {
	if model == "" {
		model = DefaultReplicateModel
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &ReplicateLabeler{
		BaseURL:      DefaultReplicateURL,
		Model:        model,
		Token:        token,
		Prompt:       prompt,
		PollInterval: time.Second,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *ReplicateLabeler) client() (*replicate.Client, error) {
	opts := []replicate.ClientOption{replicate.WithToken(r.Token)}
	if r.BaseURL != "" {
		opts = append(opts, replicate.WithBaseURL(r.BaseURL))
	}
	if r.httpClient != nil {
		opts = append(opts, replicate.WithHTTPClient(r.httpClient))
	}
	return replicate.NewClient(opts...)
}

// Label implements Labeler.
func (r *ReplicateLabeler) Label(ctx context.Context, image []byte, mimeType string) (string, error) {
	owner, name, ok := strings.Cut(r.Model, "/")
	if !ok || owner == "" || name == "" {
		return "", fmt.Errorf("replicate: model %q is not owner/name", r.Model)
	}

	r8, err := r.client()
	if err != nil {
		return "", fmt.Errorf("replicate client: %w", err)
	}

	file, err := r8.CreateFileFromBytes(ctx, image, &replicate.CreateFileOptions{
		Filename:    "upload" + extensionFor(mimeType),
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("replicate upload: %w", err)
	}
	imageURL := file.URLs["get"]
	if imageURL == "" {
		return "", fmt.Errorf("replicate upload: file %s has no URL", file.ID)
	}

	input := replicate.PredictionInput{
		"images": []string{imageURL},
		"prompt": r.Prompt,
	}
	prediction, err := r8.CreatePredictionWithModel(ctx, owner, name, input, nil, false)
	if err != nil {
		return "", fmt.Errorf("replicate prediction: %w", err)
	}

	interval := r.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	if err := r8.Wait(ctx, prediction, replicate.WithPollingInterval(interval)); err != nil {
		return "", fmt.Errorf("replicate wait: %w", err)
	}

	if prediction.Status != replicate.Succeeded {
		return "", fmt.Errorf("replicate: prediction %s %s: %v", prediction.ID, prediction.Status, prediction.Error)
	}
	return outputText(prediction.Output), nil
}

// outputText joins streamed token output; a plain string is returned as is.
func outputText(out replicate.PredictionOutput) string {
	switch v := out.(type) {
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, part := range v {
			if s, ok := part.(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	}
	return ""
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ".jpg"
}

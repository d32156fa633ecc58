package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmaxmax/go-sse"
)

const (
	DefaultFalRunURL     = "https://fal.run"
	DefaultFalStorageURL = "https://rest.alpha.fal.ai"
	DefaultWorkflow      = "workflows/kratadata/segment-prompt-style"
)

// FalClient talks to fal.ai: its storage API for uploads and the streaming
// run endpoint for workflows.
type FalClient struct {
	Key        string
	Workflow   string
	RunURL     string
	StorageURL string

	uploads *http.Client
	streams *http.Client
	logger  *slog.Logger
}

// NewFalClient creates a client for workflow authenticated by key.
func NewFalClient(key, workflow string, logger *slog.Logger) *FalClient {
	if workflow == "" {
		workflow = DefaultWorkflow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FalClient{
		Key:        key,
		Workflow:   workflow,
		RunURL:     DefaultFalRunURL,
		StorageURL: DefaultFalStorageURL,
		uploads:    &http.Client{Timeout: 60 * time.Second},
		// Runs can take minutes; the request context bounds them.
		streams: &http.Client{},
		logger:  logger,
	}
}

func (c *FalClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Key "+c.Key)
}

type initiateResponse struct {
	UploadURL string `json:"upload_url"`
	FileURL   string `json:"file_url"`
}

// Upload stores data in fal storage and returns its public URL.
func (c *FalClient) Upload(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"content_type": contentType,
		"file_name":    filename,
	})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.StorageURL, "/") + "/storage/upload/initiate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.uploads.Do(req)
	if err != nil {
		return "", fmt.Errorf("initiate upload: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", fmt.Errorf("initiate upload: %w", err)
	}

	var init initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&init); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if init.UploadURL == "" || init.FileURL == "" {
		return "", fmt.Errorf("initiate upload: incomplete response")
	}

	put, err := http.NewRequestWithContext(ctx, http.MethodPut, init.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	put.Header.Set("Content-Type", contentType)

	putResp, err := c.uploads.Do(put)
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	defer putResp.Body.Close()
	if err := checkStatus(putResp); err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}

	return init.FileURL, nil
}

// Stream starts a workflow run and converts its server-sent events.
func (c *FalClient) Stream(ctx context.Context, in Input) (<-chan Event, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s/stream", strings.TrimRight(c.RunURL, "/"), c.Workflow)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.streams.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("start workflow: %w", err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		c.relay(ctx, resp.Body, events)
	}()
	return events, nil
}

// relay reads the SSE body and emits events until a terminal one is sent.
func (c *FalClient) relay(ctx context.Context, body io.Reader, out chan<- Event) {
	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var last, output map[string]any
	err := readSSE(body, func(data []byte) bool {
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			c.logger.Debug("skipping non-JSON stream payload", "data", string(data))
			return true
		}
		last = payload

		kind, _ := payload["type"].(string)
		switch kind {
		case "error":
			detail := errorDetail(payload)
			c.logger.Error("workflow error", "detail", detail)
			send(Event{Kind: EventError, Detail: detail})
			return false
		case "output":
			output = payload
		}
		return send(Event{Kind: EventProgress, Percent: percentOf(payload), Message: messageOf(payload)})
	})

	switch {
	case ctx.Err() != nil:
		return
	case err != nil:
		send(Event{Kind: EventError, Detail: err.Error()})
	case last == nil:
		send(Event{Kind: EventError, Detail: "workflow stream ended without data"})
	case last["type"] == "error":
		// already reported
	case output != nil:
		send(Event{Kind: EventDone, Result: output})
	default:
		send(Event{Kind: EventDone, Result: last})
	}
}

// maxEventSize bounds a single stream event; output payloads carry the
// whole workflow result.
const maxEventSize = 4 << 20

// readSSE calls fn with the data of each event; fn returns false to stop.
func readSSE(r io.Reader, fn func(data []byte) bool) error {
	for ev, err := range sse.Read(r, &sse.ReadConfig{MaxEventSize: maxEventSize}) {
		if err != nil {
			return fmt.Errorf("read workflow stream: %w", err)
		}
		if ev.Data == "" {
			continue
		}
		if !fn([]byte(ev.Data)) {
			return nil
		}
	}
	return nil
}

func percentOf(payload map[string]any) int {
	for _, key := range []string{"percent", "progress"} {
		if v, ok := payload[key].(float64); ok {
			if v <= 1 && v > 0 {
				v *= 100
			}
			return int(v)
		}
	}
	return UnknownPercent
}

func messageOf(payload map[string]any) string {
	if s, ok := payload["message"].(string); ok {
		return s
	}
	return ""
}

// errorDetail prefers the structured body detail over the plain message.
func errorDetail(payload map[string]any) string {
	if e, ok := payload["error"].(map[string]any); ok {
		if b, ok := e["body"].(map[string]any); ok {
			if d, ok := b["detail"]; ok {
				raw, _ := json.Marshal(d)
				return string(raw)
			}
		}
	}
	if s := messageOf(payload); s != "" {
		return s
	}
	return "Unknown error"
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}

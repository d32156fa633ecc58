package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFalUpload(t *testing.T) {
	var put []byte
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/storage/upload/initiate":
			if r.Header.Get("Authorization") != "Key secret" {
				t.Errorf("authorization = %q", r.Header.Get("Authorization"))
			}
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["file_name"] != "cup.jpg" || body["content_type"] != "image/jpeg" {
				t.Errorf("initiate body = %v", body)
			}
			fmt.Fprintf(w, `{"upload_url":"%s/put/1","file_url":"https://cdn.fal/1.jpg"}`, srv.URL)
		case "/put/1":
			if r.Method != http.MethodPut {
				t.Errorf("method = %s", r.Method)
			}
			put, _ = io.ReadAll(r.Body)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewFalClient("secret", "", nil)
	c.StorageURL = srv.URL

	url, err := c.Upload(context.Background(), []byte("jpeg"), "cup.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://cdn.fal/1.jpg" {
		t.Errorf("url = %q", url)
	}
	if string(put) != "jpeg" {
		t.Errorf("uploaded %q", put)
	}
}

func TestFalUploadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewFalClient("wrong", "", nil)
	c.StorageURL = srv.URL
	if _, err := c.Upload(context.Background(), nil, "a.jpg", "image/jpeg"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v", err)
	}
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workflows/kratadata/segment-prompt-style/stream" {
			http.NotFound(w, r)
			return
		}
		var in Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.TextField != "cup" {
			t.Errorf("input = %+v, err = %v", in, err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			io.WriteString(w, l)
		}
	}))
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestFalStreamDone(t *testing.T) {
	srv := sseServer(t,
		": keep-alive\n\n",
		`data: {"type":"submit","message":"queued"}`+"\n\n",
		`data: {"type":"progress","percent":50}`+"\n\n",
		`data: {"type":"output","output":{"image":{"url":"https://cdn/out.png"}}}`+"\n\n",
		`data: {"type":"completion"}`+"\n\n",
	)
	defer srv.Close()

	c := NewFalClient("k", "", nil)
	c.RunURL = srv.URL

	ch, err := c.Stream(context.Background(), DefaultStyle.InputFor("cup", "https://fal/in.jpg"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)
	if len(events) != 5 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Kind != EventProgress || events[0].Percent != UnknownPercent || events[0].Message != "queued" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Percent != 50 {
		t.Errorf("second event percent = %d", events[1].Percent)
	}

	done := events[4]
	if done.Kind != EventDone {
		t.Fatalf("last event = %+v", done)
	}
	url, err := ExtractImageURL(done.Result)
	if err != nil || url != "https://cdn/out.png" {
		t.Errorf("extracted %q, %v", url, err)
	}
}

func TestFalStreamMultilineData(t *testing.T) {
	srv := sseServer(t,
		"event: message\n",
		`data: {"type":"progress",`+"\n",
		`data:  "percent":0.25}`+"\n\n",
		`data: {"type":"output","output":{"images":[{"url":"https://cdn/a.png"}]}}`+"\n\n",
	)
	defer srv.Close()

	c := NewFalClient("k", "", nil)
	c.RunURL = srv.URL

	ch, err := c.Stream(context.Background(), Input{TextField: "cup"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)
	if len(events) != 3 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Kind != EventProgress || events[0].Percent != 25 {
		t.Errorf("joined data lines should decode, got %+v", events[0])
	}
	if events[2].Kind != EventDone {
		t.Errorf("last = %+v", events[2])
	}
}

func TestFalStreamError(t *testing.T) {
	srv := sseServer(t,
		`data: {"type":"progress"}`+"\n\n",
		`data: {"type":"error","message":"boom","error":{"status":422,"body":{"detail":[{"msg":"too complex"}]}}}`+"\n\n",
		`data: {"type":"output","output":{"image":{"url":"never"}}}`+"\n\n",
	)
	defer srv.Close()

	c := NewFalClient("k", "", nil)
	c.RunURL = srv.URL

	ch, err := c.Stream(context.Background(), Input{TextField: "cup"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)
	if len(events) != 2 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[1].Kind != EventError || events[1].Detail != `[{"msg":"too complex"}]` {
		t.Errorf("error event = %+v", events[1])
	}
}

func TestFalStreamEmpty(t *testing.T) {
	srv := sseServer(t)
	defer srv.Close()

	c := NewFalClient("k", "", nil)
	c.RunURL = srv.URL

	ch, err := c.Stream(context.Background(), Input{TextField: "cup"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)
	if len(events) != 1 || events[0].Kind != EventError {
		t.Fatalf("events = %+v", events)
	}
}

func TestFalStreamRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such app", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewFalClient("k", "", nil)
	c.RunURL = srv.URL
	if _, err := c.Stream(context.Background(), Input{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFalStreamCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"type":"progress"}`+"\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewFalClient("k", "", nil)
	c.RunURL = srv.URL

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Stream(ctx, Input{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	first := <-ch
	if first.Kind != EventProgress {
		t.Fatalf("first = %+v", first)
	}
	cancel()

	for ev := range ch {
		if ev.Kind != EventProgress {
			t.Errorf("no terminal event expected after cancel, got %+v", ev)
		}
	}
}

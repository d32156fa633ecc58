package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/kratadata/quartier-atlas/internal/districts"
	"github.com/kratadata/quartier-atlas/internal/geo"
	"github.com/kratadata/quartier-atlas/internal/photo"
)

// Request is one upload moving through the pipeline. It owns its working
// files until the run ends.
type Request struct {
	ID       string
	Path     string
	Filename string

	Label    string
	District districts.District
	GPS      *geo.GeoPoint

	mu      sync.Mutex
	stage   Stage
	temp    []string
	cleaned sync.Once
}

// NewRequest wraps a file already on disk. The file becomes owned by the
// request and is removed when the run ends.
func NewRequest(path, filename string) *Request {
	r := &Request{ID: uuid.NewString(), Path: path, Filename: filename}
	r.track(path)
	return r
}

// Stage returns the current stage.
func (r *Request) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

func (r *Request) advance(to Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := next(r.stage, to); err != nil {
		return err
	}
	r.stage = to
	return nil
}

func (r *Request) track(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.temp {
		if p == path {
			return
		}
	}
	r.temp = append(r.temp, path)
}

// cleanup removes every working file once. Files already gone are fine.
func (r *Request) cleanup(logger *slog.Logger) {
	r.cleaned.Do(func() {
		r.mu.Lock()
		paths := append([]string(nil), r.temp...)
		r.mu.Unlock()

		for _, p := range paths {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn("could not remove working file", "path", p, "error", err)
			}
		}
	})
}

// Receive copies an upload into dir under a random name and returns the
// request owning it. On error nothing is left behind.
func Receive(dir string, src io.Reader, filename string) (*Request, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	name := uuid.NewString()
	if ext := photo.Ext(filename); ext != "" {
		name += "." + ext
	}
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("store upload: %w", err)
	}

	return NewRequest(path, filename), nil
}

package placements

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the document as an indented JSON file. Writes go through a
// temp file and rename so readers never see a partial document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore uses path; the file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements Store. A missing file is an empty document.
func (f *FileStore) Load(ctx context.Context) (Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *FileStore) read() (Document, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return normalize(Document{}), nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read placements: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return normalize(Document{}), nil
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode placements: %w", err)
	}
	return normalize(doc), nil
}

func (f *FileStore) write(doc Document) error {
	raw, err := json.MarshalIndent(normalize(doc), "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create placements dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".placements-*.json")
	if err != nil {
		return fmt.Errorf("write placements: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write placements: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write placements: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("write placements: %w", err)
	}
	return nil
}

// Replace implements Store.
func (f *FileStore) Replace(ctx context.Context, doc Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(doc)
}

// Append implements Store.
func (f *FileStore) Append(ctx context.Context, a PlacedArtifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	for _, img := range doc.Images {
		if img.ImageURL == a.ImageURL {
			return nil
		}
	}
	if a.ZIndex == 0 {
		a.ZIndex = maxZ(doc.Images) + 1
	}
	doc.Images = append(doc.Images, a)
	return f.write(doc)
}

// Remove implements Store. Nothing is written when no file exists yet.
func (f *FileStore) Remove(ctx context.Context, imageURL string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return 0, nil
	}
	doc, err := f.read()
	if err != nil {
		return 0, err
	}

	kept := doc.Images[:0]
	for _, img := range doc.Images {
		if img.ImageURL != imageURL {
			kept = append(kept, img)
		}
	}
	removed := len(doc.Images) - len(kept)
	doc.Images = kept
	return removed, f.write(doc)
}

// Close implements Store.
func (f *FileStore) Close() error { return nil }

package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps artifacts in a directory served under Prefix.
type LocalStore struct {
	Dir    string
	Prefix string
	// Roots are extra directories searched on delete for URLs written by
	// older versions, such as the public dir.
	Roots []string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir, prefix string, roots ...string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &LocalStore{Dir: dir, Prefix: "/" + strings.Trim(prefix, "/"), Roots: roots}, nil
}

// Put implements Store.
func (l *LocalStore) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	name = filepath.Base(name)
	if err := os.WriteFile(filepath.Join(l.Dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return l.Prefix + "/" + name, nil
}

// Owns reports whether url is a site-relative URL under Prefix.
func (l *LocalStore) Owns(url string) bool {
	return strings.HasPrefix(url, l.Prefix+"/")
}

// Delete removes the file behind url. Paths that would leave the configured
// directories are refused, and directories are never removed.
func (l *LocalStore) Delete(ctx context.Context, url string) error {
	if baseName(url) == "" {
		return nil
	}
	candidates := []string{filepath.Join(l.Dir, baseName(url))}
	rel := filepath.Clean("/" + strings.TrimPrefix(url, "/"))
	for _, root := range l.Roots {
		candidates = append(candidates, filepath.Join(root, rel))
	}

	for _, p := range candidates {
		if fi, err := os.Lstat(p); err == nil && fi.IsDir() {
			continue
		}
		err := os.Remove(p)
		if err == nil || !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

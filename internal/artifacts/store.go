// Package artifacts stores generated images and removes them again.
package artifacts

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store persists artifacts under a name and hands out their public URL.
// Delete of a missing artifact is not an error.
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, url string) error
	Owns(url string) bool
}

// Filename names an artifact after its creation time, to the second.
func Filename(t time.Time) string {
	return "generated-" + t.Format("06-01-02-15-04-05") + ".png"
}

// baseName returns the last path segment of a URL or path.
func baseName(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return url[strings.LastIndex(url, "/")+1:]
}

// Multi writes to the first store and routes deletes to whichever store
// owns the URL. Site-relative URLs no store claims go to the last one;
// absolute URLs nobody owns are left alone.
type Multi []Store

// Put implements Store.
func (m Multi) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if len(m) == 0 {
		return "", fmt.Errorf("no artifact store configured")
	}
	return m[0].Put(ctx, name, data, contentType)
}

// Delete implements Store.
func (m Multi) Delete(ctx context.Context, url string) error {
	if len(m) == 0 {
		return nil
	}
	for _, s := range m {
		if s.Owns(url) {
			return s.Delete(ctx, url)
		}
	}
	if !siteRelative(url) {
		return nil
	}
	return m[len(m)-1].Delete(ctx, url)
}

func siteRelative(url string) bool {
	return strings.HasPrefix(url, "/") && !strings.HasPrefix(url, "//")
}

// Owns implements Store.
func (m Multi) Owns(url string) bool {
	for _, s := range m {
		if s.Owns(url) {
			return true
		}
	}
	return false
}

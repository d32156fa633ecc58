package placements

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
)

// SyncStartZ is the first z-index given to images found on disk.
const SyncStartZ = 1620

var syncExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

type existenceChecker interface {
	Existing(ctx context.Context, urls []string) (map[string]bool, error)
}

// SyncOptions controls Sync.
type SyncOptions struct {
	Dir        string
	URLPrefix  string
	Caption    string
	QuartierID int
	StartZ     int
}

// Sync adds a record for every image in Dir that the store does not know.
// It returns the URLs that were added.
func Sync(ctx context.Context, store Store, opts SyncOptions) ([]string, error) {
	if opts.Caption == "" {
		opts.Caption = "object"
	}
	if opts.QuartierID == 0 {
		opts.QuartierID = 20
	}
	if opts.StartZ == 0 {
		opts.StartZ = SyncStartZ
	}
	prefix := "/" + strings.Trim(opts.URLPrefix, "/")

	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", opts.Dir, err)
	}

	var urls []string
	for _, e := range entries {
		if e.IsDir() || !syncExts[strings.ToLower(path.Ext(e.Name()))] {
			continue
		}
		urls = append(urls, prefix+"/"+e.Name())
	}
	sort.Strings(urls)

	known, err := existing(ctx, store, urls)
	if err != nil {
		return nil, err
	}

	var added []string
	z := opts.StartZ
	for _, u := range urls {
		if known[u] {
			continue
		}
		a := PlacedArtifact{
			ImageURL:   u,
			Caption:    opts.Caption,
			QuartierID: opts.QuartierID,
			Scale:      1,
			ZIndex:     z,
		}
		if err := store.Append(ctx, a); err != nil {
			return added, fmt.Errorf("add %s: %w", u, err)
		}
		z++
		added = append(added, u)
	}
	return added, nil
}

func existing(ctx context.Context, store Store, urls []string) (map[string]bool, error) {
	if c, ok := store.(existenceChecker); ok {
		return c.Existing(ctx, urls)
	}

	doc, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(doc.Images))
	for _, img := range doc.Images {
		known[img.ImageURL] = true
	}
	return known, nil
}

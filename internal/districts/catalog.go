package districts

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const loadTimeout = 45 * time.Second

// Catalog holds the district dataset for the life of the process. The first
// EnsureLoaded fetches it; concurrent callers share that fetch. A failed
// fetch is not cached, so the next request tries again.
type Catalog struct {
	loader    Loader
	logger    *slog.Logger
	group     singleflight.Group
	districts atomic.Pointer[[]District]
}

// NewCatalog creates an empty catalog backed by loader.
func NewCatalog(loader Loader, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{loader: loader, logger: logger}
}

// NewStaticCatalog returns a catalog that is already loaded with ds.
func NewStaticCatalog(ds []District) *Catalog {
	c := &Catalog{logger: slog.Default()}
	c.districts.Store(&ds)
	return c
}

// EnsureLoaded fetches the dataset unless it is already present.
func (c *Catalog) EnsureLoaded(ctx context.Context) error {
	if c.districts.Load() != nil {
		return nil
	}
	if c.loader == nil {
		return fmt.Errorf("district catalog has no loader")
	}

	ch := c.group.DoChan("districts", func() (any, error) {
		if c.districts.Load() != nil {
			return nil, nil
		}

		// Detached from the first caller so that its cancellation does not
		// fail the others waiting on the same fetch.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		start := time.Now()
		ds, err := c.loader.Load(loadCtx)
		if err != nil {
			c.logger.Error("district dataset load failed", "error", err)
			return nil, err
		}

		c.districts.Store(&ds)
		c.logger.Info("district dataset loaded", "features", len(ds), "duration", time.Since(start))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Districts returns the loaded dataset and whether it is available.
func (c *Catalog) Districts() ([]District, bool) {
	p := c.districts.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

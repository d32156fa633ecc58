package districts

import (
	"context"
	"log/slog"

	"github.com/kratadata/quartier-atlas/internal/geo"
)

// Resolver answers which district contains a coordinate.
type Resolver struct {
	catalog  *Catalog
	fallback District
	logger   *slog.Logger
}

// NewResolver builds a resolver over catalog. outsideName is the display
// name of the fallback pseudo-district.
func NewResolver(catalog *Catalog, outsideName string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		catalog:  catalog,
		fallback: Outside(outsideName),
		logger:   logger,
	}
}

// Fallback returns the pseudo-district used when nothing matches.
func (r *Resolver) Fallback() District {
	return r.fallback
}

// EnsureLoaded loads the dataset behind the resolver if needed.
func (r *Resolver) EnsureLoaded(ctx context.Context) error {
	if r.catalog == nil {
		return nil
	}
	return r.catalog.EnsureLoaded(ctx)
}

// Resolve never fails. It returns the first district in dataset order whose
// outer boundary contains (lat, lon), or the fallback when the dataset is not
// loaded, nothing matches, or the matching feature has no usable id.
func (r *Resolver) Resolve(lat, lon float64) District {
	if r.catalog == nil {
		return r.fallback
	}
	ds, ok := r.catalog.Districts()
	if !ok {
		r.logger.Warn("district dataset not loaded, using fallback", "lat", lat, "lon", lon)
		return r.fallback
	}

	pt := geo.GeoPoint{Lat: lat, Lon: lon}.Orb()
	for _, d := range ds {
		if !geo.MultiPolygonContains(d.Boundary, pt) {
			continue
		}
		if !validID(d.ID) {
			r.logger.Warn("matched district has invalid id, using fallback", "id", d.ID, "name", d.Name)
			return r.fallback
		}
		return r.complete(d)
	}

	return r.fallback
}

// complete fills a missing name from the fixed table.
func (r *Resolver) complete(d District) District {
	if d.ID == OutsideID {
		return r.fallback
	}
	if d.Name == "" {
		if e, ok := Lookup(d.ID); ok {
			d.Name = e.Name
		}
	}
	return d
}

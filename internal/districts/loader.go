package districts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultDatasetURL is the Basel "Wohnviertel" export.
const DefaultDatasetURL = "https://data.bs.ch/api/v2/catalog/datasets/100042/exports/geojson"

// Loader fetches the district dataset.
type Loader interface {
	Load(ctx context.Context) ([]District, error)
}

// PropertyKeys names the GeoJSON feature properties that carry the
// district identifier, name and label.
type PropertyKeys struct {
	ID    string
	Name  string
	Label string
}

// DefaultPropertyKeys match the Basel dataset.
var DefaultPropertyKeys = PropertyKeys{ID: "wov_id", Name: "wov_name", Label: "wov_label"}

// HTTPLoader downloads a GeoJSON FeatureCollection over HTTP.
type HTTPLoader struct {
	url        string
	keys       PropertyKeys
	httpClient *http.Client
}

// NewHTTPLoader creates a loader for the given dataset URL.
func NewHTTPLoader(url string, keys PropertyKeys) *HTTPLoader {
	if url == "" {
		url = DefaultDatasetURL
	}
	return &HTTPLoader{
		url:  url,
		keys: keys,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Load fetches and decodes the dataset.
func (l *HTTPLoader) Load(ctx context.Context) ([]District, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dataset request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dataset returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}

	return Decode(raw, l.keys)
}

// Decode parses a GeoJSON FeatureCollection into districts, keeping dataset
// order. Features without polygonal geometry are skipped. Features whose id
// is missing or malformed are kept with ID 0 so that a hit on them still
// resolves to the fallback.
func Decode(raw []byte, keys PropertyKeys) ([]District, error) {
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding feature collection: %w", err)
	}

	out := make([]District, 0, len(fc.Features))
	for _, f := range fc.Features {
		boundary := outerRings(f.Geometry)
		if len(boundary) == 0 {
			continue
		}

		id, _ := parseID(f.Properties[keys.ID])
		out = append(out, District{
			ID:       id,
			Name:     strings.TrimSpace(f.Properties.MustString(keys.Name, "")),
			Label:    strings.TrimSpace(f.Properties.MustString(keys.Label, "")),
			Boundary: boundary,
		})
	}

	return out, nil
}

func outerRings(g orb.Geometry) orb.MultiPolygon {
	switch geom := g.(type) {
	case orb.Polygon:
		if len(geom) == 0 {
			return nil
		}
		return orb.MultiPolygon{orb.Polygon{geom[0]}}
	case orb.MultiPolygon:
		mp := make(orb.MultiPolygon, 0, len(geom))
		for _, poly := range geom {
			if len(poly) == 0 {
				continue
			}
			mp = append(mp, orb.Polygon{poly[0]})
		}
		return mp
	default:
		return nil
	}
}

// parseID accepts integral numbers and numeric strings.
func parseID(v any) (int, bool) {
	switch id := v.(type) {
	case float64:
		if id != float64(int(id)) {
			return 0, false
		}
		return int(id), true
	case int:
		return id, true
	case json.Number:
		n, err := strconv.Atoi(id.String())
		return n, err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(id))
		return n, err == nil
	default:
		return 0, false
	}
}

// Package placements persists where each generated artifact sits on the map.
package placements

import (
	"context"

	"github.com/kratadata/quartier-atlas/internal/geo"
)

// PlacedArtifact is one generated image and its layout on the canvas.
type PlacedArtifact struct {
	ImageURL   string        `json:"imageUrl"`
	Caption    string        `json:"caption"`
	QuartierID int           `json:"quartierId"`
	X          float64       `json:"x"`
	Y          float64       `json:"y"`
	Scale      float64       `json:"scale"`
	ZIndex     int           `json:"zIndex"`
	GPS        *geo.GeoPoint `json:"gps,omitempty"`
}

// Document is the whole placement state as exchanged with clients.
type Document struct {
	Images []PlacedArtifact `json:"images"`
}

// Store holds the placement document. Replace is last-writer-wins.
//
// Append adds an entry unless its URL is already present; a zero ZIndex is
// replaced by one above every stored entry. Remove returns the number of
// entries dropped.
type Store interface {
	Load(ctx context.Context) (Document, error)
	Replace(ctx context.Context, doc Document) error
	Append(ctx context.Context, a PlacedArtifact) error
	Remove(ctx context.Context, imageURL string) (int, error)
	Close() error
}

// Default builds the record created when a generation finishes, before the
// client has placed it.
func Default(imageURL, caption string, quartierID int, gps *geo.GeoPoint) PlacedArtifact {
	return PlacedArtifact{
		ImageURL:   imageURL,
		Caption:    caption,
		QuartierID: quartierID,
		Scale:      1,
		GPS:        gps,
	}
}

func maxZ(images []PlacedArtifact) int {
	z := 0
	for _, img := range images {
		if img.ZIndex > z {
			z = img.ZIndex
		}
	}
	return z
}

func normalize(doc Document) Document {
	if doc.Images == nil {
		doc.Images = []PlacedArtifact{}
	}
	return doc
}

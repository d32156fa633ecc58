package districts

import "github.com/paulmach/orb"

const (
	// OutsideID is reserved for points that fall in no district.
	OutsideID = 20

	minID = 1
	maxID = 20
)

// DefaultOutsideName is used when no fallback name is configured.
const DefaultOutsideName = "Outside"

// District is one of the city's residential quarters. Boundary holds the
// outer rings of the quarter (one polygon per part); holes are dropped at
// load time.
type District struct {
	ID       int              `json:"id"`
	Name     string           `json:"name"`
	Label    string           `json:"label"`
	Boundary orb.MultiPolygon `json:"-"`
}

// DisplayLabel prefers the dataset label and falls back to the name.
func (d District) DisplayLabel() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Name
}

// IsOutside reports whether d is the fallback pseudo-district.
func (d District) IsOutside() bool {
	return d.ID == OutsideID
}

// Outside builds the fallback pseudo-district with the given display name.
func Outside(name string) District {
	if name == "" {
		name = DefaultOutsideName
	}
	return District{ID: OutsideID, Name: name, Label: name}
}

func validID(id int) bool {
	return id >= minID && id <= maxID
}

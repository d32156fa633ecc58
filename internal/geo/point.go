package geo

import "github.com/paulmach/orb"

// GeoPoint is a WGS84 coordinate taken from photo metadata.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Orb returns the point in GeoJSON axis order (lon, lat).
func (p GeoPoint) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

package geo

import (
	"testing"

	"github.com/paulmach/orb"
)

func square(minX, minY, maxX, maxY float64) orb.Ring {
	return orb.Ring{
		{minX, minY},
		{maxX, minY},
		{maxX, maxY},
		{minX, maxY},
		{minX, minY},
	}
}

func TestRingContains(t *testing.T) {
	ring := square(7.5, 47.5, 7.6, 47.6)

	tests := []struct {
		name string
		pt   orb.Point
		want bool
	}{
		{"center", orb.Point{7.55, 47.55}, true},
		{"near corner inside", orb.Point{7.5001, 47.5001}, true},
		{"west", orb.Point{7.4, 47.55}, false},
		{"east", orb.Point{7.7, 47.55}, false},
		{"north", orb.Point{7.55, 47.7}, false},
		{"south", orb.Point{7.55, 47.4}, false},
	}

	for _, tt := range tests {
		if got := RingContains(ring, tt.pt); got != tt.want {
			t.Errorf("%s: RingContains(%v) = %v, want %v", tt.name, tt.pt, got, tt.want)
		}
	}
}

func TestRingContainsOpenRing(t *testing.T) {
	// Same square without the repeated closing vertex.
	ring := orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}}

	if !RingContains(ring, orb.Point{5, 5}) {
		t.Fatal("expected point inside open ring")
	}
	if RingContains(ring, orb.Point{15, 5}) {
		t.Fatal("expected point outside open ring")
	}
}

func TestRingContainsVertexOnRay(t *testing.T) {
	// Diamond whose left and right vertices lie exactly on the ray y=5.
	ring := orb.Ring{{5, 0}, {10, 5}, {5, 10}, {0, 5}, {5, 0}}

	if !RingContains(ring, orb.Point{5, 5}) {
		t.Fatal("center of diamond should be inside")
	}
	if RingContains(ring, orb.Point{-1, 5}) {
		t.Fatal("point left of diamond on the vertex ray should be outside")
	}
}

func TestRingContainsConcave(t *testing.T) {
	// U shape opening to the north.
	ring := orb.Ring{{0, 0}, {9, 0}, {9, 9}, {6, 9}, {6, 3}, {3, 3}, {3, 9}, {0, 9}, {0, 0}}

	if RingContains(ring, orb.Point{4.5, 6}) {
		t.Fatal("point in the notch should be outside")
	}
	if !RingContains(ring, orb.Point{1.5, 6}) {
		t.Fatal("point in the left arm should be inside")
	}
}

func TestPolygonContainsIgnoresHoles(t *testing.T) {
	poly := orb.Polygon{square(0, 0, 10, 10), square(4, 4, 6, 6)}

	if !PolygonContains(poly, orb.Point{5, 5}) {
		t.Fatal("holes are ignored, point in hole should count as inside")
	}
	if PolygonContains(orb.Polygon{}, orb.Point{5, 5}) {
		t.Fatal("empty polygon contains nothing")
	}
}

func TestMultiPolygonContains(t *testing.T) {
	mp := orb.MultiPolygon{
		{square(0, 0, 1, 1)},
		{square(5, 5, 6, 6)},
	}

	if !MultiPolygonContains(mp, orb.Point{5.5, 5.5}) {
		t.Fatal("expected match in second member")
	}
	if MultiPolygonContains(mp, orb.Point{3, 3}) {
		t.Fatal("expected no match between members")
	}
}

func TestGeoPointOrbOrder(t *testing.T) {
	p := GeoPoint{Lat: 47.56, Lon: 7.58}
	o := p.Orb()
	if o[0] != 7.58 || o[1] != 47.56 {
		t.Fatalf("expected (lon, lat), got %v", o)
	}
}

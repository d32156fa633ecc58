package geo

import "github.com/paulmach/orb"

// RingContains reports whether pt lies inside ring using the even-odd
// ray-casting rule. Ring vertices are (lon, lat); the ring is treated as
// closed whether or not the last vertex repeats the first.
//
// An edge crosses the horizontal ray through pt when exactly one endpoint's
// latitude is strictly greater than pt's latitude, so a vertex that sits on
// the ray is counted once.
func RingContains(ring orb.Ring, pt orb.Point) bool {
	x, y := pt[0], pt[1]
	inside := false

	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]

		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}

	return inside
}

// PolygonContains tests the outer ring only. Holes are ignored.
func PolygonContains(poly orb.Polygon, pt orb.Point) bool {
	if len(poly) == 0 {
		return false
	}
	return RingContains(poly[0], pt)
}

// MultiPolygonContains tests each member's outer ring in order.
func MultiPolygonContains(mp orb.MultiPolygon, pt orb.Point) bool {
	for _, poly := range mp {
		if PolygonContains(poly, pt) {
			return true
		}
	}
	return false
}

package align

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// Footprint projects points onto the plane perpendicular to up, giving 2D
// ground-plane coordinates.
func Footprint(points []r3.Vector, up r3.Vector) orb.MultiPoint {
	u, v := planeBasis(up)
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = orb.Point{p.Dot(u), p.Dot(v)}
	}
	return mp
}

// FootprintHull returns the closed convex hull ring of the projected points,
// simplified with tolerance (0 keeps every hull vertex).
func FootprintHull(points []r3.Vector, up r3.Vector, tolerance float64) orb.Ring {
	hull := convexHull(Footprint(points, up))
	if len(hull) < 3 {
		return orb.Ring(hull)
	}
	ring := orb.Ring(append(hull, hull[0]))
	if tolerance <= 0 {
		return ring
	}
	if simplified, ok := simplify.DouglasPeucker(tolerance).Simplify(ring.Clone()).(orb.Ring); ok && len(simplified) >= 4 {
		return simplified
	}
	return ring
}

// FootprintArea returns the area of the projected convex hull
func FootprintArea(points []r3.Vector, up r3.Vector) float64 {
	ring := FootprintHull(points, up, 0)
	if len(ring) < 4 {
		return 0
	}
	return math.Abs(planar.Area(orb.Polygon{ring}))
}

// FootprintOverlap returns the area of the intersection of the two projected
// bounding boxes divided by the smaller box area (0 when disjoint).
func FootprintOverlap(a, b []r3.Vector, up r3.Vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ba := Footprint(a, up).Bound()
	bb := Footprint(b, up).Bound()
	if !ba.Intersects(bb) {
		return 0
	}
	w := math.Min(ba.Max[0], bb.Max[0]) - math.Max(ba.Min[0], bb.Min[0])
	h := math.Min(ba.Max[1], bb.Max[1]) - math.Max(ba.Min[1], bb.Min[1])
	smaller := math.Min(boundArea(ba), boundArea(bb))
	if w <= 0 || h <= 0 || smaller <= 0 {
		return 0
	}
	return math.Min(1, w*h/smaller)
}

func boundArea(b orb.Bound) float64 {
	return (b.Max[0] - b.Min[0]) * (b.Max[1] - b.Min[1])
}

// convexHull computes the hull with Andrew's monotone chain, counter-clockwise,
// without repeating the first point.
func convexHull(points []orb.Point) []orb.Point {
	if len(points) < 3 {
		result := make([]orb.Point, len(points))
		copy(result, points)
		return result
	}

	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	n := len(sorted)
	hull := make([]orb.Point, 0, 2*n)
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

package visibility

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
)

// minPieceArea drops slivers produced by repeated clipping.
const minPieceArea = 1e-6

// Footprint is a visible region on the image plane as a set of disjoint convex pieces. Every
// ring is closed and counter-clockwise.
type Footprint []orb.Ring

// Area returns the total area of the pieces.
func (f Footprint) Area() float64 {
	var total float64
	for _, r := range f {
		total += math.Abs(planar.Area(r))
	}
	return total
}

// Bound returns the bounding box of all pieces.
func (f Footprint) Bound() orb.Bound {
	if len(f) == 0 {
		return orb.Bound{}
	}
	b := f[0].Bound()
	for _, r := range f[1:] {
		b = b.Union(r.Bound())
	}
	return b
}

// Polygons returns one polygon per piece, largest first.
func (f Footprint) Polygons() []orb.Polygon {
	sorted := make(Footprint, len(f))
	copy(sorted, f)
	sort.SliceStable(sorted, func(i, j int) bool {
		return math.Abs(planar.Area(sorted[i])) > math.Abs(planar.Area(sorted[j]))
	})
	out := make([]orb.Polygon, len(sorted))
	for i, r := range sorted {
		out[i] = orb.Polygon{r}
	}
	return out
}

// ConvexHull returns the closed counter-clockwise hull of pts (monotone chain). Fewer than three
// distinct points, or collinear points, give an empty ring.
func ConvexHull(pts []orb.Point) orb.Ring {
	if len(pts) < 3 {
		return nil
	}
	sorted := make([]orb.Point, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	hull := make([]orb.Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// The last point repeats the first, closing the ring.
	if len(hull) < 4 {
		return nil
	}
	return orb.Ring(hull)
}

// cross is the z component of (b-a)x(c-a); positive when a, b, c turn left.
func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// ClipToBound restricts a convex ring to a bound.
func ClipToBound(r orb.Ring, b orb.Bound) orb.Ring {
	clipped := clip.Ring(b, r)
	if len(clipped) > 0 && !clipped.Closed() {
		clipped = append(clipped, clipped[0])
	}
	if len(clipped) < 4 || math.Abs(planar.Area(clipped)) < minPieceArea {
		return nil
	}
	if clipped.Orientation() != orb.CCW {
		clipped.Reverse()
	}
	return clipped
}

// halfPlane keeps the side of the line a->b selected by inside; inside true keeps the left side.
func halfPlane(r orb.Ring, a, b orb.Point, inside bool) orb.Ring {
	side := func(p orb.Point) float64 {
		c := cross(a, b, p)
		if !inside {
			c = -c
		}
		return c
	}
	var out orb.Ring
	n := len(r) - 1
	for i := 0; i < n; i++ {
		cur, next := r[i], r[i+1]
		sc, sn := side(cur), side(next)
		if sc >= 0 {
			out = append(out, cur)
		}
		if (sc >= 0) != (sn >= 0) {
			t := sc / (sc - sn)
			out = append(out, orb.Point{cur[0] + t*(next[0]-cur[0]), cur[1] + t*(next[1]-cur[1])})
		}
	}
	if len(out) < 3 {
		return nil
	}
	out = append(out, out[0])
	if math.Abs(planar.Area(out)) < minPieceArea {
		return nil
	}
	return out
}

// subtractConvex returns piece minus hole as disjoint convex pieces. Each edge of hole splits off
// the part of piece lying outside it; the remainder inside every edge is covered by hole.
func subtractConvex(piece, hole orb.Ring) Footprint {
	if !piece.Bound().Intersects(hole.Bound()) {
		return Footprint{piece}
	}
	var out Footprint
	rest := piece
	for i := 0; i < len(hole)-1 && rest != nil; i++ {
		a, b := hole[i], hole[i+1]
		if outside := halfPlane(rest, a, b, false); outside != nil {
			out = append(out, outside)
		}
		rest = halfPlane(rest, a, b, true)
	}
	return out
}

// Subtract removes every piece of occluder from f.
func (f Footprint) Subtract(occluder Footprint) Footprint {
	result := f
	for _, hole := range occluder {
		var next Footprint
		for _, piece := range result {
			next = append(next, subtractConvex(piece, hole)...)
		}
		result = next
		if len(result) == 0 {
			break
		}
	}
	return result
}

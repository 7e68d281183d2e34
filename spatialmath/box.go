package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// boxVertices are the corners of a unit box centered at the origin, scaled by the half size.
var boxVertices = [8]r3.Vector{
	{X: 1, Y: 1, Z: 1},
	{X: 1, Y: 1, Z: -1},
	{X: 1, Y: -1, Z: 1},
	{X: 1, Y: -1, Z: -1},
	{X: -1, Y: 1, Z: 1},
	{X: -1, Y: 1, Z: -1},
	{X: -1, Y: -1, Z: 1},
	{X: -1, Y: -1, Z: -1},
}

// BoxVertices returns the eight corners of an axis aligned box with the given center and full
// dimensions (x = length, y = width, z = height).
func BoxVertices(center, dims r3.Vector) []r3.Vector {
	half := dims.Mul(0.5)
	verts := make([]r3.Vector, 0, len(boxVertices))
	for _, v := range boxVertices {
		verts = append(verts, center.Add(r3.Vector{X: v.X * half.X, Y: v.Y * half.Y, Z: v.Z * half.Z}))
	}
	return verts
}

// BoxSurfacePoints samples a uniform grid over an axis aligned box centered at center. Every
// corner, edge and face lies on the grid; points strictly inside the box are skipped. The spacing
// along each axis is at most resolution.
func BoxSurfacePoints(center, dims r3.Vector, resolution float64) []r3.Vector {
	if resolution <= 0 {
		resolution = defaultResolution
	}
	axis := func(size float64) []float64 {
		n := int(math.Ceil(size/resolution)) + 1
		if size <= 0 || n < 2 {
			return []float64{0}
		}
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = -size/2 + size*float64(i)/float64(n-1)
		}
		return vals
	}
	xs, ys, zs := axis(dims.X), axis(dims.Y), axis(dims.Z)

	onSurface := func(i, n int) bool { return i == 0 || i == n-1 }
	var pts []r3.Vector
	for i, x := range xs {
		for j, y := range ys {
			for k, z := range zs {
				if !onSurface(i, len(xs)) && !onSurface(j, len(ys)) && !onSurface(k, len(zs)) {
					continue
				}
				pts = append(pts, center.Add(r3.Vector{X: x, Y: y, Z: z}))
			}
		}
	}
	return pts
}

const defaultResolution = 0.2

// BoundingBox returns the axis aligned min and max corners of the points.
func BoundingBox(pts []r3.Vector) (r3.Vector, r3.Vector) {
	if len(pts) == 0 {
		return r3.Vector{}, r3.Vector{}
	}
	lo, hi := pts[0], pts[0]
	for _, p := range pts[1:] {
		lo = r3.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	return lo, hi
}

// TransformPoints moves every point from the pose's frame into the parent frame.
func TransformPoints(pts []r3.Vector, pose Pose) []r3.Vector {
	rm := pose.Orientation.RotationMatrix()
	out := make([]r3.Vector, len(pts))
	for i, p := range pts {
		out[i] = rm.Mul(p).Add(pose.Point)
	}
	return out
}

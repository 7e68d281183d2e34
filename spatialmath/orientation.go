// Package spatialmath defines the rotations, poses and box sampling used to place object contours
// and sensors in the world.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// EulerAngles are three angles in radians applied in ZYX order: the rotation is
// Rz(Yaw) * Ry(Pitch) * Rx(Roll).
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// RotationMatrix returns the rotation described by the angles.
func (ea *EulerAngles) RotationMatrix() *RotationMatrix {
	sr, cr := math.Sincos(ea.Roll)
	sp, cp := math.Sincos(ea.Pitch)
	sy, cy := math.Sincos(ea.Yaw)
	return &RotationMatrix{[9]float64{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr,
		-sp, cp * sr, cp * cr,
	}}
}

// RotationMatrix is a 3x3 rotation stored row major.
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrix creates a rotation matrix from row major values. No orthonormality check is done.
func NewRotationMatrix(m [9]float64) *RotationMatrix {
	return &RotationMatrix{m}
}

// At returns the value at row, col.
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.mat[row*3+col]
}

// Row returns the given row as a vector.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[row*3], Y: rm.mat[row*3+1], Z: rm.mat[row*3+2]}
}

// Mul rotates v.
func (rm *RotationMatrix) Mul(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rm.mat[0]*v.X + rm.mat[1]*v.Y + rm.mat[2]*v.Z,
		Y: rm.mat[3]*v.X + rm.mat[4]*v.Y + rm.mat[5]*v.Z,
		Z: rm.mat[6]*v.X + rm.mat[7]*v.Y + rm.mat[8]*v.Z,
	}
}

// Transpose returns the inverse rotation.
func (rm *RotationMatrix) Transpose() *RotationMatrix {
	m := rm.mat
	return &RotationMatrix{[9]float64{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}}
}

// Compose returns rm * other, i.e. other is applied first.
func (rm *RotationMatrix) Compose(other *RotationMatrix) *RotationMatrix {
	var out mat.Dense
	out.Mul(rm.Dense(), other.Dense())
	var ret RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			ret.mat[i*3+j] = out.At(i, j)
		}
	}
	return &ret
}

// Dense returns a gonum copy of the matrix.
func (rm *RotationMatrix) Dense() *mat.Dense {
	data := rm.mat
	return mat.NewDense(3, 3, data[:])
}

// EulerAngles decomposes the matrix into ZYX angles. At gimbal lock yaw is reported as 0.
func (rm *RotationMatrix) EulerAngles() *EulerAngles {
	m := rm.mat
	sinPitch := math.Max(-1, math.Min(1, -m[6]))
	pitch := math.Asin(sinPitch)
	if math.Abs(sinPitch) > 1-1e-9 {
		return &EulerAngles{Roll: math.Atan2(-m[5], m[4]), Pitch: pitch}
	}
	return &EulerAngles{
		Roll:  math.Atan2(m[7], m[8]),
		Pitch: pitch,
		Yaw:   math.Atan2(m[3], m[0]),
	}
}

package spatialmath

import (
	"github.com/golang/geo/r3"
)

// Pose is a position plus an orientation.
type Pose struct {
	Point       r3.Vector   `json:"translation"`
	Orientation EulerAngles `json:"euler_angles"`
}

// NewPose creates a pose.
func NewPose(pt r3.Vector, orientation EulerAngles) Pose {
	return Pose{Point: pt, Orientation: orientation}
}

// NewPoseFromPoint creates a pose with zero rotation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return Pose{Point: pt}
}

// Transform maps a point expressed in the pose's frame into the parent frame.
func (p Pose) Transform(local r3.Vector) r3.Vector {
	return p.Orientation.RotationMatrix().Mul(local).Add(p.Point)
}

// InverseTransform maps a point expressed in the parent frame into the pose's frame.
func (p Pose) InverseTransform(parent r3.Vector) r3.Vector {
	return p.Orientation.RotationMatrix().Transpose().Mul(parent.Sub(p.Point))
}

// Compose returns the pose of `child` (expressed relative to p) in p's parent frame.
func Compose(p, child Pose) Pose {
	rm := p.Orientation.RotationMatrix()
	return Pose{
		Point:       rm.Mul(child.Point).Add(p.Point),
		Orientation: *rm.Compose(child.Orientation.RotationMatrix()).EulerAngles(),
	}
}

// PoseBetween returns `to` expressed in the frame of `from`.
func PoseBetween(from, to Pose) Pose {
	inv := from.Orientation.RotationMatrix().Transpose()
	return Pose{
		Point:       inv.Mul(to.Point.Sub(from.Point)),
		Orientation: *inv.Compose(to.Orientation.RotationMatrix()).EulerAngles(),
	}
}

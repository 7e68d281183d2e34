package referenceframe

import (
	"github.com/golang/geo/r3"

	"go.viam.com/simlabel/spatialmath"
)

// SensorFrame is a sensor's body frame at capture time: x forward, y left, z up.
type SensorFrame struct {
	world World
	pose  spatialmath.Pose
	inv   *spatialmath.RotationMatrix
}

// NewSensorFrame binds a capture pose, given in world coordinates, to the world.
func NewSensorFrame(world World, pose spatialmath.Pose) *SensorFrame {
	local := spatialmath.NewPose(world.ToLocal(pose.Point), pose.Orientation)
	return &SensorFrame{world: world, pose: local, inv: local.Orientation.RotationMatrix().Transpose()}
}

// Pose returns the sensor pose in the local frame.
func (f *SensorFrame) Pose() spatialmath.Pose {
	return f.pose
}

// FromLocal maps a local frame point into the sensor body frame.
func (f *SensorFrame) FromLocal(local r3.Vector) r3.Vector {
	return f.inv.Mul(local.Sub(f.pose.Point))
}

// FromWorld maps a world position into the sensor body frame.
func (f *SensorFrame) FromWorld(pos r3.Vector) r3.Vector {
	return f.FromLocal(f.world.ToLocal(pos))
}

// PoseInSensor expresses an object pose given in local coordinates in the sensor body frame.
func (f *SensorFrame) PoseInSensor(local spatialmath.Pose) spatialmath.Pose {
	return spatialmath.PoseBetween(f.pose, local)
}

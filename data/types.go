// Package data defines the frames, sweeps and object snapshots flowing through the labeler and
// the queue that pairs them up.
package data

import (
	"github.com/golang/geo/r3"

	"go.viam.com/simlabel/spatialmath"
)

// SensorKind is the modality of a sensor.
type SensorKind string

// Known sensor kinds.
const (
	SensorCamera   SensorKind = "camera"
	SensorSemantic SensorKind = "semantic"
	SensorFisheye  SensorKind = "fisheye"
	SensorLidar    SensorKind = "lidar"
)

// IsImage reports whether frames of this kind are images.
func (k SensorKind) IsImage() bool {
	return k == SensorCamera || k == SensorSemantic || k == SensorFisheye
}

// Encoding is the payload format of an image frame.
type Encoding string

// Supported image encodings.
const (
	EncodingJPEG Encoding = "JPEG"
	EncodingPNG  Encoding = "PNG"
)

// RawFrame is one image produced by a camera, semantic camera or fisheye camera.
type RawFrame struct {
	SensorID  int              `json:"sensor_id"`
	Kind      SensorKind       `json:"kind"`
	Timestamp int64            `json:"timestamp"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Encoding  Encoding         `json:"encoding"`
	Buffer    []byte           `json:"-"`
	Pose      spatialmath.Pose `json:"pose"`
}

// LidarPoint is one lidar return. Label carries the simulator's per-point object type.
type LidarPoint struct {
	X         float32 `json:"x"`
	Y         float32 `json:"y"`
	Z         float32 `json:"z"`
	Intensity float32 `json:"intensity"`
	Label     uint32  `json:"type"`
}

// LidarSweep is one rotation of a lidar. Either Buffer (flat records) or Points is set.
type LidarSweep struct {
	SensorID       int              `json:"sensor_id"`
	Timestamp      int64            `json:"timestamp"`
	TimestampBegin int64            `json:"timestamp_begin"`
	TimestampEnd   int64            `json:"timestamp_end"`
	Count          int              `json:"count"`
	Buffer         []byte           `json:"-"`
	Points         []LidarPoint     `json:"points,omitempty"`
	Pose           spatialmath.Pose `json:"pose"`
}

// InWindow reports whether ts lies inside the sweep window.
func (s *LidarSweep) InWindow(ts int64) bool {
	return ts >= s.TimestampBegin && ts <= s.TimestampEnd
}

// ObjectKind tags a ground truth object.
type ObjectKind int

// Object kinds.
const (
	ObjectEgo ObjectKind = iota
	ObjectCar
	ObjectStatic
	ObjectDynamic
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectEgo:
		return "ego"
	case ObjectCar:
		return "car"
	case ObjectStatic:
		return "static"
	case ObjectDynamic:
		return "dynamic"
	}
	return "unknown"
}

// Object is one ground truth object in a snapshot. Position holds lon, lat, alt (or meters in a
// cartesian world); Dims holds length, width, height.
type Object struct {
	Kind        ObjectKind              `json:"kind"`
	ID          int                     `json:"id"`
	TypeID      int                     `json:"type_id"`
	Class       string                  `json:"class"`
	Group       string                  `json:"group,omitempty"`
	Position    r3.Vector               `json:"position"`
	Orientation spatialmath.EulerAngles `json:"orientation"`
	Dims        r3.Vector               `json:"dims"`
}

// ObjectKey identifies an object across display channels.
type ObjectKey struct {
	Kind ObjectKind
	ID   int
}

// Key returns the identity of the object.
func (o Object) Key() ObjectKey {
	return ObjectKey{o.Kind, o.ID}
}

// ObjectSnapshot is every ground truth object at one simulation timestamp. Visibility results
// refer to objects by their index in Objects.
type ObjectSnapshot struct {
	Timestamp int64    `json:"timestamp"`
	Objects   []Object `json:"objects"`
}

// MergeSnapshots merges the per display channel object lists of one tick. An object present in
// several channels is kept once, from the first channel carrying it.
func MergeSnapshots(ts int64, channels ...[]Object) *ObjectSnapshot {
	seen := make(map[ObjectKey]struct{})
	snap := &ObjectSnapshot{Timestamp: ts}
	for _, objs := range channels {
		for _, obj := range objs {
			if _, ok := seen[obj.Key()]; ok {
				continue
			}
			seen[obj.Key()] = struct{}{}
			snap.Objects = append(snap.Objects, obj)
		}
	}
	return snap
}

// FramePackage is an image frame paired with its snapshot.
type FramePackage struct {
	Frame    *RawFrame
	Snapshot *ObjectSnapshot
	Seq      uint64
}

// SweepPackage is a lidar sweep paired with its snapshot.
type SweepPackage struct {
	Sweep    *LidarSweep
	Snapshot *ObjectSnapshot
	Seq      uint64
}

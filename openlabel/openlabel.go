// Package openlabel models the subset of the OpenLabel annotation format written next to every
// labeled frame.
package openlabel

import (
	"encoding/json"
	"strconv"

	"github.com/paulmach/orb"

	"go.viam.com/simlabel/spatialmath"
)

// SchemaVersion is the OpenLabel schema version written in the metadata.
const SchemaVersion = "1.0.0"

// RootCoordinateSystem is the parent of every sensor coordinate system.
const RootCoordinateSystem = "geospatial-wgs84"

// Document is one annotation file.
type Document struct {
	OpenLabel OpenLabel `json:"openlabel"`
}

// OpenLabel is the document body.
type OpenLabel struct {
	Metadata          Metadata                    `json:"metadata"`
	CoordinateSystems map[string]CoordinateSystem `json:"coordinate_systems"`
	Streams           map[string]Stream           `json:"streams"`
	Objects           map[string]Object           `json:"objects"`
}

// Metadata identifies the document and the run that produced it.
type Metadata struct {
	SchemaVersion string `json:"schema_version"`
	Name          string `json:"name,omitempty"`
	RunID         string `json:"run_id,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	Sequence      uint64 `json:"sequence"`
}

// CoordinateSystem is a node of the coordinate system tree.
type CoordinateSystem struct {
	Type          string         `json:"type"`
	Parent        string         `json:"parent"`
	Children      []string       `json:"children,omitempty"`
	PoseWRTParent *PoseWRTParent `json:"pose_wrt_parent,omitempty"`
}

// PoseWRTParent is a pose relative to the parent coordinate system. Euler angles are listed in
// Sequence order.
type PoseWRTParent struct {
	EulerAngles [3]float64 `json:"euler_angles"`
	Translation [3]float64 `json:"translation"`
	Sequence    string     `json:"sequence"`
}

// NewPoseWRTParent converts a pose to zyx Euler form: yaw, pitch, roll.
func NewPoseWRTParent(p spatialmath.Pose) *PoseWRTParent {
	o := p.Orientation
	return &PoseWRTParent{
		EulerAngles: [3]float64{o.Yaw, o.Pitch, o.Roll},
		Translation: [3]float64{p.Point.X, p.Point.Y, p.Point.Z},
		Sequence:    "zyx",
	}
}

// Stream describes a sensor.
type Stream struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	URI         string `json:"uri,omitempty"`
}

// Object is an annotated object.
type Object struct {
	Type             string     `json:"type"`
	Name             string     `json:"name"`
	CoordinateSystem string     `json:"coordinate_system"`
	ObjectData       ObjectData `json:"object_data"`
}

// ObjectData holds the geometry of an object.
type ObjectData struct {
	Poly2D []Poly2D `json:"poly2d,omitempty"`
	Cuboid []Cuboid `json:"cuboid,omitempty"`
}

// Poly2D is one closed polygon as a flat x, y list.
type Poly2D struct {
	Name   string    `json:"name"`
	Val    []float64 `json:"val"`
	Mode   string    `json:"mode"`
	Closed bool      `json:"closed"`
}

// Cuboid is x, y, z, yaw, pitch, roll, length, width, height.
type Cuboid struct {
	Name string     `json:"name"`
	Val  [9]float64 `json:"val"`
}

// New returns an empty document rooted at RootCoordinateSystem.
func New(name, runID string, timestamp int64, seq uint64) *Document {
	return &Document{OpenLabel: OpenLabel{
		Metadata: Metadata{
			SchemaVersion: SchemaVersion,
			Name:          name,
			RunID:         runID,
			Timestamp:     timestamp,
			Sequence:      seq,
		},
		CoordinateSystems: map[string]CoordinateSystem{
			RootCoordinateSystem: {Type: "geo", Parent: ""},
		},
		Streams: map[string]Stream{},
		Objects: map[string]Object{},
	}}
}

// AddSensor registers a sensor stream and its coordinate system under the root.
func (d *Document) AddSensor(name string, stream Stream, pose spatialmath.Pose) {
	ol := &d.OpenLabel
	ol.Streams[name] = stream
	ol.CoordinateSystems[name] = CoordinateSystem{
		Type:          "geo",
		Parent:        RootCoordinateSystem,
		PoseWRTParent: NewPoseWRTParent(pose),
	}
	root := ol.CoordinateSystems[RootCoordinateSystem]
	root.Children = append(root.Children, name)
	ol.CoordinateSystems[RootCoordinateSystem] = root
}

// AddPoly2D adds an object outlined by polygons in the sensor's image. Only outer rings are
// written, one entry per polygon.
func (d *Document) AddPoly2D(id int, class, sensor string, polygons []orb.Polygon) {
	obj := Object{Type: class, Name: class + "_" + strconv.Itoa(id), CoordinateSystem: sensor}
	for i, poly := range polygons {
		if len(poly) == 0 {
			continue
		}
		ring := poly[0]
		if ring.Closed() {
			ring = ring[:len(ring)-1]
		}
		val := make([]float64, 0, 2*len(ring))
		for _, p := range ring {
			val = append(val, p[0], p[1])
		}
		obj.ObjectData.Poly2D = append(obj.ObjectData.Poly2D, Poly2D{
			Name:   "outline_" + strconv.Itoa(i),
			Val:    val,
			Mode:   "MODE_POLY2D_ABSOLUTE",
			Closed: true,
		})
	}
	d.OpenLabel.Objects[strconv.Itoa(id)] = obj
}

// AddCuboid adds an object as a cuboid in the sensor frame.
func (d *Document) AddCuboid(id int, class, sensor string, pose spatialmath.Pose, dims [3]float64) {
	o := pose.Orientation
	d.OpenLabel.Objects[strconv.Itoa(id)] = Object{
		Type:             class,
		Name:             class + "_" + strconv.Itoa(id),
		CoordinateSystem: sensor,
		ObjectData: ObjectData{Cuboid: []Cuboid{{
			Name: "shape",
			Val: [9]float64{
				pose.Point.X, pose.Point.Y, pose.Point.Z,
				o.Yaw, o.Pitch, o.Roll,
				dims[0], dims[1], dims[2],
			},
		}}},
	}
}

// Marshal returns the indented JSON encoding of the document.
func (d *Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Unmarshal decodes a document.
func Unmarshal(buf []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(buf, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

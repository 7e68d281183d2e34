package sensor

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/rimage/transform"
)

// CameraAttributes configure a pinhole, semantic or fisheye camera.
type CameraAttributes struct {
	Intrinsics transform.PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	// Distortion is k1, k2, k3, p1, p2 for pinhole cameras and k1..k4 for fisheye cameras.
	Distortion []float64 `json:"distortion_parameters"`
}

// camera is shared by the pinhole and fisheye models; only the distorter differs.
type camera struct {
	id          int
	kind        data.SensorKind
	description string
	intrinsics  transform.PinholeCameraIntrinsics
	distorter   transform.Distorter
}

func newCamera(
	id int, kind data.SensorKind, description string, attrs CameraAttributes, dt transform.DistortionType,
) (*camera, error) {
	if err := attrs.Intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	distorter, err := transform.NewDistorter(dt, attrs.Distortion)
	if err != nil {
		return nil, errors.Wrapf(err, "%s camera %d", kind, id)
	}
	return &camera{id: id, kind: kind, description: description, intrinsics: attrs.Intrinsics, distorter: distorter}, nil
}

func (c *camera) ID() int {
	return c.id
}

func (c *camera) Kind() data.SensorKind {
	return c.kind
}

func (c *camera) Description() string {
	return c.description
}

func (c *camera) Bounds() orb.Bound {
	return orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{float64(c.intrinsics.Width), float64(c.intrinsics.Height)}}
}

// project maps a body frame point to a pixel. Optical axes: x right, y down, z forward.
func (c *camera) project(body r3.Vector) (r2.Point, bool) {
	depth := body.X
	if depth <= 0 {
		return r2.Point{X: -1, Y: -1}, false
	}
	xn, yn := c.distorter.Transform(-body.Y/depth, -body.Z/depth)
	return c.intrinsics.NormalizedToPixel(xn, yn), true
}

func (c *camera) ToPixel(body r3.Vector) (r2.Point, bool) {
	return c.project(body)
}

func (c *camera) InFOV(body r3.Vector) bool {
	px, ok := c.project(body)
	return ok && c.intrinsics.Contains(px)
}

// Pinhole is a camera with radial-tangential distortion. Semantic cameras share it.
type Pinhole struct {
	*camera
}

// NewPinhole creates a pinhole camera model of the given kind.
func NewPinhole(id int, kind data.SensorKind, description string, attrs CameraAttributes) (*Pinhole, error) {
	c, err := newCamera(id, kind, description, attrs, transform.BrownConradyDistortionType)
	if err != nil {
		return nil, err
	}
	return &Pinhole{c}, nil
}

// Fisheye is a camera with equidistant distortion. Points behind it project to (-1, -1).
type Fisheye struct {
	*camera
}

// NewFisheye creates a fisheye camera model.
func NewFisheye(id int, description string, attrs CameraAttributes) (*Fisheye, error) {
	c, err := newCamera(id, data.SensorFisheye, description, attrs, transform.KannalaBrandtDistortionType)
	if err != nil {
		return nil, err
	}
	return &Fisheye{c}, nil
}

// Package sensor defines the geometric models of the virtual sensors: which points a sensor can
// observe and where they land on its image or range image.
package sensor

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"go.viam.com/simlabel/config"
	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/referenceframe"
	"go.viam.com/simlabel/spatialmath"
)

// Model is a sensor's geometry. Points are given in the sensor body frame: x forward, y left,
// z up.
type Model interface {
	ID() int
	Kind() data.SensorKind
	Description() string
	// Bounds is the extent of the image (pixels) or range image (columns by rays).
	Bounds() orb.Bound
	InFOV(body r3.Vector) bool
	// ToPixel projects a point. ok is false for points the model cannot project.
	ToPixel(body r3.Vector) (px r2.Point, ok bool)
}

// Posed is a model placed at its capture pose. Its methods take local world points.
type Posed struct {
	Model
	Frame *referenceframe.SensorFrame
}

// At binds a model to the pose it captured a frame from.
func At(m Model, world referenceframe.World, pose spatialmath.Pose) *Posed {
	return &Posed{Model: m, Frame: referenceframe.NewSensorFrame(world, pose)}
}

// InFOV reports whether a local world point is observable.
func (p *Posed) InFOV(local r3.Vector) bool {
	return p.Model.InFOV(p.Frame.FromLocal(local))
}

// WorldToPixel projects a local world point. ok is false when the point is out of view.
func (p *Posed) WorldToPixel(local r3.Vector) (r2.Point, bool) {
	body := p.Frame.FromLocal(local)
	if !p.Model.InFOV(body) {
		return r2.Point{X: -1, Y: -1}, false
	}
	return p.Model.ToPixel(body)
}

// NewModel builds and initializes the model described by a sensor config.
func NewModel(cfg config.Sensor) (Model, error) {
	switch cfg.Type {
	case data.SensorCamera, data.SensorSemantic:
		attrs, err := config.TransformAttributes[CameraAttributes](cfg.Attributes)
		if err != nil {
			return nil, errors.Wrapf(err, "sensor %d", cfg.ID)
		}
		return NewPinhole(cfg.ID, cfg.Type, cfg.Description, attrs)
	case data.SensorFisheye:
		attrs, err := config.TransformAttributes[CameraAttributes](cfg.Attributes)
		if err != nil {
			return nil, errors.Wrapf(err, "sensor %d", cfg.ID)
		}
		return NewFisheye(cfg.ID, cfg.Description, attrs)
	case data.SensorLidar:
		attrs, err := config.TransformAttributes[LidarAttributes](cfg.Attributes)
		if err != nil {
			return nil, errors.Wrapf(err, "sensor %d", cfg.ID)
		}
		l := NewLidar(cfg.ID, cfg.Description, attrs)
		if err := l.Init(); err != nil {
			return nil, errors.Wrapf(err, "sensor %d", cfg.ID)
		}
		return l, nil
	default:
		return nil, errors.Errorf("sensor %d: unknown type %q", cfg.ID, cfg.Type)
	}
}

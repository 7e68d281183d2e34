// Package referenceframe isolates every coordinate conversion of the pipeline: snapshot positions
// to a local metric frame, and local points to a sensor's body frame.
package referenceframe

import (
	"math"

	"github.com/golang/geo/r3"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
)

// Frame types accepted by NewWorld.
const (
	CartesianWorld = "cartesian"
	GeodeticWorld  = "geodetic"
)

// World converts snapshot positions into a local east-north-up frame measured in meters.
// Positions carry longitude in X, latitude in Y and altitude in Z.
type World interface {
	Name() string
	ToLocal(pos r3.Vector) r3.Vector
	FromLocal(local r3.Vector) r3.Vector
}

// WorldConfig selects and parameterizes a World.
type WorldConfig struct {
	Type      string  `json:"type"`
	OriginLon float64 `json:"origin_lon"`
	OriginLat float64 `json:"origin_lat"`
	OriginAlt float64 `json:"origin_alt"`
}

// NewWorld returns the World described by cfg. An empty type is cartesian.
func NewWorld(cfg WorldConfig) (World, error) {
	switch cfg.Type {
	case "", CartesianWorld:
		return cartesian{}, nil
	case GeodeticWorld:
		if math.Abs(cfg.OriginLat) > 90 || math.Abs(cfg.OriginLon) > 180 {
			return nil, errors.Errorf("geodetic origin (%v, %v) out of range", cfg.OriginLon, cfg.OriginLat)
		}
		return NewGeodetic(cfg.OriginLon, cfg.OriginLat, cfg.OriginAlt), nil
	default:
		return nil, errors.Errorf("unknown world frame type %q", cfg.Type)
	}
}

// cartesian is used when the simulator already reports meters in the lon/lat/alt slots.
type cartesian struct{}

func (cartesian) Name() string                        { return CartesianWorld }
func (cartesian) ToLocal(pos r3.Vector) r3.Vector     { return pos }
func (cartesian) FromLocal(local r3.Vector) r3.Vector { return local }

// Geodetic projects WGS84 positions onto a tangent plane at an origin using great circle distance
// and bearing.
type Geodetic struct {
	origin *geo.Point
	alt    float64
}

// NewGeodetic creates a geodetic world with its tangent plane at the given origin.
func NewGeodetic(lon, lat, alt float64) *Geodetic {
	return &Geodetic{origin: geo.NewPoint(lat, lon), alt: alt}
}

// Name returns the frame type.
func (g *Geodetic) Name() string {
	return GeodeticWorld
}

// ToLocal returns east, north, up meters from the origin.
func (g *Geodetic) ToLocal(pos r3.Vector) r3.Vector {
	pt := geo.NewPoint(pos.Y, pos.X)
	dist := g.origin.GreatCircleDistance(pt) * 1000
	if dist == 0 {
		return r3.Vector{Z: pos.Z - g.alt}
	}
	bearing := g.origin.BearingTo(pt) * math.Pi / 180
	return r3.Vector{X: dist * math.Sin(bearing), Y: dist * math.Cos(bearing), Z: pos.Z - g.alt}
}

// FromLocal inverts ToLocal.
func (g *Geodetic) FromLocal(local r3.Vector) r3.Vector {
	dist := math.Hypot(local.X, local.Y)
	if dist == 0 {
		return r3.Vector{X: g.origin.Lng(), Y: g.origin.Lat(), Z: local.Z + g.alt}
	}
	bearing := math.Atan2(local.X, local.Y) * 180 / math.Pi
	pt := g.origin.PointAtDistanceAndBearing(dist/1000, bearing)
	return r3.Vector{X: pt.Lng(), Y: pt.Lat(), Z: local.Z + g.alt}
}

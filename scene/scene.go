// Package scene holds the parts of a scenario description the labeler reads: the actors that can
// show up in a snapshot and the physical boxes and meshes that represent them.
package scene

import (
	"encoding/json"
	"io"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// BBox is an actor's physical box. Center is relative to the actor's reported position.
type BBox struct {
	Center r3.Vector `json:"center"`
	Length float64   `json:"length"`
	Width  float64   `json:"width"`
	Height float64   `json:"height"`
}

// Dims returns length, width, height as a vector.
func (b BBox) Dims() r3.Vector {
	return r3.Vector{X: b.Length, Y: b.Width, Z: b.Height}
}

// Part is one physical body of a combination vehicle, e.g. a trailer behind a tractor.
type Part struct {
	Model  string    `json:"model"`
	BBox   BBox      `json:"bbox"`
	Offset r3.Vector `json:"offset"`
}

// Actor is an ego, vehicle, vulnerable road user or misc object class.
type Actor struct {
	ID     int    `json:"id"`
	TypeID int    `json:"type_id"`
	Name   string `json:"name"`
	Group  string `json:"group,omitempty"`
	Model  string `json:"model"`
	BBox   BBox   `json:"bbox"`

	Combination []Part `json:"combination,omitempty"`
}

// Parts returns every physical body of the actor. A plain actor is a single part at zero offset.
func (a Actor) Parts() []Part {
	parts := []Part{{Model: a.Model, BBox: a.BBox}}
	return append(parts, a.Combination...)
}

// Scene is a scenario description.
type Scene struct {
	Name     string  `json:"name"`
	Egos     []Actor `json:"egos"`
	Vehicles []Actor `json:"vehicles"`
	VRUs     []Actor `json:"vrus"`
	Miscs    []Actor `json:"miscs"`
}

// Read parses a scene file.
func Read(path string) (*Scene, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening scene")
	}
	defer func() {
		_ = f.Close()
	}()
	return FromReader(f)
}

// FromReader parses a scene from JSON.
func FromReader(r io.Reader) (*Scene, error) {
	var scn Scene
	if err := json.NewDecoder(r).Decode(&scn); err != nil {
		return nil, errors.Wrap(err, "decoding scene")
	}
	if scn.Name == "" {
		return nil, errors.New("scene has no name")
	}
	return &scn, nil
}

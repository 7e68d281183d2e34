// Package catalog maps object classes to the 3D contours sampled when testing visibility.
package catalog

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/logging"
	"go.viam.com/simlabel/scene"
	"go.viam.com/simlabel/spatialmath"
)

// ActorKind is the scene category of a class.
type ActorKind int

// Actor kinds. The values match the scenario's numbering.
const (
	ActorEgo     ActorKind = -1
	ActorVehicle ActorKind = 0
	ActorMisc    ActorKind = 1
	ActorVRU     ActorKind = 2
)

func (k ActorKind) String() string {
	switch k {
	case ActorEgo:
		return "ego"
	case ActorVehicle:
		return "vehicle"
	case ActorMisc:
		return "misc"
	case ActorVRU:
		return "vru"
	}
	return "unknown"
}

// Key identifies a class in the catalog.
type Key struct {
	Kind ActorKind
	ID   int
}

// ModelPart is one physical body of a class, in the object's local frame.
type ModelPart struct {
	Model  string
	Center r3.Vector
	Dims   r3.Vector
}

// Entry is a registered class and its resolved contour.
type Entry struct {
	Key     Key
	Name    string
	Parts   []ModelPart
	Contour []r3.Vector
}

// Options configure contour synthesis.
type Options struct {
	// Resolution is the spacing in meters of synthesized box grids.
	Resolution float64 `json:"resolution"`
}

// Catalog is built once per scenario and read-only afterwards.
type Catalog struct {
	entries map[Key]*Entry
	opts    Options
	logger  logging.Logger
}

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// EgoID derives an ego's catalog id from the trailing digits of its group name. A name without
// digits maps to 0.
func EgoID(group string) int {
	m := trailingDigits.FindString(group)
	if m == "" {
		return 0
	}
	id, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return id
}

// KeyFor returns the catalog key of a snapshot object.
func KeyFor(obj data.Object) Key {
	switch obj.Kind {
	case data.ObjectEgo:
		return Key{ActorEgo, EgoID(obj.Group)}
	case data.ObjectCar:
		return Key{ActorVehicle, obj.TypeID}
	case data.ObjectStatic:
		return Key{ActorMisc, obj.TypeID}
	case data.ObjectDynamic:
		return Key{ActorVRU, obj.TypeID}
	}
	return Key{ActorKind(math.MinInt32), obj.TypeID}
}

// New registers one entry per distinct class of the scene. Contours start out as synthesized box
// grids; LoadContours replaces them with mesh samples where available.
func New(scn *scene.Scene, opts Options, logger logging.Logger) *Catalog {
	c := &Catalog{entries: map[Key]*Entry{}, opts: opts, logger: logger}
	for _, ego := range scn.Egos {
		c.register(Key{ActorEgo, EgoID(ego.Group)}, ego)
	}
	for _, v := range scn.Vehicles {
		c.register(Key{ActorVehicle, v.TypeID}, v)
	}
	for _, m := range scn.Miscs {
		c.register(Key{ActorMisc, m.TypeID}, m)
	}
	for _, v := range scn.VRUs {
		c.register(Key{ActorVRU, v.TypeID}, v)
	}
	logger.Debugw("catalog built", "entries", len(c.entries))
	return c
}

func (c *Catalog) register(key Key, actor scene.Actor) {
	if _, ok := c.entries[key]; ok {
		return
	}
	entry := &Entry{Key: key, Name: actor.Name}
	for _, part := range actor.Parts() {
		entry.Parts = append(entry.Parts, ModelPart{
			Model:  part.Model,
			Center: part.BBox.Center.Add(part.Offset),
			Dims:   part.BBox.Dims(),
		})
	}
	for _, part := range entry.Parts {
		entry.Contour = append(entry.Contour, spatialmath.BoxSurfacePoints(part.Center, part.Dims, c.opts.Resolution)...)
	}
	c.entries[key] = entry
}

// Len returns the number of registered classes.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Entry returns the entry for key.
func (c *Catalog) Entry(key Key) (*Entry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

// LoadContours reads `<dir>/models/<model>.smp` for every part and replaces that part's grid with
// the mesh samples. Parts whose file is missing or unreadable keep the synthesized grid. Returns
// the number of parts loaded from disk.
func (c *Catalog) LoadContours(dir string) int {
	loaded := 0
	for key, entry := range c.entries {
		var contour []r3.Vector
		for _, part := range entry.Parts {
			pts, err := readModel(filepath.Join(dir, "models", part.Model+".smp"))
			if err != nil {
				c.logger.Infow("using box contour", "class", key, "model", part.Model, "reason", err.Error())
				contour = append(contour, spatialmath.BoxSurfacePoints(part.Center, part.Dims, c.opts.Resolution)...)
				continue
			}
			loaded++
			contour = append(contour, recenter(pts, part.Center)...)
		}
		entry.Contour = contour
	}
	return loaded
}

// readModel reads little-endian float32 triples. Meshes are y-up; the world is z-up.
func readModel(path string) ([]r3.Vector, error) {
	//nolint:gosec
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	const recordSize = 12
	if len(raw) == 0 || len(raw)%recordSize != 0 {
		return nil, errors.Errorf("model file %q has %d bytes, not a whole number of points", path, len(raw))
	}
	vals := make([]float32, len(raw)/4)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, vals); err != nil {
		return nil, errors.Wrapf(err, "decoding %q", path)
	}
	pts := make([]r3.Vector, 0, len(vals)/3)
	for i := 0; i < len(vals); i += 3 {
		x, y, z := float64(vals[i]), float64(vals[i+1]), float64(vals[i+2])
		pts = append(pts, r3.Vector{X: x, Y: -z, Z: y})
	}
	return pts, nil
}

// recenter translates pts so their bounding box center lands on center.
func recenter(pts []r3.Vector, center r3.Vector) []r3.Vector {
	lo, hi := spatialmath.BoundingBox(pts)
	shift := center.Sub(lo.Add(hi).Mul(0.5))
	out := make([]r3.Vector, len(pts))
	for i, p := range pts {
		out[i] = p.Add(shift)
	}
	return out
}

// BoundingPoints returns the contour of key placed at position (local frame, meters) with the
// given orientation. An unknown key yields no points.
func (c *Catalog) BoundingPoints(key Key, position r3.Vector, orientation spatialmath.EulerAngles) []r3.Vector {
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	return spatialmath.TransformPoints(entry.Contour, spatialmath.NewPose(position, orientation))
}

// BoxCorners returns the corners of every part box of key, placed like BoundingPoints.
func (c *Catalog) BoxCorners(key Key, position r3.Vector, orientation spatialmath.EulerAngles) []r3.Vector {
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	var corners []r3.Vector
	for _, part := range entry.Parts {
		corners = append(corners, spatialmath.BoxVertices(part.Center, part.Dims)...)
	}
	return spatialmath.TransformPoints(corners, spatialmath.NewPose(position, orientation))
}

// Extent returns the local center and full dimensions of the union of key's part boxes.
func (c *Catalog) Extent(key Key) (r3.Vector, r3.Vector, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return r3.Vector{}, r3.Vector{}, false
	}
	var corners []r3.Vector
	for _, part := range entry.Parts {
		corners = append(corners, spatialmath.BoxVertices(part.Center, part.Dims)...)
	}
	lo, hi := spatialmath.BoundingBox(corners)
	return lo.Add(hi).Mul(0.5), hi.Sub(lo), true
}

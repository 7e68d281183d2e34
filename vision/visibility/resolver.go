// Package visibility decides which ground truth objects a sensor actually sees in a frame. Each
// object is projected through the sensor model, reduced to a footprint on the image (or range
// image) and clipped by the footprints of every nearer object.
package visibility

import (
	"context"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"go.viam.com/simlabel/catalog"
	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/logging"
	"go.viam.com/simlabel/referenceframe"
	"go.viam.com/simlabel/sensor"
	"go.viam.com/simlabel/spatialmath"
)

// DefaultMinVisibleFraction is the share of contour points that must project for an object to
// become a candidate.
const DefaultMinVisibleFraction = 0.1

// Config tunes the resolver. Zero values disable the corresponding threshold, except
// MinVisibleFraction which defaults to DefaultMinVisibleFraction and is disabled by a negative
// value.
type Config struct {
	MaxDistance        float64
	MinArea            float64
	Completeness       float64
	MinVisibleFraction float64
	// FullBox uses the projected part boxes instead of the contour hull as the initial footprint.
	FullBox bool
	// Parallelism bounds the per-object projection goroutines; zero leaves it unbounded.
	Parallelism int
	// EgoGroup names the ego carrying the sensors. It is never a candidate.
	EgoGroup string
}

// Result is the visibility of one snapshot object.
type Result struct {
	// Slot is the index of the object in the snapshot.
	Slot     int
	Kind     data.ObjectKind
	ID       int
	Samples  int
	Visible  int
	Initial  Footprint
	Area0    float64
	Final    Footprint
	Area     float64
	Distance float64
	Detected bool
}

// Ratio returns Area/Area0, or zero for an empty initial footprint.
func (r *Result) Ratio() float64 {
	if r.Area0 <= 0 {
		return 0
	}
	return r.Area / r.Area0
}

// Resolver computes visibility against one catalog. It holds no per-frame state and may be used
// from several goroutines.
type Resolver struct {
	catalog *catalog.Catalog
	world   referenceframe.World
	cfg     Config
	logger  logging.Logger
}

// NewResolver returns a resolver.
func NewResolver(cat *catalog.Catalog, world referenceframe.World, cfg Config, logger logging.Logger) *Resolver {
	if cfg.MinVisibleFraction == 0 {
		cfg.MinVisibleFraction = DefaultMinVisibleFraction
	}
	return &Resolver{catalog: cat, world: world, cfg: cfg, logger: logger}
}

// Catalog returns the catalog objects are looked up in.
func (r *Resolver) Catalog() *catalog.Catalog {
	return r.catalog
}

// World returns the world object and sensor positions are given in.
func (r *Resolver) World() referenceframe.World {
	return r.world
}

// Resolve returns every candidate object of snapshot, nearest first, with Detected set on the ones
// that survive occlusion and the area thresholds. The pose is the sensor pose in world
// coordinates at capture time. An error is returned only when ctx is done.
func (r *Resolver) Resolve(
	ctx context.Context, model sensor.Model, pose spatialmath.Pose, snapshot *data.ObjectSnapshot,
) ([]Result, error) {
	if snapshot == nil || len(snapshot.Objects) == 0 {
		return nil, nil
	}
	posed := sensor.At(model, r.world, pose)

	candidates := make([]*Result, len(snapshot.Objects))
	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.Parallelism > 0 {
		g.SetLimit(r.cfg.Parallelism)
	}
	for slot := range snapshot.Objects {
		slot := slot
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			candidates[slot] = r.project(posed, slot, &snapshot.Objects[slot])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if c != nil {
			results = append(results, *c)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	var occluders Footprint
	for i := range results {
		res := &results[i]
		res.Final = res.Initial.Subtract(occluders)
		res.Area = res.Final.Area()
		if res.Area > res.Area0 {
			res.Area = res.Area0
		}
		res.Detected = r.detected(res)
		occluders = append(occluders, res.Initial...)
	}
	return results, nil
}

// detected applies the enabled thresholds. With both disabled every candidate is detected, even
// one occluded down to nothing.
func (r *Resolver) detected(res *Result) bool {
	if r.cfg.MinArea > 0 && res.Area < r.cfg.MinArea {
		return false
	}
	if r.cfg.Completeness > 0 && (res.Area0 <= 0 || res.Area/res.Area0 < r.cfg.Completeness) {
		return false
	}
	return true
}

// project runs the per-object steps: distance filter, contour projection, visible fraction and
// initial footprint. It returns nil for objects that are not candidates.
func (r *Resolver) project(posed *sensor.Posed, slot int, obj *data.Object) *Result {
	if obj.Kind == data.ObjectEgo && r.cfg.EgoGroup != "" && obj.Group == r.cfg.EgoGroup {
		return nil
	}
	local := r.world.ToLocal(obj.Position)
	distance := local.Sub(posed.Frame.Pose().Point).Norm()
	if r.cfg.MaxDistance > 0 && distance > r.cfg.MaxDistance {
		return nil
	}

	key := catalog.KeyFor(*obj)
	pts := r.catalog.BoundingPoints(key, local, obj.Orientation)
	if len(pts) == 0 {
		r.logger.Debugw("object not in catalog", "kind", obj.Kind, "id", obj.ID, "key", key)
		return nil
	}

	bounds := posed.Bounds()
	projected := projectAll(posed, pts, true)
	if len(projected) == 0 {
		return nil
	}
	if r.cfg.MinVisibleFraction > 0 && float64(len(projected)) < r.cfg.MinVisibleFraction*float64(len(pts)) {
		return nil
	}

	var hull orb.Ring
	if r.cfg.FullBox {
		corners := r.catalog.BoxCorners(key, local, obj.Orientation)
		if box := ConvexHull(projectAll(posed, corners, false)); box != nil {
			hull = ClipToBound(box, bounds)
		}
	} else {
		hull = ConvexHull(projected)
	}
	if hull == nil {
		return nil
	}
	initial := Footprint{hull}
	return &Result{
		Slot:     slot,
		Kind:     obj.Kind,
		ID:       obj.ID,
		Samples:  len(pts),
		Visible:  len(projected),
		Initial:  initial,
		Area0:    initial.Area(),
		Distance: distance,
	}
}

// projectAll projects local points. With inView set it keeps only points the sensor observes
// inside its bounds; otherwise every point the model can project is kept.
func projectAll(posed *sensor.Posed, pts []r3.Vector, inView bool) []orb.Point {
	bounds := posed.Bounds()
	out := make([]orb.Point, 0, len(pts))
	for _, p := range pts {
		var (
			px r2.Point
			ok bool
		)
		if inView {
			px, ok = posed.WorldToPixel(p)
		} else {
			px, ok = posed.Model.ToPixel(posed.Frame.FromLocal(p))
		}
		if !ok {
			continue
		}
		pt := orb.Point{px.X, px.Y}
		if inView && !bounds.Contains(pt) {
			continue
		}
		out = append(out, pt)
	}
	return out
}

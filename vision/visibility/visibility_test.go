package visibility

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"go.viam.com/test"

	"go.viam.com/simlabel/catalog"
	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/logging"
	"go.viam.com/simlabel/referenceframe"
	"go.viam.com/simlabel/rimage/transform"
	"go.viam.com/simlabel/scene"
	"go.viam.com/simlabel/sensor"
	"go.viam.com/simlabel/spatialmath"
)

func square(x0, y0, x1, y1 float64) orb.Ring {
	return orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}
}

func TestConvexHull(t *testing.T) {
	hull := ConvexHull([]orb.Point{{0, 0}, {2, 0}, {1, 1}, {2, 2}, {0, 2}, {1, 0}})
	test.That(t, len(hull), test.ShouldEqual, 5)
	test.That(t, hull.Closed(), test.ShouldBeTrue)
	test.That(t, hull.Orientation(), test.ShouldEqual, orb.CCW)
	test.That(t, Footprint{hull}.Area(), test.ShouldAlmostEqual, 4)

	test.That(t, ConvexHull([]orb.Point{{0, 0}, {1, 1}}), test.ShouldBeNil)
	test.That(t, ConvexHull([]orb.Point{{0, 0}, {1, 1}, {2, 2}}), test.ShouldBeNil)
}

func TestSubtract(t *testing.T) {
	base := Footprint{square(0, 0, 4, 4)}

	t.Run("disjoint", func(t *testing.T) {
		out := base.Subtract(Footprint{square(5, 5, 6, 6)})
		test.That(t, out.Area(), test.ShouldAlmostEqual, 16)
	})
	t.Run("half", func(t *testing.T) {
		out := base.Subtract(Footprint{square(2, -1, 5, 5)})
		test.That(t, out.Area(), test.ShouldAlmostEqual, 8)
		test.That(t, out.Bound().Max.X(), test.ShouldAlmostEqual, 2)
	})
	t.Run("hole", func(t *testing.T) {
		out := base.Subtract(Footprint{square(1, 1, 3, 3)})
		test.That(t, out.Area(), test.ShouldAlmostEqual, 12)
		for _, piece := range out {
			test.That(t, piece.Orientation(), test.ShouldEqual, orb.CCW)
		}
		test.That(t, out.Polygons()[0][0].Bound().Max.X(), test.ShouldBeGreaterThan, 0)
	})
	t.Run("covered", func(t *testing.T) {
		out := base.Subtract(Footprint{square(-1, -1, 5, 5)})
		test.That(t, out.Area(), test.ShouldAlmostEqual, 0)
	})
	t.Run("union of occluders", func(t *testing.T) {
		out := base.Subtract(Footprint{square(0, 0, 2, 4), square(1, 0, 3, 4)})
		test.That(t, out.Area(), test.ShouldAlmostEqual, 4)
	})
}

func TestClipToBound(t *testing.T) {
	r := ClipToBound(square(-5, -5, 5, 5), orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}})
	test.That(t, Footprint{r}.Area(), test.ShouldAlmostEqual, 25)
	test.That(t, ClipToBound(square(20, 20, 30, 30), orb.Bound{Max: orb.Point{10, 10}}), test.ShouldBeNil)
}

type fixture struct {
	resolver *Resolver
	camera   sensor.Model
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	scn := &scene.Scene{
		Name: "unit",
		Egos: []scene.Actor{{ID: 1, Group: "Ego_001", Model: "sedan", BBox: scene.BBox{Length: 2, Width: 2, Height: 2}}},
		Vehicles: []scene.Actor{
			{ID: 7, TypeID: 1, Name: "box", Model: "box", BBox: scene.BBox{Length: 2, Width: 2, Height: 2}},
		},
	}
	logger := logging.NewTestLogger(t)
	cat := catalog.New(scn, catalog.Options{Resolution: 0.25}, logger)
	world, err := referenceframe.NewWorld(referenceframe.WorldConfig{})
	test.That(t, err, test.ShouldBeNil)
	cam, err := sensor.NewPinhole(1, data.SensorCamera, "front", sensor.CameraAttributes{
		Intrinsics: transform.PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240},
	})
	test.That(t, err, test.ShouldBeNil)
	return fixture{resolver: NewResolver(cat, world, cfg, logger), camera: cam}
}

func car(id int, x, y float64) data.Object {
	return data.Object{Kind: data.ObjectCar, ID: id, TypeID: 1, Class: "box", Position: r3.Vector{X: x, Y: y}}
}

func (f fixture) resolve(t *testing.T, objs ...data.Object) []Result {
	t.Helper()
	res, err := f.resolver.Resolve(context.Background(), f.camera, spatialmath.Pose{}, &data.ObjectSnapshot{Timestamp: 1, Objects: objs})
	test.That(t, err, test.ShouldBeNil)
	return res
}

func TestResolveSingleBox(t *testing.T) {
	f := newFixture(t, Config{})
	res := f.resolve(t, car(7, 10, 0))
	test.That(t, len(res), test.ShouldEqual, 1)
	r := res[0]
	test.That(t, r.Detected, test.ShouldBeTrue)
	test.That(t, r.Slot, test.ShouldEqual, 0)
	test.That(t, r.Distance, test.ShouldAlmostEqual, 10)
	test.That(t, r.Area0, test.ShouldBeGreaterThan, 0)
	test.That(t, r.Area, test.ShouldAlmostEqual, r.Area0)
	test.That(t, r.Visible, test.ShouldEqual, r.Samples)
	test.That(t, len(r.Final), test.ShouldEqual, 1)

	b := r.Final.Bound()
	test.That(t, b.Min.X(), test.ShouldBeGreaterThanOrEqualTo, 0)
	test.That(t, b.Min.Y(), test.ShouldBeGreaterThanOrEqualTo, 0)
	test.That(t, b.Max.X(), test.ShouldBeLessThanOrEqualTo, 640)
	test.That(t, b.Max.Y(), test.ShouldBeLessThanOrEqualTo, 480)
	// The front face at 9 m spans 500/9 px on each side of the principal point.
	test.That(t, b.Min.X(), test.ShouldAlmostEqual, 320-500.0/9, 1e-6)
}

func TestResolveOcclusion(t *testing.T) {
	f := newFixture(t, Config{})
	res := f.resolve(t, car(8, 20, 2), car(7, 10, 0))
	test.That(t, len(res), test.ShouldEqual, 2)

	near, far := res[0], res[1]
	test.That(t, near.ID, test.ShouldEqual, 7)
	test.That(t, near.Slot, test.ShouldEqual, 1)
	test.That(t, near.Area, test.ShouldAlmostEqual, near.Area0)
	test.That(t, far.ID, test.ShouldEqual, 8)
	test.That(t, far.Area, test.ShouldBeLessThan, far.Area0)
	test.That(t, far.Area, test.ShouldBeGreaterThan, 0)
	test.That(t, far.Detected, test.ShouldBeTrue)

	f = newFixture(t, Config{Completeness: 0.99})
	res = f.resolve(t, car(8, 20, 2), car(7, 10, 0))
	test.That(t, res[0].Detected, test.ShouldBeTrue)
	test.That(t, res[1].Detected, test.ShouldBeFalse)
}

func TestResolveFullyOccluded(t *testing.T) {
	f := newFixture(t, Config{})
	res := f.resolve(t, car(7, 10, 0), car(8, 30, 0))
	test.That(t, len(res), test.ShouldEqual, 2)
	test.That(t, res[1].Area, test.ShouldAlmostEqual, 0)
	test.That(t, len(res[1].Final.Polygons()), test.ShouldEqual, 0)
	test.That(t, res[0].Detected, test.ShouldBeTrue)
	test.That(t, res[1].Detected, test.ShouldBeTrue)

	f = newFixture(t, Config{MinArea: 1e-3})
	res = f.resolve(t, car(7, 10, 0), car(8, 30, 0))
	test.That(t, res[0].Detected, test.ShouldBeTrue)
	test.That(t, res[1].Detected, test.ShouldBeFalse)

	f = newFixture(t, Config{Completeness: 0.01})
	res = f.resolve(t, car(7, 10, 0), car(8, 30, 0))
	test.That(t, res[1].Detected, test.ShouldBeFalse)
}

func TestResolveNonOverlapping(t *testing.T) {
	f := newFixture(t, Config{})
	res := f.resolve(t, car(7, 10, 3), car(8, 10, -3))
	test.That(t, len(res), test.ShouldEqual, 2)
	for _, r := range res {
		test.That(t, r.Area, test.ShouldAlmostEqual, r.Area0, 1e-6)
		test.That(t, r.Detected, test.ShouldBeTrue)
	}
}

func TestResolveFilters(t *testing.T) {
	f := newFixture(t, Config{MaxDistance: 50, EgoGroup: "Ego_001"})
	unknown := car(9, 10, 0)
	unknown.TypeID = 99
	ego := data.Object{Kind: data.ObjectEgo, ID: 1, Group: "Ego_001", Position: r3.Vector{X: 5}}
	res := f.resolve(t,
		car(1, -10, 0), // behind the camera
		car(2, 60, 0),  // beyond MaxDistance
		unknown,
		ego,
	)
	test.That(t, res, test.ShouldBeEmpty)

	res = f.resolve(t)
	test.That(t, res, test.ShouldBeEmpty)
}

func TestResolveMinArea(t *testing.T) {
	f := newFixture(t, Config{MinArea: 1e6})
	res := f.resolve(t, car(7, 10, 0))
	test.That(t, len(res), test.ShouldEqual, 1)
	test.That(t, res[0].Detected, test.ShouldBeFalse)
}

func TestResolveFullBox(t *testing.T) {
	// Half of the box hangs off the left edge of the image.
	f := newFixture(t, Config{FullBox: true})
	res := f.resolve(t, car(7, 10, 5.4))
	test.That(t, len(res), test.ShouldEqual, 1)
	test.That(t, res[0].Initial.Bound().Min.X(), test.ShouldAlmostEqual, 0)
	test.That(t, res[0].Detected, test.ShouldBeTrue)
}

func TestResolveCancelled(t *testing.T) {
	f := newFixture(t, Config{Parallelism: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.resolver.Resolve(ctx, f.camera, spatialmath.Pose{}, &data.ObjectSnapshot{Objects: []data.Object{car(7, 10, 0)}})
	test.That(t, err, test.ShouldNotBeNil)
}

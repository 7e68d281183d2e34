package sensor

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/simlabel/config"
	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/logging"
	"go.viam.com/simlabel/referenceframe"
	"go.viam.com/simlabel/rimage/transform"
	"go.viam.com/simlabel/spatialmath"
)

var vgaIntrinsics = transform.PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}

func TestPinhole(t *testing.T) {
	cam, err := NewPinhole(1, data.SensorCamera, "front", CameraAttributes{Intrinsics: vgaIntrinsics})
	test.That(t, err, test.ShouldBeNil)

	// Straight ahead lands on the principal point.
	px, ok := cam.ToPixel(r3.Vector{X: 10})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, px.X, test.ShouldAlmostEqual, 320)
	test.That(t, px.Y, test.ShouldAlmostEqual, 240)

	// Left and up move towards the top left corner.
	px, _ = cam.ToPixel(r3.Vector{X: 10, Y: 1, Z: 1})
	test.That(t, px.X, test.ShouldAlmostEqual, 270)
	test.That(t, px.Y, test.ShouldAlmostEqual, 190)

	_, ok = cam.ToPixel(r3.Vector{X: -10})
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = cam.ToPixel(r3.Vector{Y: 1})
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, cam.InFOV(r3.Vector{X: 10}), test.ShouldBeTrue)
	test.That(t, cam.InFOV(r3.Vector{X: -10}), test.ShouldBeFalse)
	// 10 m to the side at 1 m depth is far outside a 640 px wide image.
	test.That(t, cam.InFOV(r3.Vector{X: 1, Y: 10}), test.ShouldBeFalse)
	test.That(t, cam.Bounds().Max.X(), test.ShouldEqual, 640.)

	_, err = NewPinhole(2, data.SensorCamera, "", CameraAttributes{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPinholeDistortion(t *testing.T) {
	cam, err := NewPinhole(1, data.SensorCamera, "", CameraAttributes{Intrinsics: vgaIntrinsics, Distortion: []float64{0.1}})
	test.That(t, err, test.ShouldBeNil)
	// Normalized (0.5, 0) grows by 1 + 0.1*0.25.
	px, ok := cam.ToPixel(r3.Vector{X: 2, Y: -1})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, px.X, test.ShouldAlmostEqual, 320+500*0.5*1.025)
}

func TestFisheye(t *testing.T) {
	cam, err := NewFisheye(3, "", CameraAttributes{Intrinsics: vgaIntrinsics})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Kind(), test.ShouldEqual, data.SensorFisheye)

	// 45 degrees to the right: r = 1, theta = pi/4.
	px, ok := cam.ToPixel(r3.Vector{X: 5, Y: -5})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, px.X, test.ShouldAlmostEqual, 320+500*math.Pi/4)
	test.That(t, px.Y, test.ShouldAlmostEqual, 240)

	px, ok = cam.ToPixel(r3.Vector{X: -1})
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, px.X, test.ShouldEqual, -1.)
	test.That(t, px.Y, test.ShouldEqual, -1.)
}

func TestLidarInit(t *testing.T) {
	for _, tc := range []struct {
		name  string
		attrs LidarAttributes
	}{
		{"no rays", LidarAttributes{RayNum: 0, LeftFOV: -180, RightFOV: 180}},
		{"left of right", LidarAttributes{RayNum: 4, LeftFOV: 30, RightFOV: -30}},
		{"angle count", LidarAttributes{RayNum: 4, LeftFOV: -30, RightFOV: 30, RayAngles: []float64{-1, 0, 1}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			test.That(t, NewLidar(4, "", tc.attrs).Init(), test.ShouldNotBeNil)
		})
	}
}

func TestLidarRayQuantization(t *testing.T) {
	l := NewLidar(4, "", LidarAttributes{RayNum: 4, DownFOV: -10, UpFOV: 10, LeftFOV: -180, RightFOV: 180})
	test.That(t, l.Init(), test.ShouldBeNil)
	rays := l.Rays()
	test.That(t, len(rays), test.ShouldEqual, 4)
	test.That(t, rays[0], test.ShouldAlmostEqual, -10)
	test.That(t, rays[1], test.ShouldAlmostEqual, -10.0/3)
	test.That(t, rays[3], test.ShouldAlmostEqual, 10)

	test.That(t, l.Ray(9), test.ShouldEqual, 3)
	test.That(t, l.Ray(-9), test.ShouldEqual, 0)
	test.That(t, l.Ray(0.5), test.ShouldEqual, 2)
	test.That(t, l.Ray(45), test.ShouldEqual, 3)
	test.That(t, l.Ray(-45), test.ShouldEqual, 0)

	// A point at 9 degrees elevation straight ahead.
	pt := r3.Vector{X: 10, Z: 10 * math.Tan(9*math.Pi/180)}
	px, ok := l.ToPixel(pt)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, px.Y, test.ShouldEqual, 3.)
	test.That(t, px.X, test.ShouldAlmostEqual, 180/defaultHorizontalResolution)
	test.That(t, l.Bounds().Max.Y(), test.ShouldEqual, 4.)
}

func TestLidarExplicitRays(t *testing.T) {
	l := NewLidar(4, "", LidarAttributes{
		RayNum: 3, DownFOV: -20, UpFOV: 5, LeftFOV: -90, RightFOV: 90, Range: 50,
		RayAngles: []float64{2, -15, -5},
	})
	test.That(t, l.Init(), test.ShouldBeNil)
	test.That(t, l.Rays(), test.ShouldResemble, []float64{-15, -5, 2})
	test.That(t, l.Ray(-11), test.ShouldEqual, 0)
	test.That(t, l.Ray(-9), test.ShouldEqual, 1)
	test.That(t, l.Ray(4), test.ShouldEqual, 2)

	// Right of the forward axis has a positive horizontal angle.
	h, v := Angles(r3.Vector{X: 1, Y: -1})
	test.That(t, h, test.ShouldAlmostEqual, 45)
	test.That(t, v, test.ShouldAlmostEqual, 0)

	test.That(t, l.InFOV(r3.Vector{X: 10}), test.ShouldBeTrue)
	test.That(t, l.InFOV(r3.Vector{X: 60}), test.ShouldBeFalse)
	test.That(t, l.InFOV(r3.Vector{X: -10}), test.ShouldBeFalse)
	test.That(t, l.InFOV(r3.Vector{X: 10, Z: 5}), test.ShouldBeFalse)
}

func TestPosed(t *testing.T) {
	cam, err := NewPinhole(1, data.SensorCamera, "", CameraAttributes{Intrinsics: vgaIntrinsics})
	test.That(t, err, test.ShouldBeNil)
	world, err := referenceframe.NewWorld(referenceframe.WorldConfig{})
	test.That(t, err, test.ShouldBeNil)

	// Camera at (0, 10) looking down -y.
	posed := At(cam, world, spatialmath.NewPose(r3.Vector{Y: 10}, spatialmath.EulerAngles{Yaw: -math.Pi / 2}))
	px, ok := posed.WorldToPixel(r3.Vector{})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, px.X, test.ShouldAlmostEqual, 320, 1e-9)
	test.That(t, px.Y, test.ShouldAlmostEqual, 240, 1e-9)
	test.That(t, posed.InFOV(r3.Vector{Y: 20}), test.ShouldBeFalse)
	_, ok = posed.WorldToPixel(r3.Vector{Y: 20})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestNewSet(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	set := NewSet([]config.Sensor{
		{ID: 1, Type: data.SensorCamera, Attributes: config.AttributeMap{
			"intrinsic_parameters": map[string]interface{}{"width_px": 640, "height_px": 480, "fx": 500, "fy": 500, "ppx": 320, "ppy": 240},
		}},
		{ID: 2, Type: data.SensorSemantic, Attributes: config.AttributeMap{
			"intrinsic_parameters": map[string]interface{}{"width_px": 640, "height_px": 480, "fx": 500, "fy": 500, "ppx": 320, "ppy": 240},
		}},
		{ID: 3, Type: data.SensorLidar, Attributes: config.AttributeMap{"ray_num": 0}},
		{ID: 4, Type: data.SensorLidar, Attributes: config.AttributeMap{
			"ray_num": 32, "down_fov": -25, "up_fov": 15, "left_fov": -180, "right_fov": 180,
		}},
		{ID: 5, Type: data.SensorFisheye, Attributes: config.AttributeMap{"bogus": 1}},
	}, logger)

	test.That(t, set.Len(), test.ShouldEqual, 3)
	test.That(t, set.IDs(), test.ShouldResemble, []int{1, 2, 4})
	test.That(t, set.HasKind(data.SensorSemantic), test.ShouldBeTrue)
	test.That(t, set.HasKind(data.SensorFisheye), test.ShouldBeFalse)
	_, ok := set.Get(3)
	test.That(t, ok, test.ShouldBeFalse)
	m, ok := set.Get(4)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, m.Kind(), test.ShouldEqual, data.SensorLidar)
	test.That(t, logs.FilterMessage("sensor excluded").Len(), test.ShouldEqual, 2)
}

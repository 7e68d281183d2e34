package labeler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/simlabel/catalog"
	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/data/writeback"
	"go.viam.com/simlabel/logging"
	"go.viam.com/simlabel/openlabel"
	"go.viam.com/simlabel/pointcloud"
	"go.viam.com/simlabel/referenceframe"
	"go.viam.com/simlabel/rimage/transform"
	"go.viam.com/simlabel/scene"
	"go.viam.com/simlabel/sensor"
	"go.viam.com/simlabel/vision/visibility"
)

type harness struct {
	labeler *Labeler
	pool    *writeback.Pool
	root    string
}

func newHarness(t *testing.T, debug bool) harness {
	t.Helper()
	logger := logging.NewTestLogger(t)
	scn := &scene.Scene{
		Name:     "unit",
		Vehicles: []scene.Actor{{ID: 5, TypeID: 1, Name: "car", Model: "box", BBox: scene.BBox{Length: 2, Width: 2, Height: 2}}},
		Miscs:    []scene.Actor{{ID: 3, TypeID: 2, Name: "cone", Model: "cone", BBox: scene.BBox{Length: 1, Width: 1, Height: 1}}},
	}
	cat := catalog.New(scn, catalog.Options{Resolution: 0.25}, logger)
	world, err := referenceframe.NewWorld(referenceframe.WorldConfig{})
	test.That(t, err, test.ShouldBeNil)
	resolver := visibility.NewResolver(cat, world, visibility.Config{}, logger)

	intrinsics := transform.PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}
	cam, err := sensor.NewPinhole(1, data.SensorCamera, "front", sensor.CameraAttributes{Intrinsics: intrinsics})
	test.That(t, err, test.ShouldBeNil)
	sem, err := sensor.NewPinhole(2, data.SensorSemantic, "front semantic", sensor.CameraAttributes{Intrinsics: intrinsics})
	test.That(t, err, test.ShouldBeNil)
	lidar := sensor.NewLidar(3, "roof", sensor.LidarAttributes{
		RayNum: 32, DownFOV: -25, UpFOV: 15, LeftFOV: -180, RightFOV: 180,
	})
	test.That(t, lidar.Init(), test.ShouldBeNil)

	pool := writeback.NewPool(writeback.Config{Workers: 2}, logger)
	t.Cleanup(pool.Close)
	out := t.TempDir()
	l, err := New(context.Background(), Config{
		OutputDir: out, Scenario: "unit", EgoGroup: "Ego_001", RunID: "run", Debug: debug,
	}, sensor.NewSetFromModels(cam, sem, lidar), resolver, writeback.NewSaver(pool, logger), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l.Root(), test.ShouldEqual, filepath.Join(out, "unit", "Ego_001"))
	return harness{labeler: l, pool: pool, root: l.Root()}
}

func jpegFrame(t *testing.T, sensorID int, ts int64) *data.RawFrame {
	t.Helper()
	var buf bytes.Buffer
	test.That(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 640, 480)), nil), test.ShouldBeNil)
	return &data.RawFrame{
		SensorID: sensorID, Kind: data.SensorCamera, Timestamp: ts,
		Width: 640, Height: 480, Encoding: data.EncodingJPEG, Buffer: buf.Bytes(),
	}
}

func readDoc(t *testing.T, path string) *openlabel.Document {
	t.Helper()
	buf, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	doc, err := openlabel.Unmarshal(buf)
	test.That(t, err, test.ShouldBeNil)
	return doc
}

func boxSnapshot(ts int64) *data.ObjectSnapshot {
	return &data.ObjectSnapshot{Timestamp: ts, Objects: []data.Object{
		{Kind: data.ObjectCar, ID: 5, TypeID: 1, Class: "car", Position: r3.Vector{X: 10}},
	}}
}

func TestLabelImageEndToEnd(t *testing.T) {
	h := newHarness(t, false)
	err := h.labeler.LabelImage(context.Background(), &data.FramePackage{
		Frame: jpegFrame(t, 1, 100), Snapshot: boxSnapshot(100), Seq: 1,
	})
	test.That(t, err, test.ShouldBeNil)
	h.pool.Close()

	_, err = os.Stat(filepath.Join(h.root, "camera", "jpg", "0000000100_1.jpg"))
	test.That(t, err, test.ShouldBeNil)
	_, err = os.Stat(filepath.Join(h.root, "semantic", "mask.json"))
	test.That(t, err, test.ShouldBeNil)

	doc := readDoc(t, filepath.Join(h.root, "camera", "json", "0000000100_1.json"))
	ol := doc.OpenLabel
	test.That(t, ol.Metadata.SchemaVersion, test.ShouldEqual, openlabel.SchemaVersion)
	test.That(t, ol.Metadata.RunID, test.ShouldEqual, "run")
	test.That(t, ol.Streams["camera_1"].URI, test.ShouldEqual, "camera/jpg/0000000100_1.jpg")
	test.That(t, ol.CoordinateSystems["camera_1"].Parent, test.ShouldEqual, openlabel.RootCoordinateSystem)
	test.That(t, len(ol.Objects), test.ShouldEqual, 1)

	obj := ol.Objects["5"]
	test.That(t, obj.Type, test.ShouldEqual, "car")
	test.That(t, len(obj.ObjectData.Poly2D), test.ShouldEqual, 1)
	val := obj.ObjectData.Poly2D[0].Val
	test.That(t, len(val), test.ShouldBeGreaterThanOrEqualTo, 6)
	for i := 0; i < len(val); i += 2 {
		test.That(t, val[i], test.ShouldBeBetweenOrEqual, 0, 640)
		test.That(t, val[i+1], test.ShouldBeBetweenOrEqual, 0, 480)
	}

	st := h.labeler.Stats()
	test.That(t, st.Images, test.ShouldEqual, 1)
	test.That(t, st.Detected, test.ShouldEqual, 1)
	test.That(t, len(st.Ratios), test.ShouldEqual, 1)
	test.That(t, st.Ratios[0], test.ShouldAlmostEqual, 1)
}

func TestLabelImageRejects(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	frame := jpegFrame(t, 1, 100)
	frame.Encoding = data.EncodingPNG
	err := h.labeler.LabelImage(ctx, &data.FramePackage{Frame: frame, Snapshot: boxSnapshot(100)})
	test.That(t, errors.Is(err, ErrMalformedFrame), test.ShouldBeTrue)

	frame = jpegFrame(t, 1, 200)
	frame.Width = 320
	err = h.labeler.LabelImage(ctx, &data.FramePackage{Frame: frame, Snapshot: boxSnapshot(200)})
	test.That(t, errors.Is(err, ErrMalformedFrame), test.ShouldBeTrue)

	err = h.labeler.LabelImage(ctx, &data.FramePackage{Frame: jpegFrame(t, 99, 100), Snapshot: boxSnapshot(100)})
	test.That(t, errors.Is(err, ErrUnknownSensor), test.ShouldBeTrue)
	err = h.labeler.LabelImage(ctx, &data.FramePackage{Frame: jpegFrame(t, 3, 100), Snapshot: boxSnapshot(100)})
	test.That(t, errors.Is(err, ErrUnknownSensor), test.ShouldBeTrue)

	h.pool.Close()
	_, err = os.Stat(filepath.Join(h.root, "camera", "json"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	test.That(t, h.labeler.Stats().Malformed, test.ShouldEqual, 2)
}

func TestLabelImageDebug(t *testing.T) {
	h := newHarness(t, true)
	err := h.labeler.LabelImage(context.Background(), &data.FramePackage{Frame: jpegFrame(t, 1, 100), Snapshot: boxSnapshot(100)})
	test.That(t, err, test.ShouldBeNil)
	h.pool.Close()

	for _, name := range []string{"0000000100_1.geojson", "0000000100_1.png"} {
		info, err := os.Stat(filepath.Join(h.root, "camera", "debug", name))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
	}
}

func TestLabelSweep(t *testing.T) {
	h := newHarness(t, true)
	snapshot := boxSnapshot(50)
	snapshot.Objects = append(snapshot.Objects,
		data.Object{Kind: data.ObjectStatic, ID: 3, TypeID: 2, Class: "cone", Position: r3.Vector{Y: 10}},
		// Not in the catalog.
		data.Object{Kind: data.ObjectDynamic, ID: 4, TypeID: 42, Position: r3.Vector{X: -10}},
	)
	points := []data.LidarPoint{{X: 9, Intensity: 1, Label: 5}, {X: 1, Y: 1, Z: -1}}
	sweep := &data.LidarSweep{
		SensorID: 3, Timestamp: 50, TimestampBegin: 0, TimestampEnd: 100,
		Count: 2, Buffer: pointcloud.EncodeRecords(points),
	}
	err := h.labeler.LabelSweep(context.Background(), &data.SweepPackage{Sweep: sweep, Snapshot: snapshot, Seq: 7})
	test.That(t, err, test.ShouldBeNil)
	h.pool.Close()

	f, err := os.Open(filepath.Join(h.root, "lidar", "pcd", "0000000050_3.pcd"))
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	pts, err := pointcloud.ReadPCD(f)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts, test.ShouldResemble, points)

	doc := readDoc(t, filepath.Join(h.root, "lidar", "json", "0000000050_3.json"))
	test.That(t, doc.OpenLabel.Metadata.Sequence, test.ShouldEqual, uint64(7))
	test.That(t, len(doc.OpenLabel.Objects), test.ShouldEqual, 2)
	car := doc.OpenLabel.Objects["5"].ObjectData.Cuboid
	test.That(t, len(car), test.ShouldEqual, 1)
	want := [9]float64{10, 0, 0, 0, 0, 0, 2, 2, 2}
	for i := range want {
		test.That(t, car[0].Val[i], test.ShouldAlmostEqual, want[i])
	}
	cone := doc.OpenLabel.Objects["10003"].ObjectData.Cuboid
	test.That(t, cone[0].Val[1], test.ShouldAlmostEqual, 10)

	mesh, err := os.ReadFile(filepath.Join(h.root, "lidar", "debug", "0000000050_3.obj"))
	test.That(t, err, test.ShouldBeNil)
	var verts, edges int
	for _, line := range strings.Split(string(mesh), "\n") {
		switch {
		case strings.HasPrefix(line, "v "):
			verts++
		case strings.HasPrefix(line, "l "):
			edges++
		}
	}
	test.That(t, verts, test.ShouldEqual, 16)
	test.That(t, edges, test.ShouldEqual, 24)
}

func TestLabelSweepMalformed(t *testing.T) {
	h := newHarness(t, false)
	sweep := &data.LidarSweep{SensorID: 3, Timestamp: 50, Count: 3, Buffer: make([]byte, 20)}
	err := h.labeler.LabelSweep(context.Background(), &data.SweepPackage{Sweep: sweep, Snapshot: boxSnapshot(50)})
	test.That(t, errors.Is(err, ErrMalformedFrame), test.ShouldBeTrue)
}

func TestRemapID(t *testing.T) {
	test.That(t, RemapID(data.Object{Kind: data.ObjectCar, ID: 12}), test.ShouldEqual, 12)
	test.That(t, RemapID(data.Object{Kind: data.ObjectStatic, ID: 12}), test.ShouldEqual, 10012)
	test.That(t, RemapID(data.Object{Kind: data.ObjectDynamic, ID: 12}), test.ShouldEqual, 19988)
	test.That(t, RemapID(data.Object{Kind: data.ObjectEgo, ID: 2}), test.ShouldEqual, 30002)
	test.That(t, ClassOf(data.Object{Kind: data.ObjectDynamic}), test.ShouldEqual, "dynamic")
}

func TestMaskTable(t *testing.T) {
	v, ok := MaskValue("car")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, 14)
	_, ok = MaskValue("dragon")
	test.That(t, ok, test.ShouldBeFalse)

	buf, err := maskJSON()
	test.That(t, err, test.ShouldBeNil)
	table := map[string]int{}
	test.That(t, json.Unmarshal(buf, &table), test.ShouldBeNil)
	for class, value := range table {
		got, ok := MaskValue(class)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, got, test.ShouldEqual, value)
	}
	test.That(t, table["ego"], test.ShouldEqual, 20)
}

func TestLabelImageFullyOccluded(t *testing.T) {
	h := newHarness(t, false)
	snap := boxSnapshot(200)
	snap.Objects = append(snap.Objects, data.Object{
		Kind: data.ObjectCar, ID: 6, TypeID: 1, Class: "car", Position: r3.Vector{X: 30},
	})
	err := h.labeler.LabelImage(context.Background(), &data.FramePackage{Frame: jpegFrame(t, 1, 200), Snapshot: snap, Seq: 1})
	test.That(t, err, test.ShouldBeNil)
	h.pool.Close()

	doc := readDoc(t, filepath.Join(h.root, "camera", "json", "0000000200_1.json"))
	objects := doc.OpenLabel.Objects
	test.That(t, len(objects), test.ShouldEqual, 2)
	test.That(t, len(objects["5"].ObjectData.Poly2D), test.ShouldEqual, 1)
	hidden, ok := objects["6"]
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, hidden.Type, test.ShouldEqual, "car")
	test.That(t, hidden.ObjectData.Poly2D, test.ShouldBeEmpty)

	st := h.labeler.Stats()
	test.That(t, st.Detected, test.ShouldEqual, 2)
	test.That(t, st.Ratios[1], test.ShouldAlmostEqual, 0)
}

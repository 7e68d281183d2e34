package labeler

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/simlabel/catalog"
	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/openlabel"
	"go.viam.com/simlabel/pointcloud"
	"go.viam.com/simlabel/referenceframe"
	"go.viam.com/simlabel/spatialmath"
)

// cuboid is a detected object in the lidar frame.
type cuboid struct {
	id   int
	pose spatialmath.Pose
	dims r3.Vector
}

// shapeOf returns the box of an object relative to its reported position: the union of its catalog
// part boxes, or its reported dimensions when the catalog does not know it.
func shapeOf(cat *catalog.Catalog, obj data.Object) (r3.Vector, r3.Vector) {
	if center, dims, ok := cat.Extent(catalog.KeyFor(obj)); ok {
		return center, dims
	}
	return r3.Vector{}, obj.Dims
}

// LabelSweep annotates one matched lidar sweep with a cuboid per detected object.
func (l *Labeler) LabelSweep(ctx context.Context, pkg *data.SweepPackage) error {
	ctx, span := trace.StartSpan(ctx, "labeler::LabelSweep")
	defer span.End()

	sweep := pkg.Sweep
	model, ok := l.sensors.Get(sweep.SensorID)
	if !ok || model.Kind() != data.SensorLidar {
		return errors.Wrapf(ErrUnknownSensor, "lidar %d", sweep.SensorID)
	}
	pts, err := pointcloud.DecodeSweep(sweep)
	if err != nil {
		return l.malformed(errors.Wrapf(err, "lidar %d at %d", sweep.SensorID, sweep.Timestamp))
	}

	results, err := l.resolver.Resolve(ctx, model, sweep.Pose, pkg.Snapshot)
	if err != nil {
		return err
	}
	l.record(false, results)

	p := l.pathsFor(data.SensorLidar, sweep.Timestamp, sweep.SensorID, "pcd")
	name := sensorName(data.SensorLidar, sweep.SensorID)
	doc := openlabel.New(l.cfg.Scenario, l.cfg.RunID, sweep.Timestamp, pkg.Seq)
	doc.AddSensor(name, openlabel.Stream{
		Type:        string(data.SensorLidar),
		Description: model.Description(),
		URI:         p.payloadRel,
	}, sweep.Pose)

	world := l.resolver.World()
	frame := referenceframe.NewSensorFrame(world, sweep.Pose)
	var (
		cuboids  []cuboid
		outlines []outline
	)
	for i := range results {
		res := &results[i]
		if !res.Detected {
			continue
		}
		obj := pkg.Snapshot.Objects[res.Slot]
		id, class := RemapID(obj), ClassOf(obj)
		center, dims := shapeOf(l.resolver.Catalog(), obj)
		objPose := spatialmath.NewPose(world.ToLocal(obj.Position), obj.Orientation)
		inSensor := frame.PoseInSensor(spatialmath.Compose(objPose, spatialmath.NewPoseFromPoint(center)))
		doc.AddCuboid(id, class, name, inSensor, [3]float64{dims.X, dims.Y, dims.Z})
		cuboids = append(cuboids, cuboid{id: id, pose: inSensor, dims: dims})
		outlines = append(outlines, outline{
			id: id, class: class, polygons: res.Final.Polygons(), area: res.Area, area0: res.Area0,
		})
	}

	sidecar, err := doc.Marshal()
	if err != nil {
		return err
	}
	if err := l.save(ctx, p.payload, pointcloud.MarshalPCD(pts)); err != nil {
		return err
	}
	if err := l.save(ctx, p.sidecar, sidecar); err != nil {
		return err
	}
	if l.cfg.Debug {
		l.saveSweepDebug(ctx, p, outlines, cuboids)
	}
	l.logger.Debugw("sweep labeled", "sensor", sweep.SensorID, "timestamp", sweep.Timestamp,
		"points", len(pts), "candidates", len(results), "detected", len(cuboids))
	return nil
}

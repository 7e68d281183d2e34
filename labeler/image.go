package labeler

import (
	"bytes"
	"context"
	"image"
	// Register decoders for DecodeConfig.
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/openlabel"
)

// validateImage checks that the payload decodes as the declared encoding and size.
func validateImage(frame *data.RawFrame) (string, error) {
	var ext, format string
	switch frame.Encoding {
	case data.EncodingJPEG:
		ext, format = "jpg", "jpeg"
	case data.EncodingPNG:
		ext, format = "png", "png"
	default:
		return "", errors.Errorf("unsupported encoding %q", frame.Encoding)
	}
	cfg, got, err := image.DecodeConfig(bytes.NewReader(frame.Buffer))
	if err != nil {
		return "", errors.Wrap(err, "decoding image header")
	}
	if !strings.EqualFold(got, format) {
		return "", errors.Errorf("payload is %s, declared %s", got, frame.Encoding)
	}
	if (frame.Width > 0 && cfg.Width != frame.Width) || (frame.Height > 0 && cfg.Height != frame.Height) {
		return "", errors.Errorf("payload is %dx%d, declared %dx%d", cfg.Width, cfg.Height, frame.Width, frame.Height)
	}
	return ext, nil
}

// LabelImage annotates one matched camera, semantic or fisheye frame.
func (l *Labeler) LabelImage(ctx context.Context, pkg *data.FramePackage) error {
	ctx, span := trace.StartSpan(ctx, "labeler::LabelImage")
	defer span.End()

	frame := pkg.Frame
	model, ok := l.sensors.Get(frame.SensorID)
	if !ok || !model.Kind().IsImage() {
		return errors.Wrapf(ErrUnknownSensor, "image sensor %d", frame.SensorID)
	}
	ext, err := validateImage(frame)
	if err != nil {
		return l.malformed(errors.Wrapf(err, "sensor %d at %d", frame.SensorID, frame.Timestamp))
	}

	results, err := l.resolver.Resolve(ctx, model, frame.Pose, pkg.Snapshot)
	if err != nil {
		return err
	}
	l.record(true, results)

	p := l.pathsFor(model.Kind(), frame.Timestamp, frame.SensorID, ext)
	name := sensorName(model.Kind(), frame.SensorID)
	doc := openlabel.New(l.cfg.Scenario, l.cfg.RunID, frame.Timestamp, pkg.Seq)
	doc.AddSensor(name, openlabel.Stream{
		Type:        string(model.Kind()),
		Description: model.Description(),
		URI:         p.payloadRel,
	}, frame.Pose)

	var outlines []outline
	for i := range results {
		res := &results[i]
		if !res.Detected {
			continue
		}
		obj := pkg.Snapshot.Objects[res.Slot]
		id, class := RemapID(obj), ClassOf(obj)
		polygons := res.Final.Polygons()
		doc.AddPoly2D(id, class, name, polygons)
		outlines = append(outlines, outline{id: id, class: class, polygons: polygons, area: res.Area, area0: res.Area0})
	}

	sidecar, err := doc.Marshal()
	if err != nil {
		return err
	}
	if err := l.save(ctx, p.payload, frame.Buffer); err != nil {
		return err
	}
	if err := l.save(ctx, p.sidecar, sidecar); err != nil {
		return err
	}
	if l.cfg.Debug {
		l.saveImageDebug(ctx, p, frame, outlines)
	}
	l.logger.Debugw("image labeled", "sensor", frame.SensorID, "timestamp", frame.Timestamp,
		"candidates", len(results), "detected", len(outlines))
	return nil
}

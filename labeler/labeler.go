// Package labeler turns matched frames and sweeps into annotation files. For every frame it
// resolves visibility, builds an OpenLabel document and hands the raw payload and the document to
// the write-back saver.
package labeler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/data/writeback"
	"go.viam.com/simlabel/logging"
	"go.viam.com/simlabel/sensor"
	"go.viam.com/simlabel/utils"
	"go.viam.com/simlabel/vision/visibility"
)

var (
	// ErrUnknownSensor is returned for frames from a sensor outside the session's set.
	ErrUnknownSensor = errors.New("unknown sensor")
	// ErrMalformedFrame is returned for frames whose payload cannot be used.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Id offsets keeping the object kinds apart in one id space.
const (
	staticIDOffset  = 10000
	dynamicIDOffset = 20000
	egoIDOffset     = 30000
)

// DefaultEgoGroup names the output directory when no ego group is configured.
const DefaultEgoGroup = "default"

// Config places the output of one session.
type Config struct {
	OutputDir string
	Scenario  string
	EgoGroup  string
	// RunID is written into every document's metadata.
	RunID string
	// Debug also writes GeoJSON outlines, overlay images and cuboid meshes.
	Debug bool
}

// Stats are the labeler's running totals.
type Stats struct {
	Images    int
	Sweeps    int
	Malformed int
	Objects   int
	Detected  int
	// Ratios holds Area/Area0 of every detected object.
	Ratios []float64
}

// Labeler writes annotations for one scenario and ego group.
type Labeler struct {
	cfg      Config
	root     string
	sensors  *sensor.Set
	resolver *visibility.Resolver
	saver    *writeback.Saver
	logger   logging.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates the labeler and, when a semantic camera is configured, schedules the mask table.
func New(
	ctx context.Context,
	cfg Config,
	sensors *sensor.Set,
	resolver *visibility.Resolver,
	saver *writeback.Saver,
	logger logging.Logger,
) (*Labeler, error) {
	scenarioDir, err := utils.SafeJoinDir(cfg.OutputDir, cfg.Scenario)
	if err != nil {
		return nil, err
	}
	if cfg.EgoGroup == "" {
		cfg.EgoGroup = DefaultEgoGroup
	}
	root, err := utils.SafeJoinDir(scenarioDir, cfg.EgoGroup)
	if err != nil {
		return nil, err
	}
	l := &Labeler{
		cfg:      cfg,
		root:     root,
		sensors:  sensors,
		resolver: resolver,
		saver:    saver,
		logger:   logger,
	}
	if sensors.HasKind(data.SensorSemantic) {
		buf, err := maskJSON()
		if err != nil {
			return nil, err
		}
		if _, err := saver.Save(ctx, filepath.Join(root, string(data.SensorSemantic), "mask.json"), buf); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Root returns the output directory of the scenario and ego group.
func (l *Labeler) Root() string {
	return l.root
}

// Stats returns a copy of the totals.
func (l *Labeler) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stats
	st.Ratios = append([]float64(nil), l.stats.Ratios...)
	return st
}

func (l *Labeler) record(image bool, results []visibility.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if image {
		l.stats.Images++
	} else {
		l.stats.Sweeps++
	}
	l.stats.Objects += len(results)
	for i := range results {
		if results[i].Detected {
			l.stats.Detected++
			l.stats.Ratios = append(l.stats.Ratios, results[i].Ratio())
		}
	}
}

func (l *Labeler) malformed(err error) error {
	l.mu.Lock()
	l.stats.Malformed++
	l.mu.Unlock()
	return errors.Wrap(ErrMalformedFrame, err.Error())
}

// RemapID maps an object id into the shared annotation id space.
func RemapID(obj data.Object) int {
	switch obj.Kind {
	case data.ObjectStatic:
		return obj.ID + staticIDOffset
	case data.ObjectDynamic:
		return dynamicIDOffset - obj.ID
	case data.ObjectEgo:
		return egoIDOffset + obj.ID
	default:
		return obj.ID
	}
}

// ClassOf returns the object's class, falling back to its kind.
func ClassOf(obj data.Object) string {
	if obj.Class != "" {
		return obj.Class
	}
	return obj.Kind.String()
}

func fileStem(ts int64, sensorID int) string {
	return fmt.Sprintf("%010d_%d", ts, sensorID)
}

func sensorName(kind data.SensorKind, id int) string {
	return fmt.Sprintf("%s_%d", kind, id)
}

// paths are the outputs of one frame, relative to and joined with the root.
type paths struct {
	payloadRel string
	payload    string
	sidecar    string
	debugStem  string
}

func (l *Labeler) pathsFor(kind data.SensorKind, ts int64, sensorID int, ext string) paths {
	stem := fileStem(ts, sensorID)
	rel := filepath.Join(string(kind), ext, stem+"."+ext)
	return paths{
		payloadRel: filepath.ToSlash(rel),
		payload:    filepath.Join(l.root, rel),
		sidecar:    filepath.Join(l.root, string(kind), "json", stem+".json"),
		debugStem:  filepath.Join(l.root, string(kind), "debug", stem),
	}
}

// save schedules a write. Failures of the write itself are logged by the pool.
func (l *Labeler) save(ctx context.Context, path string, buf []byte) error {
	if _, err := l.saver.Save(ctx, path, buf); err != nil {
		return errors.Wrapf(err, "saving %s", path)
	}
	return nil
}

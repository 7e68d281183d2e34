// Package session wires the catalog, sensors, queue, write-back pool and labeler of one scenario
// run together.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"go.viam.com/simlabel/catalog"
	"go.viam.com/simlabel/config"
	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/data/writeback"
	"go.viam.com/simlabel/labeler"
	"go.viam.com/simlabel/logging"
	"go.viam.com/simlabel/referenceframe"
	"go.viam.com/simlabel/scene"
	"go.viam.com/simlabel/sensor"
	"go.viam.com/simlabel/vision/visibility"
)

// A Session labels the frames of one scenario and ego group. The simulation step loop calls the
// Add methods followed by Update; labeling and writing happen on background goroutines.
type Session struct {
	id     uuid.UUID
	logger logging.Logger

	sensors *sensor.Set
	pool    *writeback.Pool
	saver   *writeback.Saver
	labeler *labeler.Labeler
	queue   *data.Queue

	// warnings throttles per-frame warnings once a sensor starts failing every frame.
	warnings *rate.Sometimes

	closeOnce sync.Once
	closeErr  error
}

// New makes a new session with a random run id.
func New(ctx context.Context, cfg *config.Config, scn *scene.Scene, logger logging.Logger) (*Session, error) {
	return NewWithID(ctx, uuid.New(), cfg, scn, logger)
}

// NewWithID makes a new session with the given run id.
func NewWithID(
	ctx context.Context,
	id uuid.UUID,
	cfg *config.Config,
	scn *scene.Scene,
	logger logging.Logger,
) (*Session, error) {
	logger = logger.With("run", id.String())
	world, err := referenceframe.NewWorld(cfg.World)
	if err != nil {
		return nil, err
	}
	cat := catalog.New(scn, catalog.Options{Resolution: cfg.Catalog.Resolution}, logger.Sublogger("catalog"))
	if cfg.ModelDir != "" {
		loaded := cat.LoadContours(cfg.ModelDir)
		logger.Infow("contours loaded", "dir", cfg.ModelDir, "parts", loaded)
	}
	sensors := sensor.NewSet(cfg.Sensors, logger.Sublogger("sensor"))
	if sensors.Len() == 0 {
		logger.Warnw("no usable sensors configured", "configured", len(cfg.Sensors))
	}

	vis := cfg.Visibility
	resolver := visibility.NewResolver(cat, world, visibility.Config{
		MaxDistance:        vis.MaxDistance,
		MinArea:            vis.MinArea,
		Completeness:       vis.Completeness,
		MinVisibleFraction: vis.MinVisibleFraction,
		FullBox:            vis.FullBox,
		Parallelism:        vis.Parallelism,
		EgoGroup:           cfg.EgoGroup,
	}, logger.Sublogger("visibility"))

	pool := writeback.NewPool(writeback.Config{
		Workers:      cfg.WriteBack.Workers,
		MaxTasks:     cfg.WriteBack.MaxTasks,
		PollInterval: cfg.WriteBack.PollIntervalDuration(),
	}, logger.Sublogger("writeback"))
	saver := writeback.NewSaver(pool, logger.Sublogger("writeback"))

	lab, err := labeler.New(ctx, labeler.Config{
		OutputDir: cfg.OutputDir,
		Scenario:  cfg.Scenario,
		EgoGroup:  cfg.EgoGroup,
		RunID:     id.String(),
		Debug:     cfg.Debug,
	}, sensors, resolver, saver, logger.Sublogger("labeler"))
	if err != nil {
		pool.Close()
		return nil, err
	}

	s := &Session{
		id:      id,
		logger:  logger,
		sensors: sensors,
		pool:    pool,
		saver:   saver,
		labeler: lab,
		// The first warnings always log, then at most one per interval.
		warnings: &rate.Sometimes{First: warnBurst, Interval: warnInterval},
	}
	s.queue = data.NewQueue(data.QueueConfig{
		MaxSnapshots:     cfg.Queue.MaxSnapshots,
		MaxPendingFrames: cfg.Queue.MaxPendingFrames,
		HoldUnmatched:    cfg.Queue.HoldUnmatched,
	}, s.onImage, s.onSweep, logger.Sublogger("queue"))

	logger.Infow("session started", "scenario", cfg.Scenario, "ego", cfg.EgoGroup,
		"classes", cat.Len(), "sensors", sensors.IDs(), "output", lab.Root())
	return s, nil
}

// ID returns the run id written into every annotation.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Root returns the output directory of the session.
func (s *Session) Root() string {
	return s.labeler.Root()
}

// Sensors returns the sensors that initialized.
func (s *Session) Sensors() *sensor.Set {
	return s.sensors
}

// AddCamera queues a pinhole camera frame.
func (s *Session) AddCamera(frame *data.RawFrame) {
	s.queue.AddCamera(frame)
}

// AddSemantic queues a semantic camera frame.
func (s *Session) AddSemantic(frame *data.RawFrame) {
	s.queue.AddSemantic(frame)
}

// AddFisheye queues a fisheye camera frame.
func (s *Session) AddFisheye(frame *data.RawFrame) {
	s.queue.AddFisheye(frame)
}

// AddLidar queues a lidar sweep.
func (s *Session) AddLidar(sweep *data.LidarSweep) {
	s.queue.AddLidar(sweep)
}

// AddObjects merges the display channels of one tick into a snapshot and queues it.
func (s *Session) AddObjects(ts int64, channels ...[]data.Object) {
	s.queue.AddObject(data.MergeSnapshots(ts, channels...))
}

// Update wakes the matching worker. It never blocks.
func (s *Session) Update() {
	s.queue.Update()
}

// Flush runs one matching cycle and waits for it.
func (s *Session) Flush(ctx context.Context) error {
	return s.queue.Flush(ctx)
}

func (s *Session) onImage(ctx context.Context, pkg *data.FramePackage) {
	s.report(pkg.Frame.SensorID, pkg.Frame.Timestamp, s.labeler.LabelImage(ctx, pkg))
}

func (s *Session) onSweep(ctx context.Context, pkg *data.SweepPackage) {
	s.report(pkg.Sweep.SensorID, pkg.Sweep.Timestamp, s.labeler.LabelSweep(ctx, pkg))
}

const (
	warnBurst    = 20
	warnInterval = 5 * time.Second
)

// report logs a per-frame failure. None of them stop the session.
func (s *Session) report(sensorID int, ts int64, err error) {
	switch {
	case err == nil:
	case errors.Is(err, labeler.ErrUnknownSensor):
		s.logger.Debugw("frame from unconfigured sensor", "sensor", sensorID, "timestamp", ts)
	case errors.Is(err, labeler.ErrMalformedFrame):
		s.warnings.Do(func() {
			s.logger.Warnw("dropping malformed frame", "sensor", sensorID, "timestamp", ts, "error", err)
		})
	case errors.Is(err, writeback.ErrPoolClosed):
		s.logger.Debugw("frame labeled after shutdown", "sensor", sensorID, "timestamp", ts)
	default:
		s.warnings.Do(func() {
			s.logger.Warnw("labeling failed", "sensor", sensorID, "timestamp", ts, "error", err)
		})
	}
}

// Close runs a last matching cycle, stops the worker and drains the write-back pool. Frames still
// waiting for a snapshot are dropped. It returns an error when writes failed.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs error
		if err := s.queue.Flush(ctx); err != nil && !errors.Is(err, data.ErrQueueClosed) {
			errs = multierr.Append(errs, errors.Wrap(err, "final flush"))
		}
		s.queue.Close()
		s.pool.Close()
		if failed := s.pool.Stats().Failed; failed > 0 {
			errs = multierr.Append(errs, errors.Errorf("%d writes failed", failed))
		}
		s.saver.LogStats()
		sum := s.Summary()
		s.logger.Infow("session closed",
			"images", sum.Labels.Images, "sweeps", sum.Labels.Sweeps,
			"dropped", sum.Queue.ImagesDropped+sum.Queue.SweepsDropped,
			"detected", sum.Labels.Detected, "ratio_mean", sum.RatioMean)
		s.closeErr = errs
	})
	return s.closeErr
}

// Summary is a snapshot of the session's counters.
type Summary struct {
	RunID   string
	Queue   data.QueueStats
	Labels  labeler.Stats
	Pool    writeback.PoolStats
	Written writeback.SaverStats
	// RatioMean and RatioMedian summarize Area/Area0 over detected objects; zero when none.
	RatioMean   float64
	RatioMedian float64
}

// Summary returns the current counters.
func (s *Session) Summary() Summary {
	sum := Summary{
		RunID:   s.id.String(),
		Queue:   s.queue.Stats(),
		Labels:  s.labeler.Stats(),
		Pool:    s.pool.Stats(),
		Written: s.saver.Stats(),
	}
	if ratios := stats.Float64Data(sum.Labels.Ratios); ratios.Len() > 0 {
		// Errors only come back for empty input.
		sum.RatioMean, _ = ratios.Mean()
		sum.RatioMedian, _ = ratios.Median()
	}
	return sum
}

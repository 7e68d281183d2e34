package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/simlabel/config"
	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/logging"
	"go.viam.com/simlabel/scene"
	"go.viam.com/simlabel/session"
)

const (
	defaultProgressInterval = 10 * time.Second
	maxTickLineBytes        = 64 << 20
)

// tick is one line of a replay manifest: everything the simulation produced in one step.
// Payloads live in files relative to the manifest.
type tick struct {
	Timestamp int64           `json:"timestamp"`
	Objects   [][]data.Object `json:"objects"`
	Images    []imageRef      `json:"images"`
	Sweeps    []sweepRef      `json:"sweeps"`
}

type imageRef struct {
	data.RawFrame
	File string `json:"file"`
}

type sweepRef struct {
	data.LidarSweep
	// File holds flat point records; empty when Points are inline.
	File string `json:"file,omitempty"`
}

// replayer feeds manifest ticks into a session the way the simulation step loop does.
type replayer struct {
	sess   *session.Session
	base   string
	sync   bool
	logger logging.Logger

	ticks   int
	skipped int
}

func (r *replayer) run(ctx context.Context, manifest io.Reader) error {
	scanner := bufio.NewScanner(manifest)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTickLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var t tick
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			return errors.Wrapf(err, "manifest line %d", line)
		}
		if err := r.step(ctx, &t); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "reading manifest")
}

func (r *replayer) step(ctx context.Context, t *tick) error {
	r.ticks++
	for i := range t.Images {
		ref := &t.Images[i]
		buf, err := r.payload(ref.File)
		if err != nil {
			r.skip("image", ref.SensorID, ref.Timestamp, err)
			continue
		}
		frame := ref.RawFrame
		frame.Buffer = buf
		switch frame.Kind {
		case data.SensorSemantic:
			r.sess.AddSemantic(&frame)
		case data.SensorFisheye:
			r.sess.AddFisheye(&frame)
		default:
			r.sess.AddCamera(&frame)
		}
	}
	for i := range t.Sweeps {
		ref := &t.Sweeps[i]
		sweep := ref.LidarSweep
		if ref.File != "" {
			buf, err := r.payload(ref.File)
			if err != nil {
				r.skip("sweep", ref.SensorID, ref.Timestamp, err)
				continue
			}
			sweep.Buffer = buf
		}
		r.sess.AddLidar(&sweep)
	}
	r.sess.AddObjects(t.Timestamp, t.Objects...)
	if r.sync {
		return r.sess.Flush(ctx)
	}
	r.sess.Update()
	return nil
}

func (r *replayer) payload(file string) ([]byte, error) {
	if file == "" {
		return nil, errors.New("no payload file")
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(r.base, file)
	}
	//nolint:gosec
	return os.ReadFile(file)
}

func (r *replayer) skip(what string, sensorID int, ts int64, err error) {
	r.skipped++
	r.logger.Warnw("skipping "+what, "sensor", sensorID, "timestamp", ts, "error", err)
}

// ReplayCommand replays a tick manifest through a session and prints its summary.
func ReplayCommand(c *cli.Context) (err error) {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return err
	}
	if out := c.String(flagOutput); out != "" {
		cfg.OutputDir = out
	}
	logger, logCloser, err := newLogger(c, cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, logCloser.Close())
	}()

	scn, err := scene.Read(c.String(flagScene))
	if err != nil {
		return err
	}
	//nolint:gosec
	manifest, err := os.Open(c.String(flagTicks))
	if err != nil {
		return errors.Wrap(err, "opening tick manifest")
	}
	defer func() {
		err = multierr.Combine(err, manifest.Close())
	}()

	sess, err := session.New(c.Context, cfg, scn, logger)
	if err != nil {
		return err
	}
	r := &replayer{
		sess:   sess,
		base:   filepath.Dir(c.String(flagTicks)),
		sync:   c.Bool(flagSync),
		logger: logger.Sublogger("replay"),
	}

	stopProgress, err := startProgress(c.Duration(flagProgress), r, logger)
	if err != nil {
		return multierr.Combine(err, sess.Close(c.Context))
	}
	start := time.Now()
	runErr := r.run(c.Context, manifest)
	// Shutdown is the only cancellation, so the session always drains.
	closeErr := sess.Close(context.WithoutCancel(c.Context))
	stopProgress()

	printSummary(c.App.Writer, sess.Summary(), r.ticks, r.skipped, time.Since(start))
	return multierr.Combine(runErr, closeErr)
}

// startProgress logs the session counters at a fixed interval until the returned func is called.
func startProgress(interval time.Duration, r *replayer, logger logging.Logger) (func(), error) {
	if interval <= 0 {
		return func() {}, nil
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			sum := r.sess.Summary()
			logger.Infow("progress",
				"images", sum.Labels.Images, "sweeps", sum.Labels.Sweeps,
				"pending", sum.Queue.Pending, "queued_writes", sum.Pool.Queued,
				"written", sum.Written.HumanBytes())
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, multierr.Combine(err, scheduler.Shutdown())
	}
	scheduler.Start()
	return func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Debugw("stopping progress scheduler", "error", err)
		}
	}, nil
}

package data

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"

	"go.viam.com/simlabel/logging"
	"go.viam.com/simlabel/utils"
)

// Queue defaults.
const (
	DefaultMaxSnapshots     = 200
	DefaultMaxPendingFrames = 16
)

// ErrQueueClosed is returned by Flush after Close.
var ErrQueueClosed = errors.New("queue closed")

// QueueConfig bounds the queue's buffers.
type QueueConfig struct {
	// MaxSnapshots is the high-water mark of buffered snapshots. Once exceeded the oldest are
	// evicted until half remain.
	MaxSnapshots int
	// HoldUnmatched keeps frames newer than the newest snapshot for later cycles instead of
	// dropping them. Producers that may call Update before the matching AddObject need it.
	HoldUnmatched bool
	// MaxPendingFrames caps, per sensor, the frames held while waiting for a snapshot.
	MaxPendingFrames int
}

// ImageCallback receives every matched image frame.
type ImageCallback func(ctx context.Context, pkg *FramePackage)

// SweepCallback receives every matched lidar sweep.
type SweepCallback func(ctx context.Context, pkg *SweepPackage)

// QueueStats are the queue's running counters.
type QueueStats struct {
	ImagesReceived   uint64
	ImagesDispatched uint64
	ImagesDropped    uint64
	SweepsReceived   uint64
	SweepsDispatched uint64
	SweepsDropped    uint64
	Snapshots        int
	Pending          int
}

// Queue pairs frames and sweeps with the object snapshot of their timestamp. Producers add items
// and call Update; a single worker goroutine matches them and invokes the callbacks outside the
// lock.
type Queue struct {
	cfg     QueueConfig
	onImage ImageCallback
	onSweep SweepCallback
	logger  logging.Logger

	mu        sync.Mutex
	images    map[int]map[int64]*RawFrame
	sweeps    map[int]map[int64]*LidarSweep
	snapshots map[int64]*ObjectSnapshot

	wake    chan struct{}
	flush   chan chan struct{}
	workers *utils.StoppableWorkers

	imageSeq atomic.Uint64
	sweepSeq atomic.Uint64

	imagesReceived, imagesDispatched, imagesDropped atomic.Uint64
	sweepsReceived, sweepsDispatched, sweepsDropped atomic.Uint64
}

// NewQueue starts a queue worker. Either callback may be nil, in which case matched items of that
// modality are discarded.
func NewQueue(cfg QueueConfig, onImage ImageCallback, onSweep SweepCallback, logger logging.Logger) *Queue {
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = DefaultMaxSnapshots
	}
	if cfg.MaxPendingFrames <= 0 {
		cfg.MaxPendingFrames = DefaultMaxPendingFrames
	}
	q := &Queue{
		cfg:       cfg,
		onImage:   onImage,
		onSweep:   onSweep,
		logger:    logger,
		images:    map[int]map[int64]*RawFrame{},
		sweeps:    map[int]map[int64]*LidarSweep{},
		snapshots: map[int64]*ObjectSnapshot{},
		wake:      make(chan struct{}, 1),
		flush:     make(chan chan struct{}),
	}
	q.workers = utils.NewStoppableWorkers(q.run)
	return q
}

// AddCamera buffers a camera frame.
func (q *Queue) AddCamera(frame *RawFrame) {
	q.addImage(SensorCamera, frame)
}

// AddSemantic buffers a semantic camera frame.
func (q *Queue) AddSemantic(frame *RawFrame) {
	q.addImage(SensorSemantic, frame)
}

// AddFisheye buffers a fisheye camera frame.
func (q *Queue) AddFisheye(frame *RawFrame) {
	q.addImage(SensorFisheye, frame)
}

func (q *Queue) addImage(kind SensorKind, frame *RawFrame) {
	if frame == nil {
		return
	}
	frame.Kind = kind
	q.imagesReceived.Inc()
	q.mu.Lock()
	defer q.mu.Unlock()
	byTS, ok := q.images[frame.SensorID]
	if !ok {
		byTS = map[int64]*RawFrame{}
		q.images[frame.SensorID] = byTS
	}
	byTS[frame.Timestamp] = frame
}

// AddLidar buffers a lidar sweep.
func (q *Queue) AddLidar(sweep *LidarSweep) {
	if sweep == nil {
		return
	}
	q.sweepsReceived.Inc()
	q.mu.Lock()
	defer q.mu.Unlock()
	byTS, ok := q.sweeps[sweep.SensorID]
	if !ok {
		byTS = map[int64]*LidarSweep{}
		q.sweeps[sweep.SensorID] = byTS
	}
	byTS[sweep.Timestamp] = sweep
}

// AddObject buffers a snapshot, replacing any snapshot with the same timestamp.
func (q *Queue) AddObject(snapshot *ObjectSnapshot) {
	if snapshot == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.snapshots[snapshot.Timestamp] = snapshot
}

// Update wakes the worker without blocking. Wakes coalesce.
func (q *Queue) Update() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Flush runs one matching cycle on the worker and waits for its callbacks to return.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case q.flush <- done:
	case <-q.workers.Context().Done():
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker and waits for an in-flight cycle to finish.
func (q *Queue) Close() {
	q.workers.Stop()
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	snapshots := len(q.snapshots)
	pending := 0
	for _, byTS := range q.images {
		pending += len(byTS)
	}
	for _, byTS := range q.sweeps {
		pending += len(byTS)
	}
	q.mu.Unlock()
	return QueueStats{
		ImagesReceived:   q.imagesReceived.Load(),
		ImagesDispatched: q.imagesDispatched.Load(),
		ImagesDropped:    q.imagesDropped.Load(),
		SweepsReceived:   q.sweepsReceived.Load(),
		SweepsDispatched: q.sweepsDispatched.Load(),
		SweepsDropped:    q.sweepsDropped.Load(),
		Snapshots:        snapshots,
		Pending:          pending,
	}
}

func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
			q.cycle(ctx)
		case done := <-q.flush:
			q.cycle(ctx)
			close(done)
		}
	}
}

// cycle drains everything matchable under the lock, then dispatches outside it. Packages left
// undispatched by a cancellation count as dropped.
func (q *Queue) cycle(ctx context.Context) {
	images, sweeps := q.drain()
	for i, pkg := range images {
		if ctx.Err() != nil {
			q.imagesDropped.Add(uint64(len(images) - i))
			q.sweepsDropped.Add(uint64(len(sweeps)))
			return
		}
		pkg.Seq = q.imageSeq.Inc()
		q.imagesDispatched.Inc()
		if q.onImage != nil {
			q.onImage(ctx, pkg)
		}
	}
	for i, pkg := range sweeps {
		if ctx.Err() != nil {
			q.sweepsDropped.Add(uint64(len(sweeps) - i))
			return
		}
		pkg.Seq = q.sweepSeq.Inc()
		q.sweepsDispatched.Inc()
		if q.onSweep != nil {
			q.onSweep(ctx, pkg)
		}
	}
}

func (q *Queue) drain() ([]*FramePackage, []*SweepPackage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.prune()
	stamps := lo.Keys(q.snapshots)
	slices.Sort(stamps)
	var newest int64
	if len(stamps) > 0 {
		newest = stamps[len(stamps)-1]
	}

	var images []*FramePackage
	for _, id := range sortedKeys(q.images) {
		byTS := q.images[id]
		for _, ts := range sortedKeys(byTS) {
			frame := byTS[ts]
			if snap, ok := q.snapshots[ts]; ok {
				images = append(images, &FramePackage{Frame: frame, Snapshot: snap})
				delete(byTS, ts)
				continue
			}
			if q.cfg.HoldUnmatched && (len(stamps) == 0 || ts > newest) {
				continue
			}
			q.imagesDropped.Inc()
			q.logger.Debugw("no snapshot for image", "sensor", id, "timestamp", ts)
			delete(byTS, ts)
		}
		q.imagesDropped.Add(uint64(capPending(byTS, q.cfg.MaxPendingFrames)))
		if len(byTS) == 0 {
			delete(q.images, id)
		}
	}

	var sweeps []*SweepPackage
	for _, id := range sortedKeys(q.sweeps) {
		byTS := q.sweeps[id]
		for _, ts := range sortedKeys(byTS) {
			sweep := byTS[ts]
			if snap := q.matchSweep(sweep, stamps); snap != nil {
				sweeps = append(sweeps, &SweepPackage{Sweep: sweep, Snapshot: snap})
				delete(byTS, ts)
				continue
			}
			if q.cfg.HoldUnmatched && (len(stamps) == 0 || sweep.TimestampEnd > newest) {
				continue
			}
			q.sweepsDropped.Inc()
			q.logger.Debugw("no snapshot for sweep", "sensor", id, "timestamp", ts,
				"begin", sweep.TimestampBegin, "end", sweep.TimestampEnd)
			delete(byTS, ts)
		}
		q.sweepsDropped.Add(uint64(capPending(byTS, q.cfg.MaxPendingFrames)))
		if len(byTS) == 0 {
			delete(q.sweeps, id)
		}
	}
	return images, sweeps
}

// matchSweep picks the exact snapshot, else the first one at or after the sweep timestamp, else
// the last one before it. The candidate must lie inside the sweep window.
func (q *Queue) matchSweep(sweep *LidarSweep, stamps []int64) *ObjectSnapshot {
	if snap, ok := q.snapshots[sweep.Timestamp]; ok {
		return snap
	}
	idx, _ := slices.BinarySearch(stamps, sweep.Timestamp)
	if idx < len(stamps) && sweep.InWindow(stamps[idx]) {
		return q.snapshots[stamps[idx]]
	}
	if idx > 0 && sweep.InWindow(stamps[idx-1]) {
		return q.snapshots[stamps[idx-1]]
	}
	return nil
}

// prune evicts the oldest snapshots once the high-water mark is exceeded.
func (q *Queue) prune() {
	if len(q.snapshots) <= q.cfg.MaxSnapshots {
		return
	}
	stamps := lo.Keys(q.snapshots)
	slices.Sort(stamps)
	keep := q.cfg.MaxSnapshots / 2
	for _, ts := range stamps[:len(stamps)-keep] {
		delete(q.snapshots, ts)
	}
	q.logger.Debugw("snapshots pruned", "evicted", len(stamps)-keep, "kept", keep)
}

// capPending drops the oldest held items beyond limit and returns how many were dropped.
func capPending[T any](byTS map[int64]T, limit int) int {
	if len(byTS) <= limit {
		return 0
	}
	stamps := sortedKeys(byTS)
	dropped := len(stamps) - limit
	for _, ts := range stamps[:dropped] {
		delete(byTS, ts)
	}
	return dropped
}

func sortedKeys[K int | int64, V any](m map[K]V) []K {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

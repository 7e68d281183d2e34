package writeback

import (
	"context"
	"sync"

	"github.com/docker/go-units"
	"go.uber.org/atomic"

	"go.viam.com/simlabel/logging"
	"go.viam.com/simlabel/utils"
)

// Saver writes files through a pool, at most once per path.
type Saver struct {
	pool   *Pool
	logger logging.Logger

	mu    sync.Mutex
	saved map[string]struct{}

	files atomic.Uint64
	bytes atomic.Uint64
}

// NewSaver returns a saver backed by pool.
func NewSaver(pool *Pool, logger logging.Logger) *Saver {
	return &Saver{pool: pool, logger: logger, saved: map[string]struct{}{}}
}

// Save schedules an atomic write of buf to path. A path already saved, or being saved, yields a
// completed future and is not rewritten. A failed write releases the path.
func (s *Saver) Save(ctx context.Context, path string, buf []byte) (*Future, error) {
	s.mu.Lock()
	if _, ok := s.saved[path]; ok {
		s.mu.Unlock()
		return completedFuture(), nil
	}
	s.saved[path] = struct{}{}
	s.mu.Unlock()

	future, err := s.pool.Enqueue(ctx, func(context.Context) error {
		if err := utils.WriteFileAtomic(path, buf); err != nil {
			s.release(path)
			return err
		}
		s.files.Inc()
		s.bytes.Add(uint64(len(buf)))
		return nil
	})
	if err != nil {
		s.release(path)
		return nil, err
	}
	return future, nil
}

func (s *Saver) release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, path)
}

// SaverStats are the totals written so far.
type SaverStats struct {
	Files uint64
	Bytes uint64
}

// HumanBytes formats Bytes like "1.5MB".
func (st SaverStats) HumanBytes() string {
	return units.HumanSize(float64(st.Bytes))
}

// Stats returns the totals written so far.
func (s *Saver) Stats() SaverStats {
	return SaverStats{Files: s.files.Load(), Bytes: s.bytes.Load()}
}

// LogStats logs the totals.
func (s *Saver) LogStats() {
	st := s.Stats()
	s.logger.Infow("write-back totals", "files", st.Files, "bytes", st.HumanBytes())
}

package writeback

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"go.viam.com/simlabel/logging"
)

func TestPoolDrainsOnClose(t *testing.T) {
	pool := NewPool(Config{Workers: 1, MaxTasks: 8}, logging.NewTestLogger(t))

	release := make(chan struct{})
	var (
		mu    sync.Mutex
		order []int
	)
	first, err := pool.Enqueue(context.Background(), func(context.Context) error {
		<-release
		return nil
	})
	test.That(t, err, test.ShouldBeNil)

	var futures []*Future
	for i := 0; i < 5; i++ {
		i := i
		f, err := pool.Enqueue(context.Background(), func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
			return nil
		})
		test.That(t, err, test.ShouldBeNil)
		futures = append(futures, f)
	}

	closed := make(chan struct{})
	go func() {
		pool.Close()
		close(closed)
	}()
	close(release)
	<-closed

	test.That(t, first.Wait(context.Background()), test.ShouldBeNil)
	for _, f := range futures {
		select {
		case <-f.Done():
		default:
			t.Fatal("task left queued after Close")
		}
	}
	test.That(t, order, test.ShouldResemble, []int{0, 1, 2, 3, 4})
	test.That(t, pool.Stats().Completed, test.ShouldEqual, 6)

	_, err = pool.Enqueue(context.Background(), func(context.Context) error { return nil })
	test.That(t, err, test.ShouldEqual, ErrPoolClosed)
	pool.Close()
}

func TestPoolBlocksWhenFull(t *testing.T) {
	pool := NewPool(Config{Workers: 1, MaxTasks: 1}, logging.NewTestLogger(t))
	defer pool.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := pool.Enqueue(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	<-started
	_, err = pool.Enqueue(context.Background(), func(context.Context) error { return nil })
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Enqueue(ctx, func(context.Context) error { return nil })
	test.That(t, err, test.ShouldEqual, context.DeadlineExceeded)
	close(release)
}

func TestPoolPolling(t *testing.T) {
	mock := clock.NewMock()
	pool := NewPool(Config{Workers: 1, MaxTasks: 1, PollInterval: time.Second, Clock: mock}, logging.NewTestLogger(t))
	defer pool.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := pool.Enqueue(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	<-started
	_, err = pool.Enqueue(context.Background(), func(context.Context) error { return nil })
	test.That(t, err, test.ShouldBeNil)

	enqueued := make(chan *Future)
	go func() {
		f, err := pool.Enqueue(context.Background(), func(context.Context) error { return nil })
		if err != nil {
			close(enqueued)
			return
		}
		enqueued <- f
	}()
	close(release)

	for {
		select {
		case f, ok := <-enqueued:
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, f.Wait(context.Background()), test.ShouldBeNil)
			return
		case <-time.After(time.Millisecond):
			mock.Add(time.Second)
		}
	}
}

func TestSaverIdempotent(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pool := NewPool(Config{Workers: 2}, logger)
	defer pool.Close()
	saver := NewSaver(pool, logger)

	path := filepath.Join(t.TempDir(), "camera", "jpg", "0000000100_1.jpg")
	f, err := saver.Save(context.Background(), path, []byte("first"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Wait(context.Background()), test.ShouldBeNil)

	f, err = saver.Save(context.Background(), path, []byte("second"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Wait(context.Background()), test.ShouldBeNil)

	got, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(got), test.ShouldEqual, "first")
	test.That(t, saver.Stats().Files, test.ShouldEqual, 1)
	test.That(t, saver.Stats().Bytes, test.ShouldEqual, 5)
	test.That(t, saver.Stats().HumanBytes(), test.ShouldEqual, "5B")
}

func TestSaverReleasesFailedPath(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pool := NewPool(Config{Workers: 1}, logger)
	defer pool.Close()
	saver := NewSaver(pool, logger)

	// A directory in the way makes the rename fail.
	path := filepath.Join(t.TempDir(), "blocked")
	test.That(t, os.Mkdir(path, 0o755), test.ShouldBeNil)

	for i := 0; i < 2; i++ {
		f, err := saver.Save(context.Background(), path, []byte("x"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, f.Wait(context.Background()), test.ShouldNotBeNil)
	}
	test.That(t, pool.Stats().Failed, test.ShouldEqual, 2)
	test.That(t, saver.Stats().Files, test.ShouldEqual, 0)
}

func TestSaverAfterClose(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pool := NewPool(Config{}, logger)
	pool.Close()
	saver := NewSaver(pool, logger)
	_, err := saver.Save(context.Background(), filepath.Join(t.TempDir(), "a"), nil)
	test.That(t, err, test.ShouldEqual, ErrPoolClosed)
}

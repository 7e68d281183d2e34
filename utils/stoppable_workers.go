package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers runs a fixed set of goroutines sharing one cancellation context.
type StoppableWorkers struct {
	ctx    context.Context
	cancel context.CancelFunc
	active sync.WaitGroup
}

// NewStoppableWorkers starts each function in its own panic-capturing goroutine.
func NewStoppableWorkers(funcs ...func(context.Context)) *StoppableWorkers {
	ctx, cancel := context.WithCancel(context.Background())
	sw := &StoppableWorkers{ctx: ctx, cancel: cancel}
	sw.active.Add(len(funcs))
	for _, f := range funcs {
		f := f
		goutils.PanicCapturingGo(func() {
			defer sw.active.Done()
			f(ctx)
		})
	}
	return sw
}

// Stop cancels the context and waits for every goroutine to return. It is safe to call more
// than once and from several goroutines.
func (sw *StoppableWorkers) Stop() {
	sw.cancel()
	sw.active.Wait()
}

// Context is done once Stop has been called.
func (sw *StoppableWorkers) Context() context.Context {
	return sw.ctx
}

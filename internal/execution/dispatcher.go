package execution

import (
	"context"
	"sync"
	"time"

	core "github.com/atomrun/kernel/internal/app/core/service"
)

// idleSleep is how long a worker waits before polling again after finding no
// QUEUED task. Short enough that a freshly-unblocked task is picked up
// quickly, long enough not to hammer the store.
const idleSleep = 200 * time.Millisecond

// Dispatcher runs N workers, each looping Engine.RunOnce until told to stop.
// RunOnce's claim step is an atomic store operation, so any number of
// workers can safely share one Dispatcher.
type Dispatcher struct {
	engine  *Engine
	workers int

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher over engine with the given worker
// count, clamped to a usable range.
func NewDispatcher(engine *Engine, workers int) *Dispatcher {
	workers = core.ClampWorkers(workers, core.DefaultWorkerCount, core.MaxWorkerCount)
	return &Dispatcher{engine: engine, workers: workers, stop: make(chan struct{})}
}

// Name identifies this service to the system manager.
func (d *Dispatcher) Name() string { return "execution-dispatcher" }

// Descriptor advertises this service's placement for diagnostics.
func (d *Dispatcher) Descriptor() core.Descriptor {
	return d.engine.Descriptor().WithCapabilities("poll-loop")
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.worker(ctx)
	}
	return nil
}

// Stop signals every worker to exit and waits for them to drain.
func (d *Dispatcher) Stop(ctx context.Context) error {
	close(d.stop)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		processed, err := d.engine.RunOnce(ctx)
		if err != nil && d.engine.log != nil {
			d.engine.log.WithError(err).Warn("execution dispatch failed")
		}
		if !processed {
			select {
			case <-time.After(idleSleep):
			case <-d.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

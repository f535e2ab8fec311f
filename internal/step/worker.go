package step

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Worker drives one step copy through its lifecycle:
//
//	created -> initialized -> running -> finished | stopped | failed -> disposed
//
// An init failure goes straight to failed. Dispose runs exactly once on every
// path, including after a failed init.
type Worker struct {
	step Step
	sc   *Context

	state   atomic.Int32
	outcome atomic.Int32
	err     error

	disposeOnce sync.Once
	done        chan struct{}

	started  time.Time
	finished time.Time
}

// NewWorker pairs a step implementation with its kernel handle.
func NewWorker(s Step, sc *Context) *Worker {
	if b, ok := s.(SchemaBinder); ok {
		sc.binder = b
	}
	return &Worker{step: s, sc: sc, done: make(chan struct{})}
}

// Context returns the worker's kernel handle.
func (w *Worker) Context() *Context { return w.sc }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Outcome returns the terminal state reached before dispose; StateCreated
// while the worker has not ended.
func (w *Worker) Outcome() State { return State(w.outcome.Load()) }

// Err returns the error that failed the worker. Valid after Done is closed.
func (w *Worker) Err() error { return w.err }

// Done is closed once the worker is disposed.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Duration returns how long the copy ran.
func (w *Worker) Duration() time.Duration {
	if w.finished.IsZero() {
		return 0
	}
	return w.finished.Sub(w.started)
}

// Stop requests a cooperative stop of this copy.
func (w *Worker) Stop() { w.sc.RequestStop() }

// Init runs the step's Init. On failure the worker is failed and disposed.
func (w *Worker) Init(ctx context.Context) error {
	logger := w.sc.Logger()
	logger.Debug("Initializing step copy.")
	if err := w.step.Init(ctx, w.sc); err != nil {
		w.err = fmt.Errorf("step %s: init: %w", w.sc.ID(), err)
		w.sc.errs.Add(1)
		w.end(StateFailed)
		logger.Error("Step copy failed to initialize.", "error", err)
		w.Dispose(ctx)
		return w.err
	}
	w.state.Store(int32(StateInitialized))
	return nil
}

// Run processes rows until the step ends, fails or is stopped, then marks
// its outputs done and disposes it. Run must follow a successful Init.
func (w *Worker) Run(ctx context.Context) {
	logger := w.sc.Logger()
	w.started = time.Now()
	w.state.Store(int32(StateRunning))
	logger.Info("▶️ Starting step copy.")

	terminal := w.loop(ctx)

	w.sc.markOutputsDone()
	w.sc.closeInputs()
	w.finished = time.Now()
	w.end(terminal)

	c := w.sc.Counters()
	switch terminal {
	case StateFinished:
		logger.Info("✅ Finished step copy.", "read", c.Read, "written", c.Written, "rejected", c.Rejected, "duration", w.Duration())
	case StateStopped:
		logger.Info("⏹️ Stopped step copy.", "read", c.Read, "written", c.Written)
	case StateFailed:
		logger.Error("❌ Step copy failed.", "error", w.err, "read", c.Read, "written", c.Written)
	}
	w.Dispose(ctx)
}

func (w *Worker) loop(ctx context.Context) State {
	if !w.sc.HasInputs() {
		if err := w.sc.bind(ctx, nil); err != nil {
			return w.fail(err)
		}
	}
	for {
		if w.stopping(ctx) {
			return StateStopped
		}
		more, err := w.step.ProcessRow(ctx, w.sc)
		if err != nil {
			if w.stopping(ctx) && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				return StateStopped
			}
			if w.sc.ErrorHandlingEnabled() && routable(err) {
				rerr := w.sc.routeError(ctx, err)
				if rerr == nil {
					continue
				}
				err = rerr
			}
			return w.fail(err)
		}
		if !more {
			return StateFinished
		}
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	return w.sc.IsStopped() || ctx.Err() != nil
}

// fail records a fatal error and asks the whole transformation to stop.
func (w *Worker) fail(err error) State {
	w.err = fmt.Errorf("step %s: %w", w.sc.ID(), err)
	w.sc.errs.Add(1)
	w.sc.StopAll()
	return StateFailed
}

func (w *Worker) end(s State) {
	w.outcome.Store(int32(s))
	w.state.Store(int32(s))
}

// Dispose calls the step's Dispose once and closes Done.
func (w *Worker) Dispose(ctx context.Context) {
	w.disposeOnce.Do(func() {
		if err := w.step.Dispose(ctx, w.sc); err != nil {
			w.sc.Logger().Warn("Step copy dispose returned an error.", "error", err)
		}
		if w.Outcome() == StateCreated {
			w.outcome.Store(int32(StateStopped))
		}
		w.state.Store(int32(StateDisposed))
		close(w.done)
	})
}

package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Loop serializes execution of posted tasks onto a single goroutine, the
// Go rendering of the original's single-threaded cooperative reactor (see
// doc.go).
type Loop struct {
	logger zerolog.Logger

	tasks chan func()
	stop  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	running bool
}

// New builds a Loop. Call Run to start processing posted tasks.
func New(logger zerolog.Logger) *Loop {
	return &Loop{
		logger: logger,
		tasks:  make(chan func(), 256),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run blocks, executing posted tasks in submission order, until Stop is
// called or ctx is cancelled. Calling Run again after it returns starts a
// fresh run with a new stop/done pair. Nested runs are not supported: calling
// Run while a run is in progress, including from a task on the Loop, panics.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		panic("scheduler: Run called while already running")
	}
	l.running = true
	stop := l.stop
	done := make(chan struct{})
	l.done = done
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.stop = make(chan struct{})
		l.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case fn := <-l.tasks:
			l.runTask(fn)
		}
	}
}

func (l *Loop) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("scheduler: posted task panicked")
		}
	}()
	fn()
}

// Post enqueues fn to run on the Loop's goroutine after the currently
// executing task (if any) returns. Safe to call from any goroutine,
// including from inside a task running on the Loop itself.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	default:
		// Buffer is full: send blocking in its own goroutine rather than
		// stalling the caller, which may itself be a task on the loop.
		go func() { l.tasks <- fn }()
	}
}

// Stop causes a running Run to return once it has finished its current
// task; it does not wait for that to happen. A Stop issued while no Run is
// in progress makes the next Run return at once.
func (l *Loop) Stop() {
	l.mu.Lock()
	stop := l.stop
	l.mu.Unlock()
	select {
	case <-stop:
	default:
		close(stop)
	}
}

// Timer is a cancellable deferred callback, posted to a Loop when it
// fires. This is the Go rendering of the original's async_wait(duration,
// fn): fn always runs on the Loop's goroutine, never on the timer's own
// goroutine, preserving the "no component holds locks" invariant.
type Timer struct {
	loop      *Loop
	timer     *time.Timer
	cancelled chan struct{}
	once      sync.Once
}

// AsyncWait schedules fn to run on loop with a nil error after d, unless the
// Timer is cancelled first, in which case fn is never called.
func (l *Loop) AsyncWait(d time.Duration, fn func(err error)) *Timer {
	t := &Timer{loop: l, cancelled: make(chan struct{})}
	t.timer = time.AfterFunc(d, func() {
		select {
		case <-t.cancelled:
			return
		default:
		}
		l.Post(func() { fn(nil) })
	})
	return t
}

// Cancel stops the timer; if it has not already fired, fn is never called.
// Safe to call more than once.
func (t *Timer) Cancel() {
	t.once.Do(func() {
		close(t.cancelled)
		t.timer.Stop()
	})
}

// ErrTimerCancelled is the error value for a cancelled timer. Timer.Cancel
// does not pass it to the AsyncWait callback.
var ErrTimerCancelled = fmt.Errorf("timer cancelled")

// SignalHandler dispatches POSIX signals to a callback running on a Loop,
// re-arming automatically after each delivery (signal.Notify already
// delivers repeatedly; this just keeps forwarding until Close).
type SignalHandler struct {
	loop *Loop
	ch   chan os.Signal
	done chan struct{}
}

// NotifySignals registers fn to be posted to loop, with the received
// signal, every time one of sigs arrives.
func (l *Loop) NotifySignals(fn func(sig os.Signal), sigs ...os.Signal) *SignalHandler {
	h := &SignalHandler{
		loop: l,
		ch:   make(chan os.Signal, 4),
		done: make(chan struct{}),
	}
	signal.Notify(h.ch, sigs...)

	go func() {
		for {
			select {
			case sig := <-h.ch:
				l.Post(func() { fn(sig) })
			case <-h.done:
				return
			}
		}
	}()

	return h
}

// Close stops signal delivery and releases the underlying OS resources.
func (h *SignalHandler) Close() {
	signal.Stop(h.ch)
	close(h.done)
}

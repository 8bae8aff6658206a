// Package poller tracks a submitted task by querying its status at a fixed
// cadence until it succeeds or fails.
//
// A Poller owns at most one active Loop. Starting a new loop cancels the
// previous one and stops its ticker; the new loop does not query until the
// previous one has drained, so two loops never query at the same time.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"sheetmap/internal/task"
)

// Interval between status queries. It is part of the service contract.
const Interval = 2 * time.Second

// State of a Loop.
type State int

const (
	StateArmed State = iota
	StateQuerying
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateQuerying:
		return "querying"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further queries happen in this state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Fetcher reads one status snapshot.
type Fetcher interface {
	Status(ctx context.Context, taskID string) (task.Status, error)
}

// Observer receives loop events on the loop goroutine.
// OnStatus sees every applied snapshot, including the terminal one.
// OnDone is called exactly once when the loop succeeds or fails; it is not
// called for a cancelled loop.
type Observer interface {
	OnStatus(status task.Status)
	OnDone(outcome Outcome)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Status func(task.Status)
	Done   func(Outcome)
}

// OnStatus calls f.Status.
func (f ObserverFuncs) OnStatus(s task.Status) {
	if f.Status != nil {
		f.Status(s)
	}
}

// OnDone calls f.Done.
func (f ObserverFuncs) OnDone(o Outcome) {
	if f.Done != nil {
		f.Done(o)
	}
}

// ServerFailure is a 2xx status whose message reports a processing error.
type ServerFailure struct {
	TaskID  string
	Message string
}

func (e *ServerFailure) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}

// Outcome is the final result of a loop.
type Outcome struct {
	State  State
	Status task.Status
	Err    error
}

// Succeeded reports a Terminal-Success outcome.
func (o Outcome) Succeeded() bool { return o.State == StateSucceeded }

// Poller holds the single active loop.
type Poller struct {
	fetcher Fetcher
	clock   Clock

	mu     sync.Mutex
	active *Loop
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// New returns a Poller that queries fetcher on the system clock unless
// WithClock says otherwise.
func New(fetcher Fetcher, opts ...Option) *Poller {
	p := &Poller{fetcher: fetcher, clock: SystemClock()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start cancels any active loop, then arms a new loop for handle. The old
// loop's ticker is stopped before Start returns and its in-flight query is
// drained. When the old loop is inside a callback, the new loop waits for
// that callback to return before it queries or calls back, so callbacks of
// the two loops never overlap. The first query fires one Interval after Start.
func (p *Poller) Start(parent context.Context, handle task.Handle, observer Observer) *Loop {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.active
	if prev != nil {
		prev.Cancel()
		// Waiting here would deadlock when Start is called from prev's own callback.
		if !prev.delivering.Load() {
			<-prev.Done()
		}
		log.Debug().Str("task_id", prev.handle.ID).Msg("previous poll loop replaced")
	}

	if observer == nil {
		observer = ObserverFuncs{}
	}
	ctx, cancel := context.WithCancel(parent)
	l := &Loop{
		handle:   handle,
		fetcher:  p.fetcher,
		observer: observer,
		ticker:   p.clock.NewTicker(Interval),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateArmed,
		prev:     prev,
	}
	p.active = l
	go l.run()
	log.Debug().Str("task_id", handle.ID).Dur("interval", Interval).Msg("poll loop armed")
	return l
}

// Cancel stops the active loop, if any.
func (p *Poller) Cancel() {
	p.mu.Lock()
	l := p.active
	p.mu.Unlock()
	if l != nil {
		l.Cancel()
	}
}

// Active returns the most recently started loop, which may already be finished.
func (p *Poller) Active() *Loop {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Loop polls one task. All state changes and callbacks happen on its own goroutine.
type Loop struct {
	handle   task.Handle
	fetcher  Fetcher
	observer Observer
	ticker   Ticker

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	fetches    sync.WaitGroup
	delivering atomic.Bool
	prev       *Loop

	mu      sync.Mutex
	state   State
	outcome Outcome
}

type fetchResult struct {
	status task.Status
	err    error
}

// Handle returns the task being polled.
func (l *Loop) Handle() task.Handle { return l.handle }

// Cancel stops the loop and its ticker. No query is started and no callback
// begins after Cancel returns, except one already running. Safe to call
// repeatedly and from callbacks.
func (l *Loop) Cancel() {
	l.cancel()
	l.ticker.Stop()
}

// Done is closed once the loop has stopped and its last query has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Wait blocks until the loop stops or ctx ends.
func (l *Loop) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-l.done:
		return l.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Outcome returns the final outcome; State is non-terminal while running.
func (l *Loop) Outcome() Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.Terminal() {
		return Outcome{State: l.state}
	}
	return l.outcome
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) run() {
	defer close(l.done)
	defer l.fetches.Wait()
	defer l.ticker.Stop()

	results := make(chan fetchResult, 1)
	inFlight := false
	logger := log.With().Str("task_id", l.handle.ID).Logger()

	if l.prev != nil {
		select {
		case <-l.prev.Done():
		case <-l.ctx.Done():
		}
		l.prev = nil
	}

	for {
		select {
		case <-l.ctx.Done():
			l.stop(Outcome{State: StateCancelled, Err: l.ctx.Err()})
			logger.Debug().Msg("poll loop cancelled")
			return

		case <-l.ticker.C():
			if inFlight {
				logger.Debug().Msg("status query still outstanding; tick skipped")
				continue
			}
			inFlight = true
			l.setState(StateQuerying)
			l.fetches.Add(1)
			go func() {
				defer l.fetches.Done()
				st, err := l.fetcher.Status(l.ctx, l.handle.ID)
				results <- fetchResult{status: st, err: err}
			}()

		case res := <-results:
			inFlight = false
			if l.ctx.Err() != nil {
				continue
			}
			if res.err != nil {
				logger.Warn().Err(res.err).Msg("status query failed")
				l.finish(Outcome{State: StateFailed, Err: res.err})
				return
			}

			logger.Debug().Float64("progress", res.status.Progress).Str("status", res.status.Message).Msg("status received")
			if !l.deliver(func() { l.observer.OnStatus(res.status) }) {
				continue
			}
			if !res.status.Terminal() {
				l.setState(StateArmed)
				continue
			}
			if res.status.IsError() {
				l.finish(Outcome{
					State:  StateFailed,
					Status: res.status,
					Err:    &ServerFailure{TaskID: l.handle.ID, Message: res.status.Message},
				})
				return
			}
			l.finish(Outcome{State: StateSucceeded, Status: res.status})
			return
		}
	}
}

// deliver runs fn unless the loop has been cancelled. It reports whether
// the loop is still live afterwards.
func (l *Loop) deliver(fn func()) bool {
	// The flag is raised before the check so Start never waits on a loop
	// that is inside a callback.
	l.delivering.Store(true)
	defer l.delivering.Store(false)
	if l.ctx.Err() != nil {
		return false
	}
	fn()
	return l.ctx.Err() == nil
}

func (l *Loop) finish(o Outcome) {
	l.stop(o)
	l.ticker.Stop()
	l.deliver(func() { l.observer.OnDone(o) })
	l.cancel()
}

func (l *Loop) stop(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Terminal() {
		return
	}
	l.state = o.State
	l.outcome = o
}

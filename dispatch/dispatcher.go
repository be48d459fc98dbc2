package dispatch

import (
	"sync"
	"time"

	"github.com/petermattis/goid"
	"go.uber.org/zap"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/capture"
	"github.com/omnisdk/native-bridge/errors"
)

// DefaultBlockPollInterval is how often a blocked cross-goroutine Run
// re-checks liveness while waiting for the owner to drain. Tuned for a
// host loop that ticks at frame rate; override with WithBlockPollInterval.
const DefaultBlockPollInterval = 100 * time.Millisecond

// Dispatcher is a FIFO work queue owned by the goroutine that created it.
// Any goroutine may submit work; only the owner executes it, by calling
// Drain periodically (typically once per host loop tick).
type Dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	closing chan struct{}

	owner    int64
	store    *capture.Store
	pollEach time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBlockPollInterval sets the liveness re-check interval used by
// cross-goroutine Run calls while they wait for a drain.
func WithBlockPollInterval(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.pollEach = d
		}
	}
}

// WithStore sets the fault store used to contain panics during Drain.
// Use it to fold several dispatchers' faults into one store; by default
// each dispatcher keeps its own.
func WithStore(s *capture.Store) Option {
	return func(disp *Dispatcher) {
		if s != nil {
			disp.store = s
		}
	}
}

// New creates a dispatcher owned by the calling goroutine.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		owner:    goid.Get(),
		store:    capture.NewStore(),
		pollEach: DefaultBlockPollInterval,
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsOwning reports whether the calling goroutine owns this dispatcher.
func (d *Dispatcher) IsOwning() bool {
	return goid.Get() == d.owner
}

// Len returns the number of queued, not yet executed entries.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Post submits fire-and-forget work. Entries run in FIFO order relative to
// other entries from the same producer goroutine. Work posted after Close
// is dropped with a log line.
func (d *Dispatcher) Post(fn func()) {
	if !d.post(fn) {
		nativebridge.Logger().Warn("work posted to closed dispatcher dropped")
	}
}

// TryPost submits work and reports whether it was accepted. It returns
// false after Close; callers that must not lose the completion (the future
// bridge) use this to fall back to direct completion.
func (d *Dispatcher) TryPost(fn func()) bool {
	return d.post(fn)
}

func (d *Dispatcher) post(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.queue = append(d.queue, fn)
	return true
}

// Drain executes queued entries in FIFO order until the queue is empty.
// Each entry runs with the queue lock released and with panic containment,
// so a faulting entry does not abort the entries behind it. Faults captured
// during the pass are returned combined; callers usually hand them to
// capture.LogOnly. The dispatcher's own store scopes the result to entries
// it executed; faults recorded on other stores are untouched.
//
// Drain must be called from the owning goroutine. Violating this is a bug
// in the embedding code and panics.
func (d *Dispatcher) Drain() error {
	if !d.IsOwning() {
		panic(errors.WrongGoroutine("Drain"))
	}

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			break
		}
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.store.Capture(func() error {
			fn()
			return nil
		})
	}

	return d.store.Drain()
}

// Close abandons the queue. Pending and future blocking submitters fail
// with a cancelled error; pending deferred work never completes its task
// and is dropped. Close is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	dropped := len(d.queue)
	d.queue = nil
	close(d.closing)
	d.mu.Unlock()

	if dropped > 0 {
		nativebridge.Logger().Warn("dispatcher closed with queued work",
			zap.Int("dropped", dropped))
	}
}

// Run executes fn on the owning goroutine and returns its result.
//
// On the owning goroutine fn runs inline. From any other goroutine the call
// blocks until the owner's next Drain executes the entry; the result, error
// and any panic raised by fn are transported back so the two paths are
// indistinguishable to the caller. Callers must assume an unbounded wait
// unless the embedding guarantees periodic draining.
func Run[T any](d *Dispatcher, fn func() (T, error)) (T, error) {
	var zero T

	if d.IsOwning() {
		return fn()
	}

	var (
		result   T
		err      error
		panicVal any
		panicked bool
	)
	done := make(chan struct{})

	ok := d.post(func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				panicVal = r
			}
		}()
		result, err = fn()
	})
	if !ok {
		return zero, errors.Cancelled(errors.PhaseDispatch, "Run")
	}

	tick := time.NewTicker(d.pollEach)
	defer tick.Stop()

	for {
		select {
		case <-done:
			if panicked {
				panic(panicVal)
			}
			return result, err
		case <-d.closing:
			// The entry may still have raced to completion.
			select {
			case <-done:
				if panicked {
					panic(panicVal)
				}
				return result, err
			default:
				return zero, errors.Cancelled(errors.PhaseDispatch, "Run")
			}
		case <-tick.C:
			nativebridge.Logger().Debug("blocked waiting for dispatcher drain")
		}
	}
}

// RunDeferred submits fn without blocking. On the owning goroutine fn runs
// inline and an already-completed task is returned; otherwise the task
// completes when the owner drains the entry.
func RunDeferred[T any](d *Dispatcher, fn func() (T, error)) *Task[T] {
	if d.IsOwning() {
		v, err := fn()
		return Completed(v, err)
	}

	t := NewTask[T]()
	ok := d.post(func() {
		t.Complete(fn())
	})
	if !ok {
		var zero T
		t.Complete(zero, errors.Cancelled(errors.PhaseDispatch, "RunDeferred"))
	}
	return t
}

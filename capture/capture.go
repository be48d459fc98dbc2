package capture

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/petermattis/goid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	nativebridge "github.com/omnisdk/native-bridge"
)

// Store holds faults deferred by native-invoked callbacks, keyed by the
// goroutine that captured them. Lists are append-only until drained; Drain
// removes the calling goroutine's list atomically.
type Store struct {
	mu      sync.Mutex
	pending map[int64][]error
}

// NewStore creates an empty fault store.
func NewStore() *Store {
	return &Store{pending: make(map[int64][]error)}
}

var defaultStore = NewStore()

// Default returns the process-wide store used by the dispatcher drain loop.
func Default() *Store { return defaultStore }

// Capture executes fn and converts any failure (returned error or panic)
// into a pending fault for the calling goroutine. It always returns
// normally: this is the boundary where native code calls into managed code,
// and a panic unwinding through a native frame is undefined behavior.
func (s *Store) Capture(fn func() error) {
	err := run(fn)
	if err == nil {
		return
	}
	s.append(goid.Get(), err)
}

// CaptureValue is the value-returning variant of Capture. On failure it
// records the fault and returns fallback.
func CaptureValue[T any](s *Store, fn func() (T, error), fallback T) T {
	var out T
	err := run(func() error {
		var err error
		out, err = fn()
		return err
	})
	if err != nil {
		s.append(goid.Get(), err)
		return fallback
	}
	return out
}

// Drain atomically removes and combines the calling goroutine's pending
// faults. A single fault is returned as-is; several are combined with
// multierr. Returns nil when nothing is pending.
func (s *Store) Drain() error {
	gid := goid.Get()

	s.mu.Lock()
	errs := s.pending[gid]
	delete(s.pending, gid)
	s.mu.Unlock()

	return multierr.Combine(errs...)
}

// Pending reports how many faults the calling goroutine has captured and
// not yet drained.
func (s *Store) Pending() int {
	gid := goid.Get()

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[gid])
}

func (s *Store) append(gid int64, err error) {
	s.mu.Lock()
	s.pending[gid] = append(s.pending[gid], err)
	s.mu.Unlock()
}

// LogOnly logs err without throwing, one line per leaf error after
// flattening any multierr combination. Used on fire-and-forget paths where
// no drain point exists; losing the fault entirely would be worse, and
// propagating it would cross the native boundary.
func LogOnly(err error) {
	if err == nil {
		return
	}
	log := nativebridge.Logger()
	for _, leaf := range multierr.Errors(err) {
		log.Error("callback fault", zap.Error(leaf))
	}
}

// run invokes fn with panic containment.
func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered panic: %v", r)
			nativebridge.Logger().Debug("panic captured at native boundary",
				zap.Any("value", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	return fn()
}

package proxy

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/errors"
	"github.com/omnisdk/native-bridge/instance"
)

// State is the disposal state of a managed wrapper.
type State uint8

const (
	Live State = iota
	Disposing
	Disposed
)

// Base carries the disposal protocol shared by every managed wrapper over a
// native instance. Wrappers hold a *Base and route every public entry point
// through Ptr, which fails fast once disposal has begun.
type Base struct {
	mu    sync.Mutex
	state State

	entity string
	key    string
	handle *instance.Handle
	mgr    *instance.Manager
	unsub  func()
}

// NewBase wraps an acquired instance handle. entity names the wrapper type
// in errors, e.g. "storage.Storage".
func NewBase(entity string, mgr *instance.Manager, h *instance.Handle) *Base {
	return &Base{entity: entity, key: h.Key(), mgr: mgr, handle: h}
}

// Ptr returns the native pointer, or a use-after-dispose error once
// disposal has begun. op names the caller's operation for the error.
func (b *Base) Ptr(op string) (nativebridge.Pointer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Live {
		return nativebridge.Null, errors.UseAfterDispose(b.entity, op)
	}
	return b.handle.Ptr(), nil
}

// Key returns the instance key the wrapper was acquired under. It stays
// valid after disposal; finalizer and log paths key on it.
func (b *Base) Key() string { return b.key }

// State returns the current disposal state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AttachCleanup subscribes the wrapper to its owner's teardown, so
// disposing the owner disposes the wrapper first.
func (b *Base) AttachCleanup(n *Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Live || n == nil {
		return
	}
	b.unsub = n.Subscribe(func() { b.Dispose() })
}

// ArmFinalizer installs the safety-net finalizer on the outer wrapper
// object. Explicit Dispose is the primary mechanism; the finalizer only
// logs the leak and then runs the same protocol, and no-ops after an
// explicit Dispose. Base must not hold a reference back to outer, or the
// closure's capture of b would keep outer reachable and the finalizer
// would never run.
func (b *Base) ArmFinalizer(outer any) {
	key := b.key
	entity := b.entity
	runtime.SetFinalizer(outer, func(any) {
		if b.State() != Live {
			return
		}
		nativebridge.Logger().Warn("wrapper leaked without Dispose; finalizer released it",
			zap.String("entity", entity), zap.String("key", key))
		b.Dispose()
	})
}

// Dispose runs the teardown protocol exactly once: remove the wrapper from
// the proxy lookup table, unsubscribe from owner cleanup, release the
// instance reference and null the pointer. Later calls are no-ops; later
// use of any other method fails fast, and an armed finalizer sees the
// non-Live state and does nothing.
func (b *Base) Dispose() {
	b.mu.Lock()
	if b.state != Live {
		b.mu.Unlock()
		return
	}
	b.state = Disposing
	unsub := b.unsub
	handle := b.handle
	b.unsub = nil
	b.handle = nil
	b.mu.Unlock()

	b.mgr.DropProxy(b.key)
	if unsub != nil {
		unsub()
	}
	b.mgr.Release(handle)

	b.mu.Lock()
	b.state = Disposed
	b.mu.Unlock()
}

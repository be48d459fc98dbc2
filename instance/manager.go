package instance

import (
	"sync"

	"go.uber.org/zap"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/errors"
)

// Destructor releases a native instance. Invoked exactly once per handle,
// when its reference count reaches zero.
type Destructor func(nativebridge.Pointer) error

// EventType classifies instance lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventReused
	EventReleased
	EventDestroyed
)

// Event is an instance lifecycle notification.
type Event struct {
	Type EventType
	Key  string
	Ptr  nativebridge.Pointer
	Refs int
}

// Observer receives instance lifecycle events.
type Observer interface {
	OnInstanceEvent(Event)
}

// Handle is a counted reference to a native instance. Handles for the same
// key are the same object; the count lives in the Manager's table.
type Handle struct {
	key string
	ptr nativebridge.Pointer
}

// Key returns the instance key the handle was acquired under.
func (h *Handle) Key() string { return h.key }

// Ptr returns the native pointer. Valid only between Acquire and the
// Release that drops the count to zero.
func (h *Handle) Ptr() nativebridge.Pointer { return h.ptr }

type record struct {
	handle *Handle
	refs   int
}

// Manager owns the key-to-instance table. One native object exists per key
// however many managed proxies resolve to it; the table's mutex covers the
// whole window between factory invocation and insertion so concurrent
// Acquire calls for one key run the factory once.
type Manager struct {
	mu      sync.Mutex
	byKey   map[string]*record
	proxies map[string]any
	destroy Destructor

	obsMu     sync.RWMutex
	observers []Observer
}

// NewManager creates a manager that releases native instances with destroy.
func NewManager(destroy Destructor) *Manager {
	return &Manager{
		byKey:   make(map[string]*record),
		proxies: make(map[string]any),
		destroy: destroy,
	}
}

// Acquire returns the handle for key, creating the native instance with
// factory on first acquisition. A factory failure (error or null pointer)
// inserts nothing and counts nothing.
func (m *Manager) Acquire(key string, factory func() (nativebridge.Pointer, error)) (*Handle, error) {
	m.mu.Lock()

	if rec, ok := m.byKey[key]; ok {
		rec.refs++
		e := Event{Type: EventReused, Key: key, Ptr: rec.handle.ptr, Refs: rec.refs}
		h := rec.handle
		m.mu.Unlock()
		m.notify(e)
		return h, nil
	}

	ptr, err := factory()
	if err != nil {
		m.mu.Unlock()
		return nil, errors.FactoryFailed(key, err)
	}
	if ptr.IsNull() {
		m.mu.Unlock()
		return nil, errors.FactoryFailed(key, errors.InvalidInput(errors.PhaseAcquire, "factory returned null instance"))
	}

	rec := &record{handle: &Handle{key: key, ptr: ptr}, refs: 1}
	m.byKey[key] = rec
	m.mu.Unlock()

	m.notify(Event{Type: EventCreated, Key: key, Ptr: ptr, Refs: 1})
	return rec.handle, nil
}

// Release decrements the handle's count and returns the remaining count.
// At zero the native destructor runs exactly once and the entry is removed.
// Releasing a handle whose count is already zero is an ownership bug
// upstream and panics.
func (m *Manager) Release(h *Handle) int {
	m.mu.Lock()
	rec, ok := m.byKey[h.key]
	if !ok || rec.handle != h {
		m.mu.Unlock()
		panic(errors.DoubleRelease(h.key))
	}

	rec.refs--
	refs := rec.refs
	var destroyPtr nativebridge.Pointer
	if refs == 0 {
		delete(m.byKey, h.key)
		destroyPtr = h.ptr
	}
	m.mu.Unlock()

	m.notify(Event{Type: EventReleased, Key: h.key, Ptr: h.ptr, Refs: refs})

	if refs == 0 {
		// Destructor runs outside the table lock; it may be slow and must
		// not block a concurrent Acquire for an unrelated key.
		if m.destroy != nil {
			if err := m.destroy(destroyPtr); err != nil {
				nativebridge.Logger().Error("native destructor failed",
					zap.String("key", h.key), zap.Error(err))
			}
		}
		m.notify(Event{Type: EventDestroyed, Key: h.key, Ptr: destroyPtr})
	}
	return refs
}

// Count returns the current reference count for h, 0 when fully released.
func (m *Manager) Count(h *Handle) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.byKey[h.key]; ok && rec.handle == h {
		return rec.refs
	}
	return 0
}

// Len returns the number of live instance keys.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

// Each iterates over live instances for diagnostics.
func (m *Manager) Each(fn func(key string, ptr nativebridge.Pointer, refs int) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.byKey {
		if !fn(key, rec.handle.ptr, rec.refs) {
			break
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (m *Manager) Subscribe(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, o)
}

// notify runs after the table lock is released, so observers may call back
// into the manager.
func (m *Manager) notify(e Event) {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	for _, o := range m.observers {
		o.OnInstanceEvent(e)
	}
}

// LookupProxy returns the managed proxy stored for key, if any. Modules use
// this to hand back the existing wrapper instead of constructing a
// duplicate over the same native instance.
func (m *Manager) LookupProxy(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proxies[key]
	return p, ok
}

// StoreProxy records the managed proxy for key.
func (m *Manager) StoreProxy(key string, p any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxies[key] = p
}

// DropProxy removes the proxy mapping for key. Called from Dispose before
// the reference count is released, so a concurrent GetInstance never
// observes a disposing proxy.
func (m *Manager) DropProxy(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.proxies, key)
}

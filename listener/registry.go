package listener

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/capture"
	"github.com/omnisdk/native-bridge/dispatch"
	"github.com/omnisdk/native-bridge/errors"
	"github.com/omnisdk/native-bridge/native"
)

// Handler receives one event on the dispatcher's owning goroutine. A
// returned error is logged once and never reaches native code.
type Handler func(*nativebridge.Event) error

// TxFunc is a managed transaction function. It runs on the owning goroutine
// while a native transaction thread blocks for its result.
type TxFunc func(native.TxRequest) native.TxResult

type route struct {
	handler Handler
	tx      TxFunc
	entity  nativebridge.Pointer
	api     native.API
	kind    nativebridge.EventKind
}

// Registry maps integer callback ids to managed handlers. Ids cross the
// native boundary instead of function values, increase monotonically and
// are never reused, so a stale id in flight on a native thread can only
// miss, never hit the wrong handler.
//
// Registry implements native.Sink.
type Registry struct {
	mu     sync.Mutex
	routes map[int32]*route
	closed bool

	nextID atomic.Int32
	d      *dispatch.Dispatcher
}

var _ native.Sink = (*Registry)(nil)

// NewRegistry creates a registry delivering events through d.
func NewRegistry(d *dispatch.Dispatcher) *Registry {
	return &Registry{
		routes: make(map[int32]*route),
		d:      d,
	}
}

// Registration is one live listener subscription.
type Registration struct {
	id           int32
	reg          *Registry
	entity       nativebridge.Pointer
	api          native.API
	needsNative  bool
	unregistered bool
	mu           sync.Mutex
}

// ID returns the callback id that crossed the native boundary.
func (r *Registration) ID() int32 { return r.id }

// Unregister removes the route and detaches the native listener. It is
// idempotent: the second and later calls do nothing.
func (r *Registration) Unregister() {
	r.mu.Lock()
	if r.unregistered {
		r.mu.Unlock()
		return
	}
	r.unregistered = true
	r.mu.Unlock()

	r.reg.drop(r.id)

	if r.needsNative {
		if err := r.api.RemoveListener(r.entity, r.id); err != nil {
			nativebridge.Logger().Warn("native listener removal failed",
				zap.Int32("callback_id", r.id), zap.Error(err))
		}
	}
}

// Register attaches a native listener for kind on entity and routes its
// events to h. Registration allocates the callback id, stores the route,
// then performs the single native add-listener call; a native failure rolls
// the route back.
func (reg *Registry) Register(entity nativebridge.Pointer, api native.API, kind nativebridge.EventKind, h Handler) (*Registration, error) {
	if h == nil {
		return nil, errors.InvalidInput(errors.PhaseListener, "nil handler")
	}

	id, err := reg.store(&route{handler: h, entity: entity, api: api, kind: kind})
	if err != nil {
		return nil, err
	}

	if err := api.AddListener(entity, kind, id); err != nil {
		reg.drop(id)
		return nil, errors.New(errors.PhaseListener, errors.KindNativeFailure).
			Op("AddListener").
			Cause(err).
			Build()
	}

	return &Registration{id: id, reg: reg, entity: entity, api: api, needsNative: true}, nil
}

// RegisterTx allocates a callback id for a synchronous transaction function
// without attaching a native listener; the id is handed to the native
// run-transaction entry point instead.
func (reg *Registry) RegisterTx(entity nativebridge.Pointer, api native.API, fn TxFunc) (*Registration, error) {
	if fn == nil {
		return nil, errors.InvalidInput(errors.PhaseListener, "nil transaction function")
	}

	id, err := reg.store(&route{tx: fn, entity: entity, api: api})
	if err != nil {
		return nil, err
	}
	return &Registration{id: id, reg: reg, entity: entity, api: api}, nil
}

func (reg *Registry) store(r *route) (int32, error) {
	id := reg.nextID.Add(1)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed {
		return 0, errors.Cancelled(errors.PhaseListener, "Register")
	}
	reg.routes[id] = r
	return id, nil
}

func (reg *Registry) drop(id int32) {
	reg.mu.Lock()
	delete(reg.routes, id)
	reg.mu.Unlock()
}

func (reg *Registry) lookup(id int32) (*route, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.routes[id]
	return r, ok
}

// Len returns the number of live routes.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.routes)
}

// Close drops all routes. In-flight transaction callbacks abort; later
// events for any id miss the table and only release their payloads.
func (reg *Registry) Close() {
	reg.mu.Lock()
	reg.closed = true
	reg.routes = make(map[int32]*route)
	reg.mu.Unlock()
}

// OnEvent is the trampoline target for fire-and-forget callbacks. It runs
// on an arbitrary native goroutine: the payload is assumed already copied,
// the handler invocation is queued for the owning goroutine. An id with no
// route (raced with Unregister) still releases the payload so native
// memory is not leaked.
func (reg *Registry) OnEvent(callbackID int32, e *nativebridge.Event) {
	r, ok := reg.lookup(callbackID)
	if !ok {
		e.Release()
		nativebridge.Logger().Debug("event for unrouted callback id dropped",
			zap.Int32("callback_id", callbackID))
		return
	}

	reg.d.Post(func() {
		defer e.Release()
		// Re-check: Unregister may have won between lookup and drain.
		if _, live := reg.lookup(callbackID); !live {
			return
		}
		if err := r.handler(e); err != nil {
			capture.LogOnly(errors.CallbackFault(e.Kind.String(), err))
		}
	})
}

// OnTransaction is the trampoline target for synchronous transaction
// callbacks. The native caller blocks until the owning goroutine executes
// the managed transaction function and the result slot is filled.
func (reg *Registry) OnTransaction(callbackID int32, req native.TxRequest) native.TxResult {
	r, ok := reg.lookup(callbackID)
	if !ok || r.tx == nil {
		return native.TxResult{Abort: true}
	}

	result, err := dispatch.Run(reg.d, func() (native.TxResult, error) {
		return r.tx(req), nil
	})
	if err != nil {
		// Dispatcher shut down while the native thread was blocked.
		return native.TxResult{Abort: true}
	}
	return result
}

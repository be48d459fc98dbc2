package fake

import (
	"fmt"
	"sync"
	"time"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/errors"
	"github.com/omnisdk/native-bridge/native"
)

// Ops understood by the fake SDK, aliased from the shared ABI names.
const (
	OpGetBytes       = native.OpStorageGetBytes
	OpPutBytes       = native.OpStoragePutBytes
	OpGetValue       = native.OpDatabaseGetValue
	OpSetValue       = native.OpDatabaseSetValue
	OpRunTransaction = native.OpDatabaseRunTransaction
)

// Native-style error codes reported through future results.
const (
	CodeNotFound  int32 = 13
	CodeCancelled int32 = 20
	CodeAborted   int32 = 21
	CodeConflict  int32 = 22
)

type instanceState struct {
	module    string
	key       string
	objects   map[string]any
	listeners map[int32]nativebridge.EventKind
}

type futureState struct {
	status  nativebridge.FutureStatus
	value   any
	code    int32
	message string

	controller nativebridge.Pointer
	paused     bool
	cancelled  bool
	fire       *time.Timer
}

type controllerState struct {
	future nativebridge.FutureHandle
}

// Backend is an in-memory scripted stand-in for the native SDK. Callbacks
// fire from timer and transaction goroutines, which doubles as the
// arbitrary-native-thread behavior the bridge must tolerate.
type Backend struct {
	mu   sync.Mutex
	sink native.Sink

	nextPtr     uintptr
	instances   map[nativebridge.Pointer]*instanceState
	futures     map[nativebridge.FutureHandle]*futureState
	controllers map[nativebridge.Pointer]*controllerState

	transferDelay time.Duration
	txConflicts   int
	createErr     error

	destroyed int
}

var _ native.API = (*Backend)(nil)

// New creates an empty fake SDK.
func New() *Backend {
	return &Backend{
		nextPtr:     0x1000,
		instances:   make(map[nativebridge.Pointer]*instanceState),
		futures:     make(map[nativebridge.FutureHandle]*futureState),
		controllers: make(map[nativebridge.Pointer]*controllerState),
	}
}

// SetTransferDelay makes storage transfers complete asynchronously after d
// instead of immediately, so controllers have a window to pause or cancel.
func (b *Backend) SetTransferDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transferDelay = d
}

// FailCreateInstance makes the next CreateInstance calls fail with err.
func (b *Backend) FailCreateInstance(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createErr = err
}

// SetTxConflicts makes the next n transaction commits fail with a conflict,
// forcing the callback to rerun with an incremented attempt counter.
func (b *Backend) SetTxConflicts(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txConflicts = n
}

// LiveInstances returns the number of native instances not yet destroyed.
func (b *Backend) LiveInstances() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.instances)
}

// DestroyedInstances returns how many instances were destroyed.
func (b *Backend) DestroyedInstances() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

// Object returns the stored object for path on the given instance.
func (b *Backend) Object(p nativebridge.Pointer, path string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inst, ok := b.instances[p]
	if !ok {
		return nil, false
	}
	v, ok := inst.objects[path]
	return v, ok
}

// Seed stores an object directly, bypassing futures.
func (b *Backend) Seed(p nativebridge.Pointer, path string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst, ok := b.instances[p]; ok {
		inst.objects[path] = value
	}
}

// SetSink implements native.API.
func (b *Backend) SetSink(s native.Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = s
}

// CreateInstance implements native.API.
func (b *Backend) CreateInstance(module, key string) (nativebridge.Pointer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.createErr != nil {
		return nativebridge.Null, b.createErr
	}

	p := b.alloc()
	b.instances[p] = &instanceState{
		module:    module,
		key:       key,
		objects:   make(map[string]any),
		listeners: make(map[int32]nativebridge.EventKind),
	}
	return p, nil
}

// DestroyInstance implements native.API.
func (b *Backend) DestroyInstance(p nativebridge.Pointer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.instances[p]; !ok {
		return fmt.Errorf("destroy of unknown instance %#x", uintptr(p))
	}
	delete(b.instances, p)
	b.destroyed++
	return nil
}

// AddListener implements native.API.
func (b *Backend) AddListener(entity nativebridge.Pointer, kind nativebridge.EventKind, callbackID int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.instances[entity]
	if !ok {
		return fmt.Errorf("add listener on unknown instance %#x", uintptr(entity))
	}
	inst.listeners[callbackID] = kind
	return nil
}

// RemoveListener implements native.API.
func (b *Backend) RemoveListener(entity nativebridge.Pointer, callbackID int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.instances[entity]
	if !ok {
		// Entity already destroyed; removal is a no-op, not an error, so
		// dispose ordering between owner and registration stays flexible.
		return nil
	}
	delete(inst.listeners, callbackID)
	return nil
}

// Emit synthesizes a native event for every listener of kind on entity,
// invoked from the caller's goroutine (the simulated native thread).
func (b *Backend) Emit(entity nativebridge.Pointer, kind nativebridge.EventKind, path string, value any) {
	b.mu.Lock()
	sink := b.sink
	var ids []int32
	if inst, ok := b.instances[entity]; ok {
		for id, k := range inst.listeners {
			if k == kind {
				ids = append(ids, id)
			}
		}
	}
	b.mu.Unlock()

	if sink == nil {
		return
	}
	for _, id := range ids {
		sink.OnEvent(id, nativebridge.NewEvent(kind, path, value, nil))
	}
}

// Call implements native.API.
func (b *Backend) Call(entity nativebridge.Pointer, op string, args ...any) (nativebridge.FutureHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.instances[entity]
	if !ok {
		return 0, fmt.Errorf("call %q on unknown instance %#x", op, uintptr(entity))
	}

	f := nativebridge.FutureHandle(b.alloc())
	fs := &futureState{status: nativebridge.FuturePending}
	b.futures[f] = fs

	switch op {
	case OpGetBytes, OpPutBytes:
		ctrl := b.alloc()
		fs.controller = ctrl
		b.controllers[ctrl] = &controllerState{future: f}
		b.scheduleTransfer(inst, f, fs, op, args)

	case OpGetValue:
		path := args[0].(string)
		if v, ok := inst.objects[path]; ok {
			fs.complete(v, 0, "")
		} else {
			fs.complete(nil, CodeNotFound, "no value at "+path)
		}

	case OpSetValue:
		path := args[0].(string)
		inst.objects[path] = args[1]
		fs.complete(nil, 0, "")
		go b.Emit(entity, nativebridge.KindValue, path, args[1])

	case OpRunTransaction:
		path := args[0].(string)
		callbackID := args[1].(int32)
		go b.runTransaction(entity, inst, f, path, callbackID)

	default:
		fs.complete(nil, CodeNotFound, "unknown op "+op)
	}

	return f, nil
}

// scheduleTransfer runs with b.mu held.
func (b *Backend) scheduleTransfer(inst *instanceState, f nativebridge.FutureHandle, fs *futureState, op string, args []any) {
	if b.transferDelay == 0 {
		b.completeTransfer(inst, fs, op, args)
		return
	}
	fs.fire = time.AfterFunc(b.transferDelay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if fs.cancelled || fs.paused {
			return
		}
		b.completeTransfer(inst, fs, op, args)
	})
}

// completeTransfer runs with b.mu held.
func (b *Backend) completeTransfer(inst *instanceState, fs *futureState, op string, args []any) {
	path := args[0].(string)
	switch op {
	case OpGetBytes:
		if v, ok := inst.objects[path]; ok {
			fs.complete(v, 0, "")
		} else {
			fs.complete(nil, CodeNotFound, "no object at "+path)
		}
	case OpPutBytes:
		inst.objects[path] = args[1]
		data, _ := args[1].([]byte)
		fs.complete(int64(len(data)), 0, "")
	}
}

// runTransaction simulates the native optimistic-concurrency loop on its
// own goroutine, blocking on the sink for each attempt.
func (b *Backend) runTransaction(entity nativebridge.Pointer, inst *instanceState, f nativebridge.FutureHandle, path string, callbackID int32) {
	for attempt := int32(0); ; attempt++ {
		b.mu.Lock()
		sink := b.sink
		current := inst.objects[path]
		fs := b.futures[f]
		b.mu.Unlock()

		if sink == nil || fs == nil {
			return
		}

		res := sink.OnTransaction(callbackID, native.TxRequest{
			Entity:  entity,
			Value:   current,
			Attempt: attempt,
		})
		if res.Abort {
			b.mu.Lock()
			fs.complete(nil, CodeAborted, "transaction aborted by callback")
			b.mu.Unlock()
			return
		}

		b.mu.Lock()
		if b.txConflicts > 0 {
			b.txConflicts--
			b.mu.Unlock()
			continue // native side re-runs the callback
		}
		inst.objects[path] = res.Value
		fs.complete(res.Value, 0, "")
		b.mu.Unlock()
		go b.Emit(entity, nativebridge.KindValue, path, res.Value)
		return
	}
}

// PollFuture implements native.API.
func (b *Backend) PollFuture(f nativebridge.FutureHandle) nativebridge.FutureStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	fs, ok := b.futures[f]
	if !ok {
		return nativebridge.FutureInvalid
	}
	return fs.status
}

// FutureResult implements native.API.
func (b *Backend) FutureResult(f nativebridge.FutureHandle) (any, int32, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fs, ok := b.futures[f]
	if !ok {
		return nil, CodeNotFound, "unknown future"
	}
	return fs.value, fs.code, fs.message
}

// ReleaseFuture implements native.API.
func (b *Backend) ReleaseFuture(f nativebridge.FutureHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fs, ok := b.futures[f]; ok {
		if fs.fire != nil {
			fs.fire.Stop()
		}
		if fs.controller != 0 {
			delete(b.controllers, fs.controller)
		}
		delete(b.futures, f)
	}
}

// Controller implements native.API.
func (b *Backend) Controller(f nativebridge.FutureHandle) (nativebridge.Pointer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fs, ok := b.futures[f]
	if !ok || fs.controller == 0 {
		return nativebridge.Null, false
	}
	return fs.controller, true
}

// Pause implements native.API.
func (b *Backend) Pause(controller nativebridge.Pointer) error {
	return b.withTransfer(controller, "Pause", func(fs *futureState) {
		if fs.fire != nil {
			fs.fire.Stop()
		}
		fs.paused = true
	})
}

// Resume implements native.API.
func (b *Backend) Resume(controller nativebridge.Pointer) error {
	return b.withTransfer(controller, "Resume", func(fs *futureState) {
		fs.paused = false
		// The fake does not restart the timer; resumed transfers stay
		// pending until cancelled or re-scheduled by a new call. Enough
		// for exercising the cooperative contract.
	})
}

// Cancel implements native.API. Cancellation is cooperative: it flags the
// transfer and completes its future with a cancelled code; it never
// force-unblocks managed waiters.
func (b *Backend) Cancel(controller nativebridge.Pointer) error {
	return b.withTransfer(controller, "Cancel", func(fs *futureState) {
		if fs.fire != nil {
			fs.fire.Stop()
		}
		fs.cancelled = true
		if fs.status == nativebridge.FuturePending {
			fs.complete(nil, CodeCancelled, "transfer cancelled")
		}
	})
}

func (b *Backend) withTransfer(controller nativebridge.Pointer, op string, fn func(*futureState)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cs, ok := b.controllers[controller]
	if !ok {
		return errors.NotFound(errors.PhaseNative, "controller", fmt.Sprintf("%#x", uintptr(controller)))
	}
	fs, ok := b.futures[cs.future]
	if !ok {
		return errors.NotFound(errors.PhaseNative, "future for controller op", op)
	}
	fn(fs)
	return nil
}

// alloc runs with b.mu held.
func (b *Backend) alloc() nativebridge.Pointer {
	b.nextPtr += 0x10
	return nativebridge.Pointer(b.nextPtr)
}

func (fs *futureState) complete(value any, code int32, message string) {
	if fs.status != nativebridge.FuturePending {
		return
	}
	fs.status = nativebridge.FutureComplete
	fs.value = value
	fs.code = code
	fs.message = message
}

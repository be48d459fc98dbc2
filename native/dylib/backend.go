//go:build !ios && !android && (amd64 || arm64)

package dylib

import (
	"fmt"
	"sync"
	"sync/atomic"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/errors"
	"github.com/omnisdk/native-bridge/native"
	"github.com/omnisdk/native-bridge/native/codec"
)

// activeBackend is the backend the static trampolines forward to. The shim
// is process-global, so at most one dylib backend is live at a time.
var activeBackend atomic.Pointer[Backend]

// Backend implements the native ABI through the loaded shim library.
type Backend struct {
	mu   sync.RWMutex
	sink native.Sink
}

var _ native.API = (*Backend)(nil)

// New loads the shim (path may be empty to search) and returns the
// backend. A second live backend is rejected; trampolines can only route
// to one.
func New(path string) (*Backend, error) {
	if err := Load(path); err != nil {
		return nil, errors.New(errors.PhaseNative, errors.KindNativeFailure).
			Op("Load").
			Cause(err).
			Build()
	}
	b := &Backend{}
	if !activeBackend.CompareAndSwap(nil, b) {
		return nil, errors.AlreadyInstalled("dylib backend")
	}
	return b, nil
}

// Close detaches the backend from the trampolines. The shim library stays
// loaded.
func (b *Backend) Close() {
	activeBackend.CompareAndSwap(b, nil)
}

// SetSink implements native.API.
func (b *Backend) SetSink(s native.Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = s
}

func (b *Backend) currentSink() native.Sink {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sink
}

// CreateInstance implements native.API.
func (b *Backend) CreateInstance(module, key string) (nativebridge.Pointer, error) {
	p := nbCreateInstance(module, key)
	if p == 0 {
		return nativebridge.Null, errors.New(errors.PhaseAcquire, errors.KindNativeFailure).
			Entity(module + "/" + key).
			Op("CreateInstance").
			Detail("%s", lastError()).
			Build()
	}
	return nativebridge.Pointer(p), nil
}

// DestroyInstance implements native.API.
func (b *Backend) DestroyInstance(p nativebridge.Pointer) error {
	return rcErr("DestroyInstance", nbDestroyInstance(uintptr(p)))
}

// AddListener implements native.API.
func (b *Backend) AddListener(entity nativebridge.Pointer, kind nativebridge.EventKind, callbackID int32) error {
	return rcErr("AddListener", nbAddListener(uintptr(entity), int32(kind), callbackID))
}

// RemoveListener implements native.API.
func (b *Backend) RemoveListener(entity nativebridge.Pointer, callbackID int32) error {
	return rcErr("RemoveListener", nbRemoveListener(uintptr(entity), callbackID))
}

// Call implements native.API.
func (b *Backend) Call(entity nativebridge.Pointer, op string, args ...any) (nativebridge.FutureHandle, error) {
	argsJSON, err := codec.MarshalArgs(args)
	if err != nil {
		return 0, err
	}
	f := nbCall(uintptr(entity), op, argsJSON)
	if f == 0 {
		return 0, errors.New(errors.PhaseNative, errors.KindNativeFailure).
			Op(op).
			Detail("%s", lastError()).
			Build()
	}
	return nativebridge.FutureHandle(f), nil
}

// PollFuture implements native.API.
func (b *Backend) PollFuture(f nativebridge.FutureHandle) nativebridge.FutureStatus {
	switch nbFutureStatus(uintptr(f)) {
	case 0:
		return nativebridge.FuturePending
	case 1:
		return nativebridge.FutureComplete
	default:
		return nativebridge.FutureInvalid
	}
}

// FutureResult implements native.API.
func (b *Backend) FutureResult(f nativebridge.FutureHandle) (any, int32, string) {
	code := nbFutureCode(uintptr(f))
	if code != 0 {
		return nil, code, goString(nbFutureMessage(uintptr(f)))
	}
	v, err := codec.Unmarshal(goString(nbFutureValue(uintptr(f))))
	if err != nil {
		return nil, -1, fmt.Sprintf("undecodable future value: %v", err)
	}
	return v, 0, ""
}

// ReleaseFuture implements native.API.
func (b *Backend) ReleaseFuture(f nativebridge.FutureHandle) {
	nbFutureRelease(uintptr(f))
}

// Controller implements native.API.
func (b *Backend) Controller(f nativebridge.FutureHandle) (nativebridge.Pointer, bool) {
	c := nbTransferController(uintptr(f))
	return nativebridge.Pointer(c), c != 0
}

// Pause implements native.API.
func (b *Backend) Pause(controller nativebridge.Pointer) error {
	return rcErr("Pause", nbTransferPause(uintptr(controller)))
}

// Resume implements native.API.
func (b *Backend) Resume(controller nativebridge.Pointer) error {
	return rcErr("Resume", nbTransferResume(uintptr(controller)))
}

// Cancel implements native.API.
func (b *Backend) Cancel(controller nativebridge.Pointer) error {
	return rcErr("Cancel", nbTransferCancel(uintptr(controller)))
}

// dispatchEvent forwards one event trampoline invocation to the sink. The
// payload handle owns the native copy of the snapshot; the Event's release
// hook frees it exactly once.
func (b *Backend) dispatchEvent(callbackID int32, kind nativebridge.EventKind, path, valueJSON string, payload uintptr) {
	release := func() {}
	if payload != 0 {
		release = func() { nbPayloadRelease(payload) }
	}

	value, err := codec.Unmarshal(valueJSON)
	if err != nil {
		nativebridge.Logger().Sugar().Warnw("dropping undecodable event payload",
			"callback_id", callbackID, "error", err)
		release()
		return
	}

	sink := b.currentSink()
	if sink == nil {
		release()
		return
	}
	sink.OnEvent(callbackID, nativebridge.NewEvent(kind, path, value, release))
}

// dispatchTransaction answers a blocking transaction callback. The native
// thread stays inside the trampoline until nb_transaction_result is
// called, so the sink's synchronous contract holds across the ABI.
func (b *Backend) dispatchTransaction(callbackID int32, token, entity uintptr, valueJSON string, attempt int32) {
	sink := b.currentSink()
	if sink == nil {
		nbTransactionResult(token, 1, "")
		return
	}

	value, err := codec.Unmarshal(valueJSON)
	if err != nil {
		nativebridge.Logger().Sugar().Warnw("aborting transaction with undecodable value",
			"callback_id", callbackID, "error", err)
		nbTransactionResult(token, 1, "")
		return
	}

	res := sink.OnTransaction(callbackID, native.TxRequest{
		Entity:  nativebridge.Pointer(entity),
		Value:   value,
		Attempt: attempt,
	})
	if res.Abort {
		nbTransactionResult(token, 1, "")
		return
	}

	raw, err := codec.MarshalValue(res.Value)
	if err != nil {
		nbTransactionResult(token, 1, "")
		return
	}
	nbTransactionResult(token, 0, raw)
}

func rcErr(op string, rc int32) error {
	if rc == 0 {
		return nil
	}
	return errors.NativeFailure(op, rc, lastError())
}

package wasmsdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/errors"
	"github.com/omnisdk/native-bridge/native"
	"github.com/omnisdk/native-bridge/native/codec"
)

// DefaultPumpInterval is how often the guest is given a chance to run
// timers and transaction loops.
const DefaultPumpInterval = 10 * time.Millisecond

// Option configures the backend.
type Option func(*Backend)

// WithPumpInterval overrides the guest pump interval.
func WithPumpInterval(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.pumpEvery = d
		}
	}
}

// Backend implements the native ABI against a wasm-compiled SDK.
//
// While a transaction may be in flight, the dispatcher's owning goroutine
// must keep draining and must not issue blocking Backend calls: the pump
// holds the guest call mutex while run_transaction waits for that
// goroutine to execute the transaction body, so a Backend call from it
// would deadlock against the pump.
type Backend struct {
	ctx context.Context
	rt  wazero.Runtime
	mod api.Module

	// callMu serializes guest entries. Host functions run inside a guest
	// call with callMu held and must call the guest lock-free.
	callMu sync.Mutex

	sinkMu sync.RWMutex
	sink   native.Sink

	// Payload handles whose Event was released outside a guest call. The
	// pump frees them on its next pass; freeing directly would need
	// callMu, which the releasing goroutine may already be inside of.
	relMu      sync.Mutex
	pendingRel []uint64

	pumpEvery time.Duration
	pumpStop  chan struct{}
	pumpDone  chan struct{}

	fnAlloc              api.Function
	fnFree               api.Function
	fnCreateInstance     api.Function
	fnDestroyInstance    api.Function
	fnLastError          api.Function
	fnAddListener        api.Function
	fnRemoveListener     api.Function
	fnCall               api.Function
	fnFutureStatus       api.Function
	fnFutureValue        api.Function
	fnFutureCode         api.Function
	fnFutureMessage      api.Function
	fnFutureRelease      api.Function
	fnTransferController api.Function
	fnTransferPause      api.Function
	fnTransferResume     api.Function
	fnTransferCancel     api.Function
	fnPayloadRelease     api.Function
	fnTransactionResult  api.Function
	fnPump               api.Function
}

var _ native.API = (*Backend)(nil)

// New instantiates the SDK module and starts the pump.
func New(ctx context.Context, wasmBytes []byte, opts ...Option) (*Backend, error) {
	b := &Backend{
		ctx:       ctx,
		pumpEvery: DefaultPumpInterval,
		pumpStop:  make(chan struct{}),
		pumpDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.rt = wazero.NewRuntime(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, b.rt); err != nil {
		b.rt.Close(ctx)
		return nil, loadErr("instantiate wasi", err)
	}
	if err := b.instantiateHostModule(ctx); err != nil {
		b.rt.Close(ctx)
		return nil, err
	}

	mod, err := b.rt.Instantiate(ctx, wasmBytes)
	if err != nil {
		b.rt.Close(ctx)
		return nil, loadErr("instantiate sdk module", err)
	}
	b.mod = mod

	if err := b.resolveExports(); err != nil {
		b.rt.Close(ctx)
		return nil, err
	}

	go b.pump()
	return b, nil
}

// Close stops the pump and releases the wazero runtime.
func (b *Backend) Close() error {
	close(b.pumpStop)
	<-b.pumpDone
	return b.rt.Close(b.ctx)
}

func (b *Backend) instantiateHostModule(ctx context.Context) error {
	_, err := b.rt.NewHostModuleBuilder("omnibridge").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, callbackID, kind int32, pathPtr, pathLen, valPtr, valLen uint32, payload uint64) {
			b.hostEmitEvent(mod, callbackID, nativebridge.EventKind(kind), pathPtr, pathLen, valPtr, valLen, payload)
		}).
		Export("emit_event").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, callbackID int32, token, entity uint64, valPtr, valLen uint32, attempt int32) {
			b.hostRunTransaction(ctx, mod, callbackID, token, entity, valPtr, valLen, attempt)
		}).
		Export("run_transaction").
		Instantiate(ctx)
	if err != nil {
		return loadErr("instantiate host module", err)
	}
	return nil
}

func (b *Backend) resolveExports() error {
	resolve := func(name string) (api.Function, error) {
		fn := b.mod.ExportedFunction(name)
		if fn == nil {
			return nil, loadErr("resolve exports", fmt.Errorf("missing export %q", name))
		}
		return fn, nil
	}

	var err error
	for _, bind := range []struct {
		dst  *api.Function
		name string
	}{
		{&b.fnAlloc, "nb_alloc"},
		{&b.fnFree, "nb_free"},
		{&b.fnCreateInstance, "nb_create_instance"},
		{&b.fnDestroyInstance, "nb_destroy_instance"},
		{&b.fnLastError, "nb_last_error"},
		{&b.fnAddListener, "nb_add_listener"},
		{&b.fnRemoveListener, "nb_remove_listener"},
		{&b.fnCall, "nb_call"},
		{&b.fnFutureStatus, "nb_future_status"},
		{&b.fnFutureValue, "nb_future_value"},
		{&b.fnFutureCode, "nb_future_code"},
		{&b.fnFutureMessage, "nb_future_message"},
		{&b.fnFutureRelease, "nb_future_release"},
		{&b.fnTransferController, "nb_transfer_controller"},
		{&b.fnTransferPause, "nb_transfer_pause"},
		{&b.fnTransferResume, "nb_transfer_resume"},
		{&b.fnTransferCancel, "nb_transfer_cancel"},
		{&b.fnPayloadRelease, "nb_payload_release"},
		{&b.fnTransactionResult, "nb_transaction_result"},
		{&b.fnPump, "nb_pump"},
	} {
		if *bind.dst, err = resolve(bind.name); err != nil {
			return err
		}
	}
	return nil
}

// pump drives the guest's internal loops until Close.
func (b *Backend) pump() {
	defer close(b.pumpDone)

	tick := time.NewTicker(b.pumpEvery)
	defer tick.Stop()

	for {
		select {
		case <-b.pumpStop:
			return
		case <-tick.C:
			b.relMu.Lock()
			toFree := b.pendingRel
			b.pendingRel = nil
			b.relMu.Unlock()

			b.callMu.Lock()
			for _, p := range toFree {
				releaseInline(b, p)
			}
			_, err := b.fnPump.Call(b.ctx)
			b.callMu.Unlock()
			if err != nil {
				nativebridge.Logger().Sugar().Warnw("guest pump failed", "error", err)
				return
			}
		}
	}
}

// SetSink implements native.API.
func (b *Backend) SetSink(s native.Sink) {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()
	b.sink = s
}

func (b *Backend) currentSink() native.Sink {
	b.sinkMu.RLock()
	defer b.sinkMu.RUnlock()
	return b.sink
}

// CreateInstance implements native.API.
func (b *Backend) CreateInstance(module, key string) (nativebridge.Pointer, error) {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	modPtr, modLen, err := b.writeString(module)
	if err != nil {
		return nativebridge.Null, err
	}
	defer b.freeGuest(modPtr, modLen)
	keyPtr, keyLen, err := b.writeString(key)
	if err != nil {
		return nativebridge.Null, err
	}
	defer b.freeGuest(keyPtr, keyLen)

	res, err := b.fnCreateInstance.Call(b.ctx,
		uint64(modPtr), uint64(modLen), uint64(keyPtr), uint64(keyLen))
	if err != nil {
		return nativebridge.Null, callErr("CreateInstance", err)
	}
	if res[0] == 0 {
		return nativebridge.Null, errors.New(errors.PhaseAcquire, errors.KindNativeFailure).
			Entity(module + "/" + key).
			Op("CreateInstance").
			Detail("%s", b.lastErrorLocked()).
			Build()
	}
	return nativebridge.Pointer(res[0]), nil
}

// DestroyInstance implements native.API.
func (b *Backend) DestroyInstance(p nativebridge.Pointer) error {
	return b.rcCall("DestroyInstance", b.fnDestroyInstance, uint64(p))
}

// AddListener implements native.API.
func (b *Backend) AddListener(entity nativebridge.Pointer, kind nativebridge.EventKind, callbackID int32) error {
	return b.rcCall("AddListener", b.fnAddListener,
		uint64(entity), uint64(uint32(kind)), uint64(uint32(callbackID)))
}

// RemoveListener implements native.API.
func (b *Backend) RemoveListener(entity nativebridge.Pointer, callbackID int32) error {
	return b.rcCall("RemoveListener", b.fnRemoveListener,
		uint64(entity), uint64(uint32(callbackID)))
}

// Call implements native.API.
func (b *Backend) Call(entity nativebridge.Pointer, op string, args ...any) (nativebridge.FutureHandle, error) {
	argsJSON, err := codec.MarshalArgs(args)
	if err != nil {
		return 0, err
	}

	b.callMu.Lock()
	defer b.callMu.Unlock()

	opPtr, opLen, err := b.writeString(op)
	if err != nil {
		return 0, err
	}
	defer b.freeGuest(opPtr, opLen)
	argPtr, argLen, err := b.writeString(argsJSON)
	if err != nil {
		return 0, err
	}
	defer b.freeGuest(argPtr, argLen)

	res, err := b.fnCall.Call(b.ctx,
		uint64(entity), uint64(opPtr), uint64(opLen), uint64(argPtr), uint64(argLen))
	if err != nil {
		return 0, callErr(op, err)
	}
	if res[0] == 0 {
		return 0, errors.New(errors.PhaseNative, errors.KindNativeFailure).
			Op(op).
			Detail("%s", b.lastErrorLocked()).
			Build()
	}
	return nativebridge.FutureHandle(res[0]), nil
}

// PollFuture implements native.API.
func (b *Backend) PollFuture(f nativebridge.FutureHandle) nativebridge.FutureStatus {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	res, err := b.fnFutureStatus.Call(b.ctx, uint64(f))
	if err != nil {
		return nativebridge.FutureInvalid
	}
	switch res[0] {
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
	b.callMu.Lock()
	defer b.callMu.Unlock()

	res, err := b.fnFutureCode.Call(b.ctx, uint64(f))
	if err != nil {
		return nil, -1, fmt.Sprintf("future code: %v", err)
	}
	if code := int32(uint32(res[0])); code != 0 {
		msg, _ := b.readPacked(b.fnFutureMessage, uint64(f))
		return nil, code, msg
	}

	raw, err := b.readPacked(b.fnFutureValue, uint64(f))
	if err != nil {
		return nil, -1, fmt.Sprintf("future value: %v", err)
	}
	v, err := codec.Unmarshal(raw)
	if err != nil {
		return nil, -1, fmt.Sprintf("undecodable future value: %v", err)
	}
	return v, 0, ""
}

// ReleaseFuture implements native.API.
func (b *Backend) ReleaseFuture(f nativebridge.FutureHandle) {
	b.callMu.Lock()
	defer b.callMu.Unlock()
	if _, err := b.fnFutureRelease.Call(b.ctx, uint64(f)); err != nil {
		nativebridge.Logger().Sugar().Warnw("future release failed", "error", err)
	}
}

// Controller implements native.API.
func (b *Backend) Controller(f nativebridge.FutureHandle) (nativebridge.Pointer, bool) {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	res, err := b.fnTransferController.Call(b.ctx, uint64(f))
	if err != nil || res[0] == 0 {
		return nativebridge.Null, false
	}
	return nativebridge.Pointer(res[0]), true
}

// Pause implements native.API.
func (b *Backend) Pause(controller nativebridge.Pointer) error {
	return b.rcCall("Pause", b.fnTransferPause, uint64(controller))
}

// Resume implements native.API.
func (b *Backend) Resume(controller nativebridge.Pointer) error {
	return b.rcCall("Resume", b.fnTransferResume, uint64(controller))
}

// Cancel implements native.API.
func (b *Backend) Cancel(controller nativebridge.Pointer) error {
	return b.rcCall("Cancel", b.fnTransferCancel, uint64(controller))
}

// hostEmitEvent runs inside a guest call; callMu is held by that caller.
func (b *Backend) hostEmitEvent(mod api.Module, callbackID int32, kind nativebridge.EventKind, pathPtr, pathLen, valPtr, valLen uint32, payload uint64) {
	path, okP := readGuestString(mod, pathPtr, pathLen)
	raw, okV := readGuestString(mod, valPtr, valLen)

	release := func() {}
	if payload != 0 {
		release = func() {
			b.relMu.Lock()
			b.pendingRel = append(b.pendingRel, payload)
			b.relMu.Unlock()
		}
	}

	if !okP || !okV {
		nativebridge.Logger().Sugar().Warnw("dropping event with out-of-range payload",
			"callback_id", callbackID)
		releaseInline(b, payload)
		return
	}
	value, err := codec.Unmarshal(raw)
	if err != nil {
		nativebridge.Logger().Sugar().Warnw("dropping undecodable event payload",
			"callback_id", callbackID, "error", err)
		releaseInline(b, payload)
		return
	}

	sink := b.currentSink()
	if sink == nil {
		releaseInline(b, payload)
		return
	}
	sink.OnEvent(callbackID, nativebridge.NewEvent(kind, path, value, release))
}

// releaseInline frees a payload from inside a host function, where callMu
// is already held by the guest call in flight.
func releaseInline(b *Backend, payload uint64) {
	if payload == 0 {
		return
	}
	if _, err := b.fnPayloadRelease.Call(b.ctx, payload); err != nil {
		nativebridge.Logger().Sugar().Warnw("payload release failed", "error", err)
	}
}

// hostRunTransaction runs inside a guest call and answers on the same
// call stack through nb_transaction_result.
func (b *Backend) hostRunTransaction(ctx context.Context, mod api.Module, callbackID int32, token, entity uint64, valPtr, valLen uint32, attempt int32) {
	abortWith := func() {
		if _, err := b.fnTransactionResult.Call(ctx, token, 1, 0, 0); err != nil {
			nativebridge.Logger().Sugar().Warnw("transaction abort failed", "error", err)
		}
	}

	sink := b.currentSink()
	if sink == nil {
		abortWith()
		return
	}

	raw, ok := readGuestString(mod, valPtr, valLen)
	if !ok {
		abortWith()
		return
	}
	value, err := codec.Unmarshal(raw)
	if err != nil {
		abortWith()
		return
	}

	res := sink.OnTransaction(callbackID, native.TxRequest{
		Entity:  nativebridge.Pointer(entity),
		Value:   value,
		Attempt: attempt,
	})
	if res.Abort {
		abortWith()
		return
	}

	out, err := codec.MarshalValue(res.Value)
	if err != nil {
		abortWith()
		return
	}
	outPtr, outLen, err := b.writeString(out)
	if err != nil {
		abortWith()
		return
	}
	if _, err := b.fnTransactionResult.Call(ctx, token, 0, uint64(outPtr), uint64(outLen)); err != nil {
		nativebridge.Logger().Sugar().Warnw("transaction result failed", "error", err)
	}
	// The guest takes ownership of the result buffer.
}

func (b *Backend) rcCall(op string, fn api.Function, params ...uint64) error {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	res, err := fn.Call(b.ctx, params...)
	if err != nil {
		return callErr(op, err)
	}
	if rc := int32(uint32(res[0])); rc != 0 {
		return errors.NativeFailure(op, rc, b.lastErrorLocked())
	}
	return nil
}

func loadErr(op string, cause error) error {
	return errors.New(errors.PhaseNative, errors.KindNativeFailure).
		Op(op).
		Cause(cause).
		Build()
}

func callErr(op string, cause error) error {
	return errors.New(errors.PhaseNative, errors.KindNativeFailure).
		Op(op).
		Cause(cause).
		Detail("guest call trapped").
		Build()
}

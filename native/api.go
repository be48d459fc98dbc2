package native

import (
	nativebridge "github.com/omnisdk/native-bridge"
)

// Operation names the module wrappers issue through Call. These are ABI
// strings, shared verbatim by every backend.
const (
	OpStorageGetBytes        = "storage.get_bytes"
	OpStoragePutBytes        = "storage.put_bytes"
	OpDatabaseGetValue       = "database.get_value"
	OpDatabaseSetValue       = "database.set_value"
	OpDatabaseRunTransaction = "database.run_transaction"
)

// TxRequest carries one synchronous transaction callback from the native
// SDK. Value is a copy of the current state; the native data it came from
// does not outlive the callback.
type TxRequest struct {
	Entity  nativebridge.Pointer
	Value   any
	Attempt int32
}

// TxResult is the same-call-stack answer the native transaction thread
// blocks for.
type TxResult struct {
	Abort bool
	Value any
}

// Sink receives callbacks from a backend. Backends invoke it from their own
// goroutines; implementations must marshal onto the owning goroutine
// themselves (listener.Registry does).
type Sink interface {
	// OnEvent delivers a fire-and-forget listener callback. Implementations
	// must release the event payload when no handler is routed for the id.
	OnEvent(callbackID int32, e *nativebridge.Event)

	// OnTransaction delivers a blocking transaction callback and returns
	// its result synchronously to the native caller.
	OnTransaction(callbackID int32, req TxRequest) TxResult
}

// API is the native SDK ABI. Every call either returns a direct value, an
// opaque pointer, or a future handle the bridge polls. Implementations:
// fake (tests and tooling), dylib (purego), wasmsdk (wazero).
type API interface {
	// SetSink installs the callback sink. Must be called before any
	// listener is registered.
	SetSink(Sink)

	// CreateInstance returns the native singleton for module+key, creating
	// it on first call. Paired with DestroyInstance.
	CreateInstance(module, key string) (nativebridge.Pointer, error)

	// DestroyInstance releases a native instance obtained from
	// CreateInstance.
	DestroyInstance(p nativebridge.Pointer) error

	// AddListener attaches a native listener delivering events for
	// callbackID. The id, not a function value, crosses the boundary; the
	// native side invokes a single statically-known trampoline with it.
	AddListener(entity nativebridge.Pointer, kind nativebridge.EventKind, callbackID int32) error

	// RemoveListener detaches the listener registered under callbackID.
	RemoveListener(entity nativebridge.Pointer, callbackID int32) error

	// Call starts an asynchronous native operation and returns its future.
	Call(entity nativebridge.Pointer, op string, args ...any) (nativebridge.FutureHandle, error)

	// PollFuture reports the completion state of a future.
	PollFuture(f nativebridge.FutureHandle) nativebridge.FutureStatus

	// FutureResult returns the outcome of a complete future: the value on
	// success, or a nonzero code and message on failure.
	FutureResult(f nativebridge.FutureHandle) (value any, code int32, message string)

	// ReleaseFuture frees the native future. Required after FutureResult.
	ReleaseFuture(f nativebridge.FutureHandle)

	// Controller returns the transfer controller for an in-flight future,
	// when the operation supports pause and cancel.
	Controller(f nativebridge.FutureHandle) (nativebridge.Pointer, bool)

	// Pause, Resume and Cancel flag a transfer cooperatively. Cancel does
	// not forcibly unblock in-flight blocking calls.
	Pause(controller nativebridge.Pointer) error
	Resume(controller nativebridge.Pointer) error
	Cancel(controller nativebridge.Pointer) error
}

// Package errors provides structured error types for the native bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind
// (error category). The Error type carries the instance key or proxy entity,
// the attempted operation, the native error code and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseNative, errors.KindNativeFailure).
//		Entity("default/bucket://photos").
//		Op("GetBytes").
//		NativeRC(13).
//		Detail("object not found").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UseAfterDispose("storage.Reference", "PutBytes")
//	err := errors.NativeFailure("CreateInstance", code, msg)
//
// Two Kinds are never returned, only panicked: KindDoubleRelease and
// KindWrongGoroutine mark bugs in the binding layer itself, where
// continuing could corrupt native memory.
//
// All errors implement the standard error interface and support
// errors.Is/As.
package errors

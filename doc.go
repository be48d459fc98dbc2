// Package nativebridge is the Go binding layer for a native SDK reached
// through an in-process ABI: opaque pointers, integer callback ids, and
// pollable futures.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	nativebridge/        Root package with shared ABI types (Pointer, Event)
//	├── instance/        Reference-counted native instance lifetime
//	├── dispatch/        Owning-goroutine work queue and blocking handoff
//	├── capture/         Deferred fault store for native-invoked callbacks
//	├── listener/        Integer-keyed callback routing and event bridge
//	├── proxy/           Disposal protocol for managed wrappers
//	├── native/          ABI interface plus fake, dylib and wasm backends
//	├── app/             Owner object and injected platform services
//	├── storage/         Storage module wrapper (transfers, controllers)
//	├── database/        Database module wrapper (listeners, transactions)
//	└── errors/          Structured error types for debugging
//
// # Threading Model
//
// Native callback goroutines never run managed handlers directly. Every
// callback is routed by integer id through listener.Registry, copied into an
// Event, and queued on a dispatch.Dispatcher that exactly one goroutine
// drains. Faults raised inside handlers are captured per goroutine and
// either re-surfaced at a drain point or logged, so nothing ever unwinds
// across the native boundary.
//
// # Lifetime Model
//
// Native objects are shared between managed proxies through
// instance.Manager, a reference-counted table keyed by instance key
// (app name plus module parameters). Proxies follow the proxy.Base disposal
// protocol: Dispose releases the reference, nulls the pointer and disarms
// the finalizer safety net; any later call fails fast with a
// use-after-dispose error.
//
// # Quick Start
//
//	be := fake.New()
//	a, err := app.New(app.Config{Name: "default"}, be)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Dispose()
//
//	st, err := storage.GetInstance(a, "bucket://photos")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	get, err := st.Reference("pic.png").GetBytes(1 << 20)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for !get.Task().Done() {
//	    a.Dispatcher().Drain() // tie to the host loop tick
//	}
package nativebridge

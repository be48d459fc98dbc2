// Package capture defers faults raised inside native-invoked callbacks.
//
// Native callback ABI conventions assume the callee returns normally. A Go
// panic (or error treated as control flow) unwinding through a native stack
// frame corrupts the caller's assumptions, so every managed function that
// native code can invoke is wrapped:
//
//	store.Capture(func() error {
//	    return userHandler(event)
//	})
//
// Faults accumulate per goroutine and are re-surfaced later at a point the
// host controls, typically the dispatcher's drain loop:
//
//	if err := store.Drain(); err != nil {
//	    capture.LogOnly(err)
//	}
//
// Goroutine identity comes from github.com/petermattis/goid, which gives the
// store the thread-local shape the deferral protocol needs without handing
// goroutine-locals to user code.
package capture

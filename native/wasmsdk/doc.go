// Package wasmsdk implements the native ABI against an SDK compiled to
// WebAssembly and run in-process with wazero.
//
// The guest module exports the same flat surface the shared-library shim
// does: instance create/destroy, listener attach by integer callback id,
// op calls returning future handles, and future polling. Strings cross
// as (pointer, length) pairs in guest memory, allocated through the
// guest's nb_alloc export; guest-returned strings come back packed in a
// single u64.
//
// Callbacks arrive through a host module named "omnibridge". A guest has
// no threads of its own, so a pump goroutine periodically calls the
// guest's nb_pump export to let timers and transaction loops make
// progress; emit_event and run_transaction host functions fire from
// inside those guest calls. The transaction host function blocks the
// pump until the managed side answers, then writes the result back into
// guest memory on the same call stack.
//
// A wazero module is not safe for concurrent invocation, so one mutex
// serializes every guest entry. Host functions run while that mutex is
// already held by the invoking guest call and must not take it again.
// The same rule reaches the dispatcher's owning goroutine: while a
// transaction may be in flight it must keep draining rather than issue
// blocking backend calls, since the pump holds the mutex until the
// transaction body has run.
package wasmsdk

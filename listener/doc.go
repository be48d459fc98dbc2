// Package listener bridges native callbacks into managed event handlers.
//
// Some target runtimes forbid passing closures or instance-bound function
// values across the native boundary; only a static trampoline is legal.
// The bridge therefore hands the native side an integer callback id and
// keeps the id-to-handler association in a process-wide Registry. The
// backend's trampoline calls Registry.OnEvent / Registry.OnTransaction with
// the id, on whatever goroutine the SDK delivers callbacks.
//
// Fire-and-forget events are queued on the dispatcher and run on the owning
// goroutine; handler faults are logged and never abort the drain or reach
// native code. Transaction callbacks are synchronous: the native thread
// blocks inside OnTransaction until the owning goroutine's drain executes
// the managed transaction function, because the native API contract needs a
// same-call-stack answer.
//
// Ids increase monotonically and are never reused, so an id still in flight
// on a native thread after Unregister can only miss the table — in which
// case the event payload is released and nothing fires.
package listener

// Package dispatch marshals work from native callback goroutines onto the
// single goroutine that owns the bridge.
//
// A Dispatcher is bound to the goroutine that calls New. Producers on any
// goroutine submit closures; the owner executes them in FIFO order by
// calling Drain, typically once per host loop tick:
//
//	d := dispatch.New()
//	go nativeThings(d)
//	for running {
//	    if err := d.Drain(); err != nil {
//	        capture.LogOnly(err)
//	    }
//	}
//
// Three submission modes exist:
//
//   - Post: fire-and-forget, used by the listener bridge.
//   - Run: blocks the producer until the owner executes the entry and
//     returns the result; required for native APIs that demand a
//     same-call-stack answer (transaction callbacks).
//   - RunDeferred: returns a Task that completes at a later drain.
//
// Ordering is FIFO per producer goroutine. No total order across producers
// is promised beyond the order their enqueues win the queue lock.
//
// Drain panics when called off the owning goroutine: that is a bug in the
// embedding, not a runtime condition.
package dispatch

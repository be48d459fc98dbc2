// Package proxy implements the disposal protocol for managed wrappers over
// native instances.
//
// A wrapper's lifecycle is Live -> Disposing -> Disposed. Dispose removes
// the wrapper from the instance manager's proxy table, unsubscribes from
// the owner's cleanup notifier, releases the instance reference and nulls
// the native pointer, exactly once. Any public call
// after disposal fails fast through Base.Ptr with a use-after-dispose
// error; a silent no-op would mask use-after-free bugs that corrupt native
// memory.
//
// Finalizers are a safety net, never the primary mechanism: an undisposed
// wrapper collected by the GC gets a logged warning and the same teardown.
package proxy

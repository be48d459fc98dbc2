// Package app ties the bridge together: one App per native app instance,
// owning the dispatcher, the instance manager, the callback registry and
// the cleanup notifier.
//
// Platform services (clock, logger) are injected through Config rather
// than read from globals. One narrow process-wide default exists for
// bootstrapping: a stub Services installed at init and replaced exactly
// once by SetDefault during startup. Constructing an app with explicit
// Services bypasses the default entirely.
package app

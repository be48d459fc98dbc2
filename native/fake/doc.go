// Package fake is an in-memory scripted implementation of native.API.
//
// It exists for two consumers: the test suites, which need deterministic
// native behavior (injectable create failures, transaction conflicts,
// delayed transfers), and cmd/bridgeview, which needs a live SDK to inspect
// without loading a real library.
//
// Callbacks deliberately fire from timer and transaction goroutines so the
// bridge is exercised with genuinely foreign calling goroutines, the same
// shape a real SDK's worker threads produce.
package fake

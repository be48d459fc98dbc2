// Package native defines the ABI boundary with the native SDK.
//
// The SDK is a collaborator, not part of this module: queries, retries and
// persistence happen on its side. The bridge reaches it exclusively through
// the API interface — opaque pointers in, opaque pointers and pollable
// future handles out — and receives callbacks through a Sink keyed by
// integer callback id.
//
// Three backends implement API:
//
//   - fake: scripted in-memory backend for tests and the inspection tool.
//   - dylib: loads the SDK shared library with purego; a single static
//     trampoline created by purego.NewCallback forwards (id, payload)
//     into the sink, because closures cannot cross the boundary.
//   - wasmsdk: runs an SDK build compiled to WebAssembly under wazero;
//     host functions are the trampolines.
//
// Bridge converts a native future handle into a dispatch.Task, polling on a
// background goroutine and completing the task through the dispatcher so
// user continuations run on the owning goroutine.
package native

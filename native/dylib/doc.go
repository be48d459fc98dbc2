// Package dylib implements the native ABI over a shared library loaded
// with purego.
//
// The shim library exports a flat C surface: instance create/destroy,
// listener attach by integer callback id, op calls returning future
// handles, and future polling. Values cross the boundary as typed JSON
// envelopes so 64-bit integers and byte payloads survive the trip.
//
// Callbacks never cross as Go function pointers. Load registers two
// static trampolines once, created with purego.NewCallback; the native
// side invokes them with an integer callback id and the backend forwards
// to the installed Sink. The transaction trampoline answers on the same
// call stack by calling back into the library before it returns, which
// keeps the native transaction thread blocked exactly as long as the
// managed side takes to produce a result.
package dylib

// Package instance provides reference-counted lifetime management for
// native SDK objects shared between managed proxies.
//
// The native SDK hands out one object per instance key (for example one
// storage instance per app and bucket URL). Several managed wrappers may
// resolve to the same key; the Manager keeps one counted table entry per
// key and destroys the native object exactly once, when the last reference
// is released:
//
//	m := instance.NewManager(api.DestroyInstance)
//
//	h, err := m.Acquire("default/bucket://photos", func() (nativebridge.Pointer, error) {
//	    return api.CreateInstance("storage", "bucket://photos")
//	})
//	...
//	m.Release(h) // destructor fires when the count reaches zero
//
// Releasing past zero panics: a double release means some owner upstream
// already gave up a reference it did not hold, and continuing would free
// native memory still in use.
package instance

package storage

import (
	"context"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/app"
	"github.com/omnisdk/native-bridge/dispatch"
	"github.com/omnisdk/native-bridge/errors"
	"github.com/omnisdk/native-bridge/native"
	"github.com/omnisdk/native-bridge/proxy"
)

// Storage is the managed wrapper over one native storage instance,
// singleton per app and bucket URL.
type Storage struct {
	base *proxy.Base
	app  *app.App
	url  string
}

// GetInstance returns the storage instance for url under a, reusing the
// existing wrapper when one is live for the same app+URL key.
func GetInstance(a *app.App, url string) (*Storage, error) {
	if url == "" {
		return nil, errors.InvalidInput(errors.PhaseAcquire, "storage URL is required")
	}
	if _, err := a.Ptr(); err != nil {
		return nil, err
	}

	key := "storage/" + a.Name() + "/" + url
	mgr := a.Instances()

	if p, ok := mgr.LookupProxy(key); ok {
		return p.(*Storage), nil
	}

	h, err := mgr.Acquire(key, func() (nativebridge.Pointer, error) {
		return a.API().CreateInstance("storage", url)
	})
	if err != nil {
		return nil, err
	}

	s := &Storage{
		base: proxy.NewBase("storage.Storage", mgr, h),
		app:  a,
		url:  url,
	}
	mgr.StoreProxy(key, s)
	s.base.AttachCleanup(a.Cleanup())
	s.base.ArmFinalizer(s)
	return s, nil
}

// URL returns the bucket URL this instance was created for.
func (s *Storage) URL() string { return s.url }

// App returns the owning app.
func (s *Storage) App() *app.App { return s.app }

// Dispose releases the wrapper's reference on the native instance. The
// native object is destroyed when the last wrapper for this key releases.
func (s *Storage) Dispose() { s.base.Dispose() }

// Reference returns a reference to an object path in the bucket.
// References are lightweight values guarded by their parent's lifetime.
func (s *Storage) Reference(path string) *Reference {
	return &Reference{storage: s, path: path}
}

// Reference addresses one object in a storage bucket.
type Reference struct {
	storage *Storage
	path    string
}

// Path returns the object path.
func (r *Reference) Path() string { return r.path }

// GetBytes downloads the object, up to maxSize bytes. The returned
// transfer completes through the app's dispatcher.
func (r *Reference) GetBytes(maxSize int64) (*Transfer[[]byte], error) {
	return startTransfer[[]byte](r, "GetBytes", native.OpStorageGetBytes, r.path, maxSize)
}

// PutBytes uploads data to the object and reports the stored size.
func (r *Reference) PutBytes(data []byte) (*Transfer[int64], error) {
	return startTransfer[int64](r, "PutBytes", native.OpStoragePutBytes, r.path, data)
}

func startTransfer[T any](r *Reference, opName, op string, args ...any) (*Transfer[T], error) {
	ptr, err := r.storage.base.Ptr(opName)
	if err != nil {
		return nil, err
	}

	api := r.storage.app.API()
	f, err := api.Call(ptr, op, args...)
	if err != nil {
		return nil, errors.New(errors.PhaseNative, errors.KindNativeFailure).
			Op(opName).
			Cause(err).
			Build()
	}

	t := &Transfer[T]{
		task: native.Bridge[T](api, r.storage.app.Dispatcher(), opName, f),
		api:  api,
	}
	if ctrl, ok := api.Controller(f); ok {
		t.ctrl = ctrl
		t.hasCtrl = true
	}
	return t, nil
}

// Transfer is an in-flight storage operation: a task for the result plus
// the native controller for cooperative pause and cancel.
type Transfer[T any] struct {
	task    *dispatch.Task[T]
	api     native.API
	ctrl    nativebridge.Pointer
	hasCtrl bool
}

// Task returns the transfer's completion task.
func (t *Transfer[T]) Task() *dispatch.Task[T] { return t.task }

// Pause flags the native transfer to stop moving data.
func (t *Transfer[T]) Pause() error { return t.control("Pause", t.api.Pause) }

// Resume clears a pause flag.
func (t *Transfer[T]) Resume() error { return t.control("Resume", t.api.Resume) }

// Cancel flags the native transfer to stop. Cancellation is cooperative:
// the transfer's task completes with a cancelled failure once the native
// side observes the flag; nothing is forcibly unblocked.
func (t *Transfer[T]) Cancel() error { return t.control("Cancel", t.api.Cancel) }

func (t *Transfer[T]) control(op string, fn func(nativebridge.Pointer) error) error {
	if !t.hasCtrl {
		return errors.New(errors.PhaseNative, errors.KindInvalidInput).
			Op(op).
			Detail("operation has no transfer controller").
			Build()
	}
	return fn(t.ctrl)
}

// BindContext cancels the transfer when ctx is done. This is the
// integration point for token-style cancellation: the context callback
// calls the native cancel entry point rather than expecting any blocking
// call to return early.
func (t *Transfer[T]) BindContext(ctx context.Context) {
	if !t.hasCtrl {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			t.Cancel()
		case <-t.task.C():
		}
	}()
}

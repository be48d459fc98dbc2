package database

import (
	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/app"
	"github.com/omnisdk/native-bridge/dispatch"
	"github.com/omnisdk/native-bridge/errors"
	"github.com/omnisdk/native-bridge/listener"
	"github.com/omnisdk/native-bridge/native"
	"github.com/omnisdk/native-bridge/proxy"
)

// Database is the managed wrapper over one native realtime-database
// instance, singleton per app and database URL.
type Database struct {
	base *proxy.Base
	app  *app.App
	url  string
}

// GetInstance returns the database instance for url under a, reusing the
// existing wrapper when one is live for the same app+URL key.
func GetInstance(a *app.App, url string) (*Database, error) {
	if url == "" {
		return nil, errors.InvalidInput(errors.PhaseAcquire, "database URL is required")
	}
	if _, err := a.Ptr(); err != nil {
		return nil, err
	}

	key := "database/" + a.Name() + "/" + url
	mgr := a.Instances()

	if p, ok := mgr.LookupProxy(key); ok {
		return p.(*Database), nil
	}

	h, err := mgr.Acquire(key, func() (nativebridge.Pointer, error) {
		return a.API().CreateInstance("database", url)
	})
	if err != nil {
		return nil, err
	}

	db := &Database{
		base: proxy.NewBase("database.Database", mgr, h),
		app:  a,
		url:  url,
	}
	mgr.StoreProxy(key, db)
	db.base.AttachCleanup(a.Cleanup())
	db.base.ArmFinalizer(db)
	return db, nil
}

// URL returns the database URL this instance was created for.
func (db *Database) URL() string { return db.url }

// App returns the owning app.
func (db *Database) App() *app.App { return db.app }

// Dispose releases the wrapper's reference on the native instance.
func (db *Database) Dispose() { db.base.Dispose() }

// Ref returns a reference to a location in the database. References are
// lightweight values guarded by their parent's lifetime.
func (db *Database) Ref(path string) *Ref {
	return &Ref{db: db, path: path}
}

// Ref addresses one location in the database tree.
type Ref struct {
	db   *Database
	path string
}

// Path returns the location path.
func (r *Ref) Path() string { return r.path }

// Child returns a reference to a child location.
func (r *Ref) Child(name string) *Ref {
	return &Ref{db: r.db, path: r.path + "/" + name}
}

// GetValue reads the current value at this location.
func (r *Ref) GetValue() (*dispatch.Task[any], error) {
	return r.call("GetValue", native.OpDatabaseGetValue, r.path)
}

// SetValue writes value at this location. The write's value event reaches
// listeners through the dispatcher like any other.
func (r *Ref) SetValue(value any) (*dispatch.Task[any], error) {
	return r.call("SetValue", native.OpDatabaseSetValue, r.path, value)
}

func (r *Ref) call(opName, op string, args ...any) (*dispatch.Task[any], error) {
	ptr, err := r.db.base.Ptr(opName)
	if err != nil {
		return nil, err
	}
	api := r.db.app.API()
	f, err := api.Call(ptr, op, args...)
	if err != nil {
		return nil, errors.New(errors.PhaseNative, errors.KindNativeFailure).
			Op(opName).
			Cause(err).
			Build()
	}
	return native.Bridge[any](api, r.db.app.Dispatcher(), opName, f), nil
}

// ValueHandler receives snapshot events on the owning goroutine. The event
// payload is valid only for the duration of the call.
type ValueHandler func(e *nativebridge.Event) error

// OnValue registers a handler for value change events at this location.
// The returned registration detaches the native listener when unregistered.
func (r *Ref) OnValue(h ValueHandler) (*listener.Registration, error) {
	return r.listen("OnValue", nativebridge.KindValue, h)
}

// OnChildAdded registers a handler for child-added events.
func (r *Ref) OnChildAdded(h ValueHandler) (*listener.Registration, error) {
	return r.listen("OnChildAdded", nativebridge.KindChildAdded, h)
}

// OnChildChanged registers a handler for child-changed events.
func (r *Ref) OnChildChanged(h ValueHandler) (*listener.Registration, error) {
	return r.listen("OnChildChanged", nativebridge.KindChildChanged, h)
}

// OnChildRemoved registers a handler for child-removed events.
func (r *Ref) OnChildRemoved(h ValueHandler) (*listener.Registration, error) {
	return r.listen("OnChildRemoved", nativebridge.KindChildRemoved, h)
}

func (r *Ref) listen(opName string, kind nativebridge.EventKind, h ValueHandler) (*listener.Registration, error) {
	ptr, err := r.db.base.Ptr(opName)
	if err != nil {
		return nil, err
	}
	return r.db.app.Registry().Register(ptr, r.db.app.API(), kind, listener.Handler(h))
}

// TxFunc is the user's transaction body. It runs on the owning goroutine
// during a drain while a native transaction thread blocks for its result;
// it may run several times when the native side detects conflicts.
type TxFunc func(current any, attempt int32) (newValue any, abort bool)

// RunTransaction runs fn against the value at this location with native
// optimistic concurrency. The returned task completes with the committed
// value, or an aborted failure when fn gives up.
//
// The transaction callback id stays routed until the task completes, so
// native retries keep finding their handler.
func (r *Ref) RunTransaction(fn TxFunc) (*dispatch.Task[any], error) {
	ptr, err := r.db.base.Ptr("RunTransaction")
	if err != nil {
		return nil, err
	}
	api := r.db.app.API()

	reg, err := r.db.app.Registry().RegisterTx(ptr, api, func(req native.TxRequest) native.TxResult {
		v, abort := fn(req.Value, req.Attempt)
		return native.TxResult{Abort: abort, Value: v}
	})
	if err != nil {
		return nil, err
	}

	f, err := api.Call(ptr, native.OpDatabaseRunTransaction, r.path, reg.ID())
	if err != nil {
		reg.Unregister()
		return nil, errors.New(errors.PhaseTransaction, errors.KindNativeFailure).
			Op("RunTransaction").
			Cause(err).
			Build()
	}

	task := native.Bridge[any](api, r.db.app.Dispatcher(), "RunTransaction", f)
	go func() {
		<-task.C()
		reg.Unregister()
	}()
	return task, nil
}

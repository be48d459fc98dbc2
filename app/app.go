package app

import (
	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/dispatch"
	"github.com/omnisdk/native-bridge/errors"
	"github.com/omnisdk/native-bridge/instance"
	"github.com/omnisdk/native-bridge/listener"
	"github.com/omnisdk/native-bridge/native"
	"github.com/omnisdk/native-bridge/proxy"
)

// Config configures an App.
type Config struct {
	// Name identifies the app; it prefixes every module instance key.
	Name string

	// Services supplies platform services; nil uses Default().
	Services *Services

	// DispatchOptions tune the app's dispatcher.
	DispatchOptions []dispatch.Option
}

// App owns the bridge machinery for one native app instance: the
// dispatcher bound to the constructing goroutine, the instance manager,
// the callback registry and the cleanup notifier that tears down module
// wrappers before the app itself goes away.
type App struct {
	base *proxy.Base

	name string
	api  native.API
	svc  *Services

	d        *dispatch.Dispatcher
	mgr      *instance.Manager
	registry *listener.Registry
	notifier *proxy.Notifier
}

// New creates an app over the given backend. The calling goroutine becomes
// the owning goroutine for callback dispatch and must drain the dispatcher
// periodically.
func New(cfg Config, api native.API) (*App, error) {
	if cfg.Name == "" {
		return nil, errors.InvalidInput(errors.PhaseConfig, "app name is required")
	}
	if api == nil {
		return nil, errors.InvalidInput(errors.PhaseConfig, "native API is required")
	}

	svc := cfg.Services
	if svc == nil {
		svc = Default()
	}
	if svc.Logger != nil {
		nativebridge.SetLogger(svc.Logger)
	}

	d := dispatch.New(cfg.DispatchOptions...)
	mgr := instance.NewManager(api.DestroyInstance)
	registry := listener.NewRegistry(d)
	api.SetSink(registry)

	h, err := mgr.Acquire("app/"+cfg.Name, func() (nativebridge.Pointer, error) {
		return api.CreateInstance("app", cfg.Name)
	})
	if err != nil {
		d.Close()
		return nil, err
	}

	a := &App{
		base:     proxy.NewBase("app.App", mgr, h),
		name:     cfg.Name,
		api:      api,
		svc:      svc,
		d:        d,
		mgr:      mgr,
		registry: registry,
		notifier: proxy.NewNotifier(),
	}
	a.base.ArmFinalizer(a)
	return a, nil
}

// Name returns the app name.
func (a *App) Name() string { return a.name }

// API returns the native backend.
func (a *App) API() native.API { return a.api }

// Services returns the injected platform services.
func (a *App) Services() *Services { return a.svc }

// Dispatcher returns the app's dispatcher. The embedding host ties its
// Drain to the main loop tick.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.d }

// Instances returns the app's instance manager.
func (a *App) Instances() *instance.Manager { return a.mgr }

// Registry returns the app's callback registry.
func (a *App) Registry() *listener.Registry { return a.registry }

// Cleanup returns the notifier module wrappers attach to, so disposing the
// app disposes them first.
func (a *App) Cleanup() *proxy.Notifier { return a.notifier }

// Ptr returns the native app pointer, or a use-after-dispose error.
func (a *App) Ptr() (nativebridge.Pointer, error) {
	return a.base.Ptr("Ptr")
}

// Disposed reports whether Dispose has run.
func (a *App) Disposed() bool { return a.base.State() != proxy.Live }

// Dispose tears the app down: dependents first (through the cleanup
// notifier), then the callback routes, the app's own native instance, and
// finally the dispatcher. Idempotent.
func (a *App) Dispose() {
	if a.base.State() != proxy.Live {
		return
	}
	a.notifier.CleanupAll()
	a.registry.Close()
	a.base.Dispose()
	a.d.Close()
}

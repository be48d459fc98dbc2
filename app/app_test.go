package app

import (
	"errors"
	"testing"
	"time"

	bridgeerrors "github.com/omnisdk/native-bridge/errors"
	"github.com/omnisdk/native-bridge/native/fake"
)

func TestNew_RequiresNameAndAPI(t *testing.T) {
	if _, err := New(Config{}, fake.New()); err == nil {
		t.Fatal("empty name must be rejected")
	}
	if _, err := New(Config{Name: "x"}, nil); err == nil {
		t.Fatal("nil API must be rejected")
	}
}

func TestNew_AcquiresAppInstance(t *testing.T) {
	be := fake.New()
	a, err := New(Config{Name: "default"}, be)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Dispose()

	if be.LiveInstances() != 1 {
		t.Fatalf("LiveInstances = %d, want the app instance", be.LiveInstances())
	}
	if p, err := a.Ptr(); err != nil || p.IsNull() {
		t.Fatalf("Ptr = (%#x, %v)", p, err)
	}
}

func TestNew_NativeFailurePropagates(t *testing.T) {
	be := fake.New()
	be.FailCreateInstance(errors.New("sdk not initialized"))

	_, err := New(Config{Name: "default"}, be)
	if err == nil {
		t.Fatal("native create failure must propagate")
	}
	var bridgeErr *bridgeerrors.Error
	if !errors.As(err, &bridgeErr) || bridgeErr.Phase != bridgeerrors.PhaseAcquire {
		t.Fatalf("err = %v", err)
	}
}

func TestDispose_ReleasesAppInstance(t *testing.T) {
	be := fake.New()
	a, err := New(Config{Name: "default"}, be)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a.Dispose()
	a.Dispose() // idempotent

	if be.LiveInstances() != 0 {
		t.Fatalf("LiveInstances = %d after Dispose", be.LiveInstances())
	}
	if be.DestroyedInstances() != 1 {
		t.Fatalf("DestroyedInstances = %d, want 1", be.DestroyedInstances())
	}

	_, err = a.Ptr()
	if !errors.Is(err, bridgeerrors.UseAfterDispose("app.App", "Ptr")) {
		t.Fatalf("post-dispose Ptr = %v", err)
	}
}

func TestDispose_RunsDependentCleanupFirst(t *testing.T) {
	be := fake.New()
	a, err := New(Config{Name: "default"}, be)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var order []string
	a.Cleanup().Subscribe(func() { order = append(order, "dependent") })
	a.Dispose()
	order = append(order, "app")

	if len(order) != 2 || order[0] != "dependent" {
		t.Fatalf("teardown order = %v, dependents must go first", order)
	}
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func TestServices_Injection(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &Services{Clock: fixedClock{at: at}}

	be := fake.New()
	a, err := New(Config{Name: "default", Services: svc}, be)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Dispose()

	if !a.Services().Clock.Now().Equal(at) {
		t.Fatal("injected clock should be used verbatim")
	}
}

func TestSetDefault_OneTimeSwap(t *testing.T) {
	// Default() starts as the boot stub.
	if Default() == nil || Default().Clock == nil {
		t.Fatal("boot stub must exist before install")
	}

	if err := SetDefault(&Services{}); err == nil {
		t.Fatal("services without a clock must be rejected")
	}

	real := &Services{Clock: SystemClock()}
	if err := SetDefault(real); err != nil {
		t.Fatalf("first install: %v", err)
	}
	if Default() != real {
		t.Fatal("install should replace the stub")
	}

	err := SetDefault(&Services{Clock: SystemClock()})
	if !errors.Is(err, bridgeerrors.AlreadyInstalled("platform services")) {
		t.Fatalf("second install = %v, want already_installed", err)
	}
}

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omnisdk/native-bridge/app"
	"github.com/omnisdk/native-bridge/dispatch"
	bridgeerrors "github.com/omnisdk/native-bridge/errors"
	"github.com/omnisdk/native-bridge/native/fake"
)

func newApp(t *testing.T) (*app.App, *fake.Backend) {
	t.Helper()
	be := fake.New()
	a, err := app.New(app.Config{Name: "default"}, be)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(a.Dispose)
	return a, be
}

func drainUntilDone[T any](t *testing.T, d *dispatch.Dispatcher, task *dispatch.Task[T]) (T, error) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !task.Done() {
		d.Drain()
		select {
		case <-deadline:
			t.Fatal("task did not complete")
		case <-time.After(time.Millisecond):
		}
	}
	d.Drain()
	return task.Result()
}

func TestGetInstance_SharesWrapperPerURL(t *testing.T) {
	a, be := newApp(t)

	s1, err := GetInstance(a, "gs://bucket-a")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	s2, err := GetInstance(a, "gs://bucket-a")
	if err != nil {
		t.Fatalf("GetInstance again: %v", err)
	}
	if s1 != s2 {
		t.Fatal("same app+URL must return the same wrapper")
	}

	other, err := GetInstance(a, "gs://bucket-b")
	if err != nil {
		t.Fatalf("GetInstance other: %v", err)
	}
	if other == s1 {
		t.Fatal("different URLs must not share a wrapper")
	}

	// App instance plus the two buckets.
	if be.LiveInstances() != 3 {
		t.Fatalf("LiveInstances = %d, want 3", be.LiveInstances())
	}
}

func TestGetInstance_RejectsBadInput(t *testing.T) {
	a, _ := newApp(t)

	if _, err := GetInstance(a, ""); err == nil {
		t.Fatal("empty URL must be rejected")
	}

	a.Dispose()
	_, err := GetInstance(a, "gs://bucket")
	var bridgeErr *bridgeerrors.Error
	if !errors.As(err, &bridgeErr) || bridgeErr.Kind != bridgeerrors.KindUseAfterDispose {
		t.Fatalf("err = %v, want use_after_dispose", err)
	}
}

func TestTransfer_PutThenGetRoundTrip(t *testing.T) {
	a, _ := newApp(t)

	s, err := GetInstance(a, "gs://bucket")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	ref := s.Reference("photos/cat.png")

	put, err := ref.PutBytes([]byte("meow"))
	if err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	size, err := drainUntilDone(t, a.Dispatcher(), put.Task())
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if size != 4 {
		t.Fatalf("size = %d, want 4", size)
	}

	get, err := ref.GetBytes(1 << 20)
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	data, err := drainUntilDone(t, a.Dispatcher(), get.Task())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "meow" {
		t.Fatalf("data = %q", data)
	}
}

func TestTransfer_MissingObjectFails(t *testing.T) {
	a, _ := newApp(t)

	s, err := GetInstance(a, "gs://bucket")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}

	get, err := s.Reference("nope").GetBytes(1 << 20)
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	_, err = drainUntilDone(t, a.Dispatcher(), get.Task())

	var bridgeErr *bridgeerrors.Error
	if !errors.As(err, &bridgeErr) || bridgeErr.NativeRC != fake.CodeNotFound {
		t.Fatalf("err = %v, want native code %d", err, fake.CodeNotFound)
	}
}

func TestTransfer_Cancel(t *testing.T) {
	a, be := newApp(t)
	be.SetTransferDelay(time.Hour)

	s, err := GetInstance(a, "gs://bucket")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}

	get, err := s.Reference("slow").GetBytes(1 << 20)
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	if err := get.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	_, err = drainUntilDone(t, a.Dispatcher(), get.Task())
	var bridgeErr *bridgeerrors.Error
	if !errors.As(err, &bridgeErr) || bridgeErr.NativeRC != fake.CodeCancelled {
		t.Fatalf("err = %v, want native code %d", err, fake.CodeCancelled)
	}
}

func TestTransfer_BindContext(t *testing.T) {
	a, be := newApp(t)
	be.SetTransferDelay(time.Hour)

	s, err := GetInstance(a, "gs://bucket")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}

	get, err := s.Reference("slow").GetBytes(1 << 20)
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	get.BindContext(ctx)
	cancel()

	_, err = drainUntilDone(t, a.Dispatcher(), get.Task())
	var bridgeErr *bridgeerrors.Error
	if !errors.As(err, &bridgeErr) || bridgeErr.NativeRC != fake.CodeCancelled {
		t.Fatalf("err = %v, want native code %d", err, fake.CodeCancelled)
	}
}

func TestDispose_ReleasesNativeInstance(t *testing.T) {
	a, be := newApp(t)

	s, err := GetInstance(a, "gs://bucket")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	s.Dispose()

	if be.DestroyedInstances() != 1 {
		t.Fatalf("DestroyedInstances = %d, want 1", be.DestroyedInstances())
	}

	_, err = s.Reference("p").GetBytes(1)
	var bridgeErr *bridgeerrors.Error
	if !errors.As(err, &bridgeErr) || bridgeErr.Kind != bridgeerrors.KindUseAfterDispose {
		t.Fatalf("err = %v, want use_after_dispose", err)
	}

	fresh, err := GetInstance(a, "gs://bucket")
	if err != nil {
		t.Fatalf("GetInstance after dispose: %v", err)
	}
	if fresh == s {
		t.Fatal("disposed wrapper must not be reused")
	}
}

func TestAppDispose_CleansStorageFirst(t *testing.T) {
	be := fake.New()
	a, err := app.New(app.Config{Name: "default"}, be)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}

	s, err := GetInstance(a, "gs://bucket")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}

	a.Dispose()

	if be.LiveInstances() != 0 {
		t.Fatalf("LiveInstances = %d after app dispose", be.LiveInstances())
	}
	_, err = s.Reference("p").GetBytes(1)
	var bridgeErr *bridgeerrors.Error
	if !errors.As(err, &bridgeErr) || bridgeErr.Kind != bridgeerrors.KindUseAfterDispose {
		t.Fatalf("err = %v, want use_after_dispose", err)
	}
}

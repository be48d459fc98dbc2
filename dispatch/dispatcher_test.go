package dispatch

import (
	std_errors "errors"
	"sync"
	"testing"
	"time"

	"github.com/omnisdk/native-bridge/capture"
	"github.com/omnisdk/native-bridge/errors"
)

func TestDispatcher_OwningGoroutine(t *testing.T) {
	d := New()

	if !d.IsOwning() {
		t.Fatal("creating goroutine should own the dispatcher")
	}

	done := make(chan bool)
	go func() {
		done <- d.IsOwning()
	}()
	if <-done {
		t.Fatal("other goroutine must not own the dispatcher")
	}
}

func TestRun_FastPathInline(t *testing.T) {
	d := New()

	ran := false
	v, err := Run(d, func() (int, error) {
		ran = true
		return 7, nil
	})
	if err != nil || v != 7 {
		t.Fatalf("Run = (%d, %v)", v, err)
	}
	if !ran {
		t.Fatal("fast path should execute inline without a drain")
	}
}

func TestRun_CrossGoroutineBlocking(t *testing.T) {
	d := New(WithStore(capture.NewStore()))

	type out struct {
		v   string
		err error
	}
	results := make(chan out, 1)

	go func() {
		v, err := Run(d, func() (string, error) {
			return "from-owner", nil
		})
		results <- out{v, err}
	}()

	// Drain until the entry shows up and executes.
	deadline := time.After(2 * time.Second)
	for {
		if err := d.Drain(); err != nil {
			t.Fatalf("Drain: %v", err)
		}
		select {
		case r := <-results:
			if r.err != nil || r.v != "from-owner" {
				t.Fatalf("Run = (%q, %v)", r.v, r.err)
			}
			return
		case <-deadline:
			t.Fatal("blocked Run never completed")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRun_CrossGoroutineError(t *testing.T) {
	d := New(WithStore(capture.NewStore()))
	want := std_errors.New("native op failed")

	errCh := make(chan error, 1)
	go func() {
		_, err := Run(d, func() (int, error) { return 0, want })
		errCh <- err
	}()

	deadline := time.After(2 * time.Second)
	for {
		d.Drain()
		select {
		case err := <-errCh:
			if !std_errors.Is(err, want) {
				t.Fatalf("error not preserved across handoff: %v", err)
			}
			return
		case <-deadline:
			t.Fatal("blocked Run never completed")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestDrain_FIFOSurvivesFault(t *testing.T) {
	d := New(WithStore(capture.NewStore()))

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Post(func() { record("A") })
		d.Post(func() { record("B"); panic("B faulted") })
		d.Post(func() { record("C") })
	}()
	<-done

	err := d.Drain()
	if err == nil {
		t.Fatal("fault in B should surface from Drain")
	}

	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Fatalf("execution order = %v, want [A B C]", order)
	}
}

func TestDrain_WrongGoroutinePanics(t *testing.T) {
	d := New()

	panicked := make(chan error, 1)
	go func() {
		defer func() {
			r := recover()
			if r == nil {
				panicked <- nil
				return
			}
			panicked <- r.(*errors.Error)
		}()
		d.Drain()
	}()

	err := <-panicked
	if err == nil {
		t.Fatal("Drain off the owning goroutine should panic")
	}
	if !std_errors.Is(err, errors.WrongGoroutine("Drain")) {
		t.Fatalf("panic value = %v", err)
	}
}

func TestRunDeferred_OwnerCompletesImmediately(t *testing.T) {
	d := New()

	task := RunDeferred(d, func() (int, error) { return 3, nil })
	if !task.Done() {
		t.Fatal("owner-side RunDeferred should return a completed task")
	}
	v, err := task.Result()
	if v != 3 || err != nil {
		t.Fatalf("Result = (%d, %v)", v, err)
	}
}

func TestRunDeferred_CompletesOnDrain(t *testing.T) {
	d := New(WithStore(capture.NewStore()))

	taskCh := make(chan *Task[int], 1)
	go func() {
		taskCh <- RunDeferred(d, func() (int, error) { return 11, nil })
	}()
	task := <-taskCh

	if task.Done() {
		t.Fatal("task must not complete before a drain")
	}

	d.Drain()
	if !task.Done() {
		t.Fatal("drain should complete the task")
	}
	if v, _ := task.Result(); v != 11 {
		t.Fatalf("Result = %d", v)
	}
}

func TestClose_CancelsBlockedRun(t *testing.T) {
	d := New(WithBlockPollInterval(5 * time.Millisecond))

	errCh := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		close(started)
		_, err := Run(d, func() (int, error) { return 0, nil })
		errCh <- err
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	d.Close()

	select {
	case err := <-errCh:
		if !std_errors.Is(err, errors.Cancelled(errors.PhaseDispatch, "Run")) {
			t.Fatalf("expected cancelled error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock Run")
	}
}

func TestPost_AfterCloseDropped(t *testing.T) {
	d := New()
	d.Close()
	d.Post(func() { t.Error("dropped entry must never run") })
	if d.Len() != 0 {
		t.Fatal("queue should stay empty after Close")
	}
}

func TestRun_PanicTransported(t *testing.T) {
	d := New(WithStore(capture.NewStore()))

	caught := make(chan any, 1)
	go func() {
		defer func() { caught <- recover() }()
		Run(d, func() (int, error) { panic("user bug") })
	}()

	deadline := time.After(2 * time.Second)
	for {
		d.Drain()
		select {
		case r := <-caught:
			if r != "user bug" {
				t.Fatalf("recovered %v, want the original panic value", r)
			}
			return
		case <-deadline:
			t.Fatal("panic was not transported")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestDrain_LeavesOtherStoresAlone(t *testing.T) {
	d := New()

	// A fault recorded on the shared default store, on this same goroutine,
	// must survive the drain untouched.
	capture.Default().Capture(func() error {
		return std_errors.New("unrelated fault")
	})

	ran := false
	d.Post(func() { ran = true })
	if err := d.Drain(); err != nil {
		t.Fatalf("Drain = %v, want nil", err)
	}
	if !ran {
		t.Fatal("queued entry should have executed")
	}

	if capture.Default().Pending() != 1 {
		t.Fatalf("default store pending = %d, want 1", capture.Default().Pending())
	}
	if err := capture.Default().Drain(); err == nil {
		t.Fatal("default store should still hold its fault")
	}
}

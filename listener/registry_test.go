package listener

import (
	"errors"
	"sync"
	"testing"
	"time"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/capture"
	"github.com/omnisdk/native-bridge/dispatch"
	"github.com/omnisdk/native-bridge/native"
)

// stubAPI records listener attach/detach calls.
type stubAPI struct {
	native.API

	mu      sync.Mutex
	added   []int32
	removed []int32
	addErr  error
}

func (s *stubAPI) AddListener(_ nativebridge.Pointer, _ nativebridge.EventKind, id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return s.addErr
	}
	s.added = append(s.added, id)
	return nil
}

func (s *stubAPI) RemoveListener(_ nativebridge.Pointer, id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, id)
	return nil
}

func (s *stubAPI) removals() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int32(nil), s.removed...)
}

func TestRegistry_RoundTrip(t *testing.T) {
	d := dispatch.New(dispatch.WithStore(capture.NewStore()))
	reg := NewRegistry(d)
	api := &stubAPI{}

	var got []*nativebridge.Event
	r, err := reg.Register(0xA0, api, nativebridge.KindValue, func(e *nativebridge.Event) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(api.added) != 1 || api.added[0] != r.ID() {
		t.Fatalf("native AddListener saw %v, want [%d]", api.added, r.ID())
	}

	released := false
	e := nativebridge.NewEvent(nativebridge.KindValue, "/users/1", "alice", func() { released = true })
	reg.OnEvent(r.ID(), e)

	if len(got) != 0 {
		t.Fatal("handler must not run before a drain")
	}
	if err := d.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("handler ran %d times, want exactly once", len(got))
	}
	if got[0].Path != "/users/1" || got[0].Value != "alice" {
		t.Fatalf("payload = %+v", got[0])
	}
	if !released {
		t.Fatal("payload must be released after the handler returns")
	}
}

func TestRegistry_UnroutedIDReleasesPayload(t *testing.T) {
	d := dispatch.New(dispatch.WithStore(capture.NewStore()))
	reg := NewRegistry(d)

	released := false
	e := nativebridge.NewEvent(nativebridge.KindValue, "/x", nil, func() { released = true })
	reg.OnEvent(999, e)

	if !released {
		t.Fatal("payload for an unknown id must be released immediately")
	}
	d.Drain()
}

func TestRegistration_UnregisterIdempotent(t *testing.T) {
	d := dispatch.New(dispatch.WithStore(capture.NewStore()))
	reg := NewRegistry(d)
	api := &stubAPI{}

	r, err := reg.Register(0xA0, api, nativebridge.KindValue, func(*nativebridge.Event) error { return nil })
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.Unregister()
	r.Unregister()
	r.Unregister()

	if got := api.removals(); len(got) != 1 {
		t.Fatalf("RemoveListener called %d times, want exactly once", len(got))
	}
	if reg.Len() != 0 {
		t.Fatal("route should be dropped")
	}
}

func TestRegistry_EventAfterUnregisterMisses(t *testing.T) {
	d := dispatch.New(dispatch.WithStore(capture.NewStore()))
	reg := NewRegistry(d)
	api := &stubAPI{}

	fired := false
	r, _ := reg.Register(0xA0, api, nativebridge.KindValue, func(*nativebridge.Event) error {
		fired = true
		return nil
	})
	r.Unregister()

	released := false
	reg.OnEvent(r.ID(), nativebridge.NewEvent(nativebridge.KindValue, "", nil, func() { released = true }))
	d.Drain()

	if fired {
		t.Fatal("no callback may fire after Unregister")
	}
	if !released {
		t.Fatal("payload must still be released")
	}
}

func TestRegistry_HandlerFaultDoesNotStopDelivery(t *testing.T) {
	d := dispatch.New(dispatch.WithStore(capture.NewStore()))
	reg := NewRegistry(d)
	api := &stubAPI{}

	var delivered []string
	r, _ := reg.Register(0xA0, api, nativebridge.KindValue, func(e *nativebridge.Event) error {
		delivered = append(delivered, e.Path)
		if e.Path == "/bad" {
			return errors.New("handler rejected event")
		}
		return nil
	})

	reg.OnEvent(r.ID(), nativebridge.NewEvent(nativebridge.KindValue, "/bad", nil, nil))
	reg.OnEvent(r.ID(), nativebridge.NewEvent(nativebridge.KindValue, "/good", nil, nil))

	if err := d.Drain(); err != nil {
		t.Fatalf("a returned handler error is logged, not surfaced: %v", err)
	}

	if len(delivered) != 2 || delivered[1] != "/good" {
		t.Fatalf("delivered = %v, want both events in order", delivered)
	}
}

func TestRegistry_HandlerPanicDoesNotStopDelivery(t *testing.T) {
	d := dispatch.New(dispatch.WithStore(capture.NewStore()))
	reg := NewRegistry(d)
	api := &stubAPI{}

	var delivered []string
	r, _ := reg.Register(0xA0, api, nativebridge.KindValue, func(e *nativebridge.Event) error {
		if e.Path == "/panic" {
			panic("user handler bug")
		}
		delivered = append(delivered, e.Path)
		return nil
	})

	reg.OnEvent(r.ID(), nativebridge.NewEvent(nativebridge.KindValue, "/panic", nil, nil))
	reg.OnEvent(r.ID(), nativebridge.NewEvent(nativebridge.KindValue, "/ok", nil, nil))

	err := d.Drain()
	if err == nil {
		t.Fatal("the contained panic should surface from Drain")
	}
	if len(delivered) != 1 || delivered[0] != "/ok" {
		t.Fatalf("delivered = %v, the event behind the fault must still arrive", delivered)
	}
}

func TestRegistry_IDsNeverReused(t *testing.T) {
	d := dispatch.New(dispatch.WithStore(capture.NewStore()))
	reg := NewRegistry(d)
	api := &stubAPI{}

	seen := make(map[int32]bool)
	for i := 0; i < 100; i++ {
		r, err := reg.Register(0xA0, api, nativebridge.KindValue, func(*nativebridge.Event) error { return nil })
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		if seen[r.ID()] {
			t.Fatalf("callback id %d reused", r.ID())
		}
		seen[r.ID()] = true
		r.Unregister()
	}
}

func TestRegistry_Register_NativeFailureRollsBack(t *testing.T) {
	d := dispatch.New(dispatch.WithStore(capture.NewStore()))
	reg := NewRegistry(d)
	api := &stubAPI{addErr: errors.New("entity gone")}

	_, err := reg.Register(0xA0, api, nativebridge.KindValue, func(*nativebridge.Event) error { return nil })
	if err == nil {
		t.Fatal("native AddListener failure must surface")
	}
	if reg.Len() != 0 {
		t.Fatal("failed registration must not leave a route behind")
	}
}

func TestRegistry_OnTransaction(t *testing.T) {
	d := dispatch.New(dispatch.WithStore(capture.NewStore()))
	reg := NewRegistry(d)
	api := &stubAPI{}

	r, err := reg.RegisterTx(0xB0, api, func(req native.TxRequest) native.TxResult {
		n := req.Value.(int)
		return native.TxResult{Value: n + 1}
	})
	if err != nil {
		t.Fatalf("RegisterTx: %v", err)
	}

	results := make(chan native.TxResult, 1)
	go func() {
		// Native transaction thread: blocks for the owning goroutine.
		results <- reg.OnTransaction(r.ID(), native.TxRequest{Value: 41})
	}()

	deadline := time.After(2 * time.Second)
	for {
		d.Drain()
		select {
		case res := <-results:
			if res.Abort {
				t.Fatal("transaction aborted unexpectedly")
			}
			if res.Value != 42 {
				t.Fatalf("transaction value = %v, want 42", res.Value)
			}
			return
		case <-deadline:
			t.Fatal("OnTransaction never returned")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRegistry_OnTransactionUnroutedAborts(t *testing.T) {
	d := dispatch.New(dispatch.WithStore(capture.NewStore()))
	reg := NewRegistry(d)

	res := reg.OnTransaction(12345, native.TxRequest{})
	if !res.Abort {
		t.Fatal("unknown transaction id must abort")
	}
}

func TestRegistry_Close(t *testing.T) {
	d := dispatch.New(dispatch.WithStore(capture.NewStore()))
	reg := NewRegistry(d)
	api := &stubAPI{}

	reg.Register(0xA0, api, nativebridge.KindValue, func(*nativebridge.Event) error { return nil })
	reg.Close()

	if reg.Len() != 0 {
		t.Fatal("Close should drop all routes")
	}
	if _, err := reg.Register(0xA0, api, nativebridge.KindValue, func(*nativebridge.Event) error { return nil }); err == nil {
		t.Fatal("Register after Close should fail")
	}
}

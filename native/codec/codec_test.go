package codec

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	values := []any{
		nil,
		true,
		"photos/cat.png",
		int64(1 << 40),
		3.5,
		[]byte{0x00, 0xff, 0x7f},
	}

	for _, v := range values {
		raw, err := MarshalValue(v)
		if err != nil {
			t.Fatalf("marshal %v: %v", v, err)
		}
		got, err := Unmarshal(raw)
		if err != nil {
			t.Fatalf("unmarshal %q: %v", raw, err)
		}

		if b, ok := v.([]byte); ok {
			if !bytes.Equal(got.([]byte), b) {
				t.Fatalf("bytes round trip: got %v", got)
			}
			continue
		}
		if got != v {
			t.Fatalf("round trip %v (%T): got %v (%T)", v, v, got, got)
		}
	}
}

func TestSmallIntsWidenToInt64(t *testing.T) {
	for _, v := range []any{int(7), int32(7)} {
		raw, err := MarshalValue(v)
		if err != nil {
			t.Fatalf("marshal %T: %v", v, err)
		}
		got, err := Unmarshal(raw)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got != int64(7) {
			t.Fatalf("got %v (%T), want int64 7", got, got)
		}
	}
}

func TestCompositeValuesAsJSON(t *testing.T) {
	raw, err := MarshalValue(map[string]any{"name": "alice", "score": 10.0})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok || m["name"] != "alice" || m["score"] != 10.0 {
		t.Fatalf("got %#v", got)
	}
}

func TestRejectsUnmarshalableValues(t *testing.T) {
	if _, err := Encode(make(chan int)); err == nil {
		t.Fatal("channels must not cross the bridge")
	}
}

func TestMarshalArgs(t *testing.T) {
	s, err := MarshalArgs([]any{"path", int64(3)})
	if err != nil {
		t.Fatalf("MarshalArgs: %v", err)
	}
	if s == "" || s[0] != '[' {
		t.Fatalf("args JSON = %q", s)
	}

	empty, err := MarshalArgs(nil)
	if err != nil || empty != "[]" {
		t.Fatalf("empty args = %q, %v", empty, err)
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	if _, err := Unmarshal(`{"t":"int","v":"not a number"}`); err == nil {
		t.Fatal("malformed int envelope must fail")
	}
	if _, err := Unmarshal(`{"t":"warp"}`); err == nil {
		t.Fatal("unknown envelope type must fail")
	}
	if v, err := Unmarshal(""); err != nil || v != nil {
		t.Fatalf("empty payload = %v, %v", v, err)
	}
}

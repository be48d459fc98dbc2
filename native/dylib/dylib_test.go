//go:build !ios && !android && (amd64 || arm64)

package dylib

import "testing"

func TestGoString(t *testing.T) {
	buf := []byte("rooms/lobby\x00trailing garbage")
	if s := goString(&buf[0]); s != "rooms/lobby" {
		t.Fatalf("goString = %q", s)
	}

	empty := []byte{0}
	if s := goString(&empty[0]); s != "" {
		t.Fatalf("empty = %q", s)
	}
	if s := goString(nil); s != "" {
		t.Fatalf("nil = %q", s)
	}
}

func TestCandidateNames(t *testing.T) {
	names := candidateNames()
	if len(names) != len(shimVersions)+1 {
		t.Fatalf("names = %v", names)
	}
	for _, n := range names {
		if n == "" {
			t.Fatal("empty candidate name")
		}
	}
}

package nativebridge

// Pointer is an opaque handle to a native SDK object. The bridge never
// dereferences it; it is only passed back across the ABI. Pointer 0 is the
// null sentinel and always invalid.
type Pointer uintptr

// Null is the disposed/invalid pointer sentinel.
const Null Pointer = 0

// IsNull reports whether the pointer is the null sentinel.
func (p Pointer) IsNull() bool { return p == Null }

// FutureHandle identifies a pending native operation. Like Pointer it is
// opaque; 0 is invalid.
type FutureHandle uintptr

// FutureStatus is the completion state of a native future.
type FutureStatus uint8

const (
	FuturePending FutureStatus = iota
	FutureComplete
	FutureInvalid
)

// EventKind classifies listener callbacks delivered by the native SDK.
type EventKind uint8

const (
	KindValue EventKind = iota + 1
	KindChildAdded
	KindChildChanged
	KindChildRemoved
	KindChildMoved
	KindConfigUpdate
	KindProgress
)

func (k EventKind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindChildAdded:
		return "child-added"
	case KindChildChanged:
		return "child-changed"
	case KindChildRemoved:
		return "child-removed"
	case KindChildMoved:
		return "child-moved"
	case KindConfigUpdate:
		return "config-update"
	case KindProgress:
		return "progress"
	}
	return "unknown"
}

// Event is the payload of a single native listener callback. Payload fields
// are copies: native callback data does not outlive the callback, so
// backends must materialize everything before constructing an Event.
type Event struct {
	Kind       EventKind
	Path       string
	Value      any
	ErrCode    int32
	ErrMessage string

	release  func()
	released bool
}

// NewEvent builds an event with an optional release hook for native-side
// payload memory. The hook runs at most once.
func NewEvent(kind EventKind, path string, value any, release func()) *Event {
	return &Event{Kind: kind, Path: path, Value: value, release: release}
}

// Release frees the native payload backing this event. It is invoked after
// the managed handler returns, or immediately when no handler is routed for
// the callback id. Safe to call multiple times.
func (e *Event) Release() {
	if e.released || e.release == nil {
		e.released = true
		return
	}
	e.released = true
	e.release()
}

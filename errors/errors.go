package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhaseAcquire     Phase = "acquire"     // instance lookup and creation
	PhaseDispatch    Phase = "dispatch"    // queue submission and drain
	PhaseListener    Phase = "listener"    // callback routing
	PhaseDispose     Phase = "dispose"     // teardown protocol
	PhaseNative      Phase = "native"      // native ABI calls
	PhaseTransaction Phase = "transaction" // synchronous callback path
	PhaseConfig      Phase = "config"      // platform services setup
)

// Kind categorizes the error
type Kind string

const (
	KindUseAfterDispose  Kind = "use_after_dispose"
	KindDoubleRelease    Kind = "double_release"
	KindWrongGoroutine   Kind = "wrong_goroutine"
	KindNotFound         Kind = "not_found"
	KindNativeFailure    Kind = "native_failure"
	KindCallbackFault    Kind = "callback_fault"
	KindInvalidInput     Kind = "invalid_input"
	KindAlreadyInstalled Kind = "already_installed"
	KindCancelled        Kind = "cancelled"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Entity   string // which object (instance key, proxy type, ...)
	Op       string // which operation was attempted
	Detail   string
	NativeRC int32 // native error code, when the SDK reported one
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Entity != "" {
		b.WriteString(" on ")
		b.WriteString(e.Entity)
	}
	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.NativeRC != 0 {
		fmt.Fprintf(&b, " (native code %d)", e.NativeRC)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Entity sets the object the error concerns
func (b *Builder) Entity(e string) *Builder {
	b.err.Entity = e
	return b
}

// Op sets the attempted operation
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// NativeRC sets the native-side error code
func (b *Builder) NativeRC(rc int32) *Builder {
	b.err.NativeRC = rc
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// UseAfterDispose creates the fast-fail error for calls through a disposed
// proxy. Every public entry point goes through this check; silent no-ops
// would mask use-after-free on the native side.
func UseAfterDispose(entity, op string) *Error {
	return &Error{
		Phase:  PhaseDispose,
		Kind:   KindUseAfterDispose,
		Entity: entity,
		Op:     op,
		Detail: "proxy has been disposed",
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NativeFailure wraps a failed native call. code and message come from the
// SDK's error channel, never from an unwound panic.
func NativeFailure(op string, code int32, message string) *Error {
	return &Error{
		Phase:    PhaseNative,
		Kind:     KindNativeFailure,
		Op:       op,
		NativeRC: code,
		Detail:   message,
	}
}

// FactoryFailed wraps a native constructor failure during Acquire
func FactoryFailed(key string, cause error) *Error {
	return &Error{
		Phase:  PhaseAcquire,
		Kind:   KindNativeFailure,
		Entity: key,
		Op:     "factory",
		Cause:  cause,
	}
}

// CallbackFault wraps a fault captured inside a managed handler
func CallbackFault(op string, cause error) *Error {
	return &Error{
		Phase: PhaseListener,
		Kind:  KindCallbackFault,
		Op:    op,
		Cause: cause,
	}
}

// Cancelled creates a cancellation error for work abandoned at shutdown
func Cancelled(phase Phase, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCancelled,
		Op:     op,
		Detail: "abandoned at shutdown",
	}
}

// AlreadyInstalled creates the error for a second default-services install
func AlreadyInstalled(what string) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindAlreadyInstalled,
		Detail: fmt.Sprintf("%s already installed", what),
	}
}

// Fatal errors below mark programming bugs in the binding layer itself.
// They are raised as panics: recovering from a double release or a
// wrong-goroutine drain would hide memory corruption on the native side.

// DoubleRelease is the panic value for releasing a handle whose count is
// already zero.
func DoubleRelease(key string) *Error {
	return &Error{
		Phase:  PhaseAcquire,
		Kind:   KindDoubleRelease,
		Entity: key,
		Detail: "reference count already zero",
	}
}

// WrongGoroutine is the panic value for draining a dispatcher from a
// goroutine other than its owner.
func WrongGoroutine(op string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindWrongGoroutine,
		Op:     op,
		Detail: "caller is not the owning goroutine",
	}
}

package jni

// Ref is a raw JVM object reference as handed out by the backend. Zero
// is the null reference. A raw Ref carries no ownership information;
// user code holds LocalRef/GlobalRef/WeakRef wrappers instead.
type Ref uintptr

// NullRef is the null object reference.
const NullRef Ref = 0

// RefKind distinguishes the three JVM reference scopes.
type RefKind int

const (
	// RefLocal references are valid only within the local frame that
	// created them; the JVM reclaims them at frame exit.
	RefLocal RefKind = iota
	// RefGlobal references stay valid until explicitly deleted.
	RefGlobal
	// RefWeak references do not keep their referent alive.
	RefWeak
)

// String returns the kind's name.
func (k RefKind) String() string {
	switch k {
	case RefLocal:
		return "local"
	case RefGlobal:
		return "global"
	case RefWeak:
		return "weak"
	}
	return "unknown"
}

// RawNativeFunc is the backend-facing shape of a registered native
// method: the receiver (NullRef for statics) and already-marshaled
// arguments. The bridge's RegisterNative wrapper converts native errors
// into pending exceptions before returning, so a non-nil error reaching
// the backend means the wrapper itself failed and the call is fatal.
type RawNativeFunc func(recv Ref, args []Value) (Value, error)

// Backend is the set of raw JVM primitives the bridge builds on. It
// mirrors the JNIEnv function table at the granularity the bridge needs:
// a production implementation wraps a live JNIEnv through cgo, and
// pkg/fakejvm provides an in-memory implementation for tests.
//
// Backend methods never translate JVM exceptions into Go errors. A call
// that throws leaves the throwable in the pending slot and returns a
// zero Value with a nil error, exactly like JNI; the bridge consults
// PendingException after every dispatch. Go errors from a Backend mean
// the backend itself was misused (stale reference, bad method id) and
// are classified by the bridge.
type Backend interface {
	// FindClass resolves a class by its binary name, e.g. "java/lang/String".
	// Failure sets the pending exception and returns NullRef.
	FindClass(name string) Ref
	// GetObjectClass returns the class of a non-null object reference.
	GetObjectClass(obj Ref) (Ref, error)
	// GetSuperclass returns the superclass of class, or false for
	// java/lang/Object and interfaces.
	GetSuperclass(class Ref) (Ref, bool)
	// IsSameObject reports whether two references denote the same object.
	// Comparing a weak reference against NullRef is the liveness check.
	IsSameObject(a, b Ref) bool
	// ClassName returns the binary name of a class reference.
	ClassName(class Ref) (string, error)

	// GetMethodID resolves an instance (static=false) or static
	// (static=true) method against class. Failure sets the pending
	// exception and returns 0.
	GetMethodID(class Ref, name, sig string, static bool) uintptr
	// CallMethod invokes an instance method. Object-valued results come
	// back as fresh local references in the current frame.
	CallMethod(obj Ref, method uintptr, args []Value) (Value, error)
	// CallStatic invokes a static method on class.
	CallStatic(class Ref, method uintptr, args []Value) (Value, error)
	// RegisterNative binds fn as the implementation of name+sig on class.
	RegisterNative(class Ref, name, sig string, fn RawNativeFunc) error

	// NewRef creates a reference of the given kind to obj's referent.
	NewRef(obj Ref, kind RefKind) (Ref, error)
	// DeleteRef frees a reference previously created with kind.
	DeleteRef(ref Ref, kind RefKind) error
	// PushLocalFrame opens a new local-reference frame.
	PushLocalFrame()
	// PopLocalFrame closes the current frame, freeing every local
	// reference created inside it.
	PopLocalFrame()

	// NewString interns a string from modified UTF-8 bytes, returning a
	// local reference.
	NewString(mutf8 []byte) (Ref, error)
	// StringBytes returns the modified UTF-8 bytes of a string object.
	StringBytes(ref Ref) ([]byte, error)

	// PendingException returns the pending throwable, if any, without
	// clearing it.
	PendingException() (Ref, bool)
	// ThrowableMessage returns the detail message of a throwable
	// reference ("" when it has none).
	ThrowableMessage(exc Ref) string
	// ClearException clears the pending slot.
	ClearException()
	// Throw makes an existing throwable reference pending.
	Throw(exc Ref) error
	// ThrowNew constructs an instance of the named throwable class with
	// the given message and makes it pending.
	ThrowNew(class string, msg string) error
}

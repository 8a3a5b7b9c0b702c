package jni

import (
	"errors"
	"fmt"
)

// Code classifies a BridgeError.
type Code int

const (
	// CodeInternal marks a bridge invariant violation or a failure that
	// has no more specific classification.
	CodeInternal Code = iota
	// CodeNotAttached means the calling goroutine has no JVM attachment,
	// or is using an Env owned by another goroutine.
	CodeNotAttached
	// CodeSignatureMismatch means a value's shape cannot satisfy the
	// method signature it was marshaled against.
	CodeSignatureMismatch
	// CodeDecodeError means a value coming out of the JVM could not be
	// decoded: malformed modified UTF-8, or null where non-null was
	// required.
	CodeDecodeError
	// CodeInvalidMethodID means a method id was used against an object
	// whose class is not the class (or a subclass of the class) it was
	// resolved against, or the resolution itself failed.
	CodeInvalidMethodID
	// CodeLeakedReference is the diagnostic attached to promotions still
	// outstanding at detach. Non-fatal.
	CodeLeakedReference
	// CodeOutOfMemory classifies a captured java/lang/OutOfMemoryError.
	CodeOutOfMemory
	// CodeClassNotFound classifies a captured class-resolution throwable.
	CodeClassNotFound
	// CodeApplicationException classifies any other captured JVM
	// throwable; the original reference is preserved for rethrow.
	CodeApplicationException
)

// String returns the code's name.
func (c Code) String() string {
	switch c {
	case CodeInternal:
		return "Internal"
	case CodeNotAttached:
		return "NotAttached"
	case CodeSignatureMismatch:
		return "SignatureMismatch"
	case CodeDecodeError:
		return "DecodeError"
	case CodeInvalidMethodID:
		return "InvalidMethodId"
	case CodeLeakedReference:
		return "LeakedReference"
	case CodeOutOfMemory:
		return "OutOfMemory"
	case CodeClassNotFound:
		return "ClassNotFound"
	case CodeApplicationException:
		return "ApplicationException"
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// BridgeError is the native-side form of a caught JVM exception or an
// internal bridge failure.
type BridgeError struct {
	Code    Code
	Message string
	// Exception holds the captured throwable for rethrow when the error
	// originated from a pending JVM exception. Nil otherwise. The
	// reference is owned by the error; Release it (or rethrow it via
	// Env.Throw) when done.
	Exception *GlobalRef
	cause     error
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *BridgeError) Unwrap() error { return e.cause }

// CodeOf extracts the classification from err. Errors that are not
// BridgeErrors, including a typed nil *BridgeError hiding inside the
// interface, classify as CodeInternal.
func CodeOf(err error) Code {
	var be *BridgeError
	if errors.As(err, &be) && be != nil {
		return be.Code
	}
	return CodeInternal
}

func asBridgeError(err error, target **BridgeError) bool {
	return errors.As(err, target) && *target != nil
}

func errf(code Code, format string, args ...interface{}) *BridgeError {
	return &BridgeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapf(code Code, cause error, format string, args ...interface{}) *BridgeError {
	return &BridgeError{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

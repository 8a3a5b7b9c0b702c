package jni

import "errors"

// BridgeExceptionClass is the throwable class used when a native error
// with no captured JVM exception is thrown back into the JVM. Keeping
// it distinct from application exception classes means bridge failures
// are never mistaken for application logic errors on the Java side.
const BridgeExceptionClass = "com/daimatz/gojni/BridgeException"

// CheckPending captures and clears the JVM's pending exception, if any.
// The throwable is retained as a global reference on the returned
// error (owned by the caller: rethrow it via Throw or Release it) and
// classified by its class. The environment is usable again afterwards —
// the pending slot is always left clear. A failure to capture or clear
// is Internal and fatal to the current call.
func (e *Env) CheckPending() *BridgeError {
	return e.checkPending(e.registry.callSite(1))
}

// checkPending does the capture; site is where the captured throwable
// is charged in the leak report.
func (e *Env) checkPending(site string) *BridgeError {
	if err := e.check(); err != nil {
		return err
	}
	exc, ok := e.backend.PendingException()
	if !ok {
		return nil
	}
	e.backend.ClearException()

	gref, err := e.backend.NewRef(exc, RefGlobal)
	if err != nil {
		return wrapf(CodeInternal, err, "capturing pending exception")
	}
	g := &GlobalRef{ref: gref, reg: e.registry}
	e.registry.track(gref, site)

	code, msg := e.classifyThrowable(exc)
	return &BridgeError{Code: code, Message: msg, Exception: g}
}

// classifyThrowable maps a throwable to a bridge error code and message.
func (e *Env) classifyThrowable(exc Ref) (Code, string) {
	class, err := e.backend.GetObjectClass(exc)
	if err != nil {
		return CodeInternal, "throwable with no class"
	}
	msg := e.backend.ThrowableMessage(exc)

	for c := class; ; {
		name, err := e.backend.ClassName(c)
		if err != nil {
			break
		}
		switch name {
		case "java/lang/OutOfMemoryError":
			return CodeOutOfMemory, withClass(name, msg)
		case "java/lang/ClassNotFoundException", "java/lang/NoClassDefFoundError":
			return CodeClassNotFound, withClass(name, msg)
		case BridgeExceptionClass:
			return CodeInternal, withClass(name, msg)
		}
		sup, ok := e.backend.GetSuperclass(c)
		if !ok {
			break
		}
		c = sup
	}

	name, err := e.backend.ClassName(class)
	if err != nil {
		name = "unknown"
	}
	return CodeApplicationException, withClass(name, msg)
}

func withClass(class, msg string) string {
	if msg == "" {
		return class
	}
	return class + ": " + msg
}

// Throw converts a native error into a pending JVM exception, for use
// before returning control to a JVM-initiated native call. An error
// carrying a captured throwable is rethrown verbatim, preserving the
// JVM-visible identity and stack trace; anything else becomes a
// BridgeException built from the error's message. A failure here cannot
// be masked and is returned as Internal.
func (e *Env) Throw(err error) error {
	if cerr := e.check(); cerr != nil {
		return cerr
	}
	if err == nil {
		return errf(CodeInternal, "Throw called with nil error")
	}
	var be *BridgeError
	if errors.As(err, &be) && be.Exception != nil {
		if terr := e.backend.Throw(be.Exception.Raw()); terr != nil {
			return wrapf(CodeInternal, terr, "rethrowing captured exception")
		}
		return nil
	}
	if terr := e.backend.ThrowNew(BridgeExceptionClass, err.Error()); terr != nil {
		return wrapf(CodeInternal, terr, "throwing bridge exception")
	}
	return nil
}

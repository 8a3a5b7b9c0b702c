package jni

import (
	"github.com/daimatz/gojni/pkg/signature"
)

// ObjectRef is any owned handle that can stand in for a JVM object in a
// call: a LocalRef or a GlobalRef. WeakRef is deliberately excluded —
// a weak reference must be upgraded (liveness-checked) before use.
type ObjectRef interface {
	asArg(e *Env) (Ref, *BridgeError)
}

func (l *LocalRef) asArg(e *Env) (Ref, *BridgeError) {
	return l.get(e)
}

func (g *GlobalRef) asArg(e *Env) (Ref, *BridgeError) {
	if err := e.check(); err != nil {
		return NullRef, err
	}
	g.mu.Lock()
	released := g.released
	g.mu.Unlock()
	if released {
		return NullRef, errf(CodeInternal, "global reference used after release")
	}
	return g.ref, nil
}

// MethodID identifies a resolved method together with the class it was
// resolved against. Dispatch validates the resolution lineage: the
// receiver's class must be that class or one of its subclasses.
type MethodID struct {
	id        uintptr
	className string
	name      string
	sig       signature.Method
	static    bool
}

// Name returns the method's name.
func (m *MethodID) Name() string { return m.name }

// Signature returns the parsed method descriptor.
func (m *MethodID) Signature() signature.Method { return m.sig }

// GetMethodID resolves an instance method against class. The returned
// id is only valid for receivers of that class or its subclasses.
func (e *Env) GetMethodID(class ObjectRef, name, sig string) (*MethodID, error) {
	return e.getMethodID(class, name, sig, false)
}

// GetStaticMethodID resolves a static method against class.
func (e *Env) GetStaticMethodID(class ObjectRef, name, sig string) (*MethodID, error) {
	return e.getMethodID(class, name, sig, true)
}

func (e *Env) getMethodID(class ObjectRef, name, sig string, static bool) (*MethodID, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	parsed, err := signature.ParseMethod(sig)
	if err != nil {
		return nil, wrapf(CodeSignatureMismatch, err, "parsing descriptor %q", sig)
	}
	classRef, cerr := class.asArg(e)
	if cerr != nil {
		return nil, cerr
	}
	className, err := e.backend.ClassName(classRef)
	if err != nil {
		return nil, wrapf(CodeInvalidMethodID, err, "resolving class of method %s", name)
	}

	id := e.backend.GetMethodID(classRef, name, sig, static)
	if be := e.checkPending(e.registry.callSite(2)); be != nil {
		return nil, be
	}
	if id == 0 {
		return nil, errf(CodeInvalidMethodID, "method %s%s not found on %s", name, sig, className)
	}
	return &MethodID{id: id, className: className, name: name, sig: parsed, static: static}, nil
}

// Call invokes an instance method. Arguments may be Go natives, Values,
// or Local/Global references; each is marshaled against the method's
// descriptor. The pending-exception slot is consulted after the
// dispatch — a call that throws never yields a Value.
func (e *Env) Call(obj ObjectRef, m *MethodID, args ...interface{}) (Value, error) {
	if err := e.check(); err != nil {
		return Value{}, err
	}
	if m.static {
		return Value{}, errf(CodeInvalidMethodID, "static method %s dispatched as instance call", m.name)
	}
	recv, cerr := obj.asArg(e)
	if cerr != nil {
		return Value{}, cerr
	}
	if recv == NullRef {
		return Value{}, errf(CodeInternal, "null receiver for method %s", m.name)
	}

	objClass, err := e.backend.GetObjectClass(recv)
	if err != nil {
		return Value{}, wrapf(CodeInternal, err, "classifying receiver of %s", m.name)
	}
	ok, err := e.assignableTo(objClass, m.className)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, errf(CodeInvalidMethodID,
			"method %s resolved against %s used with incompatible receiver", m.name, m.className)
	}

	vals, merr := e.marshalArgs(m, args)
	if merr != nil {
		return Value{}, merr
	}
	ret, err := e.backend.CallMethod(recv, m.id, vals)
	if err != nil {
		return Value{}, wrapf(CodeInternal, err, "dispatching %s", m.name)
	}
	if be := e.checkPending(e.registry.callSite(1)); be != nil {
		return Value{}, be
	}
	return ret, nil
}

// CallStatic invokes a static method on class, which must be the
// resolution class or one of its subclasses.
func (e *Env) CallStatic(class ObjectRef, m *MethodID, args ...interface{}) (Value, error) {
	if err := e.check(); err != nil {
		return Value{}, err
	}
	if !m.static {
		return Value{}, errf(CodeInvalidMethodID, "instance method %s dispatched as static call", m.name)
	}
	classRef, cerr := class.asArg(e)
	if cerr != nil {
		return Value{}, cerr
	}
	ok, err := e.assignableTo(classRef, m.className)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, errf(CodeInvalidMethodID,
			"static method %s resolved against %s called on incompatible class", m.name, m.className)
	}

	vals, merr := e.marshalArgs(m, args)
	if merr != nil {
		return Value{}, merr
	}
	ret, err := e.backend.CallStatic(classRef, m.id, vals)
	if err != nil {
		return Value{}, wrapf(CodeInternal, err, "dispatching static %s", m.name)
	}
	if be := e.checkPending(e.registry.callSite(1)); be != nil {
		return Value{}, be
	}
	return ret, nil
}

// NativeFunc is a Go function exposed to the JVM through RegisterNative.
// The Env is the attachment of the thread the JVM called in on; recv is
// NullRef for static natives. A returned error is translated into a
// thrown JVM exception before control returns to the JVM.
type NativeFunc func(e *Env, recv Ref, args []Value) (Value, error)

// RegisterNative binds fn as the implementation of name+sig on class.
// The installed wrapper runs fn inside its own local frame and converts
// a returned error into a pending exception, so JVM callers observe a
// normal Java throw.
func (e *Env) RegisterNative(class ObjectRef, name, sig string, fn NativeFunc) error {
	if err := e.check(); err != nil {
		return err
	}
	if _, err := signature.ParseMethod(sig); err != nil {
		return wrapf(CodeSignatureMismatch, err, "parsing descriptor %q", sig)
	}
	classRef, cerr := class.asArg(e)
	if cerr != nil {
		return cerr
	}

	wrapper := func(recv Ref, args []Value) (Value, error) {
		env, err := Current()
		if err != nil {
			return Value{}, err
		}
		if err := env.PushLocalFrame(); err != nil {
			return Value{}, err
		}
		defer env.PopLocalFrame()

		ret, ferr := fn(env, recv, args)
		if ferr != nil {
			if terr := env.Throw(ferr); terr != nil {
				return Value{}, terr
			}
			return Value{}, nil // exception is pending, JNI-style
		}
		return ret, nil
	}
	if err := e.backend.RegisterNative(classRef, name, sig, wrapper); err != nil {
		return wrapf(CodeInternal, err, "registering native %s%s", name, sig)
	}
	return nil
}

// LocalOf pins an object-valued call result to the current local frame,
// yielding a handle that can be promoted or passed to further calls.
func (e *Env) LocalOf(v Value) (*LocalRef, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if v.Tag != TagObject {
		return nil, errf(CodeSignatureMismatch, "%s value is not an object reference", v.Tag)
	}
	return e.newLocal(v.Obj()), nil
}

// marshalArgs converts caller arguments against the method descriptor.
// String values are interned into JVM string objects here, in the
// current local frame.
func (e *Env) marshalArgs(m *MethodID, args []interface{}) ([]Value, *BridgeError) {
	if len(args) != len(m.sig.Params) {
		return nil, errf(CodeSignatureMismatch,
			"method %s takes %d arguments, got %d", m.name, len(m.sig.Params), len(args))
	}
	vals := make([]Value, len(args))
	for i, arg := range args {
		target := m.sig.Params[i]

		// Owned handles marshal through their guarded accessors.
		if ref, ok := arg.(ObjectRef); ok {
			raw, cerr := ref.asArg(e)
			if cerr != nil {
				return nil, cerr
			}
			arg = ObjectValue(raw)
		}

		v, err := ToJNI(arg, target)
		if err != nil {
			var be *BridgeError
			if asBridgeError(err, &be) {
				return nil, wrapf(be.Code, err, "argument %d of %s", i, m.name)
			}
			return nil, wrapf(CodeSignatureMismatch, err, "argument %d of %s", i, m.name)
		}

		if v.Tag == TagString {
			local, serr := e.NewString(v.Str())
			if serr != nil {
				var be *BridgeError
				if asBridgeError(serr, &be) {
					return nil, be
				}
				return nil, wrapf(CodeInternal, serr, "interning argument %d of %s", i, m.name)
			}
			raw, cerr := local.get(e)
			if cerr != nil {
				return nil, cerr
			}
			v = ObjectValue(raw)
		}
		vals[i] = v
	}
	return vals, nil
}

// assignableTo walks the superclass chain of class looking for wantName.
func (e *Env) assignableTo(class Ref, wantName string) (bool, error) {
	for c := class; ; {
		name, err := e.backend.ClassName(c)
		if err != nil {
			return false, wrapf(CodeInternal, err, "walking class hierarchy")
		}
		if name == wantName {
			return true, nil
		}
		sup, ok := e.backend.GetSuperclass(c)
		if !ok {
			return false, nil
		}
		c = sup
	}
}

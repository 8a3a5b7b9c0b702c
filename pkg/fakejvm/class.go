package fakejvm

import (
	"fmt"

	"github.com/daimatz/gojni/pkg/jni"
	"github.com/daimatz/gojni/pkg/signature"
)

// Class access flags, as in the dex/class-file format.
const (
	AccPublic    = 0x0001
	AccFinal     = 0x0010
	AccSuper     = 0x0020
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccEnum      = 0x4000
)

// Class is a JVM class known to the fake VM: a name, a superclass link,
// access flags, and a method table keyed by name+descriptor.
type Class struct {
	Name        string
	Super       *Class
	AccessFlags uint32

	vm      *JVM
	methods map[string]*Method
}

// Method is an entry in a class's method table. Bodies are Go
// functions; registered natives replace the body after definition.
type Method struct {
	Class  *Class
	Name   string
	Sig    string
	Static bool

	body   Func
	native jni.RawNativeFunc
}

// Func is the Go body of a fake method. Returning a *Thrown makes that
// throwable pending, exactly as a throwing Java body would; any other
// error is treated as a VM-internal failure.
type Func func(vm *JVM, recv *Object, args []jni.Value) (jni.Value, error)

// Object is an instance living in the fake heap.
type Object struct {
	Class  *Class
	Fields map[string]jni.Value

	str       []byte // modified UTF-8 payload of string instances
	msg       string // detail message of throwable instances
	collected bool
}

// Thrown is a throwable raised by a fake method body.
type Thrown struct {
	ClassName string
	Message   string
}

// Error implements the error interface.
func (t *Thrown) Error() string {
	if t.Message == "" {
		return t.ClassName
	}
	return t.ClassName + ": " + t.Message
}

// Throwf builds a Thrown with a formatted message.
func Throwf(className, format string, args ...interface{}) *Thrown {
	return &Thrown{ClassName: className, Message: fmt.Sprintf(format, args...)}
}

// methodKey builds the method-table key.
func methodKey(name, sig string, static bool) string {
	if static {
		return "static " + name + sig
	}
	return name + sig
}

// Method adds an instance method to the class.
func (c *Class) Method(name, sig string, body Func) error {
	return c.addMethod(name, sig, false, body)
}

// Static adds a static method to the class.
func (c *Class) Static(name, sig string, body Func) error {
	return c.addMethod(name, sig, true, body)
}

func (c *Class) addMethod(name, sig string, static bool, body Func) error {
	if _, err := signature.ParseMethod(sig); err != nil {
		return fmt.Errorf("defining %s.%s: %w", c.Name, name, err)
	}
	key := methodKey(name, sig, static)
	if _, exists := c.methods[key]; exists {
		return fmt.Errorf("defining %s.%s%s: already defined", c.Name, name, sig)
	}
	c.methods[key] = &Method{Class: c, Name: name, Sig: sig, Static: static, body: body}
	return nil
}

// lookup resolves a method by walking the superclass chain.
func (c *Class) lookup(name, sig string, static bool) *Method {
	key := methodKey(name, sig, static)
	for cls := c; cls != nil; cls = cls.Super {
		if m, ok := cls.methods[key]; ok {
			return m
		}
	}
	return nil
}

// isSubclassOf reports whether c is other or a subclass of other.
func (c *Class) isSubclassOf(other *Class) bool {
	for cls := c; cls != nil; cls = cls.Super {
		if cls == other {
			return true
		}
	}
	return false
}

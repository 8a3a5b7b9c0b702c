// Package fakejvm is an in-memory implementation of jni.Backend: enough
// of a JVM to exercise the bridge without a live runtime. Classes are
// defined from Go with Go function bodies, references live in a handle
// table keyed like the real local/global/weak scopes, and the
// pending-exception slot behaves the way JNI specifies (per thread,
// poisoning further calls until cleared).
//
// Frame stacks and pending slots are keyed by goroutine, matching the
// bridge's per-goroutine attachment model.
package fakejvm

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/daimatz/gojni/pkg/jni"
	"github.com/daimatz/gojni/pkg/mutf8"
)

// refEntry is one live handle. Exactly one of obj/class is set.
type refEntry struct {
	obj   *Object
	class *Class
	kind  jni.RefKind
}

// JVM is the fake VM. It is safe for use from multiple attached
// goroutines.
type JVM struct {
	mu         sync.Mutex
	classes    map[string]*Class
	refs       map[jni.Ref]*refEntry
	nextRef    uintptr
	methods    map[uintptr]*Method
	nextMethod uintptr
	frames     map[uint64][][]jni.Ref // per-goroutine stack of local-ref frames
	pending    map[uint64]*Object     // per-goroutine pending throwable
}

// New creates a fake VM preloaded with the core throwable hierarchy and
// java/lang/String.
func New() *JVM {
	vm := &JVM{
		classes: make(map[string]*Class),
		refs:    make(map[jni.Ref]*refEntry),
		methods: make(map[uintptr]*Method),
		frames:  make(map[uint64][][]jni.Ref),
		pending: make(map[uint64]*Object),
	}
	object := vm.defineLocked("java/lang/Object", nil)
	vm.defineLocked("java/lang/String", object)
	throwable := vm.defineLocked("java/lang/Throwable", object)
	exception := vm.defineLocked("java/lang/Exception", throwable)
	errCls := vm.defineLocked("java/lang/Error", throwable)
	vm.defineLocked("java/lang/RuntimeException", exception)
	vm.defineLocked("java/lang/ClassNotFoundException", exception)
	vm.defineLocked("java/lang/OutOfMemoryError", errCls)
	vm.defineLocked("java/lang/NoClassDefFoundError", errCls)
	vm.defineLocked("java/lang/NoSuchMethodError", errCls)
	return vm
}

func (vm *JVM) defineLocked(name string, super *Class) *Class {
	c := &Class{
		Name:        name,
		Super:       super,
		AccessFlags: AccPublic | AccSuper,
		vm:          vm,
		methods:     make(map[string]*Method),
	}
	vm.classes[name] = c
	return c
}

// DefineClass registers a new class extending the named superclass.
func (vm *JVM) DefineClass(name, superName string) (*Class, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if _, exists := vm.classes[name]; exists {
		return nil, fmt.Errorf("class %s already defined", name)
	}
	super, ok := vm.classes[superName]
	if !ok {
		return nil, fmt.Errorf("superclass %s not defined", superName)
	}
	return vm.defineLocked(name, super), nil
}

// mintLocked allocates a handle for the given target.
func (vm *JVM) mintLocked(gid uint64, entry *refEntry) jni.Ref {
	vm.nextRef++
	ref := jni.Ref(vm.nextRef)
	vm.refs[ref] = entry
	if entry.kind == jni.RefLocal {
		stack := vm.frames[gid]
		if len(stack) == 0 {
			stack = [][]jni.Ref{nil}
		}
		stack[len(stack)-1] = append(stack[len(stack)-1], ref)
		vm.frames[gid] = stack
	}
	return ref
}

func (vm *JVM) resolveLocked(ref jni.Ref) (*refEntry, error) {
	entry, ok := vm.refs[ref]
	if !ok {
		return nil, fmt.Errorf("invalid reference %#x", uintptr(ref))
	}
	return entry, nil
}

func (vm *JVM) objectLocked(ref jni.Ref) (*Object, error) {
	entry, err := vm.resolveLocked(ref)
	if err != nil {
		return nil, err
	}
	if entry.obj == nil {
		return nil, fmt.Errorf("reference %#x is a class, not an object", uintptr(ref))
	}
	return entry.obj, nil
}

func (vm *JVM) classLocked(ref jni.Ref) (*Class, error) {
	entry, err := vm.resolveLocked(ref)
	if err != nil {
		return nil, err
	}
	if entry.class == nil {
		return nil, fmt.Errorf("reference %#x is not a class", uintptr(ref))
	}
	return entry.class, nil
}

// throwLocked makes a throwable of the named class pending on gid.
// Unknown throwable classes are defined on the fly under
// java/lang/Throwable so natives can throw project-defined classes
// without pre-declaring them.
func (vm *JVM) throwLocked(gid uint64, className, msg string) {
	cls, ok := vm.classes[className]
	if !ok {
		cls = vm.defineLocked(className, vm.classes["java/lang/Throwable"])
	}
	vm.pending[gid] = &Object{Class: cls, Fields: make(map[string]jni.Value), msg: msg}
}

// FindClass implements jni.Backend.
func (vm *JVM) FindClass(name string) jni.Ref {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.pending[gid] != nil {
		return jni.NullRef
	}
	cls, ok := vm.classes[name]
	if !ok {
		vm.throwLocked(gid, "java/lang/NoClassDefFoundError", name)
		return jni.NullRef
	}
	return vm.mintLocked(gid, &refEntry{class: cls, kind: jni.RefLocal})
}

// GetObjectClass implements jni.Backend.
func (vm *JVM) GetObjectClass(obj jni.Ref) (jni.Ref, error) {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	o, err := vm.objectLocked(obj)
	if err != nil {
		return jni.NullRef, err
	}
	return vm.mintLocked(gid, &refEntry{class: o.Class, kind: jni.RefLocal}), nil
}

// GetSuperclass implements jni.Backend. Interfaces and
// java/lang/Object report no superclass.
func (vm *JVM) GetSuperclass(class jni.Ref) (jni.Ref, bool) {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	cls, err := vm.classLocked(class)
	if err != nil || cls.Super == nil || cls.AccessFlags&AccInterface != 0 {
		return jni.NullRef, false
	}
	return vm.mintLocked(gid, &refEntry{class: cls.Super, kind: jni.RefLocal}), true
}

// IsSameObject implements jni.Backend.
func (vm *JVM) IsSameObject(a, b jni.Ref) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	ta := vm.targetLocked(a)
	tb := vm.targetLocked(b)
	return ta == tb
}

func (vm *JVM) targetLocked(ref jni.Ref) interface{} {
	if ref == jni.NullRef {
		return nil
	}
	entry, ok := vm.refs[ref]
	if !ok {
		return nil
	}
	if entry.obj != nil {
		if entry.obj.collected {
			return nil
		}
		return entry.obj
	}
	return entry.class
}

// ClassName implements jni.Backend.
func (vm *JVM) ClassName(class jni.Ref) (string, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	cls, err := vm.classLocked(class)
	if err != nil {
		return "", err
	}
	return cls.Name, nil
}

// GetMethodID implements jni.Backend. Failure leaves a
// NoSuchMethodError pending and returns 0.
func (vm *JVM) GetMethodID(class jni.Ref, name, sig string, static bool) uintptr {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.pending[gid] != nil {
		return 0
	}
	cls, err := vm.classLocked(class)
	if err != nil {
		vm.throwLocked(gid, "java/lang/NoSuchMethodError", name+sig)
		return 0
	}
	m := cls.lookup(name, sig, static)
	if m == nil {
		vm.throwLocked(gid, "java/lang/NoSuchMethodError", cls.Name+"."+name+sig)
		return 0
	}
	for id, existing := range vm.methods {
		if existing == m {
			return id
		}
	}
	vm.nextMethod++
	vm.methods[vm.nextMethod] = m
	return vm.nextMethod
}

// CallMethod implements jni.Backend.
func (vm *JVM) CallMethod(obj jni.Ref, method uintptr, args []jni.Value) (jni.Value, error) {
	gid := goroutineID()
	vm.mu.Lock()
	if vm.pending[gid] != nil {
		vm.mu.Unlock()
		return jni.Value{}, fmt.Errorf("call issued with an exception pending")
	}
	m, ok := vm.methods[method]
	if !ok {
		vm.mu.Unlock()
		return jni.Value{}, fmt.Errorf("invalid method id %d", method)
	}
	if m.Static {
		vm.mu.Unlock()
		return jni.Value{}, fmt.Errorf("static method %s invoked as instance method", m.Name)
	}
	recv, err := vm.objectLocked(obj)
	if err != nil {
		vm.mu.Unlock()
		return jni.Value{}, err
	}
	if !recv.Class.isSubclassOf(m.Class) {
		vm.mu.Unlock()
		return jni.Value{}, fmt.Errorf("receiver class %s does not declare %s", recv.Class.Name, m.Name)
	}
	vm.mu.Unlock()

	return vm.invoke(gid, m, recv, obj, args)
}

// CallStatic implements jni.Backend.
func (vm *JVM) CallStatic(class jni.Ref, method uintptr, args []jni.Value) (jni.Value, error) {
	gid := goroutineID()
	vm.mu.Lock()
	if vm.pending[gid] != nil {
		vm.mu.Unlock()
		return jni.Value{}, fmt.Errorf("call issued with an exception pending")
	}
	m, ok := vm.methods[method]
	if !ok {
		vm.mu.Unlock()
		return jni.Value{}, fmt.Errorf("invalid method id %d", method)
	}
	if !m.Static {
		vm.mu.Unlock()
		return jni.Value{}, fmt.Errorf("instance method %s invoked as static method", m.Name)
	}
	cls, err := vm.classLocked(class)
	if err != nil {
		vm.mu.Unlock()
		return jni.Value{}, err
	}
	if !cls.isSubclassOf(m.Class) {
		vm.mu.Unlock()
		return jni.Value{}, fmt.Errorf("class %s does not declare %s", cls.Name, m.Name)
	}
	vm.mu.Unlock()

	return vm.invoke(gid, m, nil, jni.NullRef, args)
}

// invoke runs a method body outside the VM lock (bodies call back into
// the VM) and converts a Thrown into the pending state.
func (vm *JVM) invoke(gid uint64, m *Method, recv *Object, recvRef jni.Ref, args []jni.Value) (jni.Value, error) {
	if m.native != nil {
		return m.native(recvRef, args)
	}
	if m.body == nil {
		return jni.Value{}, fmt.Errorf("method %s.%s has no body", m.Class.Name, m.Name)
	}
	ret, err := m.body(vm, recv, args)
	if err != nil {
		if t, ok := err.(*Thrown); ok {
			vm.mu.Lock()
			vm.throwLocked(gid, t.ClassName, t.Message)
			vm.mu.Unlock()
			return jni.Value{}, nil
		}
		return jni.Value{}, fmt.Errorf("body of %s.%s: %w", m.Class.Name, m.Name, err)
	}
	return ret, nil
}

// RegisterNative implements jni.Backend. If the class does not declare
// name+sig, an instance method is declared for it.
func (vm *JVM) RegisterNative(class jni.Ref, name, sig string, fn jni.RawNativeFunc) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	cls, err := vm.classLocked(class)
	if err != nil {
		return err
	}
	m := cls.lookup(name, sig, false)
	if m == nil {
		m = cls.lookup(name, sig, true)
	}
	if m == nil {
		m = &Method{Class: cls, Name: name, Sig: sig}
		cls.methods[methodKey(name, sig, false)] = m
	}
	m.native = fn
	m.body = nil
	return nil
}

// NewRef implements jni.Backend. Upgrading a weak reference whose
// referent was collected yields NullRef.
func (vm *JVM) NewRef(obj jni.Ref, kind jni.RefKind) (jni.Ref, error) {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	entry, err := vm.resolveLocked(obj)
	if err != nil {
		return jni.NullRef, err
	}
	if entry.obj != nil && entry.obj.collected {
		if kind == jni.RefGlobal {
			return jni.NullRef, nil
		}
		return jni.NullRef, fmt.Errorf("reference %#x to a collected object", uintptr(obj))
	}
	return vm.mintLocked(gid, &refEntry{obj: entry.obj, class: entry.class, kind: kind}), nil
}

// DeleteRef implements jni.Backend.
func (vm *JVM) DeleteRef(ref jni.Ref, kind jni.RefKind) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	entry, err := vm.resolveLocked(ref)
	if err != nil {
		return err
	}
	if entry.kind != kind {
		return fmt.Errorf("reference %#x is %s, deleted as %s", uintptr(ref), entry.kind, kind)
	}
	delete(vm.refs, ref)
	return nil
}

// PushLocalFrame implements jni.Backend.
func (vm *JVM) PushLocalFrame() {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.frames[gid] = append(vm.frames[gid], nil)
}

// PopLocalFrame implements jni.Backend.
func (vm *JVM) PopLocalFrame() {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	stack := vm.frames[gid]
	if len(stack) == 0 {
		return
	}
	for _, ref := range stack[len(stack)-1] {
		delete(vm.refs, ref)
	}
	vm.frames[gid] = stack[:len(stack)-1]
	if len(vm.frames[gid]) == 0 {
		delete(vm.frames, gid)
	}
}

// NewString implements jni.Backend.
func (vm *JVM) NewString(mutf8Bytes []byte) (jni.Ref, error) {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	obj := &Object{
		Class:  vm.classes["java/lang/String"],
		Fields: make(map[string]jni.Value),
		str:    append([]byte(nil), mutf8Bytes...),
	}
	return vm.mintLocked(gid, &refEntry{obj: obj, kind: jni.RefLocal}), nil
}

// StringBytes implements jni.Backend.
func (vm *JVM) StringBytes(ref jni.Ref) ([]byte, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	o, err := vm.objectLocked(ref)
	if err != nil {
		return nil, err
	}
	if o.Class.Name != "java/lang/String" {
		return nil, fmt.Errorf("reference %#x is %s, not a string", uintptr(ref), o.Class.Name)
	}
	return o.str, nil
}

// PendingException implements jni.Backend. The returned reference is a
// fresh local, like JNI's ExceptionOccurred.
func (vm *JVM) PendingException() (jni.Ref, bool) {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	exc := vm.pending[gid]
	if exc == nil {
		return jni.NullRef, false
	}
	return vm.mintLocked(gid, &refEntry{obj: exc, kind: jni.RefLocal}), true
}

// ThrowableMessage implements jni.Backend.
func (vm *JVM) ThrowableMessage(exc jni.Ref) string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	o, err := vm.objectLocked(exc)
	if err != nil {
		return ""
	}
	return o.msg
}

// ClearException implements jni.Backend.
func (vm *JVM) ClearException() {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	delete(vm.pending, gid)
}

// Throw implements jni.Backend.
func (vm *JVM) Throw(exc jni.Ref) error {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	o, err := vm.objectLocked(exc)
	if err != nil {
		return err
	}
	if !o.Class.isSubclassOf(vm.classes["java/lang/Throwable"]) {
		return fmt.Errorf("thrown object of class %s is not a throwable", o.Class.Name)
	}
	vm.pending[gid] = o
	return nil
}

// ThrowNew implements jni.Backend.
func (vm *JVM) ThrowNew(class string, msg string) error {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.throwLocked(gid, class, msg)
	return nil
}

// NewObject creates an instance of the named class and returns a local
// reference to it. Usable from tests and method bodies.
func (vm *JVM) NewObject(className string) (jni.Ref, error) {
	gid := goroutineID()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	cls, ok := vm.classes[className]
	if !ok {
		return jni.NullRef, fmt.Errorf("class %s not defined", className)
	}
	obj := &Object{Class: cls, Fields: make(map[string]jni.Value)}
	return vm.mintLocked(gid, &refEntry{obj: obj, kind: jni.RefLocal}), nil
}

// NewStringObject interns a Go string, encoding it as modified UTF-8.
func (vm *JVM) NewStringObject(s string) (jni.Ref, error) {
	enc, err := mutf8.Encode(s)
	if err != nil {
		return jni.NullRef, err
	}
	return vm.NewString(enc)
}

// Object resolves an object reference for test assertions.
func (vm *JVM) Object(ref jni.Ref) (*Object, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.objectLocked(ref)
}

// LiveRefCount reports how many handles of any kind are outstanding.
func (vm *JVM) LiveRefCount() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.refs)
}

// RunGC collects every object that is reachable only through weak
// references. Classes are never collected.
func (vm *JVM) RunGC() {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	strong := make(map[*Object]bool)
	for _, entry := range vm.refs {
		if entry.obj != nil && entry.kind != jni.RefWeak {
			strong[entry.obj] = true
		}
	}
	for _, exc := range vm.pending {
		strong[exc] = true
	}
	for _, entry := range vm.refs {
		if entry.obj != nil && entry.kind == jni.RefWeak && !strong[entry.obj] {
			entry.obj.collected = true
		}
	}
}

// goroutineID mirrors the bridge's confinement key: the id parsed from
// runtime.Stack.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

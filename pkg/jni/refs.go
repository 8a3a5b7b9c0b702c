package jni

import (
	"fmt"
	"runtime"
	"sync"
)

// LocalRef is a JVM object reference scoped to the local frame that
// created it. It is confined to its Env's goroutine and becomes invalid
// the moment its frame is popped; every use revalidates both, so an
// escaped local fails instead of dereferencing a reclaimed slot.
type LocalRef struct {
	env   *Env
	ref   Ref
	frame uint64
}

// get validates confinement and frame liveness before exposing the raw
// reference.
func (l *LocalRef) get(e *Env) (Ref, *BridgeError) {
	if l == nil {
		return NullRef, nil
	}
	if err := e.check(); err != nil {
		return NullRef, err
	}
	if l.env != e {
		return NullRef, errf(CodeNotAttached, "local reference belongs to a different attachment")
	}
	if !e.frameLive(l.frame) {
		return NullRef, errf(CodeInternal, "local reference used after its frame was popped")
	}
	return l.ref, nil
}

// AsValue marshals the local reference into an object Value for use as
// a call argument.
func (l *LocalRef) AsValue(e *Env) (Value, error) {
	ref, err := l.get(e)
	if err != nil {
		return Value{}, err
	}
	return ObjectValue(ref), nil
}

// GlobalRef is an explicitly promoted JVM object reference. Unlike Env
// and LocalRef it may be shared between goroutines; the JVM guarantees
// its validity until Release. The goroutine performing an operation
// supplies its own Env.
type GlobalRef struct {
	ref Ref
	reg *registry

	mu       sync.Mutex
	released bool
}

// AsValue marshals the global reference into an object Value.
func (g *GlobalRef) AsValue() Value { return ObjectValue(g.ref) }

// Raw returns the underlying reference. Valid until Release.
func (g *GlobalRef) Raw() Ref { return g.ref }

// WeakRef is a non-owning reference: it does not keep its referent
// alive, and must be upgraded back to a GlobalRef before use.
type WeakRef struct {
	ref Ref
}

// Promote converts a local reference into a global one usable beyond
// the current frame and across goroutines. Every Promote must be
// matched by exactly one Release; outstanding promotions are reported
// at detach.
func (e *Env) Promote(l *LocalRef) (*GlobalRef, error) {
	ref, cerr := l.get(e)
	if cerr != nil {
		return nil, cerr
	}
	if ref == NullRef {
		return nil, errf(CodeInternal, "cannot promote a null reference")
	}
	gref, err := e.backend.NewRef(ref, RefGlobal)
	if err != nil {
		return nil, wrapf(CodeInternal, err, "promoting local reference")
	}
	g := &GlobalRef{ref: gref, reg: e.registry}
	e.registry.track(gref, e.registry.callSite(1))
	return g, nil
}

// Release frees the global reference. Releasing twice is an Internal
// error; the second call does not reach the JVM.
func (g *GlobalRef) Release(e *Env) error {
	if err := e.check(); err != nil {
		return err
	}
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return errf(CodeInternal, "global reference released twice")
	}
	g.released = true
	g.mu.Unlock()

	g.reg.untrack(g.ref)
	if err := e.backend.DeleteRef(g.ref, RefGlobal); err != nil {
		return wrapf(CodeInternal, err, "releasing global reference")
	}
	return nil
}

// Weaken trades the global reference for a weak one. The global is
// released as part of the exchange; only the weak handle remains.
func (g *GlobalRef) Weaken(e *Env) (*WeakRef, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	wref, err := e.backend.NewRef(g.ref, RefWeak)
	if err != nil {
		return nil, wrapf(CodeInternal, err, "weakening global reference")
	}
	w := &WeakRef{ref: wref}
	if err := g.Release(e); err != nil {
		return nil, err
	}
	return w, nil
}

// Upgrade attempts to recover a strong reference from the weak one.
// It returns false if the JVM has collected the referent; otherwise the
// returned GlobalRef is a fresh promotion, charged to the upgrading
// Env's registry, with its own Release obligation.
func (w *WeakRef) Upgrade(e *Env) (*GlobalRef, bool) {
	if err := e.check(); err != nil {
		return nil, false
	}
	gref, err := e.backend.NewRef(w.ref, RefGlobal)
	if err != nil || gref == NullRef {
		return nil, false
	}
	g := &GlobalRef{ref: gref, reg: e.registry}
	e.registry.track(gref, e.registry.callSite(1))
	return g, true
}

// Release frees the weak reference itself. Safe whether or not the
// referent is still alive.
func (w *WeakRef) Release(e *Env) error {
	if err := e.check(); err != nil {
		return err
	}
	if err := e.backend.DeleteRef(w.ref, RefWeak); err != nil {
		return wrapf(CodeInternal, err, "releasing weak reference")
	}
	return nil
}

// Leak describes a promotion that was never released, reported at
// detach time. Leaks are diagnostics: the attachment is torn down
// regardless.
type Leak struct {
	Ref        Ref
	PromotedAt string // file:line of the promotion, when leak-check is on
}

// Error implements the error interface so a Leak slots into the bridge
// error taxonomy.
func (l Leak) Error() string {
	if l.PromotedAt != "" {
		return fmt.Sprintf("%s: global reference promoted at %s never released", CodeLeakedReference, l.PromotedAt)
	}
	return fmt.Sprintf("%s: global reference never released", CodeLeakedReference)
}

// registry tracks outstanding promotions for one attachment.
type registry struct {
	mu          sync.Mutex
	recordSites bool
	outstanding map[Ref]string
}

func newRegistry() *registry {
	return &registry{outstanding: make(map[Ref]string)}
}

func (r *registry) track(ref Ref, site string) {
	r.mu.Lock()
	r.outstanding[ref] = site
	r.mu.Unlock()
}

// callSite returns the file:line skip frames above the caller, or ""
// when site recording is off. Each tracking call site passes its own
// depth so the recorded site lands in user code, not in the bridge.
func (r *registry) callSite(skip int) string {
	if !r.recordSites {
		return ""
	}
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		return fmt.Sprintf("%s:%d", file, line)
	}
	return ""
}

func (r *registry) untrack(ref Ref) {
	r.mu.Lock()
	delete(r.outstanding, ref)
	r.mu.Unlock()
}

// Outstanding returns the number of promotions not yet released.
func (r *registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outstanding)
}

// drain empties the registry and returns the leaks it held.
func (r *registry) drain() []Leak {
	r.mu.Lock()
	defer r.mu.Unlock()
	leaks := make([]Leak, 0, len(r.outstanding))
	for ref, site := range r.outstanding {
		leaks = append(leaks, Leak{Ref: ref, PromotedAt: site})
	}
	r.outstanding = make(map[Ref]string)
	return leaks
}

// OutstandingGlobals reports how many promotions on this attachment
// have not been released yet. Zero immediately before Detach means a
// leak-free session.
func (e *Env) OutstandingGlobals() int {
	return e.registry.Outstanding()
}

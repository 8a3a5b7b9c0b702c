package jni

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/daimatz/gojni/pkg/mutf8"
)

// Env wraps one goroutine's attachment to the JVM. It is a confined
// capability: every operation revalidates that the caller is the
// goroutine that attached, so an Env that leaks to another goroutine
// fails instead of corrupting the JVM's thread-local state.
//
// GlobalRef and WeakRef travel freely between goroutines; Env and
// LocalRef never do.
type Env struct {
	backend Backend
	// owner is the goroutine id captured at attach, 0 after detach.
	// Atomic because foreign goroutines read it in check while the
	// owning goroutine clears it in Detach.
	owner    atomic.Uint64
	log      *zap.Logger
	registry *registry

	// Local-frame bookkeeping. frames holds the id of every open frame,
	// root first; LocalRefs record the id of the frame they belong to.
	frames   []uint64
	frameSeq uint64
}

// attachments is the process-wide table of live attachments, keyed by
// goroutine id. JNI keys attachment by OS thread; per-goroutine is the
// strictly narrower rule and the only one checkable from pure Go.
var attachments struct {
	sync.Mutex
	envs map[uint64]*Env
}

// Option configures an attachment.
type Option func(*Env)

// WithLogger sets the logger used for lifecycle and leak diagnostics.
// The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Env) { e.log = log }
}

// WithLeakCheck enables recording of the promotion site for every
// outstanding global reference, so leak reports at detach carry the
// caller that created them.
func WithLeakCheck() Option {
	return func(e *Env) { e.registry.recordSites = true }
}

// Attach registers the calling goroutine with the JVM and returns its
// Env. Calling Attach on an already-attached goroutine is idempotent:
// the existing Env is returned and no second registration happens
// (options on the repeated call are ignored).
func Attach(backend Backend, opts ...Option) (*Env, error) {
	gid := goroutineID()

	attachments.Lock()
	defer attachments.Unlock()
	if attachments.envs == nil {
		attachments.envs = make(map[uint64]*Env)
	}
	if env, ok := attachments.envs[gid]; ok {
		return env, nil
	}

	env := &Env{
		backend:  backend,
		log:      zap.NewNop(),
		registry: newRegistry(),
	}
	env.owner.Store(gid)
	for _, opt := range opts {
		opt(env)
	}

	// Root local frame, open from attach to detach.
	env.backend.PushLocalFrame()
	env.frameSeq++
	env.frames = []uint64{env.frameSeq}

	attachments.envs[gid] = env
	env.log.Debug("attached to JVM", zap.Uint64("goroutine", gid))
	return env, nil
}

// Current returns the calling goroutine's Env, failing with NotAttached
// if Attach was never called (or Detach already ran) on this goroutine.
func Current() (*Env, error) {
	gid := goroutineID()
	attachments.Lock()
	env, ok := attachments.envs[gid]
	attachments.Unlock()
	if !ok {
		return nil, errf(CodeNotAttached, "goroutine %d has no JVM attachment", gid)
	}
	return env, nil
}

// Detach unregisters the calling goroutine, closes the root local
// frame, and reports every promotion still outstanding as a
// LeakedReference diagnostic. The leaks are non-fatal; the attachment is
// torn down either way.
func Detach() ([]Leak, error) {
	gid := goroutineID()

	attachments.Lock()
	env, ok := attachments.envs[gid]
	if ok {
		delete(attachments.envs, gid)
	}
	attachments.Unlock()
	if !ok {
		return nil, errf(CodeNotAttached, "goroutine %d has no JVM attachment", gid)
	}

	leaks := env.registry.drain()
	for _, l := range leaks {
		env.log.Warn("leaked global reference",
			zap.Uint64("goroutine", gid),
			zap.String("promoted_at", l.PromotedAt))
	}

	// Drop every local frame, root included.
	for range env.frames {
		env.backend.PopLocalFrame()
	}
	env.frames = nil
	env.owner.Store(0) // stale Env fails the ownership check from here on

	env.log.Debug("detached from JVM", zap.Uint64("goroutine", gid), zap.Int("leaks", len(leaks)))
	return leaks, nil
}

// Backend returns the backend this Env is attached to.
func (e *Env) Backend() Backend { return e.backend }

// check enforces the confinement invariant on every entry point.
func (e *Env) check() *BridgeError {
	gid := goroutineID()
	owner := e.owner.Load()
	if owner == 0 {
		return errf(CodeNotAttached, "Env used after detach")
	}
	if gid != owner {
		return errf(CodeNotAttached, "Env owned by goroutine %d used from goroutine %d", owner, gid)
	}
	return nil
}

// PushLocalFrame opens a new local-reference frame. Object references
// created after this call belong to the new frame and die with it.
func (e *Env) PushLocalFrame() error {
	if err := e.check(); err != nil {
		return err
	}
	e.backend.PushLocalFrame()
	e.frameSeq++
	e.frames = append(e.frames, e.frameSeq)
	return nil
}

// PopLocalFrame closes the current frame, invalidating every LocalRef
// created inside it. The root frame cannot be popped.
func (e *Env) PopLocalFrame() error {
	if err := e.check(); err != nil {
		return err
	}
	if len(e.frames) <= 1 {
		return errf(CodeInternal, "cannot pop the root local frame")
	}
	e.backend.PopLocalFrame()
	e.frames = e.frames[:len(e.frames)-1]
	return nil
}

// currentFrame returns the id of the innermost open frame.
func (e *Env) currentFrame() uint64 {
	return e.frames[len(e.frames)-1]
}

// frameLive reports whether the frame with the given id is still open.
func (e *Env) frameLive(id uint64) bool {
	for _, f := range e.frames {
		if f == id {
			return true
		}
	}
	return false
}

// newLocal wraps a raw local reference in a LocalRef pinned to the
// current frame. NullRef yields nil.
func (e *Env) newLocal(ref Ref) *LocalRef {
	if ref == NullRef {
		return nil
	}
	return &LocalRef{env: e, ref: ref, frame: e.currentFrame()}
}

// NewString interns a Go string as a JVM string object, returning a
// local reference. Invalid UTF-8 fails with DecodeError; no replacement
// characters are ever substituted.
func (e *Env) NewString(s string) (*LocalRef, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	enc, err := mutf8.Encode(s)
	if err != nil {
		return nil, wrapf(CodeDecodeError, err, "encoding string for JVM")
	}
	ref, err := e.backend.NewString(enc)
	if err != nil {
		return nil, wrapf(CodeInternal, err, "interning string")
	}
	if be := e.checkPending(e.registry.callSite(1)); be != nil {
		return nil, be
	}
	return e.newLocal(ref), nil
}

// GetString decodes a JVM string object into a Go string. Modified
// UTF-8 sequences that have no Go representation (unpaired surrogates
// and other malformed data) fail with DecodeError.
func (e *Env) GetString(ref Ref) (string, error) {
	if err := e.check(); err != nil {
		return "", err
	}
	if ref == NullRef {
		return "", errf(CodeDecodeError, "null where a string was required")
	}
	raw, err := e.backend.StringBytes(ref)
	if err != nil {
		return "", wrapf(CodeInternal, err, "reading string bytes")
	}
	s, err := mutf8.Decode(raw)
	if err != nil {
		return "", wrapf(CodeDecodeError, err, "decoding string from JVM")
	}
	return s, nil
}

// FindClass resolves a class by binary name, returning a local
// reference to it. Resolution failures surface as the classified
// pending exception (ClassNotFound for the usual case).
func (e *Env) FindClass(name string) (*LocalRef, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	ref := e.backend.FindClass(name)
	if be := e.checkPending(e.registry.callSite(1)); be != nil {
		return nil, be
	}
	if ref == NullRef {
		return nil, errf(CodeClassNotFound, "class %s not found", name)
	}
	return e.newLocal(ref), nil
}

// goroutineID parses the current goroutine's id out of runtime.Stack.
// The runtime offers no cheaper portable identity, and attachment is an
// infrequent operation.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 12 [running]:"
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

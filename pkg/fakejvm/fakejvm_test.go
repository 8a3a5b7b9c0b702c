package fakejvm

import (
	"testing"

	"github.com/daimatz/gojni/pkg/jni"
)

func TestDefineClass(t *testing.T) {
	t.Run("defines under an existing superclass", func(t *testing.T) {
		vm := New()
		cls, err := vm.DefineClass("com/example/Widget", "java/lang/Object")
		if err != nil {
			t.Fatalf("DefineClass: %v", err)
		}
		if cls.Super == nil || cls.Super.Name != "java/lang/Object" {
			t.Errorf("superclass: got %v, want java/lang/Object", cls.Super)
		}
		if cls.AccessFlags&AccPublic == 0 {
			t.Error("new classes should be public")
		}
	})

	t.Run("rejects duplicate definition", func(t *testing.T) {
		vm := New()
		if _, err := vm.DefineClass("Dup", "java/lang/Object"); err != nil {
			t.Fatalf("DefineClass: %v", err)
		}
		if _, err := vm.DefineClass("Dup", "java/lang/Object"); err == nil {
			t.Error("expected error for duplicate class")
		}
	})

	t.Run("rejects unknown superclass", func(t *testing.T) {
		vm := New()
		if _, err := vm.DefineClass("Orphan", "no/Such"); err == nil {
			t.Error("expected error for unknown superclass")
		}
	})

	t.Run("rejects bad method descriptor", func(t *testing.T) {
		vm := New()
		cls, err := vm.DefineClass("Bad", "java/lang/Object")
		if err != nil {
			t.Fatalf("DefineClass: %v", err)
		}
		if err := cls.Method("m", "(X)V", nil); err == nil {
			t.Error("expected error for invalid descriptor")
		}
	})
}

func TestMethodLookup(t *testing.T) {
	vm := New()
	base, err := vm.DefineClass("Base", "java/lang/Object")
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	if err := base.Method("inherited", "()V", func(*JVM, *Object, []jni.Value) (jni.Value, error) {
		return jni.VoidValue(), nil
	}); err != nil {
		t.Fatalf("Method: %v", err)
	}
	derived, err := vm.DefineClass("Derived", "Base")
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}

	t.Run("walks the superclass chain", func(t *testing.T) {
		if m := derived.lookup("inherited", "()V", false); m == nil {
			t.Error("inherited method not found on subclass")
		}
	})

	t.Run("static and instance tables are distinct", func(t *testing.T) {
		if m := derived.lookup("inherited", "()V", true); m != nil {
			t.Error("instance method found in static lookup")
		}
	})

	t.Run("missing method is nil", func(t *testing.T) {
		if m := derived.lookup("absent", "()V", false); m != nil {
			t.Error("lookup of absent method should be nil")
		}
	})
}

func TestPendingExceptionSlot(t *testing.T) {
	t.Run("poisons further calls until cleared", func(t *testing.T) {
		vm := New()
		cls, err := vm.DefineClass("T", "java/lang/Object")
		if err != nil {
			t.Fatalf("DefineClass: %v", err)
		}
		if err := cls.Static("noop", "()V", func(*JVM, *Object, []jni.Value) (jni.Value, error) {
			return jni.VoidValue(), nil
		}); err != nil {
			t.Fatalf("Static: %v", err)
		}

		classRef := vm.FindClass("T")
		id := vm.GetMethodID(classRef, "noop", "()V", true)
		if id == 0 {
			t.Fatal("GetMethodID returned 0")
		}

		if err := vm.ThrowNew("java/lang/RuntimeException", "pending"); err != nil {
			t.Fatalf("ThrowNew: %v", err)
		}
		if _, err := vm.CallStatic(classRef, id, nil); err == nil {
			t.Error("expected error calling with an exception pending")
		}

		vm.ClearException()
		if _, err := vm.CallStatic(classRef, id, nil); err != nil {
			t.Errorf("call after clear: %v", err)
		}
	})

	t.Run("FindClass failure sets NoClassDefFoundError", func(t *testing.T) {
		vm := New()
		if ref := vm.FindClass("missing/Class"); ref != jni.NullRef {
			t.Errorf("FindClass: got %v, want NullRef", ref)
		}
		excRef, ok := vm.PendingException()
		if !ok {
			t.Fatal("expected a pending exception")
		}
		obj, err := vm.Object(excRef)
		if err != nil {
			t.Fatalf("Object: %v", err)
		}
		if obj.Class.Name != "java/lang/NoClassDefFoundError" {
			t.Errorf("pending class: got %s", obj.Class.Name)
		}
	})
}

func TestLocalFrameReclamation(t *testing.T) {
	vm := New()
	vm.PushLocalFrame()
	before := vm.LiveRefCount()

	vm.PushLocalFrame()
	for i := 0; i < 3; i++ {
		if _, err := vm.NewStringObject("tmp"); err != nil {
			t.Fatalf("NewStringObject: %v", err)
		}
	}
	if got := vm.LiveRefCount(); got != before+3 {
		t.Fatalf("live refs inside frame: got %d, want %d", got, before+3)
	}
	vm.PopLocalFrame()
	if got := vm.LiveRefCount(); got != before {
		t.Errorf("live refs after pop: got %d, want %d", got, before)
	}
	vm.PopLocalFrame()
}

func TestGC(t *testing.T) {
	t.Run("weak-only objects are collected", func(t *testing.T) {
		vm := New()
		vm.PushLocalFrame()
		local, err := vm.NewStringObject("doomed")
		if err != nil {
			t.Fatalf("NewStringObject: %v", err)
		}
		weak, err := vm.NewRef(local, jni.RefWeak)
		if err != nil {
			t.Fatalf("NewRef: %v", err)
		}
		vm.PopLocalFrame()

		vm.RunGC()

		got, err := vm.NewRef(weak, jni.RefGlobal)
		if err != nil {
			t.Fatalf("NewRef after GC: %v", err)
		}
		if got != jni.NullRef {
			t.Errorf("upgrade of collected referent: got %v, want NullRef", got)
		}
	})

	t.Run("strongly held objects survive", func(t *testing.T) {
		vm := New()
		vm.PushLocalFrame()
		local, err := vm.NewStringObject("kept")
		if err != nil {
			t.Fatalf("NewStringObject: %v", err)
		}
		global, err := vm.NewRef(local, jni.RefGlobal)
		if err != nil {
			t.Fatalf("NewRef: %v", err)
		}
		weak, err := vm.NewRef(local, jni.RefWeak)
		if err != nil {
			t.Fatalf("NewRef: %v", err)
		}
		vm.PopLocalFrame()

		vm.RunGC()

		got, err := vm.NewRef(weak, jni.RefGlobal)
		if err != nil {
			t.Fatalf("NewRef after GC: %v", err)
		}
		if got == jni.NullRef {
			t.Error("strongly held object was collected")
		}
		if !vm.IsSameObject(got, global) {
			t.Error("upgraded reference does not match the original")
		}
	})
}

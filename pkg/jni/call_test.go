package jni_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/gojni/pkg/fakejvm"
	"github.com/daimatz/gojni/pkg/jni"
	"github.com/daimatz/gojni/pkg/mutf8"
)

// newCalculator defines a Calculator class with a static add(int,int)
// and an instance scale(int) that multiplies by a field.
func newCalculator(t *testing.T, vm *fakejvm.JVM) {
	t.Helper()
	cls, err := vm.DefineClass("Calculator", "java/lang/Object")
	require.NoError(t, err)
	require.NoError(t, cls.Static("add", "(II)I",
		func(_ *fakejvm.JVM, _ *fakejvm.Object, args []jni.Value) (jni.Value, error) {
			return jni.IntValue(args[0].Int() + args[1].Int()), nil
		}))
	require.NoError(t, cls.Method("scale", "(I)I",
		func(_ *fakejvm.JVM, recv *fakejvm.Object, args []jni.Value) (jni.Value, error) {
			factor := recv.Fields["factor"]
			return jni.IntValue(factor.Int() * args[0].Int()), nil
		}))
}

func TestCallStatic(t *testing.T) {
	t.Run("add(2,3) returns Int(5)", func(t *testing.T) {
		vm := fakejvm.New()
		newCalculator(t, vm)
		env := attach(t, vm)

		class, err := env.FindClass("Calculator")
		require.NoError(t, err)
		add, err := env.GetStaticMethodID(class, "add", "(II)I")
		require.NoError(t, err)

		ret, err := env.CallStatic(class, add, int32(2), int32(3))
		require.NoError(t, err)
		assert.Equal(t, jni.TagInt, ret.Tag)
		assert.Equal(t, int32(5), ret.Int())
	})

	t.Run("argument count mismatch", func(t *testing.T) {
		vm := fakejvm.New()
		newCalculator(t, vm)
		env := attach(t, vm)

		class, err := env.FindClass("Calculator")
		require.NoError(t, err)
		add, err := env.GetStaticMethodID(class, "add", "(II)I")
		require.NoError(t, err)

		_, err = env.CallStatic(class, add, int32(2))
		require.Error(t, err)
		assert.Equal(t, jni.CodeSignatureMismatch, jni.CodeOf(err))
	})

	t.Run("argument shape mismatch", func(t *testing.T) {
		vm := fakejvm.New()
		newCalculator(t, vm)
		env := attach(t, vm)

		class, err := env.FindClass("Calculator")
		require.NoError(t, err)
		add, err := env.GetStaticMethodID(class, "add", "(II)I")
		require.NoError(t, err)

		_, err = env.CallStatic(class, add, int32(2), "three")
		require.Error(t, err)
		assert.Equal(t, jni.CodeSignatureMismatch, jni.CodeOf(err))
	})

	t.Run("instance method dispatched as static", func(t *testing.T) {
		vm := fakejvm.New()
		newCalculator(t, vm)
		env := attach(t, vm)

		class, err := env.FindClass("Calculator")
		require.NoError(t, err)
		scale, err := env.GetMethodID(class, "scale", "(I)I")
		require.NoError(t, err)

		_, err = env.CallStatic(class, scale, int32(2))
		require.Error(t, err)
		assert.Equal(t, jni.CodeInvalidMethodID, jni.CodeOf(err))
	})
}

func TestCallInstance(t *testing.T) {
	t.Run("receiver fields flow through dispatch", func(t *testing.T) {
		vm := fakejvm.New()
		newCalculator(t, vm)
		env := attach(t, vm)

		ref, err := vm.NewObject("Calculator")
		require.NoError(t, err)
		obj, err := vm.Object(ref)
		require.NoError(t, err)
		obj.Fields["factor"] = jni.IntValue(7)

		class, err := env.FindClass("Calculator")
		require.NoError(t, err)
		scale, err := env.GetMethodID(class, "scale", "(I)I")
		require.NoError(t, err)

		recv, err := env.LocalOf(jni.ObjectValue(ref))
		require.NoError(t, err)
		ret, err := env.Call(recv, scale, int32(6))
		require.NoError(t, err)
		assert.Equal(t, int32(42), ret.Int())
	})

	t.Run("resolution against the wrong class", func(t *testing.T) {
		vm := fakejvm.New()
		newCalculator(t, vm)
		unrelated, err := vm.DefineClass("Unrelated", "java/lang/Object")
		require.NoError(t, err)
		require.NoError(t, unrelated.Method("scale", "(I)I",
			func(_ *fakejvm.JVM, _ *fakejvm.Object, _ []jni.Value) (jni.Value, error) {
				return jni.IntValue(0), nil
			}))
		env := attach(t, vm)

		// Resolve scale against Calculator, dispatch on an Unrelated
		// instance: the lineage check must fail before the JVM is hit.
		calcClass, err := env.FindClass("Calculator")
		require.NoError(t, err)
		scale, err := env.GetMethodID(calcClass, "scale", "(I)I")
		require.NoError(t, err)

		ref, err := vm.NewObject("Unrelated")
		require.NoError(t, err)
		recv, err := env.LocalOf(jni.ObjectValue(ref))
		require.NoError(t, err)

		_, err = env.Call(recv, scale, int32(1))
		require.Error(t, err)
		assert.Equal(t, jni.CodeInvalidMethodID, jni.CodeOf(err))
	})

	t.Run("subclass receiver satisfies superclass resolution", func(t *testing.T) {
		vm := fakejvm.New()
		newCalculator(t, vm)
		_, err := vm.DefineClass("Scientific", "Calculator")
		require.NoError(t, err)
		env := attach(t, vm)

		calcClass, err := env.FindClass("Calculator")
		require.NoError(t, err)
		scale, err := env.GetMethodID(calcClass, "scale", "(I)I")
		require.NoError(t, err)

		ref, err := vm.NewObject("Scientific")
		require.NoError(t, err)
		obj, err := vm.Object(ref)
		require.NoError(t, err)
		obj.Fields["factor"] = jni.IntValue(3)

		recv, err := env.LocalOf(jni.ObjectValue(ref))
		require.NoError(t, err)
		ret, err := env.Call(recv, scale, int32(4))
		require.NoError(t, err)
		assert.Equal(t, int32(12), ret.Int())
	})

	t.Run("missing method surfaces the JVM error", func(t *testing.T) {
		vm := fakejvm.New()
		newCalculator(t, vm)
		env := attach(t, vm)

		class, err := env.FindClass("Calculator")
		require.NoError(t, err)
		_, err = env.GetMethodID(class, "divide", "(II)I")
		require.Error(t, err)
		assert.Equal(t, jni.CodeApplicationException, jni.CodeOf(err))

		// The failed resolution left the environment clean.
		add, err := env.GetStaticMethodID(class, "add", "(II)I")
		require.NoError(t, err)
		ret, err := env.CallStatic(class, add, int32(1), int32(1))
		require.NoError(t, err)
		assert.Equal(t, int32(2), ret.Int())
	})
}

func TestStringArguments(t *testing.T) {
	vm := fakejvm.New()
	cls, err := vm.DefineClass("Greeter", "java/lang/Object")
	require.NoError(t, err)
	require.NoError(t, cls.Static("greet", "(Ljava/lang/String;)Ljava/lang/String;",
		func(vm *fakejvm.JVM, _ *fakejvm.Object, args []jni.Value) (jni.Value, error) {
			raw, err := vm.StringBytes(args[0].Obj())
			if err != nil {
				return jni.Value{}, err
			}
			name, err := mutf8.Decode(raw)
			if err != nil {
				return jni.Value{}, err
			}
			ref, err := vm.NewStringObject("hello " + name)
			if err != nil {
				return jni.Value{}, err
			}
			return jni.ObjectValue(ref), nil
		}))
	env := attach(t, vm)

	class, err := env.FindClass("Greeter")
	require.NoError(t, err)
	greet, err := env.GetStaticMethodID(class, "greet", "(Ljava/lang/String;)Ljava/lang/String;")
	require.NoError(t, err)

	ret, err := env.CallStatic(class, greet, "world")
	require.NoError(t, err)
	require.Equal(t, jni.TagObject, ret.Tag)
	got, err := env.GetString(ret.Obj())
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestRegisterNative(t *testing.T) {
	t.Run("native is callable from the JVM side", func(t *testing.T) {
		vm := fakejvm.New()
		_, err := vm.DefineClass("Callbacks", "java/lang/Object")
		require.NoError(t, err)
		env := attach(t, vm)

		class, err := env.FindClass("Callbacks")
		require.NoError(t, err)
		err = env.RegisterNative(class, "negate", "(I)I",
			func(_ *jni.Env, _ jni.Ref, args []jni.Value) (jni.Value, error) {
				return jni.IntValue(-args[0].Int()), nil
			})
		require.NoError(t, err)

		ref, err := vm.NewObject("Callbacks")
		require.NoError(t, err)
		recv, err := env.LocalOf(jni.ObjectValue(ref))
		require.NoError(t, err)
		negate, err := env.GetMethodID(class, "negate", "(I)I")
		require.NoError(t, err)

		ret, err := env.Call(recv, negate, int32(17))
		require.NoError(t, err)
		assert.Equal(t, int32(-17), ret.Int())
	})

	t.Run("native error becomes a thrown exception", func(t *testing.T) {
		vm := fakejvm.New()
		_, err := vm.DefineClass("Callbacks", "java/lang/Object")
		require.NoError(t, err)
		env := attach(t, vm)

		class, err := env.FindClass("Callbacks")
		require.NoError(t, err)
		err = env.RegisterNative(class, "fail", "()V",
			func(_ *jni.Env, _ jni.Ref, _ []jni.Value) (jni.Value, error) {
				return jni.Value{}, fmt.Errorf("native side gave up")
			})
		require.NoError(t, err)

		ref, err := vm.NewObject("Callbacks")
		require.NoError(t, err)
		recv, err := env.LocalOf(jni.ObjectValue(ref))
		require.NoError(t, err)
		fail, err := env.GetMethodID(class, "fail", "()V")
		require.NoError(t, err)

		_, err = env.Call(recv, fail)
		require.Error(t, err)
		// Plain native errors surface as the bridge's own exception
		// class, classified Internal — never as application errors.
		assert.Equal(t, jni.CodeInternal, jni.CodeOf(err))
		assert.Contains(t, err.Error(), "native side gave up")
	})

	t.Run("native can call back into the JVM", func(t *testing.T) {
		vm := fakejvm.New()
		newCalculator(t, vm)
		_, err := vm.DefineClass("Callbacks", "java/lang/Object")
		require.NoError(t, err)
		env := attach(t, vm)

		class, err := env.FindClass("Callbacks")
		require.NoError(t, err)
		err = env.RegisterNative(class, "addViaJVM", "(II)I",
			func(env *jni.Env, _ jni.Ref, args []jni.Value) (jni.Value, error) {
				calc, err := env.FindClass("Calculator")
				if err != nil {
					return jni.Value{}, err
				}
				add, err := env.GetStaticMethodID(calc, "add", "(II)I")
				if err != nil {
					return jni.Value{}, err
				}
				return env.CallStatic(calc, add, args[0], args[1])
			})
		require.NoError(t, err)

		ref, err := vm.NewObject("Callbacks")
		require.NoError(t, err)
		recv, err := env.LocalOf(jni.ObjectValue(ref))
		require.NoError(t, err)
		addViaJVM, err := env.GetMethodID(class, "addViaJVM", "(II)I")
		require.NoError(t, err)

		ret, err := env.Call(recv, addViaJVM, int32(20), int32(22))
		require.NoError(t, err)
		assert.Equal(t, int32(42), ret.Int())
	})
}

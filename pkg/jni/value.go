package jni

import (
	"fmt"
	"math"

	"github.com/daimatz/gojni/pkg/mutf8"
	"github.com/daimatz/gojni/pkg/signature"
)

// Tag identifies which arm of a Value is populated.
type Tag int

const (
	TagVoid Tag = iota
	TagNull
	TagBoolean
	TagByte
	TagChar
	TagShort
	TagInt
	TagLong
	TagFloat
	TagDouble
	TagString
	TagObject
	TagArray
)

// String returns the tag's name.
func (t Tag) String() string {
	switch t {
	case TagVoid:
		return "void"
	case TagNull:
		return "null"
	case TagBoolean:
		return "boolean"
	case TagByte:
		return "byte"
	case TagChar:
		return "char"
	case TagShort:
		return "short"
	case TagInt:
		return "int"
	case TagLong:
		return "long"
	case TagFloat:
		return "float"
	case TagDouble:
		return "double"
	case TagString:
		return "string"
	case TagObject:
		return "object"
	case TagArray:
		return "array"
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

// Value is a marshaled JNI value: one arm of the tagged union is
// populated according to Tag. Scalars are stored bit-exactly.
type Value struct {
	Tag  Tag
	num  uint64
	str  string
	obj  Ref
	arr  []Value
	elem signature.Type
}

// VoidValue is the result of a void method.
func VoidValue() Value { return Value{Tag: TagVoid} }

// NullValue is the null reference value.
func NullValue() Value { return Value{Tag: TagNull} }

// BoolValue creates a boolean Value.
func BoolValue(v bool) Value {
	var n uint64
	if v {
		n = 1
	}
	return Value{Tag: TagBoolean, num: n}
}

// ByteValue creates a byte Value (JVM bytes are signed).
func ByteValue(v int8) Value { return Value{Tag: TagByte, num: uint64(uint8(v))} }

// CharValue creates a char Value (an unsigned UTF-16 code unit).
func CharValue(v uint16) Value { return Value{Tag: TagChar, num: uint64(v)} }

// ShortValue creates a short Value.
func ShortValue(v int16) Value { return Value{Tag: TagShort, num: uint64(uint16(v))} }

// IntValue creates an int Value.
func IntValue(v int32) Value { return Value{Tag: TagInt, num: uint64(uint32(v))} }

// LongValue creates a long Value.
func LongValue(v int64) Value { return Value{Tag: TagLong, num: uint64(v)} }

// FloatValue creates a float Value, preserved bit-for-bit.
func FloatValue(v float32) Value { return Value{Tag: TagFloat, num: uint64(math.Float32bits(v))} }

// DoubleValue creates a double Value, preserved bit-for-bit.
func DoubleValue(v float64) Value { return Value{Tag: TagDouble, num: math.Float64bits(v)} }

// StringValue creates a string Value. The string is interned into a JVM
// string object at dispatch time.
func StringValue(v string) Value { return Value{Tag: TagString, str: v} }

// ObjectValue creates an object reference Value from a raw reference.
// A zero ref yields the null value.
func ObjectValue(ref Ref) Value {
	if ref == NullRef {
		return NullValue()
	}
	return Value{Tag: TagObject, obj: ref}
}

// ArrayValue creates an array Value with the given element type.
func ArrayValue(elem signature.Type, elems []Value) Value {
	return Value{Tag: TagArray, arr: elems, elem: elem}
}

// Bool returns the boolean arm.
func (v Value) Bool() bool { return v.num != 0 }

// Byte returns the byte arm.
func (v Value) Byte() int8 { return int8(uint8(v.num)) }

// Char returns the char arm.
func (v Value) Char() uint16 { return uint16(v.num) }

// Short returns the short arm.
func (v Value) Short() int16 { return int16(uint16(v.num)) }

// Int returns the int arm.
func (v Value) Int() int32 { return int32(uint32(v.num)) }

// Long returns the long arm.
func (v Value) Long() int64 { return int64(v.num) }

// Float returns the float arm.
func (v Value) Float() float32 { return math.Float32frombits(uint32(v.num)) }

// Double returns the double arm.
func (v Value) Double() float64 { return math.Float64frombits(v.num) }

// Str returns the string arm.
func (v Value) Str() string { return v.str }

// Obj returns the object arm (NullRef for the null value).
func (v Value) Obj() Ref { return v.obj }

// Elems returns the array arm.
func (v Value) Elems() []Value { return v.arr }

// ElemType returns the element type of an array Value.
func (v Value) ElemType() signature.Type { return v.elem }

// matches reports whether the value's tag can satisfy the target type.
// Null satisfies any reference type; String satisfies java/lang/String;
// Object satisfies any object type (class identity is the dispatcher's
// concern, not the marshaler's).
func (v Value) matches(t signature.Type) bool {
	switch v.Tag {
	case TagBoolean:
		return t.Kind == signature.Boolean
	case TagByte:
		return t.Kind == signature.Byte
	case TagChar:
		return t.Kind == signature.Char
	case TagShort:
		return t.Kind == signature.Short
	case TagInt:
		return t.Kind == signature.Int
	case TagLong:
		return t.Kind == signature.Long
	case TagFloat:
		return t.Kind == signature.Float
	case TagDouble:
		return t.Kind == signature.Double
	case TagString:
		return t.IsString()
	case TagObject:
		return t.Kind == signature.Object
	case TagNull:
		return t.Kind == signature.Object || t.Kind == signature.Array
	case TagArray:
		return t.Kind == signature.Array && v.elem.Descriptor() == t.Elem.Descriptor()
	case TagVoid:
		return t.Kind == signature.Void
	}
	return false
}

// ToJNI marshals a native Go value against a target signature type.
// Integer widths convert with the JVM's exact truncation and
// sign-extension rules; floating-point values pass through bit-for-bit
// (float64 never narrows to float). A value whose shape cannot satisfy
// the target fails with SignatureMismatch; a Go string that is not valid
// UTF-8 fails with DecodeError rather than being substituted.
func ToJNI(v interface{}, target signature.Type) (Value, error) {
	switch n := v.(type) {
	case nil:
		if target.Kind != signature.Object && target.Kind != signature.Array {
			return Value{}, errf(CodeSignatureMismatch, "nil cannot satisfy %s", target)
		}
		return NullValue(), nil
	case bool:
		if target.Kind != signature.Boolean {
			return Value{}, errf(CodeSignatureMismatch, "bool cannot satisfy %s", target)
		}
		return BoolValue(n), nil
	case int8:
		return integral(int64(n), target)
	case int16:
		return integral(int64(n), target)
	case int32:
		return integral(int64(n), target)
	case int64:
		return integral(n, target)
	case int:
		return integral(int64(n), target)
	case uint16:
		if target.Kind != signature.Char {
			return integral(int64(n), target)
		}
		return CharValue(n), nil
	case float32:
		switch target.Kind {
		case signature.Float:
			return FloatValue(n), nil
		case signature.Double:
			return DoubleValue(float64(n)), nil // exact widening
		}
		return Value{}, errf(CodeSignatureMismatch, "float32 cannot satisfy %s", target)
	case float64:
		if target.Kind != signature.Double {
			return Value{}, errf(CodeSignatureMismatch, "float64 cannot satisfy %s", target)
		}
		return DoubleValue(n), nil
	case string:
		if !target.IsString() {
			return Value{}, errf(CodeSignatureMismatch, "string cannot satisfy %s", target)
		}
		if _, err := mutf8.Encode(n); err != nil {
			return Value{}, wrapf(CodeDecodeError, err, "string is not valid UTF-8")
		}
		return StringValue(n), nil
	case Ref:
		if target.Kind != signature.Object && target.Kind != signature.Array {
			return Value{}, errf(CodeSignatureMismatch, "object reference cannot satisfy %s", target)
		}
		return ObjectValue(n), nil
	case Value:
		if !n.matches(target) {
			return Value{}, errf(CodeSignatureMismatch, "%s value cannot satisfy %s", n.Tag, target)
		}
		return n, nil
	case []int32:
		return marshalSlice(len(n), target, signature.Int, func(i int) Value { return IntValue(n[i]) })
	case []int64:
		return marshalSlice(len(n), target, signature.Long, func(i int) Value { return LongValue(n[i]) })
	case []float32:
		return marshalSlice(len(n), target, signature.Float, func(i int) Value { return FloatValue(n[i]) })
	case []float64:
		return marshalSlice(len(n), target, signature.Double, func(i int) Value { return DoubleValue(n[i]) })
	case []Value:
		if target.Kind != signature.Array {
			return Value{}, errf(CodeSignatureMismatch, "slice cannot satisfy %s", target)
		}
		for i, e := range n {
			if !e.matches(*target.Elem) {
				return Value{}, errf(CodeSignatureMismatch, "array element %d: %s cannot satisfy %s", i, e.Tag, *target.Elem)
			}
		}
		return ArrayValue(*target.Elem, n), nil
	}
	return Value{}, errf(CodeSignatureMismatch, "unsupported native type %T for %s", v, target)
}

// integral converts a signed integer to the exact width the target
// demands: truncate to the target width, then sign-extend back.
func integral(n int64, target signature.Type) (Value, error) {
	switch target.Kind {
	case signature.Byte:
		return ByteValue(int8(n)), nil
	case signature.Char:
		return CharValue(uint16(n)), nil
	case signature.Short:
		return ShortValue(int16(n)), nil
	case signature.Int:
		return IntValue(int32(n)), nil
	case signature.Long:
		return LongValue(n), nil
	}
	return Value{}, errf(CodeSignatureMismatch, "integer cannot satisfy %s", target)
}

func marshalSlice(n int, target signature.Type, elem signature.Kind, at func(int) Value) (Value, error) {
	if target.Kind != signature.Array || target.Elem.Kind != elem {
		return Value{}, errf(CodeSignatureMismatch, "%s[] cannot satisfy %s", elem, target)
	}
	elems := make([]Value, n)
	for i := range elems {
		elems[i] = at(i)
	}
	return ArrayValue(*target.Elem, elems), nil
}

// FromJNI unmarshals a Value against the type the caller expects,
// returning the native Go representation: bool, int8, uint16, int16,
// int32, int64, float32, float64, string, Ref (for objects and the
// elements' []interface{} for arrays). Null where a primitive or string
// was expected fails with DecodeError; null for an object or array
// yields NullRef / nil.
func FromJNI(v Value, expected signature.Type) (interface{}, error) {
	if v.Tag == TagNull {
		switch {
		case expected.Kind == signature.Object && !expected.IsString():
			return NullRef, nil
		case expected.Kind == signature.Array:
			return nil, nil
		default:
			return nil, errf(CodeDecodeError, "null where %s was required", expected)
		}
	}
	if !v.matches(expected) {
		return nil, errf(CodeDecodeError, "%s value where %s was expected", v.Tag, expected)
	}
	switch v.Tag {
	case TagBoolean:
		return v.Bool(), nil
	case TagByte:
		return v.Byte(), nil
	case TagChar:
		return v.Char(), nil
	case TagShort:
		return v.Short(), nil
	case TagInt:
		return v.Int(), nil
	case TagLong:
		return v.Long(), nil
	case TagFloat:
		return v.Float(), nil
	case TagDouble:
		return v.Double(), nil
	case TagString:
		return v.Str(), nil
	case TagObject:
		return v.Obj(), nil
	case TagArray:
		out := make([]interface{}, len(v.arr))
		for i, e := range v.arr {
			dec, err := FromJNI(e, *expected.Elem)
			if err != nil {
				return nil, wrapf(CodeDecodeError, err, "array element %d", i)
			}
			out[i] = dec
		}
		return out, nil
	}
	return nil, errf(CodeDecodeError, "cannot decode %s value", v.Tag)
}

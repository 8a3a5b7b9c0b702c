// Package signature parses JNI type and method descriptors.
//
// A type descriptor is a single field type ("I", "Ljava/lang/String;",
// "[[D"); a method descriptor is a parameter list and return type
// ("(ILjava/lang/String;)V"). The grammar is the one used by the
// class-file format and by every JNI lookup function.
package signature

import (
	"fmt"
	"strings"
)

// Kind identifies the shape of a Type.
type Kind int

const (
	Boolean Kind = iota
	Byte
	Char
	Short
	Int
	Long
	Float
	Double
	Object
	Array
	Void
)

// String returns the Java-facing name of the kind.
func (k Kind) String() string {
	switch k {
	case Boolean:
		return "boolean"
	case Byte:
		return "byte"
	case Char:
		return "char"
	case Short:
		return "short"
	case Int:
		return "int"
	case Long:
		return "long"
	case Float:
		return "float"
	case Double:
		return "double"
	case Object:
		return "object"
	case Array:
		return "array"
	case Void:
		return "void"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Primitive reports whether the kind is one of the eight JVM primitive types.
func (k Kind) Primitive() bool {
	return k >= Boolean && k <= Double
}

// Type is a parsed type descriptor.
type Type struct {
	Kind      Kind
	ClassName string // set for Object, e.g. "java/lang/String"
	Elem      *Type  // set for Array
}

// IsString reports whether the type is java/lang/String.
func (t Type) IsString() bool {
	return t.Kind == Object && t.ClassName == "java/lang/String"
}

// Descriptor returns the type rendered back into descriptor form.
func (t Type) Descriptor() string {
	switch t.Kind {
	case Boolean:
		return "Z"
	case Byte:
		return "B"
	case Char:
		return "C"
	case Short:
		return "S"
	case Int:
		return "I"
	case Long:
		return "J"
	case Float:
		return "F"
	case Double:
		return "D"
	case Object:
		return "L" + t.ClassName + ";"
	case Array:
		return "[" + t.Elem.Descriptor()
	case Void:
		return "V"
	}
	return "?"
}

// String returns a human-readable rendering, e.g. "java/lang/String[]".
func (t Type) String() string {
	switch t.Kind {
	case Object:
		return t.ClassName
	case Array:
		return t.Elem.String() + "[]"
	default:
		return t.Kind.String()
	}
}

// Method is a parsed method descriptor.
type Method struct {
	Params []Type
	Return Type
}

// Descriptor returns the method rendered back into descriptor form.
func (m Method) Descriptor() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range m.Params {
		b.WriteString(p.Descriptor())
	}
	b.WriteByte(')')
	b.WriteString(m.Return.Descriptor())
	return b.String()
}

// ParseType parses a single type descriptor. Void ("V") is rejected here;
// it is only legal as a method return type.
func ParseType(desc string) (Type, error) {
	t, rest, err := parseType(desc)
	if err != nil {
		return Type{}, err
	}
	if rest != "" {
		return Type{}, fmt.Errorf("trailing characters %q after type descriptor", rest)
	}
	if t.Kind == Void {
		return Type{}, fmt.Errorf("void is not a valid field type")
	}
	return t, nil
}

// ParseMethod parses a method descriptor such as "(ILjava/lang/String;)V".
func ParseMethod(desc string) (Method, error) {
	if len(desc) == 0 || desc[0] != '(' {
		return Method{}, fmt.Errorf("method descriptor %q must start with '('", desc)
	}
	rest := desc[1:]

	var params []Type
	for len(rest) > 0 && rest[0] != ')' {
		t, r, err := parseType(rest)
		if err != nil {
			return Method{}, fmt.Errorf("parsing parameter %d of %q: %w", len(params), desc, err)
		}
		if t.Kind == Void {
			return Method{}, fmt.Errorf("void parameter in method descriptor %q", desc)
		}
		params = append(params, t)
		rest = r
	}
	if len(rest) == 0 {
		return Method{}, fmt.Errorf("method descriptor %q has no ')'", desc)
	}
	rest = rest[1:] // skip ')'

	ret, r, err := parseType(rest)
	if err != nil {
		return Method{}, fmt.Errorf("parsing return type of %q: %w", desc, err)
	}
	if r != "" {
		return Method{}, fmt.Errorf("trailing characters %q after return type of %q", r, desc)
	}
	return Method{Params: params, Return: ret}, nil
}

// parseType consumes one type descriptor from the front of desc and
// returns it along with the unconsumed remainder.
func parseType(desc string) (Type, string, error) {
	if len(desc) == 0 {
		return Type{}, "", fmt.Errorf("empty type descriptor")
	}
	switch desc[0] {
	case 'Z':
		return Type{Kind: Boolean}, desc[1:], nil
	case 'B':
		return Type{Kind: Byte}, desc[1:], nil
	case 'C':
		return Type{Kind: Char}, desc[1:], nil
	case 'S':
		return Type{Kind: Short}, desc[1:], nil
	case 'I':
		return Type{Kind: Int}, desc[1:], nil
	case 'J':
		return Type{Kind: Long}, desc[1:], nil
	case 'F':
		return Type{Kind: Float}, desc[1:], nil
	case 'D':
		return Type{Kind: Double}, desc[1:], nil
	case 'V':
		return Type{Kind: Void}, desc[1:], nil
	case 'L':
		end := strings.IndexByte(desc, ';')
		if end == -1 {
			return Type{}, "", fmt.Errorf("object descriptor %q has no ';'", desc)
		}
		name := desc[1:end]
		if name == "" {
			return Type{}, "", fmt.Errorf("object descriptor with empty class name")
		}
		return Type{Kind: Object, ClassName: name}, desc[end+1:], nil
	case '[':
		elem, rest, err := parseType(desc[1:])
		if err != nil {
			return Type{}, "", err
		}
		if elem.Kind == Void {
			return Type{}, "", fmt.Errorf("array of void in %q", desc)
		}
		return Type{Kind: Array, Elem: &elem}, rest, nil
	default:
		return Type{}, "", fmt.Errorf("invalid type descriptor char '%c' in %q", desc[0], desc)
	}
}

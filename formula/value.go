package formula

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/wippyai/fwlayout/convert"
)

// Kind identifies the dynamic type of a Value.
type Kind int

const (
	KindNone Kind = iota
	KindInt
	KindBytes
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindInt:
		return "int"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	}
	return "unknown"
}

// Value is the result of evaluating a formula or reading a component.
// Booleans are integers 1 and 0. The zero Value is None.
type Value struct {
	i    *big.Int
	s    string
	b    []byte
	kind Kind
}

// None returns the absent value.
func None() Value { return Value{} }

// Int wraps v. The Value keeps its own copy.
func Int(v *big.Int) Value {
	return Value{kind: KindInt, i: new(big.Int).Set(v)}
}

// Int64 wraps v.
func Int64(v int64) Value {
	return Value{kind: KindInt, i: big.NewInt(v)}
}

// Bool returns 1 or 0.
func Bool(v bool) Value {
	if v {
		return Int64(1)
	}
	return Int64(0)
}

// Bytes wraps a copy of b.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, b: bytes.Clone(b)}
}

// String wraps s.
func String(s string) Value {
	return Value{kind: KindString, s: s}
}

// Kind returns the dynamic type.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v is absent.
func (v Value) IsNone() bool { return v.kind == KindNone }

// AsInt returns the integer held by v.
func (v Value) AsInt() (*big.Int, bool) {
	if v.kind != KindInt {
		return nil, false
	}
	return new(big.Int).Set(v.i), true
}

// AsBytes returns the byte string held by v.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return bytes.Clone(v.b), true
}

// AsString returns the text held by v.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// Truthy follows the usual rules: zero, empty and None are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindInt:
		return v.i.Sign() != 0
	case KindBytes:
		return len(v.b) > 0
	case KindString:
		return v.s != ""
	}
	return false
}

// Equal compares kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i.Cmp(o.i) == 0
	case KindBytes:
		return bytes.Equal(v.b, o.b)
	case KindString:
		return v.s == o.s
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return convert.IntToString(v.i)
	case KindBytes:
		return fmt.Sprintf("%x", v.b)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	}
	return "None"
}

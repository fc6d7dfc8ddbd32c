package vm

import (
	"fmt"
	"math"
	"strconv"
)

// Kind is the tag of a Value. The set is closed: every switch over Kind in
// this package is exhaustive.
type Kind uint8

const (
	KindNull  Kind = 0
	KindBool  Kind = 1
	KindInt   Kind = 2
	KindFloat Kind = 3
	KindPtr   Kind = 4
)

// String returns the kind name used in diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindPtr:
		return "Ptr"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Handle is an opaque reference to a heap object owned by a Heap. The
// interpreter copies handles around but never looks inside them.
type Handle uint64

// Value represents a Vela runtime value as a tagged union.
//
// The tag fully determines how the 64-bit payload is read:
//   - Null: no payload
//   - Bool: 0 or 1
//   - Int: two's complement int64
//   - Float: IEEE 754 bits
//   - Ptr: a Handle
//
// Values are comparable with == (identical tag and payload bits).
type Value struct {
	kind Kind
	bits uint64
}

// Null is the zero Value.
var Null = Value{}

// Pre-defined booleans
var (
	True  = Value{kind: KindBool, bits: 1}
	False = Value{kind: KindBool, bits: 0}
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// FromBool creates a Bool value.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromInt creates an Int value.
func FromInt(n int64) Value {
	return Value{kind: KindInt, bits: uint64(n)}
}

// FromFloat creates a Float value.
func FromFloat(f float64) Value {
	return Value{kind: KindFloat, bits: math.Float64bits(f)}
}

// FromHandle creates a Ptr value.
func FromHandle(h Handle) Value {
	return Value{kind: KindPtr, bits: uint64(h)}
}

// ---------------------------------------------------------------------------
// Type checking and extraction
// ---------------------------------------------------------------------------

// Kind returns the value's tag.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull returns true if v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsBool returns true if v is a Bool.
func (v Value) IsBool() bool { return v.kind == KindBool }

// IsInt returns true if v is an Int.
func (v Value) IsInt() bool { return v.kind == KindInt }

// IsFloat returns true if v is a Float.
func (v Value) IsFloat() bool { return v.kind == KindFloat }

// IsPtr returns true if v is a Ptr.
func (v Value) IsPtr() bool { return v.kind == KindPtr }

// AsBool returns the boolean payload. ok is false for any other tag.
func (v Value) AsBool() (b bool, ok bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.bits != 0, true
}

// AsInt returns the integer payload. ok is false for any other tag.
func (v Value) AsInt() (n int64, ok bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return int64(v.bits), true
}

// AsFloat returns the float payload. ok is false for any other tag.
func (v Value) AsFloat() (f float64, ok bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return math.Float64frombits(v.bits), true
}

// AsHandle returns the heap handle. ok is false for any other tag.
func (v Value) AsHandle() (h Handle, ok bool) {
	if v.kind != KindPtr {
		return 0, false
	}
	return Handle(v.bits), true
}

// Truthy reports how conditional jumps see v: Bool(false), Int(0) and Null
// are false, everything else is true. Float(0.0) is true so that NaN never
// has to be classified.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.bits != 0
	case KindInt:
		return v.bits != 0
	case KindFloat, KindPtr:
		return true
	default:
		return true
	}
}

// String returns a printable representation, e.g. Int(42).
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool(" + strconv.FormatBool(v.bits != 0) + ")"
	case KindInt:
		return "Int(" + strconv.FormatInt(int64(v.bits), 10) + ")"
	case KindFloat:
		return "Float(" + strconv.FormatFloat(math.Float64frombits(v.bits), 'g', -1, 64) + ")"
	case KindPtr:
		return fmt.Sprintf("Ptr(#%d)", v.bits)
	default:
		return fmt.Sprintf("%s(0x%X)", v.kind, v.bits)
	}
}

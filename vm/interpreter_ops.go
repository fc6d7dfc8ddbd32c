package vm

import (
	"math"

	"github.com/chazu/vela/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// arith applies a binary arithmetic opcode. Operands must share a numeric
// kind; Int results that do not fit in int64 fault with IntegerOverflow.
func arith(op bytecode.Opcode, a, b Value) (Value, *fault) {
	if x, ok := a.AsInt(); ok {
		if y, ok := b.AsInt(); ok {
			n, f := intArith(op, x, y)
			if f != nil {
				return Null, f
			}
			return FromInt(n), nil
		}
	}
	if x, ok := a.AsFloat(); ok {
		if y, ok := b.AsFloat(); ok {
			r, f := floatArith(op, x, y)
			if f != nil {
				return Null, f
			}
			return FromFloat(r), nil
		}
	}
	return Null, faultf(TypeError, "%s needs Int or Float operands of one kind, got %s and %s", op, a.Kind(), b.Kind())
}

func intArith(op bytecode.Opcode, x, y int64) (int64, *fault) {
	switch op {
	case bytecode.OpAdd:
		return addInt(x, y)
	case bytecode.OpSubtract:
		return subInt(x, y)
	case bytecode.OpMultiply:
		return mulInt(x, y)
	case bytecode.OpDivide:
		if y == 0 {
			return 0, faultf(DivisionByZero, "%d / 0", x)
		}
		if x == math.MinInt64 && y == -1 {
			return 0, faultf(IntegerOverflow, "%d / -1", x)
		}
		return x / y, nil
	case bytecode.OpModulo:
		if y == 0 {
			return 0, faultf(DivisionByZero, "%d %% 0", x)
		}
		// Go defines MinInt64 % -1 as 0; the remainder takes the sign of x.
		return x % y, nil
	case bytecode.OpPower:
		return powInt(x, y)
	}
	return 0, faultf(InvalidOpcode, "%s is not arithmetic", op)
}

func floatArith(op bytecode.Opcode, x, y float64) (float64, *fault) {
	switch op {
	case bytecode.OpAdd:
		return x + y, nil
	case bytecode.OpSubtract:
		return x - y, nil
	case bytecode.OpMultiply:
		return x * y, nil
	case bytecode.OpDivide:
		if y == 0 {
			return 0, faultf(DivisionByZero, "%g / 0", x)
		}
		return x / y, nil
	case bytecode.OpModulo:
		if y == 0 {
			return 0, faultf(DivisionByZero, "%g %% 0", x)
		}
		return math.Mod(x, y), nil
	case bytecode.OpPower:
		return math.Pow(x, y), nil
	}
	return 0, faultf(InvalidOpcode, "%s is not arithmetic", op)
}

func addInt(x, y int64) (int64, *fault) {
	r := x + y
	if (x^r)&(y^r) < 0 {
		return 0, faultf(IntegerOverflow, "%d + %d", x, y)
	}
	return r, nil
}

func subInt(x, y int64) (int64, *fault) {
	r := x - y
	if (x^y)&(x^r) < 0 {
		return 0, faultf(IntegerOverflow, "%d - %d", x, y)
	}
	return r, nil
}

func mulInt(x, y int64) (int64, *fault) {
	if x == 0 || y == 0 {
		return 0, nil
	}
	r := x * y
	if (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) || r/y != x {
		return 0, faultf(IntegerOverflow, "%d * %d", x, y)
	}
	return r, nil
}

// powInt computes x**y by repeated squaring. Negative exponents have no
// Int result.
func powInt(x, y int64) (int64, *fault) {
	if y < 0 {
		return 0, faultf(TypeError, "negative Int exponent %d", y)
	}
	result, base := int64(1), x
	for e := y; e > 0; {
		if e&1 == 1 {
			r, f := mulInt(result, base)
			if f != nil {
				return 0, faultf(IntegerOverflow, "%d ** %d", x, y)
			}
			result = r
		}
		e >>= 1
		if e > 0 {
			b, f := mulInt(base, base)
			if f != nil {
				return 0, faultf(IntegerOverflow, "%d ** %d", x, y)
			}
			base = b
		}
	}
	return result, nil
}

// negate implements OpNegate.
func negate(v Value) (Value, *fault) {
	switch v.Kind() {
	case KindInt:
		n, _ := v.AsInt()
		if n == math.MinInt64 {
			return Null, faultf(IntegerOverflow, "-(%d)", n)
		}
		return FromInt(-n), nil
	case KindFloat:
		f, _ := v.AsFloat()
		return FromFloat(-f), nil
	case KindNull, KindBool, KindPtr:
		return Null, faultf(TypeError, "cannot negate %s", v.Kind())
	}
	return Null, faultf(TypeError, "cannot negate %s", v.Kind())
}

// ---------------------------------------------------------------------------
// Comparison and logic
// ---------------------------------------------------------------------------

// compare applies a comparison opcode. Ordering is defined for Int and Float
// pairs; Bool pairs support only equality.
func compare(op bytecode.Opcode, a, b Value) (Value, *fault) {
	if a.Kind() != b.Kind() {
		return Null, faultf(TypeError, "%s cannot compare %s with %s", op, a.Kind(), b.Kind())
	}
	switch a.Kind() {
	case KindInt:
		x, _ := a.AsInt()
		y, _ := b.AsInt()
		return FromBool(ordered(op, x, y)), nil
	case KindFloat:
		x, _ := a.AsFloat()
		y, _ := b.AsFloat()
		return FromBool(ordered(op, x, y)), nil
	case KindBool:
		x, _ := a.AsBool()
		y, _ := b.AsBool()
		switch op {
		case bytecode.OpEquals:
			return FromBool(x == y), nil
		case bytecode.OpNotEquals:
			return FromBool(x != y), nil
		}
		return Null, faultf(TypeError, "%s is not defined for Bool", op)
	case KindNull, KindPtr:
		return Null, faultf(TypeError, "%s is not defined for %s", op, a.Kind())
	}
	return Null, faultf(TypeError, "%s is not defined for %s", op, a.Kind())
}

func ordered[T int64 | float64](op bytecode.Opcode, x, y T) bool {
	switch op {
	case bytecode.OpEquals:
		return x == y
	case bytecode.OpNotEquals:
		return x != y
	case bytecode.OpLessThan:
		return x < y
	case bytecode.OpLessOrEqual:
		return x <= y
	case bytecode.OpGreaterThan:
		return x > y
	case bytecode.OpGreaterOrEqual:
		return x >= y
	}
	return false
}

// logic applies And or Or to two Bools.
func logic(op bytecode.Opcode, a, b Value) (Value, *fault) {
	x, okA := a.AsBool()
	y, okB := b.AsBool()
	if !okA || !okB {
		return Null, faultf(TypeError, "%s needs Bool operands, got %s and %s", op, a.Kind(), b.Kind())
	}
	if op == bytecode.OpAnd {
		return FromBool(x && y), nil
	}
	return FromBool(x || y), nil
}

// not implements OpNot.
func not(v Value) (Value, *fault) {
	b, ok := v.AsBool()
	if !ok {
		return Null, faultf(TypeError, "NOT needs a Bool, got %s", v.Kind())
	}
	return FromBool(!b), nil
}

package vm

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/chazu/vela/pkg/bytecode"
)

// wantTrap asserts that err is a trap of the given kind.
func wantTrap(t *testing.T, err error, kind TrapKind) *Trap {
	t.Helper()
	trap, ok := AsTrap(err)
	if !ok {
		t.Fatalf("error = %v, want %v trap", err, kind)
	}
	if trap.Kind != kind {
		t.Fatalf("trap kind = %v, want %v (%v)", trap.Kind, kind, trap)
	}
	if !errors.Is(err, kind.Sentinel()) {
		t.Errorf("errors.Is(err, %v) = false", kind.Sentinel())
	}
	return trap
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestArithmeticScenario(t *testing.T) {
	code := asm(
		op(bytecode.OpLoadConst, 0),
		op(bytecode.OpLoadConst, 1),
		op(bytecode.OpMultiply),
		op(bytecode.OpHalt),
	)
	v, result, err := runMain(t, code, FromInt(6), FromInt(7))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != FromInt(42) {
		t.Errorf("result = %v, want Int(42)", result)
	}
	if v.State() != Halted {
		t.Errorf("State() = %v, want Halted", v.State())
	}
}

func TestArithmeticReturnScenario(t *testing.T) {
	code := asm(
		op(bytecode.OpLoadConst, 0),
		op(bytecode.OpLoadConst, 1),
		op(bytecode.OpMultiply),
		op(bytecode.OpReturn),
	)
	v, result, err := runMain(t, code, FromInt(6), FromInt(7))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != FromInt(42) {
		t.Errorf("result = %v, want Int(42)", result)
	}
	if v.State() != Halted || v.Result() != FromInt(42) {
		t.Errorf("State() = %v, Result() = %v; want Halted, Int(42)", v.State(), v.Result())
	}
	if len(v.Frames()) != 0 {
		t.Errorf("%d frames left after top-level RETURN", len(v.Frames()))
	}
}

func TestShortCircuitJumpScenario(t *testing.T) {
	b := bytecode.NewBuilder()
	orElse := b.NewLabel()
	b.EmitIndex(bytecode.OpLoadConst, 0) // 3
	b.EmitIndex(bytecode.OpStoreLocal, 0)
	b.EmitIndex(bytecode.OpLoadLocal, 0)
	b.EmitIndex(bytecode.OpLoadConst, 1) // 5
	b.Emit(bytecode.OpLessThan)
	b.EmitJumpLabel(bytecode.OpJumpIfFalse, orElse)
	b.EmitIndex(bytecode.OpLoadConst, 2) // 100
	b.Emit(bytecode.OpHalt)
	b.Mark(orElse)
	b.EmitIndex(bytecode.OpLoadConst, 3) // 200
	b.Emit(bytecode.OpHalt)

	tests := []struct {
		name  string
		local int64
		want  int64
	}{
		{"condition true", 3, 100},
		{"condition false", 9, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, result, err := runMain(t, b.Bytes(), FromInt(tt.local), FromInt(5), FromInt(100), FromInt(200))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if result != FromInt(tt.want) {
				t.Errorf("result = %v, want Int(%d)", result, tt.want)
			}
			if d := v.Frames()[0].StackDepth(); d != 1 {
				t.Errorf("stack depth at halt = %d, want 1", d)
			}
		})
	}
}

func TestDivisionTrapScenario(t *testing.T) {
	code := asm(
		op(bytecode.OpLoadConst, 0),
		op(bytecode.OpLoadConst, 1),
		op(bytecode.OpDivide),
		op(bytecode.OpHalt),
	)
	v, _, err := runMain(t, code, FromInt(10), FromInt(0))
	trap := wantTrap(t, err, DivisionByZero)

	if trap.Opcode != bytecode.OpDivide {
		t.Errorf("Opcode = %v, want DIV", trap.Opcode)
	}
	if trap.PC != 6 {
		t.Errorf("PC = %d, want 6", trap.PC)
	}
	if trap.CodeName != "main" || trap.FrameDepth != 1 {
		t.Errorf("CodeName/FrameDepth = %q/%d, want main/1", trap.CodeName, trap.FrameDepth)
	}
	if v.State() != Trapped || v.Trap() != trap {
		t.Errorf("State() = %v, Trap() = %v", v.State(), v.Trap())
	}

	// No partial effects: both operands are still on the stack.
	f := v.Frames()[0]
	if f.StackDepth() != 2 || f.PC() != 6 {
		t.Errorf("frame after trap: depth %d pc %d, want 2 and 6", f.StackDepth(), f.PC())
	}
}

func TestCallReturnScenario(t *testing.T) {
	main := CodeDef{
		Name:         "main",
		MaxStackSize: 8,
		Instructions: asm(
			op(bytecode.OpLoadConst, 0), // callee index 1
			op(bytecode.OpLoadConst, 1), // 3
			op(bytecode.OpLoadConst, 2), // 4
			op(bytecode.OpCall, 2),
			op(bytecode.OpLoadConst, 3), // 10
			op(bytecode.OpMultiply),
			op(bytecode.OpHalt),
		),
		Constants: []Value{FromInt(1), FromInt(3), FromInt(4), FromInt(10)},
	}
	add := CodeDef{
		Name:         "add",
		ArgNames:     []string{"a", "b"},
		LocalCount:   2,
		MaxStackSize: 2,
		Instructions: asm(
			op(bytecode.OpLoadLocal, 0),
			op(bytecode.OpLoadLocal, 1),
			op(bytecode.OpAdd),
			op(bytecode.OpReturn),
		),
	}
	p := mustProgram(t, main, add)

	v := New(p)
	result, err := v.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 70 shows execution resumed after CALL with 7 on the stack.
	if result != FromInt(70) {
		t.Errorf("result = %v, want Int(70)", result)
	}

	got, err := v.Call(1, FromInt(3), FromInt(4))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != FromInt(7) {
		t.Errorf("Call(add, 3, 4) = %v, want Int(7)", got)
	}
}

// ---------------------------------------------------------------------------
// Traps
// ---------------------------------------------------------------------------

func TestTraps(t *testing.T) {
	tests := []struct {
		name   string
		code   []byte
		consts []Value
		names  []string
		op     bytecode.Opcode
		kind   TrapKind
	}{
		{"pop empty", op(bytecode.OpPop), nil, nil, bytecode.OpPop, StackUnderflow},
		{"add one operand", asm(op(bytecode.OpLoadNull), op(bytecode.OpAdd)), nil, nil, bytecode.OpAdd, StackUnderflow},
		{"return empty", op(bytecode.OpReturn), nil, nil, bytecode.OpReturn, StackUnderflow},
		{"mixed add", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(bytecode.OpAdd)),
			[]Value{FromInt(1), FromFloat(2)}, nil, bytecode.OpAdd, TypeError},
		{"bool less than", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 0), op(bytecode.OpLessThan)),
			[]Value{True}, nil, bytecode.OpLessThan, TypeError},
		{"null equals", asm(op(bytecode.OpLoadNull), op(bytecode.OpLoadNull), op(bytecode.OpEquals)),
			nil, nil, bytecode.OpEquals, TypeError},
		{"and on ints", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 0), op(bytecode.OpAnd)),
			[]Value{FromInt(1)}, nil, bytecode.OpAnd, TypeError},
		{"not on null", asm(op(bytecode.OpLoadNull), op(bytecode.OpNot)), nil, nil, bytecode.OpNot, TypeError},
		{"negate bool", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpNegate)), []Value{True}, nil, bytecode.OpNegate, TypeError},
		{"negative exponent", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(bytecode.OpPower)),
			[]Value{FromInt(3), FromInt(-1)}, nil, bytecode.OpPower, TypeError},
		{"unknown opcode", []byte{0xFE}, nil, nil, bytecode.Opcode(0xFE), InvalidOpcode},
		{"truncated operand", []byte{byte(bytecode.OpLoadConst), 0x01}, nil, nil, bytecode.OpLoadConst, InvalidOpcode},
		{"bad constant", op(bytecode.OpLoadConst, 9), nil, nil, bytecode.OpLoadConst, InvalidConstantIndex},
		{"bad local", op(bytecode.OpLoadLocal, 10), nil, nil, bytecode.OpLoadLocal, InvalidLocalIndex},
		{"bad store local", asm(op(bytecode.OpLoadNull), op(bytecode.OpStoreLocal, 4)), nil, nil, bytecode.OpStoreLocal, InvalidLocalIndex},
		{"bad name", op(bytecode.OpLoadGlobal, 0), nil, nil, bytecode.OpLoadGlobal, InvalidGlobalIndex},
		{"bad store name", asm(op(bytecode.OpLoadNull), op(bytecode.OpStoreGlobal, 2)), nil, []string{"x"}, bytecode.OpStoreGlobal, InvalidGlobalIndex},
		{"undefined global", op(bytecode.OpLoadGlobal, 0), nil, []string{"x"}, bytecode.OpLoadGlobal, UndefinedVariable},
		{"jump past end", op(bytecode.OpJump, 100), nil, nil, bytecode.OpJump, InvalidJumpTarget},
		{"jump before start", asm(op(bytecode.OpLoadNull), op(bytecode.OpJump, -2)), nil, nil, bytecode.OpJump, InvalidJumpTarget},
		{"taken conditional past end", asm(op(bytecode.OpLoadNull), op(bytecode.OpJumpIfFalse, 50)), nil, nil, bytecode.OpJumpIfFalse, InvalidJumpTarget},
		{"run off end", op(bytecode.OpLoadNull), nil, nil, bytecode.OpReturn, CallFrameError},
		{"callee out of range", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpCall, 0)),
			[]Value{FromInt(5)}, nil, bytecode.OpCall, CallFrameError},
		{"callee not int", asm(op(bytecode.OpLoadNull), op(bytecode.OpCall, 0)), nil, nil, bytecode.OpCall, TypeError},
		{"call arity mismatch", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadNull), op(bytecode.OpCall, 1)),
			[]Value{FromInt(0)}, nil, bytecode.OpCall, CallFrameError},
		{"call missing args", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpCall, 3)),
			[]Value{FromInt(0)}, nil, bytecode.OpCall, StackUnderflow},
		{"int divide by zero", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(bytecode.OpDivide)),
			[]Value{FromInt(1), FromInt(0)}, nil, bytecode.OpDivide, DivisionByZero},
		{"int modulo by zero", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(bytecode.OpModulo)),
			[]Value{FromInt(1), FromInt(0)}, nil, bytecode.OpModulo, DivisionByZero},
		{"float divide by zero", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(bytecode.OpDivide)),
			[]Value{FromFloat(1), FromFloat(0)}, nil, bytecode.OpDivide, DivisionByZero},
		{"float modulo by zero", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(bytecode.OpModulo)),
			[]Value{FromFloat(1), FromFloat(0)}, nil, bytecode.OpModulo, DivisionByZero},
		{"add overflow", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(bytecode.OpAdd)),
			[]Value{FromInt(math.MaxInt64), FromInt(1)}, nil, bytecode.OpAdd, IntegerOverflow},
		{"subtract overflow", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(bytecode.OpSubtract)),
			[]Value{FromInt(math.MinInt64), FromInt(1)}, nil, bytecode.OpSubtract, IntegerOverflow},
		{"multiply overflow", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 0), op(bytecode.OpMultiply)),
			[]Value{FromInt(math.MaxInt64 / 2)}, nil, bytecode.OpMultiply, IntegerOverflow},
		{"min int divided by -1", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(bytecode.OpDivide)),
			[]Value{FromInt(math.MinInt64), FromInt(-1)}, nil, bytecode.OpDivide, IntegerOverflow},
		{"negate min int", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpNegate)),
			[]Value{FromInt(math.MinInt64)}, nil, bytecode.OpNegate, IntegerOverflow},
		{"power overflow", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(bytecode.OpPower)),
			[]Value{FromInt(2), FromInt(63)}, nil, bytecode.OpPower, IntegerOverflow},
		{"load field of int", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadField, 0)),
			[]Value{FromInt(1)}, nil, bytecode.OpLoadField, TypeError},
		{"load field out of range", asm(op(bytecode.OpNewObject, 1), op(bytecode.OpLoadField, 5)),
			nil, nil, bytecode.OpLoadField, HeapError},
		{"store field dangling", asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadNull), op(bytecode.OpStoreField, 0)),
			[]Value{FromHandle(99)}, nil, bytecode.OpStoreField, HeapError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := mainDef(tt.code, tt.consts...)
			def.Names = tt.names
			v := New(mustProgram(t, def))
			_, err := v.Run()
			trap := wantTrap(t, err, tt.kind)
			if trap.Opcode != tt.op {
				t.Errorf("Opcode = %v, want %v", trap.Opcode, tt.op)
			}
			if trap.Message == "" {
				t.Error("trap has no message")
			}
			if len(trap.Trace) != trap.FrameDepth {
				t.Errorf("trace has %d entries for depth %d", len(trap.Trace), trap.FrameDepth)
			}
			if v.State() != Trapped {
				t.Errorf("State() = %v, want Trapped", v.State())
			}
		})
	}
}

func TestTrapLeavesNoPartialEffects(t *testing.T) {
	code := asm(
		op(bytecode.OpNewObject, 1),
		op(bytecode.OpLoadConst, 0),
		op(bytecode.OpStoreField, 3), // bad field
	)
	v, _, err := runMain(t, code, FromInt(5))
	trap := wantTrap(t, err, HeapError)
	f := v.Frames()[0]
	if f.StackDepth() != 2 {
		t.Errorf("stack depth = %d, want 2", f.StackDepth())
	}
	if f.PC() != trap.PC || trap.PC != 6 {
		t.Errorf("frame pc = %d, trap pc = %d, want 6", f.PC(), trap.PC)
	}
}

func TestStackOverflow(t *testing.T) {
	recurse := mainDef(asm(
		op(bytecode.OpLoadConst, 0),
		op(bytecode.OpCall, 0),
		op(bytecode.OpHalt),
	), FromInt(0))

	tests := []struct {
		name  string
		limit int
		depth int
	}{
		{"default limit", 0, DefaultLimits().MaxCallDepth},
		{"custom limit", 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(mustProgram(t, recurse), WithLimits(Limits{MaxCallDepth: tt.limit}))
			_, err := v.Run()
			trap := wantTrap(t, err, StackOverflow)
			if trap.FrameDepth != tt.depth {
				t.Errorf("FrameDepth = %d, want %d", trap.FrameDepth, tt.depth)
			}
			if len(trap.Trace) != tt.depth {
				t.Errorf("trace length = %d, want %d", len(trap.Trace), tt.depth)
			}
		})
	}
}

func TestTrapTraceAcrossCalls(t *testing.T) {
	main := mainDef(asm(
		op(bytecode.OpLoadConst, 0),
		op(bytecode.OpCall, 0),
		op(bytecode.OpHalt),
	), FromInt(1))
	boom := CodeDef{
		Name:         "boom",
		MaxStackSize: 2,
		Instructions: asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(bytecode.OpModulo)),
		Constants:    []Value{FromInt(1), FromInt(0)},
	}
	v := New(mustProgram(t, main, boom))
	_, err := v.Run()
	trap := wantTrap(t, err, DivisionByZero)

	if trap.FrameDepth != 2 || trap.CodeName != "boom" {
		t.Fatalf("FrameDepth/CodeName = %d/%q, want 2/boom", trap.FrameDepth, trap.CodeName)
	}
	want := []TraceEntry{{"boom", 6}, {"main", 6}}
	for i, e := range want {
		if trap.Trace[i] != e {
			t.Errorf("Trace[%d] = %+v, want %+v", i, trap.Trace[i], e)
		}
	}
	if trap.StackTrace() == "" {
		t.Error("StackTrace() is empty")
	}
}

func TestOperandStackBound(t *testing.T) {
	twoPushes := asm(op(bytecode.OpLoadNull), op(bytecode.OpLoadNull), op(bytecode.OpHalt))

	t.Run("declared bound", func(t *testing.T) {
		def := mainDef(twoPushes)
		def.MaxStackSize = 1
		_, err := New(mustProgram(t, def)).Run()
		trap := wantTrap(t, err, CallFrameError)
		if trap.PC != 1 {
			t.Errorf("PC = %d, want 1", trap.PC)
		}
	})

	t.Run("limit bound", func(t *testing.T) {
		v := New(mustProgram(t, mainDef(twoPushes)), WithLimits(Limits{MaxStackSize: 1}))
		_, err := v.Run()
		wantTrap(t, err, CallFrameError)
	})

	t.Run("within bound", func(t *testing.T) {
		def := mainDef(twoPushes)
		def.MaxStackSize = 2
		if _, err := New(mustProgram(t, def)).Run(); err != nil {
			t.Errorf("Run: %v", err)
		}
	})
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func TestStackEffects(t *testing.T) {
	push := op(bytecode.OpLoadConst, 0)
	pushBool := op(bytecode.OpLoadConst, 2)
	obj := op(bytecode.OpNewObject, 2)

	tests := []struct {
		prefix  []byte
		op      bytecode.Opcode
		operand int
	}{
		{nil, bytecode.OpLoadConst, 0},
		{nil, bytecode.OpLoadLocal, 0},
		{push, bytecode.OpStoreLocal, 0},
		{nil, bytecode.OpLoadGlobal, 0},
		{push, bytecode.OpStoreGlobal, 0},
		{nil, bytecode.OpLoadNull, 0},
		{push, bytecode.OpPop, 0},
		{push, bytecode.OpDup, 0},
		{asm(push, push), bytecode.OpSwap, 0},
		{asm(push, push), bytecode.OpAdd, 0},
		{asm(push, push), bytecode.OpSubtract, 0},
		{asm(push, push), bytecode.OpMultiply, 0},
		{asm(push, push), bytecode.OpDivide, 0},
		{asm(push, push), bytecode.OpModulo, 0},
		{asm(push, push), bytecode.OpPower, 0},
		{push, bytecode.OpNegate, 0},
		{asm(push, push), bytecode.OpEquals, 0},
		{asm(push, push), bytecode.OpNotEquals, 0},
		{asm(push, push), bytecode.OpLessThan, 0},
		{asm(push, push), bytecode.OpLessOrEqual, 0},
		{asm(push, push), bytecode.OpGreaterThan, 0},
		{asm(push, push), bytecode.OpGreaterOrEqual, 0},
		{asm(pushBool, pushBool), bytecode.OpAnd, 0},
		{asm(pushBool, pushBool), bytecode.OpOr, 0},
		{pushBool, bytecode.OpNot, 0},
		{nil, bytecode.OpJump, 5},
		{pushBool, bytecode.OpJumpIfFalse, 5},
		{pushBool, bytecode.OpJumpIfTrue, 5},
		{nil, bytecode.OpNewObject, 2},
		{obj, bytecode.OpLoadField, 1},
		{asm(obj, push), bytecode.OpStoreField, 1},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			before, err := bytecode.DecodeAll(tt.prefix)
			if err != nil {
				t.Fatal(err)
			}
			depth := 0
			for _, in := range before {
				depth += in.Op.StackEffect()
			}

			def := mainDef(asm(tt.prefix, op(tt.op, tt.operand), op(bytecode.OpHalt)), FromInt(6), FromInt(3), True)
			def.Names = []string{"g"}
			v := New(mustProgram(t, def), WithGlobals(map[string]Value{"g": FromInt(1)}))
			if _, err := v.Run(); err != nil {
				t.Fatalf("Run: %v", err)
			}
			got := v.Frames()[0].StackDepth()
			if want := depth + tt.op.StackEffect(); got != want {
				t.Errorf("depth after %s = %d, want %d", tt.op, got, want)
			}
		})
	}
}

func TestDivModIdentity(t *testing.T) {
	code := asm(
		op(bytecode.OpLoadConst, 0),
		op(bytecode.OpLoadConst, 1),
		op(bytecode.OpDivide),
		op(bytecode.OpLoadConst, 1),
		op(bytecode.OpMultiply),
		op(bytecode.OpLoadConst, 0),
		op(bytecode.OpLoadConst, 1),
		op(bytecode.OpModulo),
		op(bytecode.OpAdd),
		op(bytecode.OpHalt),
	)
	values := []int64{math.MinInt64 + 1, -1000, -7, -3, -1, 0, 1, 2, 3, 7, 1000, math.MaxInt64}
	divisors := []int64{math.MinInt64, -7, -2, -1, 1, 2, 3, 7, math.MaxInt64}
	for _, a := range values {
		for _, b := range divisors {
			_, result, err := runMain(t, code, FromInt(a), FromInt(b))
			if err != nil {
				t.Errorf("(%d/%d)*%d + %d%%%d: %v", a, b, b, a, b, err)
				continue
			}
			if result != FromInt(a) {
				t.Errorf("(%d/%d)*%d + %d%%%d = %v, want %d", a, b, b, a, b, result, a)
			}
		}
	}
}

func TestIntegerSemantics(t *testing.T) {
	tests := []struct {
		op   bytecode.Opcode
		a, b int64
		want int64
	}{
		{bytecode.OpDivide, 7, 2, 3},
		{bytecode.OpDivide, -7, 2, -3},
		{bytecode.OpModulo, -7, 2, -1},
		{bytecode.OpModulo, 7, -2, 1},
		{bytecode.OpModulo, math.MinInt64, -1, 0},
		{bytecode.OpPower, 2, 10, 1024},
		{bytecode.OpPower, 0, 0, 1},
		{bytecode.OpPower, -2, 63, math.MinInt64},
		{bytecode.OpPower, -1, math.MaxInt64, -1},
		{bytecode.OpSubtract, 10, 4, 6},
		{bytecode.OpAdd, math.MaxInt64, math.MinInt64, -1},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			code := asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(tt.op), op(bytecode.OpHalt))
			_, result, err := runMain(t, code, FromInt(tt.a), FromInt(tt.b))
			if err != nil {
				t.Fatalf("%d %s %d: %v", tt.a, tt.op, tt.b, err)
			}
			if result != FromInt(tt.want) {
				t.Errorf("%d %s %d = %v, want %d", tt.a, tt.op, tt.b, result, tt.want)
			}
		})
	}
}

func TestFloatSemantics(t *testing.T) {
	tests := []struct {
		op   bytecode.Opcode
		a, b float64
		want float64
	}{
		{bytecode.OpAdd, 1.5, 2.25, 3.75},
		{bytecode.OpDivide, 1, 4, 0.25},
		{bytecode.OpModulo, 7.5, 2, 1.5},
		{bytecode.OpPower, 2, 0.5, math.Sqrt2},
	}
	for _, tt := range tests {
		code := asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(tt.op), op(bytecode.OpHalt))
		_, result, err := runMain(t, code, FromFloat(tt.a), FromFloat(tt.b))
		if err != nil {
			t.Fatalf("%g %s %g: %v", tt.a, tt.op, tt.b, err)
		}
		if got, _ := result.AsFloat(); got != tt.want {
			t.Errorf("%g %s %g = %v, want %g", tt.a, tt.op, tt.b, result, tt.want)
		}
	}
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		op   bytecode.Opcode
		want bool
	}{
		{"int lt", FromInt(1), FromInt(2), bytecode.OpLessThan, true},
		{"int ge", FromInt(1), FromInt(2), bytecode.OpGreaterOrEqual, false},
		{"int eq", FromInt(5), FromInt(5), bytecode.OpEquals, true},
		{"float le", FromFloat(2), FromFloat(2), bytecode.OpLessOrEqual, true},
		{"float gt", FromFloat(-1), FromFloat(2), bytecode.OpGreaterThan, false},
		{"nan ne nan", FromFloat(math.NaN()), FromFloat(math.NaN()), bytecode.OpNotEquals, true},
		{"bool eq", True, True, bytecode.OpEquals, true},
		{"bool ne", True, False, bytecode.OpNotEquals, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpLoadConst, 1), op(tt.op), op(bytecode.OpHalt))
			_, result, err := runMain(t, code, tt.a, tt.b)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if result != FromBool(tt.want) {
				t.Errorf("result = %v, want %v", result, tt.want)
			}
		})
	}
}

func TestConditionalTruthiness(t *testing.T) {
	// JUMP_IF_FALSE over a LOAD_CONST 1 (taken -> 0, not taken -> 1).
	code := asm(
		op(bytecode.OpLoadConst, 0),
		op(bytecode.OpJumpIfFalse, 9),
		op(bytecode.OpLoadConst, 1),
		op(bytecode.OpHalt),
		op(bytecode.OpLoadConst, 2),
		op(bytecode.OpHalt),
	)
	tests := []struct {
		cond  Value
		truth bool
	}{
		{Null, false},
		{False, false},
		{FromInt(0), false},
		{True, true},
		{FromInt(-1), true},
		{FromFloat(0), true},
		{FromHandle(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.cond.String(), func(t *testing.T) {
			_, result, err := runMain(t, code, tt.cond, FromInt(1), FromInt(0))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			want := FromInt(0)
			if tt.truth {
				want = FromInt(1)
			}
			if result != want {
				t.Errorf("result = %v, want %v", result, want)
			}
		})
	}
}

func TestUntakenJumpIgnoresTarget(t *testing.T) {
	code := asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpJumpIfFalse, 1000), op(bytecode.OpLoadConst, 0), op(bytecode.OpHalt))
	_, result, err := runMain(t, code, True)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != True {
		t.Errorf("result = %v, want Bool(true)", result)
	}
}

func TestLoop(t *testing.T) {
	// sum = 0; i = 10; while i > 0 { sum = sum + i; i = i - 1 }; halt sum
	b := bytecode.NewBuilder()
	top, done := b.NewLabel(), b.NewLabel()
	b.EmitIndex(bytecode.OpLoadConst, 0) // 0
	b.EmitIndex(bytecode.OpStoreLocal, 0)
	b.EmitIndex(bytecode.OpLoadConst, 1) // 10
	b.EmitIndex(bytecode.OpStoreLocal, 1)
	b.Mark(top)
	b.EmitIndex(bytecode.OpLoadLocal, 1)
	b.EmitIndex(bytecode.OpLoadConst, 0)
	b.Emit(bytecode.OpGreaterThan)
	b.EmitJumpLabel(bytecode.OpJumpIfFalse, done)
	b.EmitIndex(bytecode.OpLoadLocal, 0)
	b.EmitIndex(bytecode.OpLoadLocal, 1)
	b.Emit(bytecode.OpAdd)
	b.EmitIndex(bytecode.OpStoreLocal, 0)
	b.EmitIndex(bytecode.OpLoadLocal, 1)
	b.EmitIndex(bytecode.OpLoadConst, 2) // 1
	b.Emit(bytecode.OpSubtract)
	b.EmitIndex(bytecode.OpStoreLocal, 1)
	b.EmitJumpLabel(bytecode.OpJump, top)
	b.Mark(done)
	b.EmitIndex(bytecode.OpLoadLocal, 0)
	b.Emit(bytecode.OpHalt)

	_, result, err := runMain(t, b.Bytes(), FromInt(0), FromInt(10), FromInt(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != FromInt(55) {
		t.Errorf("result = %v, want Int(55)", result)
	}
}

// ---------------------------------------------------------------------------
// Host surface
// ---------------------------------------------------------------------------

func TestGlobals(t *testing.T) {
	def := mainDef(asm(
		op(bytecode.OpLoadGlobal, 0),
		op(bytecode.OpLoadConst, 0),
		op(bytecode.OpAdd),
		op(bytecode.OpDup),
		op(bytecode.OpStoreGlobal, 0),
		op(bytecode.OpHalt),
	), FromInt(1))
	def.Names = []string{"counter"}

	seed := map[string]Value{"counter": FromInt(10)}
	v := New(mustProgram(t, def), WithGlobals(seed))
	seed["counter"] = FromInt(-1) // the VM holds its own copy

	for want := int64(11); want <= 13; want++ {
		result, err := v.Run()
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result != FromInt(want) {
			t.Errorf("result = %v, want Int(%d)", result, want)
		}
	}
	if g, ok := v.Global("counter"); !ok || g != FromInt(13) {
		t.Errorf("Global(counter) = %v, %v", g, ok)
	}
	v.SetGlobal("counter", FromInt(0))
	if got := v.Globals()["counter"]; got != FromInt(0) {
		t.Errorf("Globals()[counter] = %v, want Int(0)", got)
	}
}

func TestHeapOperations(t *testing.T) {
	code := asm(
		op(bytecode.OpNewObject, 2),
		op(bytecode.OpDup),
		op(bytecode.OpLoadConst, 0),
		op(bytecode.OpStoreField, 1),
		op(bytecode.OpLoadField, 1),
		op(bytecode.OpHalt),
	)
	arena := NewArena(0)
	v := New(mustProgram(t, mainDef(code, FromInt(5))), WithHeap(arena))
	result, err := v.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != FromInt(5) {
		t.Errorf("result = %v, want Int(5)", result)
	}
	if arena.Len() != 1 {
		t.Errorf("arena has %d objects, want 1", arena.Len())
	}
}

func TestHeapExhaustionTraps(t *testing.T) {
	code := asm(op(bytecode.OpNewObject, 1), op(bytecode.OpNewObject, 1), op(bytecode.OpHalt))
	v := New(mustProgram(t, mainDef(code)), WithHeap(NewArena(1)))
	_, err := v.Run()
	trap := wantTrap(t, err, HeapError)
	if trap.PC != 3 {
		t.Errorf("PC = %d, want 3", trap.PC)
	}
}

func TestReturnFromEntryHalts(t *testing.T) {
	v, result, err := runMain(t, asm(op(bytecode.OpLoadConst, 0), op(bytecode.OpReturn)), FromFloat(2.5))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != FromFloat(2.5) || v.Result() != result {
		t.Errorf("result = %v, Result() = %v", result, v.Result())
	}
	if v.State() != Halted {
		t.Errorf("State() = %v, want Halted", v.State())
	}
}

func TestHaltWithEmptyStack(t *testing.T) {
	_, result, err := runMain(t, op(bytecode.OpHalt))
	if err != nil || result != Null {
		t.Errorf("Run = %v, %v; want Null, nil", result, err)
	}
}

func TestCallErrors(t *testing.T) {
	add := CodeDef{Name: "add", ArgNames: []string{"a", "b"}, LocalCount: 2, MaxStackSize: 2, Instructions: op(bytecode.OpReturn)}
	short := CodeDef{Name: "short", ArgNames: []string{"a"}, LocalCount: 0, MaxStackSize: 1, Instructions: op(bytecode.OpReturn)}
	v := New(mustProgram(t, mainDef(op(bytecode.OpHalt)), add, short))

	_, err := v.Call(1, FromInt(1))
	wantTrap(t, err, CallFrameError)

	_, err = v.Call(7)
	wantTrap(t, err, CallFrameError)

	_, err = v.Call(2, FromInt(1))
	wantTrap(t, err, CallFrameError)

	if _, err := New(nil).Run(); !errors.Is(err, ErrNoProgram) {
		t.Errorf("Run without program = %v, want ErrNoProgram", err)
	}
}

func TestStepLimit(t *testing.T) {
	spin := op(bytecode.OpJump, 0)
	v := New(mustProgram(t, mainDef(spin)), WithLimits(Limits{MaxSteps: 100}))
	_, err := v.Run()
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("Run = %v, want ErrStepLimit", err)
	}
	if _, ok := AsTrap(err); ok {
		t.Error("step limit reported as a trap")
	}
	if v.Steps() != 100 {
		t.Errorf("Steps() = %d, want 100", v.Steps())
	}
}

func TestRunContextCancel(t *testing.T) {
	spin := op(bytecode.OpJump, 0)
	v := New(mustProgram(t, mainDef(spin)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.RunContext(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunContext = %v, want context.Canceled", err)
	}
	if _, ok := AsTrap(err); ok {
		t.Error("cancellation reported as a trap")
	}
}

func TestRunIDChangesPerRun(t *testing.T) {
	v := New(mustProgram(t, mainDef(op(bytecode.OpHalt))))
	if _, err := v.Run(); err != nil {
		t.Fatal(err)
	}
	first := v.RunID()
	if _, err := v.Run(); err != nil {
		t.Fatal(err)
	}
	if v.RunID() == first {
		t.Error("RunID did not change between runs")
	}
}

func TestSharedProgramConcurrentVMs(t *testing.T) {
	code := asm(
		op(bytecode.OpLoadConst, 0),
		op(bytecode.OpLoadConst, 1),
		op(bytecode.OpMultiply),
		op(bytecode.OpHalt),
	)
	p := mustProgram(t, mainDef(code, FromInt(6), FromInt(7)))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := New(p).Run()
			if err == nil && result != FromInt(42) {
				err = errors.New("wrong result " + result.String())
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestTraceLogging(t *testing.T) {
	v := New(mustProgram(t, mainDef(asm(op(bytecode.OpLoadNull), op(bytecode.OpHalt)))))
	v.Trace = true
	if _, err := v.Run(); err != nil {
		t.Fatalf("Run with trace: %v", err)
	}
}

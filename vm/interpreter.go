package vm

import (
	"github.com/chazu/vela/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Fetch, decode, execute
// ---------------------------------------------------------------------------

// step executes one instruction of the innermost frame. On a fault the
// frame's pc is left at the failing instruction and the VM is Trapped.
func (v *VM) step() {
	f := v.frames[len(v.frames)-1]
	code := f.code.code
	start := f.pc

	if start >= len(code) {
		v.raise(f, bytecode.OpReturn, start,
			faultf(CallFrameError, "%s ran past its last instruction without RETURN or HALT", f.code.name))
		return
	}

	in, err := bytecode.Decode(code, start)
	if err != nil {
		v.raise(f, bytecode.Opcode(code[start]), start, faultf(InvalidOpcode, "%v", err))
		return
	}
	if v.profiler != nil {
		v.profiler.RecordOpcode(in.Op)
	}
	if v.Trace {
		v.log.Debugf("%s %04X  %-24s depth=%d stack=%d", f.code.name, start, bytecode.FormatInstruction(in), len(v.frames), len(f.stack))
	}

	f.pc = in.Next()
	if flt := v.exec(f, in); flt != nil {
		f.pc = start
		v.raise(f, in.Op, start, flt)
	}
}

// raise turns a fault into the run's Trap.
func (v *VM) raise(f *Frame, op bytecode.Opcode, pc int, flt *fault) {
	trace := make([]TraceEntry, 0, len(v.frames))
	for i := len(v.frames) - 1; i >= 0; i-- {
		fr := v.frames[i]
		entry := TraceEntry{CodeName: fr.code.name, PC: fr.pc}
		if fr == f {
			entry.PC = pc
		}
		trace = append(trace, entry)
	}
	v.trap = &Trap{
		Kind:       flt.kind,
		Opcode:     op,
		CodeName:   f.code.name,
		PC:         pc,
		FrameDepth: len(v.frames),
		Message:    flt.msg,
		Trace:      trace,
	}
	v.state = Trapped
	v.log.Warningf("run %s: %v", v.runID, v.trap)
}

// exec runs a decoded instruction. It validates every precondition before
// touching the frame, so a returned fault leaves no partial effects.
func (v *VM) exec(f *Frame, in bytecode.Instruction) *fault {
	switch in.Op {
	// --- Constants, locals and globals ---
	case bytecode.OpLoadConst:
		c, ok := f.code.ConstantAt(in.Operand)
		if !ok {
			return faultf(InvalidConstantIndex, "constant %d of %d", in.Operand, f.code.ConstantCount())
		}
		if flt := f.room(1); flt != nil {
			return flt
		}
		f.push(c)

	case bytecode.OpLoadLocal:
		if in.Operand >= len(f.locals) {
			return faultf(InvalidLocalIndex, "local %d of %d", in.Operand, len(f.locals))
		}
		if flt := f.room(1); flt != nil {
			return flt
		}
		f.push(f.locals[in.Operand])

	case bytecode.OpStoreLocal:
		if in.Operand >= len(f.locals) {
			return faultf(InvalidLocalIndex, "local %d of %d", in.Operand, len(f.locals))
		}
		if flt := f.need(1); flt != nil {
			return flt
		}
		f.locals[in.Operand] = f.pop()

	case bytecode.OpLoadGlobal:
		name, ok := f.code.NameAt(in.Operand)
		if !ok {
			return faultf(InvalidGlobalIndex, "name %d of %d", in.Operand, f.code.NameCount())
		}
		val, ok := v.globals[name]
		if !ok {
			return faultf(UndefinedVariable, "%s", name)
		}
		if flt := f.room(1); flt != nil {
			return flt
		}
		f.push(val)

	case bytecode.OpStoreGlobal:
		name, ok := f.code.NameAt(in.Operand)
		if !ok {
			return faultf(InvalidGlobalIndex, "name %d of %d", in.Operand, f.code.NameCount())
		}
		if flt := f.need(1); flt != nil {
			return flt
		}
		v.globals[name] = f.pop()

	case bytecode.OpLoadNull:
		if flt := f.room(1); flt != nil {
			return flt
		}
		f.push(Null)

	// --- Stack manipulation ---
	case bytecode.OpPop:
		if flt := f.need(1); flt != nil {
			return flt
		}
		f.pop()

	case bytecode.OpDup:
		if flt := f.need(1); flt != nil {
			return flt
		}
		if flt := f.room(1); flt != nil {
			return flt
		}
		f.push(f.peek(0))

	case bytecode.OpSwap:
		if flt := f.need(2); flt != nil {
			return flt
		}
		n := len(f.stack)
		f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]

	// --- Arithmetic, comparison, logic ---
	case bytecode.OpAdd, bytecode.OpSubtract, bytecode.OpMultiply,
		bytecode.OpDivide, bytecode.OpModulo, bytecode.OpPower:
		return f.binary(in.Op, arith)

	case bytecode.OpEquals, bytecode.OpNotEquals, bytecode.OpLessThan,
		bytecode.OpLessOrEqual, bytecode.OpGreaterThan, bytecode.OpGreaterOrEqual:
		return f.binary(in.Op, compare)

	case bytecode.OpAnd, bytecode.OpOr:
		return f.binary(in.Op, logic)

	case bytecode.OpNegate:
		return f.unary(negate)

	case bytecode.OpNot:
		return f.unary(not)

	// --- Control flow ---
	case bytecode.OpJump:
		target := in.Target()
		if flt := checkTarget(f, target); flt != nil {
			return flt
		}
		f.pc = target

	case bytecode.OpJumpIfFalse, bytecode.OpJumpIfTrue:
		if flt := f.need(1); flt != nil {
			return flt
		}
		taken := f.peek(0).Truthy() == (in.Op == bytecode.OpJumpIfTrue)
		if taken {
			if flt := checkTarget(f, in.Target()); flt != nil {
				return flt
			}
		}
		f.pop()
		if taken {
			f.pc = in.Target()
		}

	case bytecode.OpCall:
		return v.call(f, in.Operand)

	case bytecode.OpReturn:
		if flt := f.need(1); flt != nil {
			return flt
		}
		v.state = Returning
		v.unwind(f.pop())

	// --- Heap ---
	case bytecode.OpNewObject:
		if flt := f.room(1); flt != nil {
			return flt
		}
		h, err := v.heap.Alloc(in.Operand)
		if err != nil {
			return faultf(HeapError, "allocate %d fields: %v", in.Operand, err)
		}
		f.push(FromHandle(h))

	case bytecode.OpLoadField:
		if flt := f.need(1); flt != nil {
			return flt
		}
		h, ok := f.peek(0).AsHandle()
		if !ok {
			return faultf(TypeError, "LOAD_FIELD needs a Ptr, got %s", f.peek(0).Kind())
		}
		val, err := v.heap.Load(h, in.Operand)
		if err != nil {
			return faultf(HeapError, "%v", err)
		}
		f.stack[len(f.stack)-1] = val

	case bytecode.OpStoreField:
		if flt := f.need(2); flt != nil {
			return flt
		}
		h, ok := f.peek(1).AsHandle()
		if !ok {
			return faultf(TypeError, "STORE_FIELD needs a Ptr, got %s", f.peek(1).Kind())
		}
		if err := v.heap.Store(h, in.Operand, f.peek(0)); err != nil {
			return faultf(HeapError, "%v", err)
		}
		f.pop()
		f.pop()

	case bytecode.OpHalt:
		v.result = Null
		if len(f.stack) > 0 {
			v.result = f.peek(0)
		}
		v.state = Halted

	default:
		return faultf(InvalidOpcode, "opcode 0x%02X", byte(in.Op))
	}
	return nil
}

// binary pops two operands and pushes op(a, b), where b was on top.
func (f *Frame) binary(op bytecode.Opcode, fn func(bytecode.Opcode, Value, Value) (Value, *fault)) *fault {
	if flt := f.need(2); flt != nil {
		return flt
	}
	r, flt := fn(op, f.peek(1), f.peek(0))
	if flt != nil {
		return flt
	}
	f.pop()
	f.stack[len(f.stack)-1] = r
	return nil
}

// unary replaces the top of the stack with fn(top).
func (f *Frame) unary(fn func(Value) (Value, *fault)) *fault {
	if flt := f.need(1); flt != nil {
		return flt
	}
	r, flt := fn(f.peek(0))
	if flt != nil {
		return flt
	}
	f.stack[len(f.stack)-1] = r
	return nil
}

func checkTarget(f *Frame, target int) *fault {
	if target < 0 || target >= len(f.code.code) {
		return faultf(InvalidJumpTarget, "target %d outside [0, %d)", target, len(f.code.code))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// call implements CALL argc. The stack holds the callee index followed by
// argc arguments; they bind to the callee's locals in push order.
func (v *VM) call(f *Frame, argc int) *fault {
	if flt := f.need(argc + 1); flt != nil {
		return flt
	}
	calleeVal := f.peek(argc)
	idx, ok := calleeVal.AsInt()
	if !ok {
		return faultf(TypeError, "callee must be an Int code object index, got %s", calleeVal.Kind())
	}
	if idx < 0 || idx >= int64(v.program.Len()) {
		return faultf(CallFrameError, "no code object %d (program has %d)", idx, v.program.Len())
	}
	callee := v.program.code[idx]
	if flt := checkArity(callee, argc); flt != nil {
		return flt
	}
	if len(v.frames) >= v.limits.callDepth() {
		return faultf(StackOverflow, "call depth %d reached calling %s", len(v.frames), callee.name)
	}

	frame := newFrame(callee, v.limits.stackBound(callee))
	base := len(f.stack) - argc
	copy(frame.locals, f.stack[base:])
	f.stack = f.stack[:base-1]
	v.frames = append(v.frames, frame)
	if v.profiler != nil {
		v.profiler.RecordInvocation(callee)
	}
	return nil
}

// unwind destroys the innermost frame and delivers val to its caller, or
// halts the VM with val when there is no caller.
func (v *VM) unwind(val Value) {
	v.frames[len(v.frames)-1] = nil
	v.frames = v.frames[:len(v.frames)-1]
	if len(v.frames) == 0 {
		v.result = val
		v.state = Halted
		return
	}
	// The caller popped at least the callee slot, so there is room.
	v.frames[len(v.frames)-1].push(val)
	v.state = Running
}

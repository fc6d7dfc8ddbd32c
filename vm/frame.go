package vm

// Frame is the activation record of one code object invocation. It owns its
// locals and operand stack exclusively.
type Frame struct {
	code   *CodeObject
	pc     int
	locals []Value
	stack  []Value
	bound  int // operand stack capacity for this frame
}

func newFrame(code *CodeObject, bound int) *Frame {
	return &Frame{
		code:   code,
		locals: make([]Value, code.LocalCount()),
		stack:  make([]Value, 0, min(bound, 64)),
		bound:  bound,
	}
}

// Code returns the code object being executed.
func (f *Frame) Code() *CodeObject { return f.code }

// PC returns the byte offset of the next instruction.
func (f *Frame) PC() int { return f.pc }

// Locals returns a copy of the local slots.
func (f *Frame) Locals() []Value { return append([]Value(nil), f.locals...) }

// Stack returns a copy of the operand stack, bottom first.
func (f *Frame) Stack() []Value { return append([]Value(nil), f.stack...) }

// StackDepth returns the number of values on the operand stack.
func (f *Frame) StackDepth() int { return len(f.stack) }

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

// need reports a StackUnderflow fault unless n values are available.
func (f *Frame) need(n int) *fault {
	if len(f.stack) < n {
		return faultf(StackUnderflow, "need %d operands, have %d", n, len(f.stack))
	}
	return nil
}

// room reports a CallFrameError fault unless n more values fit.
func (f *Frame) room(n int) *fault {
	if len(f.stack)+n > f.bound {
		return faultf(CallFrameError, "operand stack would exceed %d", f.bound)
	}
	return nil
}

func (f *Frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *Frame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

// peek returns the value n slots below the top (0 is the top).
func (f *Frame) peek(n int) Value {
	return f.stack[len(f.stack)-1-n]
}

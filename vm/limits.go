package vm

// Limits bounds the resources a run may consume. Zero fields mean no
// additional limit beyond what the code objects declare.
type Limits struct {
	// MaxCallDepth is the deepest frame stack allowed. Exceeding it traps
	// with StackOverflow.
	MaxCallDepth int

	// MaxStackSize caps every frame's operand stack below its declared
	// MaxStackSize.
	MaxStackSize int

	// MaxSteps stops a run with ErrStepLimit after this many instructions.
	MaxSteps int64
}

// DefaultLimits returns the limits used when none are supplied.
func DefaultLimits() Limits {
	return Limits{MaxCallDepth: 256}
}

// stackBound returns the operand stack capacity for a frame of code.
func (l Limits) stackBound(code *CodeObject) int {
	bound := code.MaxStackSize()
	if l.MaxStackSize > 0 && l.MaxStackSize < bound {
		bound = l.MaxStackSize
	}
	return bound
}

// callDepth returns the effective call depth limit.
func (l Limits) callDepth() int {
	if l.MaxCallDepth <= 0 {
		return DefaultLimits().MaxCallDepth
	}
	return l.MaxCallDepth
}

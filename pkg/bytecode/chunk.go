package bytecode

import "encoding/binary"

// Builder assembles an instruction stream. It knows nothing about constant
// or name pools; callers pass the indices they allocated.
type Builder struct {
	Code []byte
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{Code: make([]byte, 0, 64)}
}

// Emit appends a single-byte opcode to the code section.
func (b *Builder) Emit(op Opcode) int {
	offset := len(b.Code)
	b.Code = append(b.Code, byte(op))
	return offset
}

// EmitIndex appends an opcode carrying a u16 operand (constant, local, name,
// field index or argc).
func (b *Builder) EmitIndex(op Opcode, index uint16) int {
	offset := len(b.Code)
	b.Code = append(b.Code, byte(op))
	b.Code = binary.LittleEndian.AppendUint16(b.Code, index)
	return offset
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the jump instruction for later patching.
func (b *Builder) EmitJump(op Opcode) int {
	offset := len(b.Code)
	b.Code = append(b.Code, byte(op), 0, 0, 0, 0) // Placeholder
	return offset
}

// EmitJumpTo emits a jump to an already known target, typically a loop head.
func (b *Builder) EmitJumpTo(op Opcode, target int) int {
	offset := b.EmitJump(op)
	b.PatchJumpTo(offset, target)
	return offset
}

// PatchJump patches the jump at jumpOffset to land on the current position.
func (b *Builder) PatchJump(jumpOffset int) {
	b.PatchJumpTo(jumpOffset, len(b.Code))
}

// PatchJumpTo patches the jump at jumpOffset to go to a specific offset.
// The stored delta is relative to the jump instruction itself.
func (b *Builder) PatchJumpTo(jumpOffset int, target int) {
	delta := int32(target - jumpOffset)
	binary.LittleEndian.PutUint32(b.Code[jumpOffset+1:], uint32(delta))
}

// CurrentOffset returns the current offset in the code section.
func (b *Builder) CurrentOffset() int {
	return len(b.Code)
}

// Bytes returns a copy of the assembled code.
func (b *Builder) Bytes() []byte {
	out := make([]byte, len(b.Code))
	copy(out, b.Code)
	return out
}

// Label is a jump destination that may be bound after jumps to it are emitted.
type Label struct {
	target  int
	bound   bool
	pending []int
}

// NewLabel creates an unbound label.
func (b *Builder) NewLabel() *Label {
	return &Label{target: -1}
}

// Mark binds l to the current offset and patches every jump already
// emitted to it. A label may be marked only once.
func (b *Builder) Mark(l *Label) {
	if l.bound {
		panic("bytecode: label marked twice")
	}
	l.target = len(b.Code)
	l.bound = true
	for _, j := range l.pending {
		b.PatchJumpTo(j, l.target)
	}
	l.pending = nil
}

// EmitJumpLabel emits a jump to l, patching it now if l is bound.
func (b *Builder) EmitJumpLabel(op Opcode, l *Label) int {
	if l.bound {
		return b.EmitJumpTo(op, l.target)
	}
	offset := b.EmitJump(op)
	l.pending = append(l.pending, offset)
	return offset
}

// Unresolved reports whether any label jumps are still waiting for Mark.
func (l *Label) Unresolved() bool {
	return len(l.pending) > 0
}

package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnknownOpcode is returned when decoding a byte that is not a defined opcode.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrTruncatedInstruction is returned when an operand runs past the end of the code.
	ErrTruncatedInstruction = errors.New("truncated instruction")
)

// Instruction is one decoded instruction.
type Instruction struct {
	Op      Opcode
	Offset  int // byte offset of the opcode within the code
	Operand int // u16 index or i32 relative offset, 0 when the opcode has none
}

// Len returns the encoded length of the instruction.
func (in Instruction) Len() int {
	return in.Op.InstructionLen()
}

// Next returns the offset of the following instruction.
func (in Instruction) Next() int {
	return in.Offset + in.Len()
}

// Target returns the absolute jump target. Jump offsets are relative to the
// start of the jump instruction, not to the following instruction.
func (in Instruction) Target() int {
	return in.Offset + in.Operand
}

// Decode decodes the instruction starting at offset.
func Decode(code []byte, offset int) (Instruction, error) {
	if offset < 0 || offset >= len(code) {
		return Instruction{}, fmt.Errorf("%w: offset %d outside code of length %d", ErrTruncatedInstruction, offset, len(code))
	}
	op := Opcode(code[offset])
	info, ok := Lookup(op)
	if !ok {
		return Instruction{Op: op, Offset: offset}, fmt.Errorf("%w 0x%02X at %04X", ErrUnknownOpcode, byte(op), offset)
	}
	in := Instruction{Op: op, Offset: offset}
	end := offset + 1 + info.OperandLen
	if end > len(code) {
		return in, fmt.Errorf("%w: %s at %04X needs %d operand bytes", ErrTruncatedInstruction, info.Name, offset, info.OperandLen)
	}
	switch info.OperandLen {
	case OperandIndex:
		in.Operand = int(binary.LittleEndian.Uint16(code[offset+1:]))
	case OperandOffset:
		in.Operand = int(int32(binary.LittleEndian.Uint32(code[offset+1:])))
	}
	return in, nil
}

// DecodeAll decodes every instruction in code, stopping at the first error.
func DecodeAll(code []byte) ([]Instruction, error) {
	var out []Instruction
	for offset := 0; offset < len(code); {
		in, err := Decode(code, offset)
		if err != nil {
			return out, err
		}
		out = append(out, in)
		offset = in.Next()
	}
	return out, nil
}

// Make encodes a single instruction. The operand is ignored for opcodes without one.
func Make(op Opcode, operand int) []byte {
	buf := make([]byte, 1, op.InstructionLen())
	buf[0] = byte(op)
	switch op.OperandLen() {
	case OperandIndex:
		buf = binary.LittleEndian.AppendUint16(buf, uint16(operand))
	case OperandOffset:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(operand)))
	}
	return buf
}

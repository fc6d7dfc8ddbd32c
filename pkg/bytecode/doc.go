// Package bytecode defines the Vela instruction set: opcode numbering,
// operand widths, stack effects, decoding, assembly and disassembly.
//
// Every instruction is a one-byte opcode followed by a fixed-width operand
// determined solely by the opcode:
//
//   - no operand (arithmetic, comparison, stack manipulation, Return, Halt)
//   - a 2-byte unsigned little-endian index (constant, local, name, field, argc)
//   - a 4-byte signed little-endian offset (jumps)
//
// Instruction boundaries are therefore known from the opcode byte alone.
//
// # Jump offsets
//
// A jump's offset is relative to the first byte of the jump instruction
// itself. A decoder must remember the instruction's start before reading
// the operand; Instruction.Target does this.
//
// The package has no notion of runtime values. Constant and name pools live
// on the vm.CodeObject; the Builder and Disassembler deal only in indices.
package bytecode

package bytecode

import (
	"fmt"
	"strings"
)

// Annotator returns a comment for an instruction (for example the constant a
// LOAD_CONST refers to), or "" for none.
type Annotator func(in Instruction) string

// Disassemble returns a human-readable listing of code.
func Disassemble(code []byte) string {
	return DisassembleWithName("", code, nil)
}

// DisassembleWithName returns a human-readable listing with a name header.
// Decoding stops at the first undecodable byte, which is listed as such.
func DisassembleWithName(name string, code []byte, annotate Annotator) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	for _, line := range DisassembleToLines(code, annotate) {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// DisassembleToLines returns the disassembly as a slice of lines.
func DisassembleToLines(code []byte, annotate Annotator) []string {
	var lines []string
	offset := 0
	for offset < len(code) {
		in, err := Decode(code, offset)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%04X  <%v>", offset, err))
			break
		}
		line := FormatInstruction(in)
		if annotate != nil {
			if note := annotate(in); note != "" {
				line = fmt.Sprintf("%-28s ; %s", line, note)
			}
		}
		lines = append(lines, fmt.Sprintf("%04X  %s", offset, line))
		offset = in.Next()
	}
	return lines
}

// FormatInstruction renders a single decoded instruction without annotation.
func FormatInstruction(in Instruction) string {
	info := GetOpcodeInfo(in.Op)
	switch info.OperandLen {
	case OperandOffset:
		return fmt.Sprintf("%s %+d (-> %04X)", info.Name, in.Operand, in.Target())
	case OperandIndex:
		return fmt.Sprintf("%s %d", info.Name, in.Operand)
	default:
		return info.Name
	}
}

// InstructionCount returns the number of decodable instructions in code.
// Note: This iterates through all code, so it's O(n).
func InstructionCount(code []byte) int {
	ins, _ := DecodeAll(code)
	return len(ins)
}

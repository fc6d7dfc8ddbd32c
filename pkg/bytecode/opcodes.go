package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Loads and stores (0x00-0x06)
	// ========================================================================

	OpLoadConst   Opcode = 0x00 // Push constant from pool: OpLoadConst <index:u16>
	OpLoadLocal   Opcode = 0x01 // Push local slot: OpLoadLocal <slot:u16>
	OpStoreLocal  Opcode = 0x02 // Pop into local slot: OpStoreLocal <slot:u16>
	OpLoadGlobal  Opcode = 0x03 // Push global named by names[index]: OpLoadGlobal <index:u16>
	OpStoreGlobal Opcode = 0x04 // Pop into global named by names[index]
	OpLoadNull    Opcode = 0x05 // Push Null

	// ========================================================================
	// Stack manipulation (0x07-0x0F)
	// ========================================================================

	OpPop  Opcode = 0x07 // Pop top of stack
	OpDup  Opcode = 0x08 // Duplicate top of stack
	OpSwap Opcode = 0x09 // Swap top two stack elements

	// ========================================================================
	// Arithmetic (0x10-0x1F)
	// ========================================================================

	OpAdd      Opcode = 0x10 // Pop two, push sum
	OpSubtract Opcode = 0x11 // Pop two, push difference (a - b where b is TOS)
	OpMultiply Opcode = 0x12 // Pop two, push product
	OpDivide   Opcode = 0x13 // Pop two, push quotient (truncated for Int)
	OpModulo   Opcode = 0x14 // Pop two, push remainder (sign of dividend)
	OpPower    Opcode = 0x15 // Pop two, push a ** b
	OpNegate   Opcode = 0x16 // Negate top of stack

	// ========================================================================
	// Comparison (0x20-0x2F)
	// ========================================================================

	OpEquals         Opcode = 0x20
	OpNotEquals      Opcode = 0x21
	OpLessThan       Opcode = 0x22
	OpLessOrEqual    Opcode = 0x23
	OpGreaterThan    Opcode = 0x24
	OpGreaterOrEqual Opcode = 0x25

	// ========================================================================
	// Logical operations (0x30-0x3F)
	// ========================================================================

	OpAnd Opcode = 0x30 // Bool x Bool
	OpOr  Opcode = 0x31 // Bool x Bool
	OpNot Opcode = 0x32 // Bool

	// ========================================================================
	// Control flow (0x40-0x4F)
	// ========================================================================

	OpJump        Opcode = 0x40 // Unconditional jump: OpJump <offset:i32>
	OpJumpIfFalse Opcode = 0x41 // Pop, jump if falsy: OpJumpIfFalse <offset:i32>
	OpJumpIfTrue  Opcode = 0x42 // Pop, jump if truthy: OpJumpIfTrue <offset:i32>

	// ========================================================================
	// Calls (0x50-0x5F)
	// ========================================================================

	OpCall   Opcode = 0x50 // Call callee with argc args: OpCall <argc:u16>
	OpReturn Opcode = 0x51 // Return top of stack to caller

	// ========================================================================
	// Heap objects (0x60-0x6F)
	// ========================================================================

	OpNewObject  Opcode = 0x60 // Allocate object: OpNewObject <fields:u16>
	OpLoadField  Opcode = 0x61 // Pop ptr, push field: OpLoadField <field:u16>
	OpStoreField Opcode = 0x62 // Pop value and ptr, write field: OpStoreField <field:u16>

	// ========================================================================
	// Termination
	// ========================================================================

	OpHalt Opcode = 0xFF // Stop the program with top of stack (or Null)
)

// Operand widths. No opcode has a variable-width operand.
const (
	OperandNone   = 0 // no operand
	OperandIndex  = 2 // u16, little-endian
	OperandOffset = 4 // i32, little-endian, relative to the instruction start
)

// VariableEffect marks a stack effect that depends on the operand.
const VariableEffect = -1

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (VariableEffect = operand dependent)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Loads and stores
	OpLoadConst:   {"LOAD_CONST", 0, 1, OperandIndex},
	OpLoadLocal:   {"LOAD_LOCAL", 0, 1, OperandIndex},
	OpStoreLocal:  {"STORE_LOCAL", 1, 0, OperandIndex},
	OpLoadGlobal:  {"LOAD_GLOBAL", 0, 1, OperandIndex},
	OpStoreGlobal: {"STORE_GLOBAL", 1, 0, OperandIndex},
	OpLoadNull:    {"LOAD_NULL", 0, 1, OperandNone},

	// Stack manipulation
	OpPop:  {"POP", 1, 0, OperandNone},
	OpDup:  {"DUP", 1, 2, OperandNone},
	OpSwap: {"SWAP", 2, 2, OperandNone},

	// Arithmetic
	OpAdd:      {"ADD", 2, 1, OperandNone},
	OpSubtract: {"SUB", 2, 1, OperandNone},
	OpMultiply: {"MUL", 2, 1, OperandNone},
	OpDivide:   {"DIV", 2, 1, OperandNone},
	OpModulo:   {"MOD", 2, 1, OperandNone},
	OpPower:    {"POW", 2, 1, OperandNone},
	OpNegate:   {"NEG", 1, 1, OperandNone},

	// Comparison
	OpEquals:         {"EQ", 2, 1, OperandNone},
	OpNotEquals:      {"NE", 2, 1, OperandNone},
	OpLessThan:       {"LT", 2, 1, OperandNone},
	OpLessOrEqual:    {"LE", 2, 1, OperandNone},
	OpGreaterThan:    {"GT", 2, 1, OperandNone},
	OpGreaterOrEqual: {"GE", 2, 1, OperandNone},

	// Logical
	OpAnd: {"AND", 2, 1, OperandNone},
	OpOr:  {"OR", 2, 1, OperandNone},
	OpNot: {"NOT", 1, 1, OperandNone},

	// Control flow
	OpJump:        {"JUMP", 0, 0, OperandOffset},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 1, 0, OperandOffset},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", 1, 0, OperandOffset},

	// Calls
	OpCall:   {"CALL", VariableEffect, 0, OperandIndex}, // Pops callee + argc args; callee frame pushes the result on return
	OpReturn: {"RETURN", 1, 0, OperandNone},

	// Heap objects
	OpNewObject:  {"NEW_OBJECT", 0, 1, OperandIndex},
	OpLoadField:  {"LOAD_FIELD", 1, 1, OperandIndex},
	OpStoreField: {"STORE_FIELD", 2, 0, OperandIndex},

	OpHalt: {"HALT", 0, 0, OperandNone},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Lookup returns metadata for an opcode and whether the opcode is defined.
func Lookup(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// StackEffect returns the net change in operand-stack depth caused by op.
// For OpCall the effect depends on argc and the callee's result; use CallStackEffect.
func (op Opcode) StackEffect() int {
	info := GetOpcodeInfo(op)
	if info.StackPop == VariableEffect {
		return 0
	}
	return info.StackPush - info.StackPop
}

// CallStackEffect returns the caller-side depth change of a completed OpCall
// with argc arguments: callee and arguments are popped, the result is pushed.
func CallStackEffect(argc int) int {
	return 1 - (argc + 1)
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpIfTrue
}

// IsComparison returns true for the six comparison opcodes.
func (op Opcode) IsComparison() bool {
	return op >= OpEquals && op <= OpGreaterOrEqual
}

// IsArithmetic returns true for binary arithmetic opcodes.
func (op Opcode) IsArithmetic() bool {
	return op >= OpAdd && op <= OpPower
}

// IsTerminator returns true if this opcode ends the current frame or program.
func (op Opcode) IsTerminator() bool {
	return op == OpReturn || op == OpHalt
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}

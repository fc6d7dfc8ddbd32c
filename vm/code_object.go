package vm

import (
	"fmt"

	"github.com/chazu/vela/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// CodeObject: an immutable unit of compiled code
// ---------------------------------------------------------------------------

// CodeDef is the mutable description used to build a CodeObject.
type CodeDef struct {
	Name         string
	ArgNames     []string
	LocalCount   uint16
	MaxStackSize uint16
	Instructions []byte
	Constants    []Value
	Names        []string
}

// CodeObject is one compiled function or module body. It is never modified
// after construction, so any number of frames and VM instances may share it.
type CodeObject struct {
	name         string
	argNames     []string
	localCount   uint16
	maxStackSize uint16
	code         []byte
	constants    []Value
	names        []string
}

// NewCodeObject builds a CodeObject from def. All slices are copied.
func NewCodeObject(def CodeDef) *CodeObject {
	return &CodeObject{
		name:         def.Name,
		argNames:     append([]string(nil), def.ArgNames...),
		localCount:   def.LocalCount,
		maxStackSize: def.MaxStackSize,
		code:         append([]byte(nil), def.Instructions...),
		constants:    append([]Value(nil), def.Constants...),
		names:        append([]string(nil), def.Names...),
	}
}

// Def returns a copy of the definition the object was built from.
func (c *CodeObject) Def() CodeDef {
	return CodeDef{
		Name:         c.name,
		ArgNames:     append([]string(nil), c.argNames...),
		LocalCount:   c.localCount,
		MaxStackSize: c.maxStackSize,
		Instructions: append([]byte(nil), c.code...),
		Constants:    append([]Value(nil), c.constants...),
		Names:        append([]string(nil), c.names...),
	}
}

// Name returns the diagnostic name.
func (c *CodeObject) Name() string { return c.name }

// ArgNames returns a copy of the parameter names.
func (c *CodeObject) ArgNames() []string { return append([]string(nil), c.argNames...) }

// Arity returns the declared parameter count.
func (c *CodeObject) Arity() int { return len(c.argNames) }

// LocalCount returns the number of local slots.
func (c *CodeObject) LocalCount() int { return int(c.localCount) }

// MaxStackSize returns the declared operand stack bound.
func (c *CodeObject) MaxStackSize() int { return int(c.maxStackSize) }

// Instructions returns a copy of the instruction stream.
func (c *CodeObject) Instructions() []byte { return append([]byte(nil), c.code...) }

// CodeLen returns the length of the instruction stream in bytes.
func (c *CodeObject) CodeLen() int { return len(c.code) }

// ConstantCount returns the size of the constant pool.
func (c *CodeObject) ConstantCount() int { return len(c.constants) }

// ConstantAt returns the constant at index i.
func (c *CodeObject) ConstantAt(i int) (Value, bool) {
	if i < 0 || i >= len(c.constants) {
		return Null, false
	}
	return c.constants[i], true
}

// NameCount returns the size of the name pool.
func (c *CodeObject) NameCount() int { return len(c.names) }

// NameAt returns the name at index i.
func (c *CodeObject) NameAt(i int) (string, bool) {
	if i < 0 || i >= len(c.names) {
		return "", false
	}
	return c.names[i], true
}

// Disassemble returns an annotated listing of the instruction stream.
func (c *CodeObject) Disassemble() string {
	header := fmt.Sprintf("%s(%d args, %d locals, stack %d)", c.name, len(c.argNames), c.localCount, c.maxStackSize)
	return bytecode.DisassembleWithName(header, c.code, c.annotate)
}

func (c *CodeObject) annotate(in bytecode.Instruction) string {
	switch in.Op {
	case bytecode.OpLoadConst:
		if v, ok := c.ConstantAt(in.Operand); ok {
			return v.String()
		}
		return "<bad constant>"
	case bytecode.OpLoadGlobal, bytecode.OpStoreGlobal:
		if n, ok := c.NameAt(in.Operand); ok {
			return n
		}
		return "<bad name>"
	case bytecode.OpLoadLocal, bytecode.OpStoreLocal:
		if in.Operand < len(c.argNames) {
			return c.argNames[in.Operand]
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Program: header plus ordered code objects
// ---------------------------------------------------------------------------

// ImageMagic is the 4-byte signature at the start of every image.
var ImageMagic = [4]byte{'V', 'E', 'L', 'A'}

// ImageVersion is the format version written by this package.
const ImageVersion uint32 = 1

// supportedVersions lists the image versions the loader understands.
var supportedVersions = map[uint32]bool{
	1: true,
}

// ImageHeaderSize is the size of the fixed image header in bytes.
const ImageHeaderSize = 20

// EntryName is the name of the code object preferred as entry point.
const EntryName = "main"

// Header is the fixed image header.
type Header struct {
	Magic           [4]byte
	Version         uint32
	Timestamp       int64 // Unix seconds, advisory
	CodeObjectCount uint32
}

// Program is a loaded image: a header and its code objects.
type Program struct {
	Header Header
	code   []*CodeObject
	entry  int
}

// NewProgram assembles a Program from code objects. At least one is required.
func NewProgram(code ...*CodeObject) (*Program, error) {
	if len(code) == 0 {
		return nil, &LoadError{Kind: EmptyProgram, CodeIndex: -1}
	}
	p := &Program{
		Header: Header{
			Magic:           ImageMagic,
			Version:         ImageVersion,
			CodeObjectCount: uint32(len(code)),
		},
		code: append([]*CodeObject(nil), code...),
	}
	p.entry = p.findEntry()
	return p, nil
}

// findEntry returns the index of the code object named "main", or 0.
func (p *Program) findEntry() int {
	for i, c := range p.code {
		if c.name == EntryName {
			return i
		}
	}
	return 0
}

// Len returns the number of code objects.
func (p *Program) Len() int { return len(p.code) }

// CodeObjects returns the code objects in image order.
func (p *Program) CodeObjects() []*CodeObject {
	return append([]*CodeObject(nil), p.code...)
}

// CodeObject returns the code object at index i.
func (p *Program) CodeObject(i int) (*CodeObject, bool) {
	if i < 0 || i >= len(p.code) {
		return nil, false
	}
	return p.code[i], true
}

// Lookup finds the first code object with the given name.
func (p *Program) Lookup(name string) (*CodeObject, int, bool) {
	for i, c := range p.code {
		if c.name == name {
			return c, i, true
		}
	}
	return nil, -1, false
}

// EntryIndex returns the index of the entry code object.
func (p *Program) EntryIndex() int { return p.entry }

// Entry returns the entry code object.
func (p *Program) Entry() *CodeObject { return p.code[p.entry] }

// Disassemble returns a listing of every code object.
func (p *Program) Disassemble() string {
	out := fmt.Sprintf("; VELA v%d, %d code objects, entry %d\n", p.Header.Version, len(p.code), p.entry)
	for i, c := range p.code {
		out += fmt.Sprintf("\n; [%d]\n", i)
		out += c.Disassemble()
	}
	return out
}

package vm

import (
	"bytes"
	"testing"

	"github.com/chazu/vela/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Test Helpers: Building test images
// ---------------------------------------------------------------------------

// testImageBuilder writes raw image bytes field by field, so tests can
// produce images the writer never would.
type testImageBuilder struct {
	buf bytes.Buffer
}

func newTestImageBuilder() *testImageBuilder {
	return &testImageBuilder{}
}

func (b *testImageBuilder) writeUint16(v uint16) {
	buf := make([]byte, 2)
	WriteUint16(buf, v)
	b.buf.Write(buf)
}

func (b *testImageBuilder) writeUint32(v uint32) {
	buf := make([]byte, 4)
	WriteUint32(buf, v)
	b.buf.Write(buf)
}

func (b *testImageBuilder) writeUint64(v uint64) {
	buf := make([]byte, 8)
	WriteUint64(buf, v)
	b.buf.Write(buf)
}

// writeString writes a length-prefixed string (uint32 length + bytes).
func (b *testImageBuilder) writeString(s string) {
	b.writeUint32(uint32(len(s)))
	b.buf.WriteString(s)
}

func (b *testImageBuilder) writeBytes(data []byte) {
	b.buf.Write(data)
}

// writeHeader writes a version 1 header.
func (b *testImageBuilder) writeHeader(count uint32) {
	b.buf.Write(ImageMagic[:])
	b.writeUint32(ImageVersion)
	b.writeUint64(0)
	b.writeUint32(count)
}

// writeCodeObject writes a code object with the given instructions and
// pre-encoded constant pool.
func (b *testImageBuilder) writeCodeObject(name string, code []byte, constCount uint32, constBytes []byte) {
	b.writeString(name)
	b.writeUint32(0) // no args
	b.writeUint16(1) // locals
	b.writeUint16(8) // max stack
	b.writeUint32(uint32(len(code)))
	b.writeBytes(code)
	b.writeUint32(constCount)
	b.writeBytes(constBytes)
	b.writeUint32(0) // names
}

func (b *testImageBuilder) bytes() []byte {
	return b.buf.Bytes()
}

// ---------------------------------------------------------------------------
// Test Helpers: Programs
// ---------------------------------------------------------------------------

// mustProgram builds a program from definitions.
func mustProgram(t testing.TB, defs ...CodeDef) *Program {
	t.Helper()
	code := make([]*CodeObject, len(defs))
	for i, d := range defs {
		code[i] = NewCodeObject(d)
	}
	p, err := NewProgram(code...)
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	return p
}

// mainDef returns a "main" definition around code with a roomy stack.
func mainDef(code []byte, consts ...Value) CodeDef {
	return CodeDef{
		Name:         "main",
		LocalCount:   4,
		MaxStackSize: 16,
		Instructions: code,
		Constants:    consts,
	}
}

// asm concatenates encoded instructions.
func asm(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// op encodes one instruction.
func op(o bytecode.Opcode, operand ...int) []byte {
	n := 0
	if len(operand) > 0 {
		n = operand[0]
	}
	return bytecode.Make(o, n)
}

// runMain runs a single-code-object program.
func runMain(t testing.TB, code []byte, consts ...Value) (*VM, Value, error) {
	t.Helper()
	v := New(mustProgram(t, mainDef(code, consts...)))
	result, err := v.Run()
	return v, result, err
}

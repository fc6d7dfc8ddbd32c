package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/vela/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Load-time errors
// ---------------------------------------------------------------------------

// LoadErrorKind identifies why an image was rejected.
type LoadErrorKind int

const (
	InvalidMagic LoadErrorKind = iota + 1
	UnsupportedVersion
	EmptyProgram
	CorruptString
	TruncatedBytecode
	CorruptConstant
	PersistedPointer
	TrailingData
)

var (
	ErrInvalidMagic       = errors.New("invalid magic number: expected VELA")
	ErrUnsupportedVersion = errors.New("unsupported image version")
	ErrEmptyProgram       = errors.New("image contains no code objects")
	ErrCorruptString      = errors.New("string is not valid UTF-8")
	ErrTruncatedBytecode  = errors.New("unexpected end of image data")
	ErrCorruptConstant    = errors.New("unknown constant tag")
	ErrPersistedPointer   = errors.New("pointer constant in serialized image")
	ErrTrailingData       = errors.New("unexpected data after last code object")
)

var loadErrorInfo = map[LoadErrorKind]struct {
	name     string
	sentinel error
}{
	InvalidMagic:       {"InvalidMagic", ErrInvalidMagic},
	UnsupportedVersion: {"UnsupportedVersion", ErrUnsupportedVersion},
	EmptyProgram:       {"EmptyProgram", ErrEmptyProgram},
	CorruptString:      {"CorruptString", ErrCorruptString},
	TruncatedBytecode:  {"TruncatedBytecode", ErrTruncatedBytecode},
	CorruptConstant:    {"CorruptConstant", ErrCorruptConstant},
	PersistedPointer:   {"PersistedPointer", ErrPersistedPointer},
	TrailingData:       {"TrailingData", ErrTrailingData},
}

// String returns the kind name.
func (k LoadErrorKind) String() string {
	if info, ok := loadErrorInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("LoadErrorKind(%d)", int(k))
}

// Sentinel returns the errors.Is target for the kind.
func (k LoadErrorKind) Sentinel() error {
	return loadErrorInfo[k].sentinel
}

// LoadError describes a rejected image. No Program is ever returned
// alongside a LoadError.
type LoadError struct {
	Kind      LoadErrorKind
	Offset    int // byte offset in the image where the problem was found
	CodeIndex int // index of the code object being read, -1 for the header
	Detail    string
}

func (e *LoadError) Error() string {
	var sb strings.Builder
	sb.WriteString("load ")
	sb.WriteString(e.Kind.String())
	if e.CodeIndex >= 0 {
		fmt.Fprintf(&sb, " in code object %d", e.CodeIndex)
	}
	fmt.Fprintf(&sb, " at offset %d", e.Offset)
	sb.WriteString(": ")
	sb.WriteString(e.Kind.Sentinel().Error())
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Unwrap lets errors.Is match the kind's sentinel.
func (e *LoadError) Unwrap() error {
	return e.Kind.Sentinel()
}

// ---------------------------------------------------------------------------
// Run-time traps
// ---------------------------------------------------------------------------

// TrapKind identifies the violated opcode precondition.
type TrapKind int

const (
	DivisionByZero TrapKind = iota + 1
	StackUnderflow
	StackOverflow
	TypeError
	InvalidOpcode
	InvalidConstantIndex
	InvalidLocalIndex
	InvalidGlobalIndex
	InvalidJumpTarget
	UndefinedVariable
	CallFrameError
	IntegerOverflow
	HeapError
)

var (
	ErrDivisionByZero       = errors.New("division by zero")
	ErrStackUnderflow       = errors.New("stack underflow")
	ErrStackOverflow        = errors.New("call depth exceeded")
	ErrTypeError            = errors.New("type error")
	ErrInvalidOpcode        = errors.New("invalid opcode")
	ErrInvalidConstantIndex = errors.New("constant index out of range")
	ErrInvalidLocalIndex    = errors.New("local index out of range")
	ErrInvalidGlobalIndex   = errors.New("name index out of range")
	ErrInvalidJumpTarget    = errors.New("jump target outside instruction stream")
	ErrUndefinedVariable    = errors.New("undefined variable")
	ErrCallFrameError       = errors.New("call frame error")
	ErrIntegerOverflow      = errors.New("integer overflow")
	ErrHeapError            = errors.New("heap error")
)

var trapInfo = map[TrapKind]struct {
	name     string
	sentinel error
}{
	DivisionByZero:       {"DivisionByZero", ErrDivisionByZero},
	StackUnderflow:       {"StackUnderflow", ErrStackUnderflow},
	StackOverflow:        {"StackOverflow", ErrStackOverflow},
	TypeError:            {"TypeError", ErrTypeError},
	InvalidOpcode:        {"InvalidOpcode", ErrInvalidOpcode},
	InvalidConstantIndex: {"InvalidConstantIndex", ErrInvalidConstantIndex},
	InvalidLocalIndex:    {"InvalidLocalIndex", ErrInvalidLocalIndex},
	InvalidGlobalIndex:   {"InvalidGlobalIndex", ErrInvalidGlobalIndex},
	InvalidJumpTarget:    {"InvalidJumpTarget", ErrInvalidJumpTarget},
	UndefinedVariable:    {"UndefinedVariable", ErrUndefinedVariable},
	CallFrameError:       {"CallFrameError", ErrCallFrameError},
	IntegerOverflow:      {"IntegerOverflow", ErrIntegerOverflow},
	HeapError:            {"HeapError", ErrHeapError},
}

// String returns the kind name.
func (k TrapKind) String() string {
	if info, ok := trapInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("TrapKind(%d)", int(k))
}

// Sentinel returns the errors.Is target for the kind.
func (k TrapKind) Sentinel() error {
	return trapInfo[k].sentinel
}

// TraceEntry is one frame of a trap's stack trace, innermost first.
type TraceEntry struct {
	CodeName string
	PC       int
}

// Trap is a terminal run-time error. It records where execution stopped:
// the opcode, the code object, the byte offset of the failing instruction
// and the call depth at that moment.
type Trap struct {
	Kind       TrapKind
	Opcode     bytecode.Opcode
	CodeName   string
	PC         int
	FrameDepth int
	Message    string
	Trace      []TraceEntry
}

func (t *Trap) Error() string {
	msg := t.Message
	if msg == "" {
		msg = t.Kind.Sentinel().Error()
	}
	return fmt.Sprintf("trap %s at %s+%04X (%s, depth %d): %s",
		t.Kind, t.CodeName, t.PC, t.Opcode, t.FrameDepth, msg)
}

// Unwrap lets errors.Is match the kind's sentinel.
func (t *Trap) Unwrap() error {
	return t.Kind.Sentinel()
}

// StackTrace renders the trace one frame per line.
func (t *Trap) StackTrace() string {
	var sb strings.Builder
	for i, e := range t.Trace {
		fmt.Fprintf(&sb, "  #%d %s+%04X\n", i, e.CodeName, e.PC)
	}
	return sb.String()
}

// AsTrap extracts a *Trap from err.
func AsTrap(err error) (*Trap, bool) {
	var t *Trap
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}

// AsLoadError extracts a *LoadError from err.
func AsLoadError(err error) (*LoadError, bool) {
	var le *LoadError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// fault is an opcode-level failure before it is placed in frame context.
type fault struct {
	kind TrapKind
	msg  string
}

func faultf(kind TrapKind, format string, args ...any) *fault {
	return &fault{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// ErrStepLimit is returned when a run exceeds Limits.MaxSteps. It is a host
// imposed stop, not a trap.
var ErrStepLimit = errors.New("step limit exceeded")

// Package dist encodes Vela programs and run outcomes for exchange between
// hosts. Everything on the wire is canonical CBOR, so equal reports encode
// to equal bytes and can be hashed or compared directly.
package dist

// RunStatus is how a run ended.
type RunStatus uint8

const (
	RunHalted  RunStatus = 1 // HALT, or RETURN from the first frame
	RunTrapped RunStatus = 2 // a trap ended the run
	RunStopped RunStatus = 3 // the host stopped the run (step limit, cancellation)
)

func (s RunStatus) String() string {
	switch s {
	case RunHalted:
		return "halted"
	case RunTrapped:
		return "trapped"
	case RunStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WireValue is a vm.Value in portable form. Only the field matching Kind is
// meaningful.
type WireValue struct {
	Kind  uint8   `cbor:"1,keyasint"`
	Bool  bool    `cbor:"2,keyasint,omitempty"`
	Int   int64   `cbor:"3,keyasint,omitempty"`
	Float float64 `cbor:"4,keyasint,omitempty"`
	Ptr   uint64  `cbor:"5,keyasint,omitempty"` // only meaningful to the heap that issued it
}

// TraceFrame is one frame of a trap's stack trace.
type TraceFrame struct {
	CodeName string `cbor:"1,keyasint"`
	PC       int    `cbor:"2,keyasint"`
}

// TrapReport describes the trap that ended a run.
type TrapReport struct {
	Kind       string       `cbor:"1,keyasint"`
	Opcode     uint8        `cbor:"2,keyasint"`
	OpcodeName string       `cbor:"3,keyasint"`
	CodeName   string       `cbor:"4,keyasint"`
	PC         int          `cbor:"5,keyasint"`
	FrameDepth int          `cbor:"6,keyasint"`
	Message    string       `cbor:"7,keyasint,omitempty"`
	Trace      []TraceFrame `cbor:"8,keyasint,omitempty"`
}

// RunReport summarizes one VM run.
type RunReport struct {
	RunID     [16]byte    `cbor:"1,keyasint"`
	ImageHash [32]byte    `cbor:"2,keyasint"`
	Start     string      `cbor:"3,keyasint"` // name of the code object the run began in
	Status    RunStatus   `cbor:"4,keyasint"`
	Steps     int64       `cbor:"5,keyasint"`
	Result    *WireValue  `cbor:"6,keyasint,omitempty"`
	Trap      *TrapReport `cbor:"7,keyasint,omitempty"`
	Error     string      `cbor:"8,keyasint,omitempty"`
}

// CodeSummary describes one code object without its instruction bytes.
type CodeSummary struct {
	Name         string   `cbor:"1,keyasint"`
	Args         []string `cbor:"2,keyasint,omitempty"`
	Locals       uint16   `cbor:"3,keyasint"`
	MaxStack     uint16   `cbor:"4,keyasint"`
	CodeLen      int      `cbor:"5,keyasint"`
	Instructions int      `cbor:"6,keyasint"`
	Constants    int      `cbor:"7,keyasint"`
	Names        []string `cbor:"8,keyasint,omitempty"`
}

// ProgramManifest describes an image: its hash, header and code objects.
type ProgramManifest struct {
	ImageHash   [32]byte         `cbor:"1,keyasint"`
	Version     uint32           `cbor:"2,keyasint"`
	Timestamp   int64            `cbor:"3,keyasint"`
	Entry       int              `cbor:"4,keyasint"`
	CodeObjects []CodeSummary    `cbor:"5,keyasint"`
	Globals     *GlobalsManifest `cbor:"6,keyasint,omitempty"`
}

// GlobalsManifest lists the global names a program's code refers to.
type GlobalsManifest struct {
	Reads  []string `cbor:"1,keyasint,omitempty"`
	Writes []string `cbor:"2,keyasint,omitempty"`
}

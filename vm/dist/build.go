package dist

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/vela/pkg/bytecode"
	"github.com/chazu/vela/vm"
)

// HashImage returns the content hash used to identify an image.
func HashImage(image []byte) [32]byte {
	return sha256.Sum256(image)
}

// ToWire converts a value to its portable form.
func ToWire(v vm.Value) WireValue {
	w := WireValue{Kind: uint8(v.Kind())}
	switch v.Kind() {
	case vm.KindNull:
	case vm.KindBool:
		w.Bool, _ = v.AsBool()
	case vm.KindInt:
		w.Int, _ = v.AsInt()
	case vm.KindFloat:
		w.Float, _ = v.AsFloat()
	case vm.KindPtr:
		h, _ := v.AsHandle()
		w.Ptr = uint64(h)
	}
	return w
}

// FromWire converts a portable value back into a vm.Value.
func FromWire(w WireValue) (vm.Value, error) {
	switch vm.Kind(w.Kind) {
	case vm.KindNull:
		return vm.Null, nil
	case vm.KindBool:
		return vm.FromBool(w.Bool), nil
	case vm.KindInt:
		return vm.FromInt(w.Int), nil
	case vm.KindFloat:
		return vm.FromFloat(w.Float), nil
	case vm.KindPtr:
		return vm.FromHandle(vm.Handle(w.Ptr)), nil
	}
	return vm.Null, fmt.Errorf("dist: unknown value kind %d", w.Kind)
}

// NewTrapReport converts a trap.
func NewTrapReport(t *vm.Trap) *TrapReport {
	r := &TrapReport{
		Kind:       t.Kind.String(),
		Opcode:     uint8(t.Opcode),
		OpcodeName: t.Opcode.String(),
		CodeName:   t.CodeName,
		PC:         t.PC,
		FrameDepth: t.FrameDepth,
		Message:    t.Message,
	}
	for _, e := range t.Trace {
		r.Trace = append(r.Trace, TraceFrame{CodeName: e.CodeName, PC: e.PC})
	}
	return r
}

// NewRunReport summarizes the last run of v. err is the error that run
// returned, if any.
func NewRunReport(v *vm.VM, imageHash [32]byte, err error) *RunReport {
	r := &RunReport{
		RunID:     v.RunID(),
		ImageHash: imageHash,
		Steps:     v.Steps(),
	}
	if p := v.Program(); p != nil {
		if c, ok := p.CodeObject(v.StartIndex()); ok {
			r.Start = c.Name()
		}
	}

	var trap *vm.Trap
	switch {
	case err == nil:
		r.Status = RunHalted
		res := ToWire(v.Result())
		r.Result = &res
	case errors.As(err, &trap):
		r.Status = RunTrapped
		r.Trap = NewTrapReport(trap)
		r.Error = err.Error()
	default:
		r.Status = RunStopped
		r.Error = err.Error()
	}
	return r
}

// ScanGlobals lists the global names read and written by p's code. Names
// are reported sorted and without duplicates.
func ScanGlobals(p *vm.Program) (*GlobalsManifest, error) {
	reads := make(map[string]bool)
	writes := make(map[string]bool)
	for _, c := range p.CodeObjects() {
		ins, err := bytecode.DecodeAll(c.Instructions())
		if err != nil {
			return nil, fmt.Errorf("dist: %s: %w", c.Name(), err)
		}
		for _, in := range ins {
			var set map[string]bool
			switch in.Op {
			case bytecode.OpLoadGlobal:
				set = reads
			case bytecode.OpStoreGlobal:
				set = writes
			default:
				continue
			}
			name, ok := c.NameAt(in.Operand)
			if !ok {
				return nil, fmt.Errorf("dist: %s+%04X: name index %d out of range", c.Name(), in.Offset, in.Operand)
			}
			set[name] = true
		}
	}
	return &GlobalsManifest{Reads: sortedKeys(reads), Writes: sortedKeys(writes)}, nil
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// BuildManifest describes the program loaded from image. Code that does not
// decode cleanly still gets a summary; its instruction count covers the
// decodable prefix and Globals is left nil.
func BuildManifest(p *vm.Program, image []byte) *ProgramManifest {
	m := &ProgramManifest{
		ImageHash: HashImage(image),
		Version:   p.Header.Version,
		Timestamp: p.Header.Timestamp,
		Entry:     p.EntryIndex(),
	}
	for _, c := range p.CodeObjects() {
		def := c.Def()
		ins, _ := bytecode.DecodeAll(def.Instructions)
		m.CodeObjects = append(m.CodeObjects, CodeSummary{
			Name:         def.Name,
			Args:         def.ArgNames,
			Locals:       def.LocalCount,
			MaxStack:     def.MaxStackSize,
			CodeLen:      len(def.Instructions),
			Instructions: len(ins),
			Constants:    len(def.Constants),
			Names:        def.Names,
		})
	}
	if g, err := ScanGlobals(p); err == nil {
		m.Globals = g
	}
	return m
}

// VerifyManifest loads image and checks that it is the program m describes.
func VerifyManifest(m *ProgramManifest, image []byte) error {
	if got := HashImage(image); got != m.ImageHash {
		return fmt.Errorf("dist: hash mismatch: declared %x, computed %x", m.ImageHash, got)
	}
	p, err := vm.Load(image)
	if err != nil {
		return fmt.Errorf("dist: image does not load: %w", err)
	}
	if p.Len() != len(m.CodeObjects) {
		return fmt.Errorf("dist: manifest lists %d code objects, image has %d", len(m.CodeObjects), p.Len())
	}
	for i, c := range p.CodeObjects() {
		if c.Name() != m.CodeObjects[i].Name {
			return fmt.Errorf("dist: code object %d is %q, manifest says %q", i, c.Name(), m.CodeObjects[i].Name)
		}
	}
	if p.EntryIndex() != m.Entry {
		return fmt.Errorf("dist: entry is %d, manifest says %d", p.EntryIndex(), m.Entry)
	}
	return nil
}

package vm

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/vela/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// VM: one execution of a Program
// ---------------------------------------------------------------------------

// State is the interpreter's run state.
type State int

const (
	Running State = iota
	Returning
	Trapped
	Halted
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Returning:
		return "Returning"
	case Trapped:
		return "Trapped"
	case Halted:
		return "Halted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrNoProgram is returned when a VM has nothing to run.
var ErrNoProgram = errors.New("vm has no program")

// ctxCheckInterval is how many instructions run between context checks.
const ctxCheckInterval = 1024

// VM executes a Program. A VM is single-threaded; run independent programs
// on independent VMs. The Program itself may be shared between VMs.
type VM struct {
	program  *Program
	limits   Limits
	heap     Heap
	globals  map[string]Value
	profiler *Profiler

	frames []*Frame
	origin int // code object index the current run began in
	state  State
	result Value
	trap   *Trap
	steps  int64
	runID  uuid.UUID

	log commonlog.Logger

	// Trace logs every instruction at Debug level.
	Trace bool
}

// Option configures a VM.
type Option func(*VM)

// WithLimits sets the resource limits.
func WithLimits(l Limits) Option {
	return func(v *VM) { v.limits = l }
}

// WithHeap sets the heap used by NEW_OBJECT, LOAD_FIELD and STORE_FIELD.
func WithHeap(h Heap) Option {
	return func(v *VM) { v.heap = h }
}

// WithProfiler records invocations and opcodes in p.
func WithProfiler(p *Profiler) Option {
	return func(v *VM) { v.profiler = p }
}

// WithLogger sets the logger for run events and traces.
func WithLogger(l commonlog.Logger) Option {
	return func(v *VM) { v.log = l }
}

// WithGlobals seeds the global table. The map is copied.
func WithGlobals(g map[string]Value) Option {
	return func(v *VM) { maps.Copy(v.globals, g) }
}

// New creates a VM for program.
func New(program *Program, opts ...Option) *VM {
	v := &VM{
		program: program,
		limits:  DefaultLimits(),
		globals: make(map[string]Value),
		log:     logger,
		state:   Halted,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.heap == nil {
		v.heap = NewArena(0)
	}
	return v
}

// Program returns the program being executed.
func (v *VM) Program() *Program { return v.program }

// State returns the current run state.
func (v *VM) State() State { return v.state }

// Result returns the value the last run halted with.
func (v *VM) Result() Value { return v.result }

// Trap returns the trap that ended the last run, or nil.
func (v *VM) Trap() *Trap { return v.trap }

// Steps returns the number of instructions executed by the last run.
func (v *VM) Steps() int64 { return v.steps }

// StartIndex returns the code object index the last run began in.
func (v *VM) StartIndex() int { return v.origin }

// RunID identifies the current or last run.
func (v *VM) RunID() uuid.UUID { return v.runID }

// Profiler returns the attached profiler, or nil.
func (v *VM) Profiler() *Profiler { return v.profiler }

// Heap returns the heap in use.
func (v *VM) Heap() Heap { return v.heap }

// Frames returns the live frames, outermost first.
func (v *VM) Frames() []*Frame { return append([]*Frame(nil), v.frames...) }

// Globals returns a copy of the global table.
func (v *VM) Globals() map[string]Value { return maps.Clone(v.globals) }

// Global returns one global.
func (v *VM) Global(name string) (Value, bool) {
	val, ok := v.globals[name]
	return val, ok
}

// SetGlobal sets one global.
func (v *VM) SetGlobal(name string, val Value) {
	v.globals[name] = val
}

// ---------------------------------------------------------------------------
// Running
// ---------------------------------------------------------------------------

// Run executes the program's entry code object until it halts or traps.
// A trap is returned as a *Trap error.
func (v *VM) Run() (Value, error) {
	return v.RunContext(context.Background())
}

// RunContext is Run with cancellation. Cancellation is observed between
// instructions and is reported as a plain error wrapping ctx.Err().
func (v *VM) RunContext(ctx context.Context) (Value, error) {
	if v.program == nil {
		return Null, ErrNoProgram
	}
	return v.start(ctx, v.program.EntryIndex(), nil, false)
}

// Call executes the code object at index with args bound to its first
// locals, as if it were the entry point.
func (v *VM) Call(index int, args ...Value) (Value, error) {
	return v.CallContext(context.Background(), index, args...)
}

// CallContext is Call with cancellation.
func (v *VM) CallContext(ctx context.Context, index int, args ...Value) (Value, error) {
	if v.program == nil {
		return Null, ErrNoProgram
	}
	return v.start(ctx, index, args, true)
}

func (v *VM) reset() {
	v.frames = v.frames[:0]
	v.state = Running
	v.result = Null
	v.trap = nil
	v.steps = 0
	v.runID = uuid.New()
}

// start pushes the first frame and runs. Entry runs skip the arity check;
// entry locals start out Null.
func (v *VM) start(ctx context.Context, index int, args []Value, checked bool) (Value, error) {
	v.reset()
	v.origin = index

	code, ok := v.program.CodeObject(index)
	if !ok {
		return Null, v.hostTrap("", faultf(CallFrameError, "no code object %d (program has %d)", index, v.program.Len()))
	}
	if checked {
		if f := checkArity(code, len(args)); f != nil {
			return Null, v.hostTrap(code.name, f)
		}
	}
	frame := newFrame(code, v.limits.stackBound(code))
	copy(frame.locals, args)
	v.frames = append(v.frames, frame)
	if v.profiler != nil {
		v.profiler.RecordInvocation(code)
	}

	v.log.Debugf("run %s: start %s (%d code objects)", v.runID, code.name, v.program.Len())
	return v.loop(ctx)
}

// hostTrap records a trap raised before any instruction ran.
func (v *VM) hostTrap(codeName string, f *fault) *Trap {
	t := &Trap{
		Kind:     f.kind,
		Opcode:   bytecode.OpCall,
		CodeName: codeName,
		Message:  f.msg,
	}
	v.state = Trapped
	v.trap = t
	v.log.Warningf("run %s: %v", v.runID, t)
	return t
}

func (v *VM) loop(ctx context.Context) (Value, error) {
	done := ctx.Done()
	for v.state == Running {
		if done != nil && v.steps%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				v.log.Infof("run %s: stopped after %d steps: %v", v.runID, v.steps, err)
				return Null, fmt.Errorf("run %s interrupted: %w", v.runID, err)
			}
		}
		if v.limits.MaxSteps > 0 && v.steps >= v.limits.MaxSteps {
			v.log.Infof("run %s: step limit %d reached", v.runID, v.limits.MaxSteps)
			return Null, fmt.Errorf("%w: %d instructions", ErrStepLimit, v.limits.MaxSteps)
		}
		v.steps++
		v.step()
	}

	if v.state == Trapped {
		return Null, v.trap
	}
	v.log.Debugf("run %s: halted with %s after %d steps", v.runID, v.result, v.steps)
	return v.result, nil
}

// checkArity validates a call of code with argc arguments.
func checkArity(code *CodeObject, argc int) *fault {
	if argc != code.Arity() {
		return faultf(CallFrameError, "%s takes %d arguments, got %d", code.name, code.Arity(), argc)
	}
	if argc > code.LocalCount() {
		return faultf(CallFrameError, "%s has %d locals for %d arguments", code.name, code.LocalCount(), argc)
	}
	return nil
}

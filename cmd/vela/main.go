// Vela CLI - runs and inspects compiled .velac images
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/vela/manifest"
	"github.com/chazu/vela/modules"
	"github.com/chazu/vela/vm"
	"github.com/chazu/vela/vm/dist"
)

// Exit codes.
const (
	exitOK      = 0
	exitTrapped = 1
	exitError   = 2
	exitStopped = 3
)

type options struct {
	verbose     int
	disassemble bool
	entry       string
	dir         string
	module      string
	fromStore   string
	store       bool
	storeDB     string
	reportPath  string
	describe    string
	allow       string
	deny        string
	maxSteps    int64
	maxDepth    int
	trace       bool
	profile     bool
	globals     globalFlags
}

// globalFlags collects repeated -g name=value flags.
type globalFlags map[string]vm.Value

func (g globalFlags) String() string { return fmt.Sprint(map[string]vm.Value(g)) }

func (g globalFlags) Set(s string) error {
	name, text, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	v, err := parseValue(text)
	if err != nil {
		return err
	}
	g[name] = v
	return nil
}

type verbosityFlag struct{ n *int }

func (v verbosityFlag) String() string   { return "" }
func (v verbosityFlag) IsBoolFlag() bool { return true }
func (v verbosityFlag) Set(string) error { *v.n++; return nil }

func main() {
	opts := options{globals: make(globalFlags)}
	flag.Var(verbosityFlag{&opts.verbose}, "v", "Verbose output (repeat for more)")
	flag.BoolVar(&opts.disassemble, "d", false, "Disassemble the image instead of running it")
	flag.StringVar(&opts.entry, "m", "", "Code object to run (default: main, or the first)")
	flag.StringVar(&opts.dir, "C", ".", "Directory to search for vela.toml from")
	flag.StringVar(&opts.module, "module", "", "Run a module resolved through the search paths")
	flag.StringVar(&opts.fromStore, "from-store", "", "Run the stored image with this hash")
	flag.BoolVar(&opts.store, "store", false, "Save the image in the image store")
	flag.StringVar(&opts.storeDB, "store-db", "", "Image store database (overrides [store] path)")
	flag.StringVar(&opts.reportPath, "report", "", "Write a CBOR run report to this file")
	flag.StringVar(&opts.describe, "describe", "", "Write a CBOR program manifest to this file")
	flag.StringVar(&opts.allow, "allow", "", "Comma-separated globals the program may use")
	flag.StringVar(&opts.deny, "deny", "", "Comma-separated globals the program may not use")
	flag.Int64Var(&opts.maxSteps, "max-steps", 0, "Instruction budget (overrides [limits])")
	flag.IntVar(&opts.maxDepth, "max-depth", 0, "Call depth limit (overrides [limits])")
	flag.BoolVar(&opts.trace, "trace", false, "Log every executed instruction")
	flag.BoolVar(&opts.profile, "profile", false, "Print invocation and opcode counts after the run")
	flag.Var(opts.globals, "g", "Seed a global: name=value (repeatable)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vela [options] [image.velac] [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Loads a compiled Vela image and runs its entry code object.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  vela prog.velac                 # Run main\n")
		fmt.Fprintf(os.Stderr, "  vela -d prog.velac              # Disassemble\n")
		fmt.Fprintf(os.Stderr, "  vela -m add prog.velac 2 3      # Call add(2, 3)\n")
		fmt.Fprintf(os.Stderr, "  vela -module library:json       # Run a module from the search paths\n")
		fmt.Fprintf(os.Stderr, "  vela -report out.cbor prog.velac\n")
	}
	flag.Parse()

	os.Exit(run(opts, flag.Args()))
}

func run(opts options, args []string) int {
	m, err := manifest.FindAndLoad(opts.dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	if m == nil {
		m = &manifest.Manifest{Dir: opts.dir}
		m.Run.SearchPaths = modules.DefaultRoots
	}

	commonlog.Configure(m.Log.Verbosity+opts.verbose, m.LogFile())
	log := commonlog.GetLogger("vela.cli")

	image, source, args, err := loadImage(opts, m, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	p, err := vm.Load(image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", source, err)
		return exitError
	}
	log.Infof("loaded %s: %d code objects", source, p.Len())

	if opts.disassemble {
		fmt.Print(p.Disassemble())
		return exitOK
	}

	desc := dist.BuildManifest(p, image)
	if opts.describe != "" {
		if err := writeCBOR(opts.describe, func() ([]byte, error) { return dist.MarshalManifest(desc) }); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
	}
	policy := globalsPolicy(opts)
	globals, scanErr := dist.ScanGlobals(p)
	if scanErr != nil && policy.Restrictive() {
		fmt.Fprintf(os.Stderr, "Refusing to run %s: cannot check globals: %v\n", source, scanErr)
		return exitError
	}
	if err := policy.Check(globals); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to run %s: %v\n", source, err)
		return exitError
	}

	if opts.store {
		if err := storeImage(opts, m, source, image); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
	}

	limits := m.VMLimits()
	if opts.maxSteps > 0 {
		limits.MaxSteps = opts.maxSteps
	}
	if opts.maxDepth > 0 {
		limits.MaxCallDepth = opts.maxDepth
	}
	vmOpts := []vm.Option{vm.WithLimits(limits), vm.WithGlobals(opts.globals)}
	var profiler *vm.Profiler
	if opts.profile {
		profiler = vm.NewProfiler()
		vmOpts = append(vmOpts, vm.WithProfiler(profiler))
	}
	machine := vm.New(p, vmOpts...)
	machine.Trace = opts.trace

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, runErr := execute(ctx, machine, opts.entry, m.Run.Entry, args)
	if profiler != nil {
		printProfile(os.Stderr, profiler)
	}

	if opts.reportPath != "" {
		report := dist.NewRunReport(machine, desc.ImageHash, runErr)
		if err := writeCBOR(opts.reportPath, func() ([]byte, error) { return dist.MarshalRunReport(report) }); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
	}

	var trap *vm.Trap
	switch {
	case runErr == nil:
		fmt.Println(result)
		return exitOK
	case errors.As(runErr, &trap):
		fmt.Fprintf(os.Stderr, "%v\n", trap)
		for _, e := range trap.Trace {
			fmt.Fprintf(os.Stderr, "  at %s+%04X\n", e.CodeName, e.PC)
		}
		return exitTrapped
	case errors.Is(runErr, vm.ErrStepLimit), errors.Is(runErr, context.Canceled):
		fmt.Fprintf(os.Stderr, "Stopped: %v\n", runErr)
		return exitStopped
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return exitError
	}
}

// execute runs the chosen entry. A named entry is called with args; the
// image's own entry runs with none.
func execute(ctx context.Context, machine *vm.VM, flagEntry, configEntry string, args []string) (vm.Value, error) {
	name := flagEntry
	if name == "" {
		name = configEntry
	}
	if name == "" {
		if len(args) > 0 {
			return vm.Null, fmt.Errorf("arguments given but no entry selected with -m")
		}
		return machine.RunContext(ctx)
	}

	_, index, ok := machine.Program().Lookup(name)
	if !ok {
		return vm.Null, fmt.Errorf("no code object named %q", name)
	}
	values := make([]vm.Value, len(args))
	for i, a := range args {
		v, err := parseValue(a)
		if err != nil {
			return vm.Null, fmt.Errorf("argument %d: %w", i+1, err)
		}
		values[i] = v
	}
	return machine.CallContext(ctx, index, values...)
}

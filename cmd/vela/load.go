package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chazu/vela/imagestore"
	"github.com/chazu/vela/manifest"
	"github.com/chazu/vela/modules"
	"github.com/chazu/vela/pkg/bytecode"
	"github.com/chazu/vela/vm"
	"github.com/chazu/vela/vm/dist"
)

// loadImage finds the image bytes to run. It returns a description of
// where they came from and the positional arguments left over.
func loadImage(opts options, m *manifest.Manifest, args []string) ([]byte, string, []string, error) {
	switch {
	case opts.fromStore != "":
		s, err := openStore(opts, m)
		if err != nil {
			return nil, "", nil, err
		}
		defer s.Close()
		data, err := s.Get(context.Background(), opts.fromStore)
		return data, "store:" + opts.fromStore, args, err

	case opts.module != "":
		loader := modules.NewLoader(modules.NewResolver(m.Dir, m.SearchPathDirs()))
		mod, err := loader.LoadModule(opts.module)
		if err != nil {
			return nil, "", nil, err
		}
		data, err := os.ReadFile(mod.Path)
		return data, mod.Path, args, err

	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		return data, args[0], args[1:], err

	case m.ImagePath() != "":
		data, err := os.ReadFile(m.ImagePath())
		return data, m.ImagePath(), args, err
	}
	return nil, "", nil, fmt.Errorf("no image given and no [run] image in %s", manifest.FileName)
}

func openStore(opts options, m *manifest.Manifest) (*imagestore.Store, error) {
	path := opts.storeDB
	if path == "" {
		path = m.StorePath()
	}
	if path == "" {
		return nil, fmt.Errorf("no image store configured: use -store-db or [store] path")
	}
	return imagestore.Open(path)
}

func storeImage(opts options, m *manifest.Manifest, source string, image []byte) error {
	s, err := openStore(opts, m)
	if err != nil {
		return err
	}
	defer s.Close()
	hash, err := s.Put(context.Background(), source, image)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "stored %s\n", hash)
	return nil
}

func globalsPolicy(opts options) *dist.GlobalsPolicy {
	p := dist.NewPermissivePolicy()
	if opts.allow != "" {
		p = dist.NewRestrictedPolicy(splitList(opts.allow))
	}
	for _, g := range splitList(opts.deny) {
		p.Deny(g)
	}
	return p
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseValue reads a command-line value: null, true, false, an integer or
// a float.
func parseValue(s string) (vm.Value, error) {
	switch s {
	case "null":
		return vm.Null, nil
	case "true":
		return vm.True, nil
	case "false":
		return vm.False, nil
	}
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return vm.FromInt(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return vm.FromFloat(f), nil
	}
	return vm.Null, fmt.Errorf("cannot parse %q as a value", s)
}

func writeCBOR(path string, encode func() ([]byte, error)) error {
	data, err := encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func printProfile(w io.Writer, p *vm.Profiler) {
	stats := p.Stats()
	fmt.Fprintf(w, "profile: %d instructions, %d invocations across %d code objects\n",
		stats.Instructions, stats.Invocations, stats.CodeObjects)
	for _, c := range p.Top(10) {
		hot := ""
		if c.IsHot() {
			hot = " (hot)"
		}
		fmt.Fprintf(w, "  %-24s %10d%s\n", c.Code.Name(), c.InvocationCount, hot)
	}
	for op := range 256 {
		o := bytecode.Opcode(op)
		if n := p.OpcodeCount(o); n > 0 {
			fmt.Fprintf(w, "  %-24s %10d\n", o, n)
		}
	}
}

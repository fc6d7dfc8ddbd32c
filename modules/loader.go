package modules

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/chazu/vela/vm"
)

// Module is a loaded image.
type Module struct {
	Name    string
	Path    string
	Program *vm.Program

	// Exports maps each name in the entry code object's name table to its
	// index in that table.
	Exports map[string]int
}

// Export reports whether the module exports name.
func (m *Module) Export(name string) (int, bool) {
	i, ok := m.Exports[name]
	return i, ok
}

// Loader loads modules through a Resolver and caches them by name.
// It is safe for concurrent use.
type Loader struct {
	resolver *Resolver

	mu    sync.Mutex
	cache map[string]*Module
}

// NewLoader creates a loader backed by resolver.
func NewLoader(resolver *Resolver) *Loader {
	return &Loader{
		resolver: resolver,
		cache:    make(map[string]*Module),
	}
}

// Resolver returns the loader's resolver.
func (l *Loader) Resolver() *Resolver { return l.resolver }

// LoadModule returns the named module, loading it on first use.
func (l *Loader) LoadModule(name string) (*Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m, ok := l.cache[name]; ok {
		return m, nil
	}

	p, err := l.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}
	prog, err := vm.LoadFile(p)
	if err != nil {
		return nil, fmt.Errorf("loading module %s: %w", name, err)
	}

	m := &Module{
		Name:    name,
		Path:    p,
		Program: prog,
		Exports: exports(prog),
	}
	l.cache[name] = m
	log.Infof("loaded module %s from %s (%d code objects, %d exports)", name, p, prog.Len(), len(m.Exports))
	return m, nil
}

// IsLoaded reports whether name is in the cache.
func (l *Loader) IsLoaded(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cache[name]
	return ok
}

// Module returns a cached module without loading it.
func (l *Loader) Module(name string) (*Module, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.cache[name]
	return m, ok
}

// Loaded returns the cached modules sorted by name.
func (l *Loader) Loaded() []*Module {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := slices.Sorted(maps.Keys(l.cache))
	out := make([]*Module, 0, len(names))
	for _, n := range names {
		out = append(out, l.cache[n])
	}
	return out
}

// ClearCache drops every cached module and resolution.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.cache)
	l.resolver.Forget()
}

// AddSearchPath forwards to the resolver.
func (l *Loader) AddSearchPath(prefix, dir string) error {
	return l.resolver.AddSearchPath(prefix, dir)
}

func exports(p *vm.Program) map[string]int {
	entry := p.Entry()
	out := make(map[string]int, entry.NameCount())
	for i := range entry.NameCount() {
		name, _ := entry.NameAt(i)
		if _, dup := out[name]; !dup {
			out[name] = i
		}
	}
	return out
}

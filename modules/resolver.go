// Package modules resolves module names to compiled .velac images and
// caches the programs loaded from them.
//
// A module name is either bare ("math/vector") or prefixed with a module
// kind ("library:json"). Bare names are searched for under the project's
// search roots; prefixed names under the roots registered for that prefix.
// Within a root, name resolves to the first existing file of
//
//	name.velac
//	name/mod.velac
//	name/index.velac
package modules

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("vela.modules")

// Extension is the file extension of compiled images.
const Extension = ".velac"

// Known module prefixes.
const (
	PrefixModule    = "module"
	PrefixLibrary   = "library"
	PrefixPackage   = "package"
	PrefixSystem    = "system"
	PrefixExtension = "extension"
)

var (
	ErrModuleNotFound = errors.New("module not found")
	ErrUnknownPrefix  = errors.New("unknown module prefix")
	ErrInvalidName    = errors.New("invalid module name")
)

// DefaultRoots are the search roots for bare names, relative to the project.
var DefaultRoots = []string{"src", "modules", "lib"}

// defaultPrefixRoots are the search roots per prefix, relative to the project.
var defaultPrefixRoots = map[string][]string{
	PrefixModule:    {"src", "modules"},
	PrefixLibrary:   {"lib", "libraries"},
	PrefixPackage:   {"packages", "vendor"},
	PrefixSystem:    {"runtime", "stdlib"},
	PrefixExtension: {"extensions", "packages"},
}

// Resolver maps module names to image paths.
type Resolver struct {
	mu       sync.Mutex
	root     string
	roots    []string
	prefixes map[string][]string
	cache    map[string]string
}

// NewResolver creates a resolver for the project at root. roots are the
// search roots for bare names; relative entries are taken from root. A nil
// roots uses DefaultRoots.
func NewResolver(root string, roots []string) *Resolver {
	if roots == nil {
		roots = DefaultRoots
	}
	r := &Resolver{
		root:     root,
		prefixes: make(map[string][]string, len(defaultPrefixRoots)),
		cache:    make(map[string]string),
	}
	for _, d := range roots {
		r.roots = append(r.roots, r.abs(d))
	}
	for prefix, dirs := range defaultPrefixRoots {
		for _, d := range dirs {
			r.prefixes[prefix] = append(r.prefixes[prefix], r.abs(d))
		}
	}
	return r
}

func (r *Resolver) abs(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(r.root, dir)
}

// AddSearchPath appends dir to the roots searched for prefix. An empty
// prefix adds a root for bare names. New roots take effect for names not
// already resolved.
func (r *Resolver) AddSearchPath(prefix, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prefix == "" {
		r.roots = append(r.roots, r.abs(dir))
		return nil
	}
	if _, ok := r.prefixes[prefix]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownPrefix, prefix)
	}
	r.prefixes[prefix] = append(r.prefixes[prefix], r.abs(dir))
	return nil
}

// SearchPaths returns the roots searched for prefix ("" for bare names).
func (r *Resolver) SearchPaths(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prefix == "" {
		return append([]string(nil), r.roots...)
	}
	return append([]string(nil), r.prefixes[prefix]...)
}

// Resolve returns the image path for name.
func (r *Resolver) Resolve(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[name]; ok {
		return p, nil
	}

	prefix, rel, err := splitName(name)
	if err != nil {
		return "", err
	}

	dirs := r.roots
	if prefix != "" {
		var ok bool
		if dirs, ok = r.prefixes[prefix]; !ok {
			return "", fmt.Errorf("%s: %w %q", name, ErrUnknownPrefix, prefix)
		}
	}

	for _, dir := range dirs {
		for _, candidate := range candidates(rel) {
			p := filepath.Join(dir, filepath.FromSlash(candidate))
			info, err := os.Stat(p)
			if err != nil || info.IsDir() {
				continue
			}
			log.Debugf("resolved %s to %s", name, p)
			r.cache[name] = p
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w (searched %s)", name, ErrModuleNotFound, strings.Join(dirs, ", "))
}

// Forget drops cached resolutions.
func (r *Resolver) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
}

func candidates(rel string) []string {
	if strings.HasSuffix(rel, Extension) {
		return []string{rel}
	}
	return []string{
		rel + Extension,
		rel + "/mod" + Extension,
		rel + "/index" + Extension,
	}
}

// splitName separates an optional prefix from a slash-separated relative
// module path. Paths that would escape their search root are rejected.
func splitName(name string) (prefix, rel string, err error) {
	rel = name
	if i := strings.IndexByte(name, ':'); i >= 0 {
		prefix, rel = name[:i], name[i+1:]
		if prefix == "" {
			return "", "", fmt.Errorf("%w %q: empty prefix", ErrInvalidName, name)
		}
	}
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, "\\") {
		return "", "", fmt.Errorf("%w %q", ErrInvalidName, name)
	}
	clean := path.Clean(rel)
	if clean != rel || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", "", fmt.Errorf("%w %q", ErrInvalidName, name)
	}
	return prefix, rel, nil
}

package vm

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/chazu/vela/pkg/bytecode"
)

// Profiler counts code object invocations and executed opcodes. One
// Profiler may be shared by several VMs running concurrently.

// CodeProfile holds profiling data for a single code object.
type CodeProfile struct {
	InvocationCount uint64 // atomic
	Code            *CodeObject
	hot             atomic.Bool
}

// IsHot reports whether the invocation count has reached the threshold.
func (c *CodeProfile) IsHot() bool { return c.hot.Load() }

// Profiler manages profiling for all code objects run under it.
type Profiler struct {
	codeProfiles sync.Map // *CodeObject -> *CodeProfile
	opcodes      [256]atomic.Uint64

	// HotThreshold is the invocation count at which a code object turns hot.
	HotThreshold uint64 // Default: 100

	// OnHot is called once per code object, when it turns hot.
	OnHot func(profile *CodeProfile)

	hotCount atomic.Uint64
}

// NewProfiler creates a new profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 100}
}

// RecordInvocation increments the invocation count for code.
// Returns true if this invocation made it hot.
func (p *Profiler) RecordInvocation(code *CodeObject) bool {
	if code == nil {
		return false
	}

	val, _ := p.codeProfiles.LoadOrStore(code, &CodeProfile{Code: code})
	profile := val.(*CodeProfile)

	count := atomic.AddUint64(&profile.InvocationCount, 1)
	if count >= p.HotThreshold && profile.hot.CompareAndSwap(false, true) {
		p.hotCount.Add(1)
		if p.OnHot != nil {
			p.OnHot(profile)
		}
		return true
	}
	return false
}

// RecordOpcode counts one execution of op.
func (p *Profiler) RecordOpcode(op bytecode.Opcode) {
	p.opcodes[op].Add(1)
}

// Profile returns the profile for code, or nil if it never ran.
func (p *Profiler) Profile(code *CodeObject) *CodeProfile {
	if val, ok := p.codeProfiles.Load(code); ok {
		return val.(*CodeProfile)
	}
	return nil
}

// IsHot returns true if code has reached the hot threshold.
func (p *Profiler) IsHot(code *CodeObject) bool {
	profile := p.Profile(code)
	return profile != nil && profile.IsHot()
}

// OpcodeCount returns how many times op has executed.
func (p *Profiler) OpcodeCount(op bytecode.Opcode) uint64 {
	return p.opcodes[op].Load()
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	CodeObjects  int    // Number of code objects profiled
	HotCode      int    // Number of hot code objects
	Invocations  uint64 // Total invocations
	Instructions uint64 // Total executed instructions
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.codeProfiles.Range(func(_, value any) bool {
		profile := value.(*CodeProfile)
		stats.CodeObjects++
		stats.Invocations += atomic.LoadUint64(&profile.InvocationCount)
		if profile.IsHot() {
			stats.HotCode++
		}
		return true
	})
	for i := range p.opcodes {
		stats.Instructions += p.opcodes[i].Load()
	}
	return stats
}

// Top returns up to n profiles with the most invocations, busiest first.
// Ties are broken by name.
func (p *Profiler) Top(n int) []*CodeProfile {
	var all []*CodeProfile
	p.codeProfiles.Range(func(_, value any) bool {
		all = append(all, value.(*CodeProfile))
		return true
	})
	slices.SortFunc(all, func(a, b *CodeProfile) int {
		ca, cb := atomic.LoadUint64(&a.InvocationCount), atomic.LoadUint64(&b.InvocationCount)
		switch {
		case ca > cb:
			return -1
		case ca < cb:
			return 1
		}
		if a.Code.name < b.Code.name {
			return -1
		}
		if a.Code.name > b.Code.name {
			return 1
		}
		return 0
	})
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.codeProfiles.Range(func(key, _ any) bool {
		p.codeProfiles.Delete(key)
		return true
	})
	for i := range p.opcodes {
		p.opcodes[i].Store(0)
	}
	p.hotCount.Store(0)
}

// HotCount returns the number of code objects that have turned hot.
func (p *Profiler) HotCount() uint64 {
	return p.hotCount.Load()
}

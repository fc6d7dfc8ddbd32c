package dist

import "fmt"

// GlobalsPolicy controls which globals a program may touch before a host
// agrees to run it. A nil Allowed means "allow all".
type GlobalsPolicy struct {
	Allowed map[string]bool // nil = allow all
	Denied  map[string]bool
}

// NewPermissivePolicy creates a policy that allows all globals.
func NewPermissivePolicy() *GlobalsPolicy {
	return &GlobalsPolicy{}
}

// NewRestrictedPolicy creates a policy that only allows the given globals.
func NewRestrictedPolicy(allowed []string) *GlobalsPolicy {
	m := make(map[string]bool, len(allowed))
	for _, g := range allowed {
		m[g] = true
	}
	return &GlobalsPolicy{Allowed: m}
}

// Restrictive reports whether the policy limits any global.
func (p *GlobalsPolicy) Restrictive() bool {
	return p.Allowed != nil || len(p.Denied) > 0
}

// Check verifies that every global in the manifest is permitted. A nil
// manifest means the globals are unknown; only a permissive policy
// accepts it.
func (p *GlobalsPolicy) Check(m *GlobalsManifest) error {
	if m == nil {
		if p.Restrictive() {
			return fmt.Errorf("dist: globals used by the program are unknown")
		}
		return nil
	}
	for _, names := range [][]string{m.Reads, m.Writes} {
		for _, g := range names {
			if p.Denied[g] {
				return fmt.Errorf("dist: global %q is explicitly denied", g)
			}
			if p.Allowed != nil && !p.Allowed[g] {
				return fmt.Errorf("dist: global %q is not allowed", g)
			}
		}
	}
	return nil
}

// Deny adds a global to the deny list.
func (p *GlobalsPolicy) Deny(name string) {
	if p.Denied == nil {
		p.Denied = make(map[string]bool)
	}
	p.Denied[name] = true
}

package retry

import (
	"fmt"
	"sync/atomic"
)

// PolicySet resolves the effective policy for a group: a per-group override
// when one exists, the global default otherwise. The whole set is replaced
// atomically when configuration is reloaded, so readers never block.
type PolicySet struct {
	current atomic.Pointer[policies]
}

type policies struct {
	global Policy
	groups map[int64]Policy
}

// NewPolicySet creates a set from a global policy and optional group overrides.
func NewPolicySet(global Policy, groups map[int64]Policy) (*PolicySet, error) {
	ps := &PolicySet{}
	if err := ps.Replace(global, groups); err != nil {
		return nil, err
	}
	return ps, nil
}

// Replace validates and installs a new global policy and group overrides.
// On error the previous policies stay in effect.
func (ps *PolicySet) Replace(global Policy, groups map[int64]Policy) error {
	if err := global.Validate(); err != nil {
		return fmt.Errorf("global retry policy: %w", err)
	}

	copied := make(map[int64]Policy, len(groups))
	for id, p := range groups {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("retry policy for group %d: %w", id, err)
		}
		copied[id] = p
	}

	ps.current.Store(&policies{global: global, groups: copied})
	return nil
}

// For returns the effective policy for groupID.
func (ps *PolicySet) For(groupID int64) Policy {
	p := ps.current.Load()
	if override, ok := p.groups[groupID]; ok {
		return override
	}
	return p.global
}

// Global returns the global policy.
func (ps *PolicySet) Global() Policy {
	return ps.current.Load().global
}

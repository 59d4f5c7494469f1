package hottrack

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// Registry maps policy names to policies. Roots resolve their policy once,
// at construction, so later changes only affect roots created afterwards.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewRegistry returns a registry that already holds the built-in policy
// under DefaultPolicyName.
func NewRegistry() *Registry {
	return &Registry{policies: map[string]Policy{DefaultPolicyName: builtin}}
}

func (r *Registry) Register(name string, p Policy) error {
	if name == "" || p == nil {
		return fmt.Errorf("%w: policy name and implementation are required", ErrInvalidOption)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.policies[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	r.policies[name] = p
	return nil
}

// Unregister removes every name bound to p.
func (r *Registry) Unregister(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, cur := range r.policies {
		if samePolicy(cur, p) {
			delete(r.policies, name)
		}
	}
}

// Resolve returns the policy registered as name. Unknown names get whatever
// is registered under DefaultPolicyName, or the built-in policy. The second
// result is the name the returned policy is known by.
func (r *Registry) Resolve(name string) (Policy, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[name]; ok {
		return p, name
	}
	if p, ok := r.policies[DefaultPolicyName]; ok {
		return p, DefaultPolicyName
	}
	return builtin, DefaultPolicyName
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.policies))
	for name := range r.policies {
		out = append(out, name)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

func samePolicy(a, b Policy) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

var std = NewRegistry()

// RegisterPolicy adds p to the process-wide registry.
func RegisterPolicy(name string, p Policy) error { return std.Register(name, p) }

// UnregisterPolicy removes p from the process-wide registry.
func UnregisterPolicy(p Policy) { std.Unregister(p) }

// ResolvePolicy looks name up in the process-wide registry.
func ResolvePolicy(name string) Policy {
	p, _ := std.Resolve(name)
	return p
}

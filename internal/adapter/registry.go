package adapter

import (
	"fmt"
	"sort"
	"time"

	apperrors "github.com/verilens/detection-engine/internal/errors"
)

// Registry holds the guarded adapters by model name and resolves each
// request's fan-out plan. The adapter set is fixed at construction; breaker
// state lives inside the adapters, so one registry serves all requests.
type Registry struct {
	adapters map[string]*Guarded
	primary  *Guarded
	food     *Guarded
	backup   *Guarded
}

// NewRegistry builds the standard three-model ensemble, each wrapped with
// the given per-invocation timeout.
func NewRegistry(timeout time.Duration) *Registry {
	return NewCustomRegistry(timeout, NewPrimary(), NewFoodSpecialist(), NewBackup())
}

// NewCustomRegistry builds a registry from an explicit scorer set, for
// deployments that swap in alternate model versions. Role slots are filled
// from each scorer's own info; the last scorer per role wins.
func NewCustomRegistry(timeout time.Duration, scorers ...Scorer) *Registry {
	r := &Registry{adapters: make(map[string]*Guarded)}
	for _, scorer := range scorers {
		guarded := NewGuarded(scorer, timeout)
		r.adapters[scorer.Info().Name] = guarded
		switch scorer.Info().Role {
		case RolePrimary:
			r.primary = guarded
		case RoleSpecialist:
			r.food = guarded
		case RoleBackup:
			r.backup = guarded
		}
	}
	return r
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (*Guarded, bool) {
	guarded, ok := r.adapters[name]
	return guarded, ok
}

// Backup returns the failover adapter.
func (r *Registry) Backup() *Guarded {
	return r.backup
}

// Names returns all registered model names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Plan resolves the initial fan-out for a request. An explicit model subset
// is honored verbatim (deduplicated, order preserved); backup joins only
// when named. With no subset, the plan is the primary detector plus the
// food specialist when the content hint fired.
func (r *Registry) Plan(requested []string, foodLikely bool) ([]*Guarded, error) {
	if len(requested) == 0 {
		plan := []*Guarded{r.primary}
		if foodLikely && r.food != nil {
			plan = append(plan, r.food)
		}
		return plan, nil
	}

	seen := make(map[string]bool, len(requested))
	plan := make([]*Guarded, 0, len(requested))
	for _, name := range requested {
		guarded, ok := r.adapters[name]
		if !ok {
			return nil, apperrors.NewInvalidRequest(
				fmt.Sprintf("unknown model %q (available: %v)", name, r.Names()), nil)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		plan = append(plan, guarded)
	}
	return plan, nil
}

// ContainsBackup reports whether the plan already includes the failover
// adapter, in which case the ensemble must not invoke it a second time.
func ContainsBackup(plan []*Guarded) bool {
	for _, guarded := range plan {
		if guarded.Info().Role == RoleBackup {
			return true
		}
	}
	return false
}

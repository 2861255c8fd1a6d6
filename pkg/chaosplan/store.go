package chaosplan

import (
	"fmt"
	"sync/atomic"

	"github.com/agentchaos/chaosproxy/pkg/chaoserrors"
)

// Store holds the process-wide plan snapshot. Readers take a stable
// reference at the start of each flow; InstallPlan swaps the pointer
// atomically and never mutates an installed plan.
type Store struct {
	current atomic.Pointer[Plan]
}

// NewStore returns a store primed with an initial validated plan.
func NewStore(initial *Plan) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Current returns the active snapshot. Never nil after NewStore.
func (s *Store) Current() *Plan {
	return s.current.Load()
}

// InstallPlan atomically swaps the snapshot. The incoming revision must be
// strictly greater than the installed one; on rejection the installed plan
// stays unchanged.
func (s *Store) InstallPlan(plan *Plan) error {
	for {
		cur := s.current.Load()
		if cur != nil && plan.Revision <= cur.Revision {
			return &chaoserrors.PlanLoadError{
				Path: "<install>",
				Messages: []string{fmt.Sprintf(
					"revision: must be > installed revision %d, got %d", cur.Revision, plan.Revision)},
			}
		}
		if s.current.CompareAndSwap(cur, plan) {
			return nil
		}
	}
}

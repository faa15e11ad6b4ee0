package workflow

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"clipstitch/internal/clip"
	"clipstitch/internal/services"
)

// ErrIllegalTransition reports a status change the lifecycle does not allow.
var ErrIllegalTransition = fmt.Errorf("%w: illegal status transition", services.ErrConflict)

var transitions = map[clip.Status][]clip.Status{
	clip.StatusPending:            {clip.StatusInProgress, clip.StatusFailed},
	clip.StatusInProgress:         {clip.StatusSegmentsExtracting, clip.StatusFailed},
	clip.StatusSegmentsExtracting: {clip.StatusSegmentsComplete, clip.StatusFailed},
	clip.StatusSegmentsComplete:   {clip.StatusStitching, clip.StatusFailed},
	clip.StatusStitching:          {clip.StatusComplete, clip.StatusFailed},
	clip.StatusFailed:             {clip.StatusPending},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to clip.Status) bool {
	return slices.Contains(transitions[from], to)
}

// Machine tracks one run's status. Unknown transitions are errors.
type Machine struct {
	mu    sync.Mutex
	state clip.Status
}

// NewMachine starts a machine at initial.
func NewMachine(initial clip.Status) *Machine {
	return &Machine{state: initial}
}

// State returns the current status.
func (m *Machine) State() clip.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire moves the machine to `to` after action succeeds. action runs outside
// the lock; on error the state is unchanged.
func (m *Machine) Fire(ctx context.Context, to clip.Status, action func(ctx context.Context, from, to clip.Status) error) error {
	m.mu.Lock()
	from := m.state
	m.mu.Unlock()
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, from, to)
	}

	if action != nil {
		if err := action(ctx, from, to); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return fmt.Errorf("%w: concurrent transition from %s, now %s", ErrIllegalTransition, from, m.state)
	}
	m.state = to
	return nil
}

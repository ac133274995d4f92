package worker

import (
	"time"

	"github.com/jzx17/taskpool/pkg/types"
)

// WorkerInfo is the loop's view of a worker that can take a task
type WorkerInfo struct {
	ID int
	// tasks currently assigned
	Assigned int
	// cumulative execution time
	BusyTime time.Duration
}

// PoolState is what a Strategy sees when choosing a worker
type PoolState struct {
	// Idle lists the workers ready for a task, ordered by ID
	Idle []WorkerInfo

	// Workers is the number of live workers
	Workers int

	QueueLength int
}

// Strategy picks the worker for the next task. Strategies are called from
// the pool loop only and need not be safe for concurrent use.
type Strategy interface {
	Name() string

	// Select returns the ID of one of state.Idle
	Select(state PoolState, task *Task) (int, bool)
}

// Strategy names accepted by NewStrategy
const (
	StrategyRoundRobin    = "round_robin"
	StrategyLeastBusy     = "least_busy"
	StrategyPriorityAware = "priority_aware"
)

// NewStrategy creates a strategy by name
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyRoundRobin, "":
		return &RoundRobin{}, nil
	case StrategyLeastBusy:
		return LeastBusy{}, nil
	case StrategyPriorityAware:
		return &PriorityAware{}, nil
	default:
		return nil, types.NewValidationError("strategy", "unknown strategy %q", name)
	}
}

// RoundRobin cycles through workers in ID order
type RoundRobin struct {
	last int
}

// Name implements Strategy
func (r *RoundRobin) Name() string {
	return StrategyRoundRobin
}

// Select implements Strategy
func (r *RoundRobin) Select(state PoolState, _ *Task) (int, bool) {
	if len(state.Idle) == 0 {
		return 0, false
	}

	pick := state.Idle[0].ID
	for _, w := range state.Idle {
		if w.ID > r.last {
			pick = w.ID
			break
		}
	}
	r.last = pick
	return pick, true
}

// LeastBusy prefers the worker with the fewest tasks currently assigned,
// then the lowest cumulative busy time, then the lowest ID
type LeastBusy struct{}

// Name implements Strategy
func (LeastBusy) Name() string {
	return StrategyLeastBusy
}

// Select implements Strategy
func (LeastBusy) Select(state PoolState, _ *Task) (int, bool) {
	if len(state.Idle) == 0 {
		return 0, false
	}

	best := state.Idle[0]
	for _, w := range state.Idle[1:] {
		if w.Assigned < best.Assigned ||
			(w.Assigned == best.Assigned && w.BusyTime < best.BusyTime) {
			best = w
		}
	}
	return best.ID, true
}

// PriorityAware sends High tasks to the least busy worker and spreads the
// rest round-robin
type PriorityAware struct {
	rr RoundRobin
}

// Name implements Strategy
func (p *PriorityAware) Name() string {
	return StrategyPriorityAware
}

// Select implements Strategy
func (p *PriorityAware) Select(state PoolState, task *Task) (int, bool) {
	if task != nil && task.Priority() == types.PriorityHigh {
		return LeastBusy{}.Select(state, task)
	}
	return p.rr.Select(state, task)
}

var (
	_ Strategy = (*RoundRobin)(nil)
	_ Strategy = LeastBusy{}
	_ Strategy = (*PriorityAware)(nil)
)

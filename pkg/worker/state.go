package worker

// WorkerState defines the state of a Worker
type WorkerState int32

const (
	// WorkerStateStarting is the state before the worker loop runs
	WorkerStateStarting WorkerState = iota
	// WorkerStateIdle represents a worker ready for a task
	WorkerStateIdle
	// WorkerStateBusy represents a worker running exactly one task
	WorkerStateBusy
	// WorkerStateDraining represents a worker finishing up before exit
	WorkerStateDraining
	// WorkerStateTerminated represents a worker that exited or was killed
	WorkerStateTerminated
	// WorkerStateCrashed represents a worker lost to a panic or a dead execution context
	WorkerStateCrashed
)

// String returns the string representation of WorkerState
func (ws WorkerState) String() string {
	switch ws {
	case WorkerStateStarting:
		return "starting"
	case WorkerStateIdle:
		return "idle"
	case WorkerStateBusy:
		return "busy"
	case WorkerStateDraining:
		return "draining"
	case WorkerStateTerminated:
		return "terminated"
	case WorkerStateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible
func (ws WorkerState) Terminal() bool {
	return ws == WorkerStateTerminated || ws == WorkerStateCrashed
}

var transitions = map[WorkerState][]WorkerState{
	WorkerStateStarting: {WorkerStateIdle, WorkerStateTerminated},
	WorkerStateIdle:     {WorkerStateBusy, WorkerStateDraining, WorkerStateTerminated, WorkerStateCrashed},
	WorkerStateBusy:     {WorkerStateIdle, WorkerStateTerminated, WorkerStateCrashed},
	WorkerStateDraining: {WorkerStateTerminated},
}

// CanTransition reports whether from -> to is a valid worker transition.
// Terminated is reachable from every live state because the pool may kill
// a worker at any time.
func CanTransition(from, to WorkerState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

package worker

import (
	"time"
)

// messageKind tags the union carried by message
type messageKind int

const (
	msgResult messageKind = iota
	msgHeartbeat
	msgCrashed
	msgExited
	msgTimeout
	msgRetry
	msgResize
	msgShutdown
)

// String returns the string representation of messageKind
func (k messageKind) String() string {
	switch k {
	case msgResult:
		return "result"
	case msgHeartbeat:
		return "heartbeat"
	case msgCrashed:
		return "crashed"
	case msgExited:
		return "exited"
	case msgTimeout:
		return "timeout"
	case msgRetry:
		return "retry"
	case msgResize:
		return "resize"
	case msgShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// message is everything the coordinating loop reacts to. Which fields are
// set depends on kind.
type message struct {
	kind     messageKind
	workerID int
	task     *Task
	attempt  int

	// result and crashed
	value    interface{}
	err      error
	duration time.Duration

	// heartbeat
	at time.Time

	// resize
	min, max int

	// shutdown
	graceful bool

	// resize and shutdown
	reply chan error
}

// assignment is what the loop hands to a worker
type assignment struct {
	task    *Task
	attempt int
}

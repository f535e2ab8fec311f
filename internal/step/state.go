package step

import "fmt"

// State is the lifecycle position of a worker.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StateFinished
	StateStopped
	StateFailed
	StateDisposed
)

var stateNames = [...]string{"created", "initialized", "running", "finished", "stopped", "failed", "disposed"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no more rows will be processed in this state.
func (s State) Terminal() bool {
	return s >= StateFinished
}

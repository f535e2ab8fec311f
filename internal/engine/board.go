package engine

import (
	"sort"
	"sync"
	"time"
)

// DefaultHistory is how many finished runs a Board keeps.
const DefaultHistory = 50

// StepStatus is a point-in-time view of one step copy.
type StepStatus struct {
	Step     string `json:"step"`
	Copy     int    `json:"copy"`
	State    string `json:"state"`
	Read     int64  `json:"read"`
	Written  int64  `json:"written"`
	Rejected int64  `json:"rejected"`
	Errors   int64  `json:"errors"`
}

// RunStatus is a point-in-time view of a job or transformation run.
type RunStatus struct {
	ID       string       `json:"id"`
	Kind     string       `json:"kind"`
	Name     string       `json:"name"`
	State    string       `json:"state"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished,omitempty"`
	Errors   int64        `json:"errors"`
	Steps    []StepStatus `json:"steps,omitempty"`
}

// Observable is a run that can report its status.
type Observable interface {
	RunStatus() RunStatus
}

// Board tracks active runs and keeps the last finished ones.
type Board struct {
	mu       sync.Mutex
	active   map[string]Observable
	finished []RunStatus
	history  int
}

// NewBoard creates a Board keeping up to history finished runs.
func NewBoard(history int) *Board {
	return &Board{active: make(map[string]Observable), history: history}
}

// Started registers a running run.
func (b *Board) Started(id string, o Observable) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active[id] = o
}

// Finished moves a run to the history with its final status.
func (b *Board) Finished(id string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.active[id]
	if !ok {
		return
	}
	delete(b.active, id)
	b.finished = append(b.finished, o.RunStatus())
	if len(b.finished) > b.history {
		b.finished = b.finished[len(b.finished)-b.history:]
	}
}

// Snapshot returns active runs (sorted by start) followed by finished ones.
func (b *Board) Snapshot() (active, finished []RunStatus) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	obs := make([]Observable, 0, len(b.active))
	for _, o := range b.active {
		obs = append(obs, o)
	}
	finished = append([]RunStatus(nil), b.finished...)
	b.mu.Unlock()

	for _, o := range obs {
		active = append(active, o.RunStatus())
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Started.Before(active[j].Started) })
	return active, finished
}

// Package variables implements the chain of name/value scopes that jobs,
// transformations and steps resolve variables through.
//
// A lookup walks from the innermost scope outwards and ends at the
// process-wide scope. The process scope is an ordinary Scope created once by
// the application and handed down explicitly; there is no package-level
// instance.
package variables

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNoJob is returned when a job-relative level is set with no running job.
	ErrNoJob = errors.New("variables: no running job")
	// ErrNoParentJob is returned when the parent level is set from a top-level job.
	ErrNoParentJob = errors.New("variables: no parent job")
	// ErrNoGrandParentJob is returned when the grand-parent level is set without one.
	ErrNoGrandParentJob = errors.New("variables: no grand-parent job")
)

// Level names where a variable write lands.
type Level int

const (
	LevelCurrentJob Level = iota
	LevelParentJob
	LevelGrandParentJob
	LevelRootJob
	LevelProcess
)

var levelNames = map[Level]string{
	LevelCurrentJob:     "current_job",
	LevelParentJob:      "parent_job",
	LevelGrandParentJob: "grand_parent_job",
	LevelRootJob:        "root_job",
	LevelProcess:        "process",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel resolves a level name; "system" is an alias of the process
// level and an empty name means the current job.
func ParseLevel(s string) (Level, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	switch needle {
	case "system":
		return LevelProcess, nil
	case "":
		return LevelCurrentJob, nil
	}
	for l, name := range levelNames {
		if name == needle {
			return l, nil
		}
	}
	return LevelCurrentJob, fmt.Errorf("unknown variable level %q", s)
}

// Scope is a set of variables with an optional parent. Safe for concurrent use.
type Scope struct {
	mu     sync.RWMutex
	vars   map[string]string
	parent *Scope
}

// NewProcess creates a root scope, optionally seeded with initial values.
func NewProcess(initial map[string]string) *Scope {
	s := &Scope{vars: make(map[string]string, len(initial))}
	maps.Copy(s.vars, initial)
	return s
}

// NewChild creates an empty scope that falls back to parent on lookups.
func NewChild(parent *Scope) *Scope {
	return &Scope{vars: make(map[string]string), parent: parent}
}

// Parent returns the enclosing scope or nil.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Get resolves name innermost-first.
func (s *Scope) Get(name string) (string, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.Local(name); ok {
			return v, true
		}
	}
	return "", false
}

// GetOr resolves name, returning def when it is not set anywhere.
func (s *Scope) GetOr(name, def string) string {
	if v, ok := s.Get(name); ok {
		return v
	}
	return def
}

// Local looks name up in this scope only.
func (s *Scope) Local(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// Set stores name in this scope.
func (s *Scope) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}

// Unset removes name from this scope only.
func (s *Scope) Unset(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vars, name)
}

// Snapshot flattens the chain into one map; inner values shadow outer ones.
func (s *Scope) Snapshot() map[string]string {
	var chain []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	out := make(map[string]string)
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		maps.Copy(out, chain[i].vars)
		chain[i].mu.RUnlock()
	}
	return out
}

// Names returns the sorted names visible from this scope.
func (s *Scope) Names() []string {
	snap := s.Snapshot()
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Expand replaces ${NAME} references with their resolved values; unknown
// references are left untouched.
func (s *Scope) Expand(text string) string {
	if !strings.Contains(text, "${") {
		return text
	}
	var b strings.Builder
	for {
		start := strings.Index(text, "${")
		if start < 0 {
			b.WriteString(text)
			break
		}
		end := strings.Index(text[start:], "}")
		if end < 0 {
			b.WriteString(text)
			break
		}
		end += start
		name := text[start+2 : end]
		b.WriteString(text[:start])
		if v, ok := s.Get(name); ok {
			b.WriteString(v)
		} else {
			b.WriteString(text[start : end+1])
		}
		text = text[end+1:]
	}
	return b.String()
}

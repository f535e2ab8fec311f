package trans

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/registry"
)

// copiesOf returns the number of copies to start; unset means one.
func copiesOf(s *config.Step) int {
	if s.Copies < 1 {
		return 1
	}
	return s.Copies
}

func distributionOf(h *config.Hop) config.Distribution {
	if h.Distribution == "" {
		return config.RoundRobin
	}
	return h.Distribution
}

// Validate checks the structure of a transformation: unique step names,
// registered types, hops between existing steps, no cycles and consistent
// error hops. reg may be nil to skip the type check.
func Validate(t *config.Transformation, reg *registry.Registry) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if t.Name == "" {
		add("transformation has no name")
	}
	if len(t.Steps) == 0 {
		add("transformation has no steps")
	}

	steps := make(map[string]*config.Step, len(t.Steps))
	for _, s := range t.Steps {
		if s.Name == "" {
			add("step of type '%s' has no name", s.Type)
			continue
		}
		if _, dup := steps[s.Name]; dup {
			add("step '%s' is defined more than once", s.Name)
		}
		steps[s.Name] = s
		if s.Copies < 0 {
			add("step '%s': copies must be at least 1, got %d", s.Name, s.Copies)
		}
		if reg != nil && !reg.HasStep(s.Type) {
			add("step '%s': unknown step type '%s'", s.Name, s.Type)
		}
	}

	seen := make(map[[2]string]bool)
	errorHops := make(map[string]string)
	adjacency := make(map[string][]string)
	for _, h := range t.Hops {
		if _, ok := steps[h.From]; !ok {
			add("hop %s -> %s: unknown source step '%s'", h.From, h.To, h.From)
			continue
		}
		if _, ok := steps[h.To]; !ok {
			add("hop %s -> %s: unknown target step '%s'", h.From, h.To, h.To)
			continue
		}
		if h.From == h.To {
			add("hop %s -> %s: a step cannot feed itself", h.From, h.To)
		}
		if d := distributionOf(h); d != config.RoundRobin && d != config.CopyToAll {
			add("hop %s -> %s: unknown distribution '%s'", h.From, h.To, d)
		}
		key := [2]string{h.From, h.To}
		if seen[key] {
			add("hop %s -> %s is defined more than once", h.From, h.To)
		}
		seen[key] = true
		if h.Disabled {
			continue
		}
		adjacency[h.From] = append(adjacency[h.From], h.To)

		if h.Error {
			eh := steps[h.From].ErrorHandling
			switch {
			case eh == nil:
				add("error hop %s -> %s: step '%s' has no error handling", h.From, h.To, h.From)
			case eh.Target != "" && eh.Target != h.To:
				add("error hop %s -> %s: error handling of '%s' targets '%s'", h.From, h.To, h.From, eh.Target)
			}
			if prev, dup := errorHops[h.From]; dup {
				add("step '%s' has more than one error hop ('%s' and '%s')", h.From, prev, h.To)
			}
			errorHops[h.From] = h.To
		}
	}

	for _, s := range t.Steps {
		if s.ErrorHandling == nil || s.ErrorHandling.Target == "" {
			continue
		}
		if _, ok := errorHops[s.Name]; !ok {
			add("step '%s': error handling targets '%s' but there is no enabled error hop", s.Name, s.ErrorHandling.Target)
		}
	}

	if cycle := findCycle(t.Steps, adjacency); cycle != nil {
		add("hops form a loop: %s", strings.Join(cycle, " -> "))
	}

	if len(errs) > 0 {
		return errors.New("invalid transformation '" + t.Name + "':\n- " + strings.Join(errs, "\n- "))
	}
	return nil
}

// findCycle returns the steps of one loop, or nil.
func findCycle(steps []*config.Step, adjacency map[string][]string) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(steps))
	var path []string
	var visit func(name string) []string
	visit = func(name string) []string {
		state[name] = visiting
		path = append(path, name)
		for _, next := range adjacency[name] {
			switch state[next] {
			case visiting:
				for i, p := range path {
					if p == next {
						return append(append([]string(nil), path[i:]...), next)
					}
				}
			case unvisited:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		return nil
	}
	for _, s := range steps {
		if state[s.Name] == unvisited {
			if c := visit(s.Name); c != nil {
				return c
			}
		}
	}
	return nil
}

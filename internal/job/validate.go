package job

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/registry"
)

// StartType is the entry type traversal begins at.
const StartType = "start"

func conditionOf(h *config.JobHop) config.Condition {
	if h.Condition == "" {
		return config.Unconditional
	}
	return h.Condition
}

// Validate checks that j has exactly one start entry, unique entry names,
// registered types and hops between existing entries. Loops are allowed.
func Validate(j *config.Job, reg *registry.Registry) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if j.Name == "" {
		add("job has no name")
	}

	entries := make(map[string]bool, len(j.Entries))
	starts := 0
	for _, e := range j.Entries {
		if e.Name == "" {
			add("entry of type '%s' has no name", e.Type)
			continue
		}
		if entries[e.Name] {
			add("entry '%s' is defined more than once", e.Name)
		}
		entries[e.Name] = true
		if e.Type == StartType {
			starts++
		}
		if reg != nil && !reg.HasEntry(e.Type) {
			add("entry '%s': unknown job entry type '%s'", e.Name, e.Type)
		}
	}
	if starts != 1 {
		add("job must have exactly one '%s' entry, found %d", StartType, starts)
	}

	for _, h := range j.Hops {
		if !entries[h.From] {
			add("hop %s -> %s: unknown source entry '%s'", h.From, h.To, h.From)
		}
		if !entries[h.To] {
			add("hop %s -> %s: unknown target entry '%s'", h.From, h.To, h.To)
		}
		switch conditionOf(h) {
		case config.Unconditional, config.OnSuccess, config.OnFailure:
		default:
			add("hop %s -> %s: unknown condition '%s'", h.From, h.To, h.Condition)
		}
		if h.To == startEntryName(j) && !h.Disabled {
			add("hop %s -> %s: the start entry cannot be a hop target", h.From, h.To)
		}
	}

	if len(errs) > 0 {
		return errors.New("invalid job '" + j.Name + "':\n- " + strings.Join(errs, "\n- "))
	}
	return nil
}

func startEntryName(j *config.Job) string {
	for _, e := range j.Entries {
		if e.Type == StartType {
			return e.Name
		}
	}
	return ""
}

// Package unique_rows provides a step that drops rows whose key fields were
// already seen, keeping the first occurrence.
package unique_rows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
	"github.com/zeebo/xxh3"
)

// ErrDuplicate describes a rejected duplicate row.
var ErrDuplicate = errors.New("duplicate row")

// Module implements the registry.Module interface for this package.
type Module struct{}

// Step keeps a hash set of the keys seen so far. Options:
//
//	fields             key fields, all fields when empty
//	ignore_case        compare string keys case-insensitively
//	reject_duplicates  send duplicates to the error hop (code UNIQUE001)
type Step struct {
	names      []string
	ignoreCase bool
	reject     bool

	keys []int
	seen map[uint64][]string
	buf  strings.Builder
}

func (s *Step) Init(ctx context.Context, sc *step.Context) error {
	opts := sc.Options()
	s.names = opts.Strings("fields")
	s.ignoreCase = opts.Bool("ignore_case", false)
	s.reject = opts.Bool("reject_duplicates", false)
	if s.reject && !sc.ErrorHandlingEnabled() {
		return fmt.Errorf("reject_duplicates requires error handling")
	}
	s.seen = make(map[uint64][]string)
	return nil
}

func (s *Step) BindSchema(ctx context.Context, sc *step.Context, in *row.Meta) (*row.Meta, error) {
	if len(s.names) == 0 {
		s.names = in.Names()
	}
	for _, name := range s.names {
		idx := in.IndexOf(name)
		if idx < 0 {
			return nil, fmt.Errorf("key field %q not found in %s", name, in)
		}
		s.keys = append(s.keys, idx)
	}
	return in, nil
}

// key renders the key fields with their types so "1" and 1 stay distinct.
func (s *Step) key(meta *row.Meta, r row.Row) string {
	s.buf.Reset()
	for _, idx := range s.keys {
		v := r[idx]
		if v == nil {
			s.buf.WriteString("\x00null")
		} else {
			fmt.Fprintf(&s.buf, "\x00%T:", v)
			text := meta.Field(idx).Render(v)
			if s.ignoreCase {
				text = strings.ToLower(text)
			}
			s.buf.WriteString(text)
		}
	}
	return s.buf.String()
}

// add records key and reports whether it was new. Entries sharing a hash
// are compared in full.
func (s *Step) add(key string) bool {
	h := xxh3.HashString(key)
	for _, k := range s.seen[h] {
		if k == key {
			return false
		}
	}
	s.seen[h] = append(s.seen[h], key)
	return true
}

func (s *Step) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil || r == nil {
		return false, err
	}
	if s.add(s.key(sc.InputMeta(), r)) {
		return true, sc.PutRow(ctx, nil, r)
	}
	if s.reject {
		return true, step.NewRowError("UNIQUE001", strings.Join(s.names, ","), ErrDuplicate)
	}
	return true, nil
}

func (s *Step) Dispose(ctx context.Context, sc *step.Context) error {
	s.seen = nil
	return nil
}

// Register registers the step with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("unique_rows", &registry.StepPlugin{
		New:         func() step.Step { return &Step{} },
		Description: "Removes duplicate rows using a hash set of key fields.",
	})
}

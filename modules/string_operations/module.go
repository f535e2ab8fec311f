// Package string_operations provides a step that normalizes string fields:
// trimming, case conversion and accent removal.
package string_operations

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type operation struct {
	field         string
	outField      string
	trim          string
	caseMode      string
	removeAccents bool

	in, out int
	caser   *cases.Caser
}

func parseOperation(o config.Options) (*operation, error) {
	op := &operation{
		field:         o.String("field", ""),
		outField:      o.String("out_field", ""),
		trim:          strings.ToLower(o.String("trim", "none")),
		caseMode:      strings.ToLower(o.String("case", "none")),
		removeAccents: o.Bool("remove_accents", false),
	}
	if op.field == "" {
		return nil, fmt.Errorf("operation has no field")
	}
	switch op.trim {
	case "none", "left", "right", "both":
	default:
		return nil, fmt.Errorf("field %q: unknown trim %q", op.field, op.trim)
	}
	switch op.caseMode {
	case "none":
	case "upper":
		c := cases.Upper(language.Und)
		op.caser = &c
	case "lower":
		c := cases.Lower(language.Und)
		op.caser = &c
	case "title":
		c := cases.Title(language.Und)
		op.caser = &c
	default:
		return nil, fmt.Errorf("field %q: unknown case %q", op.field, op.caseMode)
	}
	return op, nil
}

func (op *operation) apply(s string, accents transform.Transformer) (string, error) {
	switch op.trim {
	case "left":
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
	case "right":
		s = strings.TrimRightFunc(s, unicode.IsSpace)
	case "both":
		s = strings.TrimSpace(s)
	}
	if op.caser != nil {
		s = op.caser.String(s)
	}
	if op.removeAccents {
		out, _, err := transform.String(accents, s)
		if err != nil {
			return "", err
		}
		s = out
	}
	return s, nil
}

// Step applies a list of "operations", each {field, out_field, trim, case,
// remove_accents}. Results replace the field or go to a new out_field.
type Step struct {
	ops     []*operation
	inSize  int
	accents transform.Transformer
}

func (s *Step) Init(ctx context.Context, sc *step.Context) error {
	objs := sc.Options().Objects("operations")
	if len(objs) == 0 {
		return fmt.Errorf("no operations declared")
	}
	for _, o := range objs {
		op, err := parseOperation(o)
		if err != nil {
			return err
		}
		s.ops = append(s.ops, op)
	}
	s.accents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	return nil
}

func (s *Step) BindSchema(ctx context.Context, sc *step.Context, in *row.Meta) (*row.Meta, error) {
	s.inSize = in.Size()
	var added []row.ValueMeta
	for _, op := range s.ops {
		op.in = in.IndexOf(op.field)
		if op.in < 0 {
			return nil, fmt.Errorf("field %q not found in %s", op.field, in)
		}
		if in.Field(op.in).Type != row.TypeString {
			return nil, fmt.Errorf("field %q is %s, not string", op.field, in.Field(op.in).Type)
		}
		op.out = op.in
		if op.outField != "" {
			if in.IndexOf(op.outField) >= 0 {
				return nil, fmt.Errorf("out_field %q already exists", op.outField)
			}
			op.out = s.inSize + len(added)
			added = append(added, row.ValueMeta{Name: op.outField, Type: row.TypeString})
		}
	}
	if len(added) == 0 {
		return in, nil
	}
	return in.Extend(added...), nil
}

func (s *Step) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil || r == nil {
		return false, err
	}
	out := r.Resize(sc.OutputMeta().Size())
	changed := len(out) != len(r)
	for _, op := range s.ops {
		v, ok := r[op.in].(string)
		if !ok {
			continue
		}
		res, err := op.apply(v, s.accents)
		if err != nil {
			return true, step.NewRowError("STRINGOPS001", op.field, err)
		}
		if res != v || op.out != op.in {
			changed = true
		}
		out[op.out] = res
	}
	if changed {
		sc.IncLinesUpdated()
	}
	return true, sc.PutRow(ctx, nil, out)
}

func (s *Step) Dispose(ctx context.Context, sc *step.Context) error { return nil }

// Register registers the step with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("string_operations", &registry.StepPlugin{
		New:         func() step.Step { return &Step{} },
		Description: "Trims, changes case and removes accents of string fields.",
	})
}

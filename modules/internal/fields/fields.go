// Package fields parses the "fields" option shared by the steps that declare
// typed output fields.
package fields

import (
	"fmt"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/variables"
)

// Field is one declared field and its raw, unexpanded value.
type Field struct {
	Meta  row.ValueMeta
	Value any
}

// Parse reads a list of field objects with the keys name, type, format,
// length, precision and value. Type defaults to string.
func Parse(objs []config.Options) ([]Field, error) {
	out := make([]Field, 0, len(objs))
	seen := make(map[string]bool, len(objs))
	for i, o := range objs {
		name, err := o.Required("name")
		if err != nil {
			return nil, fmt.Errorf("field #%d: %w", i+1, err)
		}
		if seen[name] {
			return nil, fmt.Errorf("field %q is declared more than once", name)
		}
		seen[name] = true
		typ := row.TypeString
		if s := o.String("type", ""); s != "" {
			if typ, err = row.ParseValueType(s); err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
		}
		out = append(out, Field{
			Meta: row.ValueMeta{
				Name:      name,
				Type:      typ,
				Format:    o.String("format", ""),
				Length:    o.Int("length", 0),
				Precision: o.Int("precision", 0),
			},
			Value: o["value"],
		})
	}
	return out, nil
}

// Metas returns the value metas of fs in order.
func Metas(fs []Field) []row.ValueMeta {
	metas := make([]row.ValueMeta, len(fs))
	for i, f := range fs {
		metas[i] = f.Meta
	}
	return metas
}

// Values expands ${VAR} references in string values against scope and
// converts every value to its field type. An empty string becomes nil.
func Values(fs []Field, scope *variables.Scope) (row.Row, error) {
	values := make(row.Row, len(fs))
	for i, f := range fs {
		v := f.Value
		if s, ok := v.(string); ok {
			s = scope.Expand(s)
			if s == "" {
				continue
			}
			v = s
		}
		converted, err := f.Meta.Convert(v)
		if err != nil {
			return nil, err
		}
		values[i] = converted
	}
	return values, nil
}

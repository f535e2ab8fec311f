package row

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMetaMismatch is returned when a row does not fit the Meta it travels with.
var ErrMetaMismatch = errors.New("row does not match row meta")

// ValueMeta describes a single field of a row.
type ValueMeta struct {
	Name      string
	Type      ValueType
	Format    string
	Length    int
	Precision int
}

// Meta is the ordered, immutable list of field descriptors shared by every
// row that flows through one RowSet. Steps that add fields derive a new Meta
// with Extend instead of mutating the incoming one.
type Meta struct {
	fields []ValueMeta
	index  map[string]int
}

// NewMeta builds a Meta from the given field descriptors. Field names should
// be unique; on duplicates IndexOf resolves to the first occurrence.
func NewMeta(fields ...ValueMeta) *Meta {
	m := &Meta{
		fields: append([]ValueMeta(nil), fields...),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range m.fields {
		if _, ok := m.index[f.Name]; !ok {
			m.index[f.Name] = i
		}
	}
	return m
}

// Size returns the number of fields. A nil Meta has no fields.
func (m *Meta) Size() int {
	if m == nil {
		return 0
	}
	return len(m.fields)
}

// Field returns the descriptor at position i.
func (m *Meta) Field(i int) ValueMeta {
	return m.fields[i]
}

// Fields returns a copy of all descriptors.
func (m *Meta) Fields() []ValueMeta {
	if m == nil {
		return nil
	}
	return append([]ValueMeta(nil), m.fields...)
}

// IndexOf returns the position of the named field or -1.
func (m *Meta) IndexOf(name string) int {
	if m == nil {
		return -1
	}
	if i, ok := m.index[name]; ok {
		return i
	}
	return -1
}

// Names returns the field names in order.
func (m *Meta) Names() []string {
	names := make([]string, m.Size())
	for i := range names {
		names[i] = m.fields[i].Name
	}
	return names
}

// Clone returns an independent copy.
func (m *Meta) Clone() *Meta {
	return NewMeta(m.Fields()...)
}

// Extend returns a new Meta with the given fields appended.
func (m *Meta) Extend(fields ...ValueMeta) *Meta {
	all := append(m.Fields(), fields...)
	return NewMeta(all...)
}

// Equal reports whether both metas describe the same fields in the same order.
func (m *Meta) Equal(other *Meta) bool {
	if m.Size() != other.Size() {
		return false
	}
	for i := 0; i < m.Size(); i++ {
		a, b := m.fields[i], other.fields[i]
		if a.Name != b.Name || a.Type != b.Type {
			return false
		}
	}
	return true
}

// Conforms checks arity and that every non-nil value has the Go type its
// field's ValueType expects.
func (m *Meta) Conforms(r Row) error {
	if len(r) != m.Size() {
		return fmt.Errorf("%w: row has %d values, meta has %d fields", ErrMetaMismatch, len(r), m.Size())
	}
	for i, v := range r {
		if v == nil {
			continue
		}
		if !m.fields[i].Type.accepts(v) {
			return fmt.Errorf("%w: field %q expects %s, got %T", ErrMetaMismatch, m.fields[i].Name, m.fields[i].Type, v)
		}
	}
	return nil
}

func (m *Meta) String() string {
	parts := make([]string, m.Size())
	for i, f := range m.Fields() {
		parts[i] = f.Name + ":" + f.Type.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

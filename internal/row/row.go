// Package row defines the unit of data exchanged between steps: a Row of
// positional values and the Meta describing its fields.
package row

// Row is a fixed-arity slice of values positioned by its Meta.
type Row []any

// Clone returns a shallow copy so downstream consumers can modify their
// copy independently.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	return append(Row(nil), r...)
}

// Resize returns a copy of r with room for n values; existing values keep
// their positions and new slots are nil.
func (r Row) Resize(n int) Row {
	out := make(Row, n)
	copy(out, r)
	return out
}

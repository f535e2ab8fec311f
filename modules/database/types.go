package database

import (
	"database/sql"
	"math/big"
	"strings"
	"time"

	"github.com/vk/hopgrid/internal/row"
)

// valueType maps a column's database type name to a row type.
func valueType(ct *sql.ColumnType) row.ValueType {
	name := strings.ToUpper(ct.DatabaseTypeName())
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	switch {
	case strings.Contains(name, "INT"), name == "SERIAL", name == "BIGSERIAL":
		return row.TypeInteger
	case name == "REAL", name == "FLOAT", name == "DOUBLE", strings.HasPrefix(name, "FLOAT"), name == "DOUBLE PRECISION", name == "MONEY":
		return row.TypeNumber
	case name == "NUMERIC", name == "DECIMAL":
		return row.TypeBigNumber
	case name == "BOOL", name == "BOOLEAN", name == "BIT":
		return row.TypeBoolean
	case name == "DATE", strings.Contains(name, "TIME"):
		return row.TypeDate
	case name == "BLOB", name == "BYTEA", strings.Contains(name, "BINARY"), name == "IMAGE":
		return row.TypeBinary
	}
	return row.TypeString
}

// columnMeta builds the row meta of a result set.
func columnMeta(cols []*sql.ColumnType) *row.Meta {
	fields := make([]row.ValueMeta, len(cols))
	for i, ct := range cols {
		vm := row.ValueMeta{Name: ct.Name(), Type: valueType(ct)}
		if n, ok := ct.Length(); ok && n > 0 && n < 1<<31 {
			vm.Length = int(n)
		}
		if _, scale, ok := ct.DecimalSize(); ok {
			vm.Precision = int(scale)
		}
		fields[i] = vm
	}
	return row.NewMeta(fields...)
}

// dateLayouts are tried, in order, for dates drivers return as text.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02"}

// fromDB normalizes a scanned value to the representation of vm's type.
func fromDB(vm row.ValueMeta, v any) (any, error) {
	if b, ok := v.([]byte); ok && vm.Type != row.TypeBinary {
		v = string(b)
	}
	switch x := v.(type) {
	case int64:
		if vm.Type == row.TypeBoolean {
			return x != 0, nil
		}
	case string:
		if vm.Type == row.TypeDate {
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, x); err == nil {
					return t, nil
				}
			}
		}
	}
	return vm.Convert(v)
}

// toDB turns a row value into a driver argument.
func toDB(v any) any {
	if x, ok := v.(*big.Float); ok {
		return x.Text('f', -1)
	}
	return v
}

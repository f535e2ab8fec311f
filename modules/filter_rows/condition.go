package filter_rows

import (
	"bytes"
	"cmp"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/vk/hopgrid/internal/row"
)

type operator string

const (
	opEqual        operator = "="
	opNotEqual     operator = "!="
	opLess         operator = "<"
	opLessEqual    operator = "<="
	opGreater      operator = ">"
	opGreaterEqual operator = ">="
	opContains     operator = "contains"
	opStartsWith   operator = "starts_with"
	opIsNull       operator = "is_null"
	opNotNull      operator = "not_null"
)

func parseOperator(s string) (operator, error) {
	switch op := operator(strings.ToLower(strings.TrimSpace(s))); op {
	case opEqual, opNotEqual, opLess, opLessEqual, opGreater, opGreaterEqual,
		opContains, opStartsWith, opIsNull, opNotNull:
		return op, nil
	case "==":
		return opEqual, nil
	case "<>":
		return opNotEqual, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// condition compares one field against a constant converted to the field's
// type. A null field only satisfies is_null and !=.
type condition struct {
	field int
	vm    row.ValueMeta
	op    operator
	value any
}

func (c *condition) eval(r row.Row) (bool, error) {
	v := r[c.field]
	switch c.op {
	case opIsNull:
		return v == nil, nil
	case opNotNull:
		return v != nil, nil
	}
	if v == nil {
		return c.op == opNotEqual, nil
	}
	switch c.op {
	case opContains:
		return strings.Contains(c.vm.Render(v), c.vm.Render(c.value)), nil
	case opStartsWith:
		return strings.HasPrefix(c.vm.Render(v), c.vm.Render(c.value)), nil
	}
	n, err := compare(v, c.value)
	if err != nil {
		return false, err
	}
	switch c.op {
	case opEqual:
		return n == 0, nil
	case opNotEqual:
		return n != 0, nil
	case opLess:
		return n < 0, nil
	case opLessEqual:
		return n <= 0, nil
	case opGreater:
		return n > 0, nil
	default:
		return n >= 0, nil
	}
}

func compare(a, b any) (int, error) {
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y), nil
		}
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y), nil
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			}
			return 1, nil
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y), nil
		}
	case *big.Float:
		if y, ok := b.(*big.Float); ok {
			return x.Cmp(y), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

package row

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ValueType is the logical type of a field.
type ValueType int

const (
	TypeNone ValueType = iota
	TypeString
	TypeInteger
	TypeNumber
	TypeDate
	TypeBoolean
	TypeBinary
	TypeBigNumber
)

var typeNames = map[ValueType]string{
	TypeNone:      "none",
	TypeString:    "string",
	TypeInteger:   "integer",
	TypeNumber:    "number",
	TypeDate:      "date",
	TypeBoolean:   "boolean",
	TypeBinary:    "binary",
	TypeBigNumber: "bignumber",
}

func (t ValueType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// ParseValueType resolves a case-insensitive type name.
func ParseValueType(s string) (ValueType, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == needle && t != TypeNone {
			return t, nil
		}
	}
	return TypeNone, fmt.Errorf("unknown value type %q", s)
}

// accepts reports whether v is the Go representation of t:
// String→string, Integer→int64, Number→float64, Date→time.Time,
// Boolean→bool, Binary→[]byte, BigNumber→*big.Float.
func (t ValueType) accepts(v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		_, ok := v.(int64)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeDate:
		_, ok := v.(time.Time)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeBinary:
		_, ok := v.([]byte)
		return ok
	case TypeBigNumber:
		_, ok := v.(*big.Float)
		return ok
	}
	return true
}

package row

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// DefaultDateFormat is used for Date fields without an explicit Format.
const DefaultDateFormat = "2006/01/02 15:04:05.000"

// Convert turns v into the Go representation of the field's type. Strings
// are parsed using Format where it applies; nil stays nil.
func (vm ValueMeta) Convert(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if vm.Type.accepts(v) {
		return v, nil
	}
	out, err := vm.convert(v)
	if err != nil {
		return nil, fmt.Errorf("field %q: cannot convert %v (%T) to %s: %w", vm.Name, v, v, vm.Type, err)
	}
	return out, nil
}

func (vm ValueMeta) convert(v any) (any, error) {
	switch vm.Type {
	case TypeString:
		return vm.Render(v), nil
	case TypeInteger:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("not an integral value")
			}
			if x < math.MinInt64 || x >= math.MaxInt64 {
				return nil, fmt.Errorf("out of integer range")
			}
			return int64(x), nil
		case string:
			return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		}
	case TypeNumber:
		switch x := v.(type) {
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(x), 64)
		}
	case TypeBigNumber:
		switch x := v.(type) {
		case int64:
			return new(big.Float).SetInt64(x), nil
		case int:
			return new(big.Float).SetInt64(int64(x)), nil
		case float64:
			return big.NewFloat(x), nil
		case string:
			f, _, err := big.ParseFloat(strings.TrimSpace(x), 10, 256, big.ToNearestEven)
			return f, err
		}
	case TypeBoolean:
		if s, ok := v.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "y", "yes", "true", "1":
				return true, nil
			case "n", "no", "false", "0", "":
				return false, nil
			}
			return nil, fmt.Errorf("not a boolean")
		}
	case TypeDate:
		if s, ok := v.(string); ok {
			layout := vm.Format
			if layout == "" {
				layout = DefaultDateFormat
			}
			return time.Parse(layout, strings.TrimSpace(s))
		}
	case TypeBinary:
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
	}
	return nil, fmt.Errorf("unsupported conversion")
}

// Render renders v as a string honoring the field's Format.
func (vm ValueMeta) Render(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		layout := vm.Format
		if layout == "" {
			layout = DefaultDateFormat
		}
		return x.Format(layout)
	case float64:
		if vm.Precision > 0 {
			return strconv.FormatFloat(x, 'f', vm.Precision, 64)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case *big.Float:
		return x.Text('f', -1)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

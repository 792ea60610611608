package fields

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/observablehq/airbyte/internal/commonroom"
)

// CoerceError is a source value that cannot be expressed as the field's type.
type CoerceError struct {
	Field string
	Type  string
	Value any
}

// Error implements the error interface.
func (e *CoerceError) Error() string {
	return fmt.Sprintf("custom field %q: cannot use %T as %s", e.Field, e.Value, e.Type)
}

// CoerceValue converts a record value into the typed value sent for spec.
//
// int fields take integral numbers or numeric strings, number fields any
// number, boolean fields bools or "true"/"false". Lists are sent as-is for
// multi-value fields. Everything else is sent as a string.
func CoerceValue(spec CustomFieldSpec, v any) (commonroom.TypedValue, error) {
	tv := commonroom.TypedValue{Type: spec.Type}
	fail := func() (commonroom.TypedValue, error) {
		return commonroom.TypedValue{}, &CoerceError{Field: spec.Name, Type: spec.Type, Value: v}
	}

	switch strings.ToLower(spec.Type) {
	case "int", "integer":
		n, ok := toInt(v)
		if !ok {
			return fail()
		}
		tv.Value = n
	case "number", "float", "decimal":
		n, ok := toFloat(v)
		if !ok {
			return fail()
		}
		// Decoded numbers keep their source text.
		if num, isNum := v.(json.Number); isNum {
			tv.Value = num
		} else {
			tv.Value = n
		}
	case "boolean", "bool":
		switch b := v.(type) {
		case bool:
			tv.Value = b
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return fail()
			}
			tv.Value = parsed
		default:
			return fail()
		}
	default:
		switch x := v.(type) {
		case []any:
			tv.Value = x
		case string:
			tv.Value = x
		default:
			tv.Value = stringify(x)
		}
	}
	return tv, nil
}

// toInt accepts integral values that fit in an int64.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}

	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case map[string]any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}

package member

import (
	"encoding/json"
	"math"
	"math/big"
	"reflect"

	"golang.org/x/text/unicode/norm"
)

// NonEmpty reports whether a record value counts as present.
// nil, "", empty lists and empty objects are absent; 0 and false are values.
func NonEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// Equal compares a source value with a remote value canonically.
// Strings compare after NFC normalisation and numbers compare by value,
// so 3 and 3.0 are equal.
func Equal(a, b any) bool {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && norm.NFC.String(as) == norm.NFC.String(bs)
	}
	if an, ok := number(a); ok {
		bn, ok := number(b)
		return ok && an.Cmp(bn) == 0
	}

	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

// number converts v to an exact rational. json.Number is parsed from its
// text so large integers are not rounded through float64.
func number(v any) (*big.Rat, bool) {
	switch n := v.(type) {
	case float64:
		return floatRat(n)
	case float32:
		return floatRat(float64(n))
	case int:
		return new(big.Rat).SetInt64(int64(n)), true
	case int64:
		return new(big.Rat).SetInt64(n), true
	case json.Number:
		return new(big.Rat).SetString(string(n))
	default:
		return nil, false
	}
}

func floatRat(f float64) (*big.Rat, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return new(big.Rat).SetFloat64(f), true
}

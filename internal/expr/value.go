package expr

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

type undefinedType struct{}

// Undefined is the value of missing properties and bare returns.
var Undefined any = undefinedType{}

func isUndefined(v any) bool {
	_, ok := v.(undefinedType)
	return ok
}

func isNullish(v any) bool {
	return v == nil || isUndefined(v)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, uint64, float32, float64, json.Number:
		return true
	}
	return false
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case ir.Record:
		return map[string]any(o), true
	case ir.MappedRecord:
		return map[string]any(o), true
	}
	return nil, false
}

func typeOf(v any) string {
	switch {
	case isUndefined(v):
		return "undefined"
	case v == nil:
		return "object"
	case isNumber(v):
		return "number"
	}
	switch v.(type) {
	case bool:
		return "boolean"
	case string:
		return "string"
	}
	return "object"
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil, undefinedType:
		return false
	case bool:
		return val
	case string:
		return val != ""
	}
	if isNumber(v) {
		f := toNumber(v)
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

func toNumber(v any) float64 {
	switch val := v.(type) {
	case undefinedType:
		return math.NaN()
	case nil:
		return 0
	case bool:
		if val {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	if f, ok := ir.Number(v); ok {
		return f
	}
	return math.NaN()
}

func toString(v any) string {
	switch val := v.(type) {
	case undefinedType:
		return "undefined"
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return formatNumber(toNumber(val))
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			if !isNullish(elem) {
				parts[i] = toString(elem)
			}
		}
		return strings.Join(parts, ",")
	}
	if isNumber(v) {
		return formatNumber(toNumber(v))
	}
	if _, ok := asObject(v); ok {
		return "[object Object]"
	}
	return ir.FormatScalar(v)
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return ir.FormatScalar(f)
}

// strictEquals implements ===. Composite values compare by identity.
func strictEquals(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		return toNumber(a) == toNumber(b)
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case undefinedType:
		return isUndefined(b)
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return sameReference(a, b)
}

// looseEquals implements == for the value kinds expressions can produce.
func looseEquals(a, b any) bool {
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}
	if typeOf(a) == typeOf(b) {
		return strictEquals(a, b)
	}
	_, aObj := asObject(a)
	_, bObj := asObject(b)
	_, aArr := a.([]any)
	_, bArr := b.([]any)
	if aObj || bObj || aArr || bArr {
		// compare the primitive form against the other side
		if aObj || aArr {
			return looseEquals(toString(a), b)
		}
		return looseEquals(a, toString(b))
	}
	return toNumber(a) == toNumber(b)
}

func sameReference(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() != rb.Kind() {
		return false
	}
	switch ra.Kind() {
	case reflect.Map, reflect.Slice:
		return ra.Pointer() == rb.Pointer() && ra.Len() == rb.Len()
	}
	return false
}

// compare returns the relational result of a op b. NaN compares false.
func compare(a, b any) (less, equal, ok bool) {
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return as < bs, as == bs, true
	}
	af, bf := toNumber(a), toNumber(b)
	if math.IsNaN(af) || math.IsNaN(bf) {
		return false, false, false
	}
	return af < bf, af == bf, true
}

func getMember(obj any, key any) (any, error) {
	if isNullish(obj) {
		return nil, evalError(ErrType, "cannot read property %q of %s", toString(key), toString(obj))
	}
	name := toString(key)

	if o, ok := asObject(obj); ok {
		v, found := o[name]
		if !found {
			return Undefined, nil
		}
		return v, nil
	}

	switch val := obj.(type) {
	case []any:
		if name == "length" {
			return float64(len(val)), nil
		}
		if i, ok := arrayIndex(name); ok && i < len(val) {
			return val[i], nil
		}
	case string:
		if name == "length" {
			return float64(utf8.RuneCountInString(val)), nil
		}
		if i, ok := arrayIndex(name); ok {
			runes := []rune(val)
			if i < len(runes) {
				return string(runes[i]), nil
			}
		}
	}
	return Undefined, nil
}

func arrayIndex(name string) (int, bool) {
	i, err := strconv.Atoi(name)
	if err != nil || i < 0 || strconv.Itoa(i) != name {
		return 0, false
	}
	return i, true
}

// iterate returns the values a for...of loop visits.
func iterate(v any) ([]any, error) {
	switch val := v.(type) {
	case []any:
		return val, nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	case string:
		out := make([]any, 0, len(val))
		for _, r := range val {
			out = append(out, string(r))
		}
		return out, nil
	}
	return nil, evalError(ErrType, "%s is not iterable", typeOf(v))
}

// keys returns the values a for...in loop visits, in a stable order.
func keys(v any) ([]any, error) {
	if isNullish(v) {
		return nil, nil
	}
	if o, ok := asObject(v); ok {
		names := make([]string, 0, len(o))
		for k := range o {
			names = append(names, k)
		}
		sort.Strings(names)
		out := make([]any, len(names))
		for i, k := range names {
			out[i] = k
		}
		return out, nil
	}
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = strconv.Itoa(i)
		}
		return out, nil
	case string:
		n := utf8.RuneCountInString(val)
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = strconv.Itoa(i)
		}
		return out, nil
	}
	return nil, nil
}

// export converts interpreter values into plain Go values.
func export(v any) any {
	switch val := v.(type) {
	case undefinedType:
		return nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = export(elem)
		}
		return out
	}
	return v
}

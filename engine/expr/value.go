// Package expr implements the `{{ }}` template interpolation and
// predicate expression grammar described in spec §4.1. Design Notes §9
// calls for replacing dynamic-language coercion surprises with an
// explicit tagged-value type; Value is that type — every operator is
// defined purely in terms of its Kind, never host-language reflection.
package expr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindUndefined
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is the tagged union every expression evaluates to. Exactly one
// of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	Arr  []Value
	Obj  map[string]Value
	// ObjKeys preserves insertion order for object literals/results so
	// ToAny/Stringify output is deterministic.
	ObjKeys []string
}

func Null() Value      { return Value{Kind: KindNull} }
func Undefined() Value { return Value{Kind: KindUndefined} }
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Array(vs []Value) Value { return Value{Kind: KindArray, Arr: vs} }

func Object(m map[string]Value, keys []string) Value {
	if keys == nil {
		keys = make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	return Value{Kind: KindObject, Obj: m, ObjKeys: keys}
}

// FromAny lifts an arbitrary Go value (as produced by JSON decoding or
// an inputs map) into a Value.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			arr[i] = FromAny(e)
		}
		return Array(arr)
	case []Value:
		return Array(t)
	case map[string]any:
		m := make(map[string]Value, len(t))
		keys := make([]string, 0, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Object(m, keys)
	case map[string]Value:
		return Object(t, nil)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// ToAny lowers a Value back into a plain Go value (string/float64/bool/
// nil/[]any/map[string]any), the shape a step's output variable is
// stored and re-consumed as.
func (v Value) ToAny() any {
	switch v.Kind {
	case KindNull, KindUndefined:
		return nil
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindArray:
		out := make([]any, len(v.Arr))
		for i, e := range v.Arr {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.Obj))
		for k, e := range v.Obj {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// Truthy implements the spec's truthiness for conditions/`if`/`while`/
// `&&`/`||`/ternary: false, null, undefined, 0, "" and empty
// arrays/objects are falsy; everything else is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull, KindUndefined:
		return false
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num != 0
	case KindString:
		return v.Str != ""
	case KindArray:
		return len(v.Arr) > 0
	case KindObject:
		return len(v.Obj) > 0
	default:
		return false
	}
}

// Stringify renders a Value the way it appears embedded in a larger
// template string (spec §4.1: missing paths stringify to "").
func (v Value) Stringify() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindUndefined:
		return ""
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.Num)
	case KindString:
		return v.Str
	case KindArray:
		parts := make([]string, len(v.Arr))
		for i, e := range v.Arr {
			parts[i] = e.jsonLike()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindObject:
		return v.jsonLike()
	default:
		return ""
	}
}

func (v Value) jsonLike() string {
	switch v.Kind {
	case KindString:
		return strconv.Quote(v.Str)
	case KindArray:
		parts := make([]string, len(v.Arr))
		for i, e := range v.Arr {
			parts[i] = e.jsonLike()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindObject:
		parts := make([]string, 0, len(v.ObjKeys))
		for _, k := range v.ObjKeys {
			parts = append(parts, strconv.Quote(k)+":"+v.Obj[k].jsonLike())
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return v.Stringify()
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Equal implements `==`/`!=` across kinds: numbers compare numerically,
// strings/bools compare directly, null and undefined are equal to each
// other but nothing else, arrays/objects compare deep-structurally.
func Equal(a, b Value) bool {
	if (a.Kind == KindNull || a.Kind == KindUndefined) &&
		(b.Kind == KindNull || b.Kind == KindUndefined) {
		return true
	}
	if a.Kind != b.Kind {
		// Allow number/string coercion-free comparison to fail cleanly.
		return false
	}
	switch a.Kind {
	case KindBool:
		return a.Bool == b.Bool
	case KindNumber:
		return a.Num == b.Num
	case KindString:
		return a.Str == b.Str
	case KindArray:
		if len(a.Arr) != len(b.Arr) {
			return false
		}
		for i := range a.Arr {
			if !Equal(a.Arr[i], b.Arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.Obj) != len(b.Obj) {
			return false
		}
		for k, av := range a.Obj {
			bv, ok := b.Obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// TypeName returns the expression-grammar name of v's kind, used in
// EXPRESSION_ERROR details.
func (v Value) TypeName() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindUndefined:
		return "undefined"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

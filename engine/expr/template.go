package expr

import (
	"fmt"
	"strings"
)

// interpolation describes one `{{ expr }}` span found inside a
// template string, plus the literal text before it.
type interpolation struct {
	prefix string
	expr   string
}

// splitTemplate scans s for `{{ ... }}` spans, returning each literal
// prefix/expression pair in order plus whatever literal text trails
// the last interpolation.
func splitTemplate(s string) (spans []interpolation, trailing string) {
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			trailing = rest
			return
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			trailing = rest
			return
		}
		end += start
		spans = append(spans, interpolation{
			prefix: rest[:start],
			expr:   strings.TrimSpace(rest[start+2 : end]),
		})
		rest = rest[end+2:]
	}
}

// ResolveString evaluates every `{{ expr }}` span in s against scope.
// When s is exactly one interpolation with no surrounding literal text,
// the evaluated Value's native type is preserved (spec §4.1); otherwise
// every span is stringified and spliced back into the surrounding text.
func ResolveString(s string, scope Scope) (Value, error) {
	spans, trailing := splitTemplate(s)
	if len(spans) == 0 {
		return String(s), nil
	}
	if len(spans) == 1 && spans[0].prefix == "" && trailing == "" {
		node, err := Parse(spans[0].expr)
		if err != nil {
			return Value{}, fmt.Errorf("parsing expression %q: %w", spans[0].expr, err)
		}
		return Eval(node, scope)
	}
	var b strings.Builder
	for _, sp := range spans {
		b.WriteString(sp.prefix)
		node, err := Parse(sp.expr)
		if err != nil {
			return Value{}, fmt.Errorf("parsing expression %q: %w", sp.expr, err)
		}
		v, err := Eval(node, scope)
		if err != nil {
			return Value{}, err
		}
		b.WriteString(v.Stringify())
	}
	b.WriteString(trailing)
	return String(b.String()), nil
}

// EvalCondition parses and evaluates a standalone boolean expression,
// the form used by `if`/`while` step conditions (no surrounding `{{ }}`).
func EvalCondition(expr string, scope Scope) (bool, error) {
	node, err := Parse(expr)
	if err != nil {
		return false, fmt.Errorf("parsing condition %q: %w", expr, err)
	}
	v, err := Eval(node, scope)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// Resolve walks an arbitrary JSON-like value (string/number/bool/nil/
// []any/map[string]any, the shape ToolConfig.inputs and step `with`
// blocks are decoded into), interpolating every string leaf that
// contains a `{{ }}` span and returning the walked structure in the
// same shape it was given.
func Resolve(v any, scope Scope) (any, error) {
	switch t := v.(type) {
	case string:
		if !strings.Contains(t, "{{") {
			return t, nil
		}
		resolved, err := ResolveString(t, scope)
		if err != nil {
			return nil, err
		}
		return resolved.ToAny(), nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			r, err := Resolve(e, scope)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			r, err := Resolve(e, scope)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

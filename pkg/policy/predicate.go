package policy

import (
	"fmt"
	"strings"
)

// Predicate is a compiled policy condition. Evaluation is total: it never
// errors and has no side effects. Undefined paths resolve to null; ordered
// comparisons against null are false, equality-with-null holds.
type Predicate struct {
	op     string
	path   []string
	value  any
	values []any
	kids   []Predicate
}

// CompilePredicate compiles the YAML mapping form of a predicate
// (eq/ne/in/gt/gte/lt/lte/exists/all/any/not). Policies are schema-validated
// at load time, so compile errors here are defense-in-depth.
func CompilePredicate(raw map[string]any) (Predicate, error) {
	if len(raw) != 1 {
		return Predicate{}, fmt.Errorf("predicate must have exactly one operator, got %d", len(raw))
	}
	var op string
	var body any
	for k, v := range raw {
		op, body = k, v
	}

	switch op {
	case "eq", "ne", "gt", "gte", "lt", "lte":
		args, ok := body.(map[string]any)
		if !ok {
			return Predicate{}, fmt.Errorf("%s: arguments must be a mapping", op)
		}
		path, err := compilePath(args["path"])
		if err != nil {
			return Predicate{}, fmt.Errorf("%s: %w", op, err)
		}
		value, hasValue := args["value"]
		if !hasValue {
			return Predicate{}, fmt.Errorf("%s: missing value", op)
		}
		if op != "eq" && op != "ne" {
			if _, ok := toNumber(value); !ok {
				return Predicate{}, fmt.Errorf("%s: value must be a number", op)
			}
		}
		return Predicate{op: op, path: path, value: value}, nil

	case "in":
		args, ok := body.(map[string]any)
		if !ok {
			return Predicate{}, fmt.Errorf("in: arguments must be a mapping")
		}
		path, err := compilePath(args["path"])
		if err != nil {
			return Predicate{}, fmt.Errorf("in: %w", err)
		}
		values, ok := args["values"].([]any)
		if !ok {
			return Predicate{}, fmt.Errorf("in: values must be a sequence")
		}
		return Predicate{op: op, path: path, values: values}, nil

	case "exists":
		args, ok := body.(map[string]any)
		if !ok {
			return Predicate{}, fmt.Errorf("exists: arguments must be a mapping")
		}
		path, err := compilePath(args["path"])
		if err != nil {
			return Predicate{}, fmt.Errorf("exists: %w", err)
		}
		return Predicate{op: op, path: path}, nil

	case "all", "any":
		seq, ok := body.([]any)
		if !ok {
			return Predicate{}, fmt.Errorf("%s: body must be a sequence", op)
		}
		kids := make([]Predicate, 0, len(seq))
		for i, rawKid := range seq {
			m, ok := rawKid.(map[string]any)
			if !ok {
				return Predicate{}, fmt.Errorf("%s[%d]: predicate must be a mapping", op, i)
			}
			kid, err := CompilePredicate(m)
			if err != nil {
				return Predicate{}, fmt.Errorf("%s[%d]: %w", op, i, err)
			}
			kids = append(kids, kid)
		}
		return Predicate{op: op, kids: kids}, nil

	case "not":
		m, ok := body.(map[string]any)
		if !ok {
			return Predicate{}, fmt.Errorf("not: predicate must be a mapping")
		}
		kid, err := CompilePredicate(m)
		if err != nil {
			return Predicate{}, fmt.Errorf("not: %w", err)
		}
		return Predicate{op: op, kids: []Predicate{kid}}, nil
	}
	return Predicate{}, fmt.Errorf("unknown predicate operator %q", op)
}

func compilePath(raw any) ([]string, error) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil, fmt.Errorf("missing path")
	}
	parts := strings.Split(s, ".")
	if parts[0] != "request" && parts[0] != "normalized" {
		return nil, fmt.Errorf("path %q must be rooted at request or normalized", s)
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("path %q selects no field", s)
	}
	return parts, nil
}

// Eval evaluates the predicate against the evaluation document
// {"request": ..., "normalized": ...}.
func (p Predicate) Eval(doc map[string]any) bool {
	switch p.op {
	case "eq":
		return valueEqual(resolve(doc, p.path), p.value)
	case "ne":
		return !valueEqual(resolve(doc, p.path), p.value)
	case "in":
		got := resolve(doc, p.path)
		for _, v := range p.values {
			if valueEqual(got, v) {
				return true
			}
		}
		return false
	case "gt", "gte", "lt", "lte":
		got, ok := toNumber(resolve(doc, p.path))
		if !ok {
			return false
		}
		want, ok := toNumber(p.value)
		if !ok {
			return false
		}
		switch p.op {
		case "gt":
			return got > want
		case "gte":
			return got >= want
		case "lt":
			return got < want
		default:
			return got <= want
		}
	case "exists":
		return resolve(doc, p.path) != nil
	case "all":
		for _, kid := range p.kids {
			if !kid.Eval(doc) {
				return false
			}
		}
		return true
	case "any":
		for _, kid := range p.kids {
			if kid.Eval(doc) {
				return true
			}
		}
		return false
	case "not":
		return !p.kids[0].Eval(doc)
	}
	return false
}

// resolve walks a dotted path through nested mappings, returning nil for any
// undefined segment.
func resolve(doc map[string]any, path []string) any {
	var cur any = doc
	for _, part := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// valueEqual compares JSON scalars, treating all numeric representations as
// one numeric domain. Composite values compare by structural equality.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := toNumber(a); ok {
		bn, bok := toNumber(b)
		return bok && an == bn
	}
	switch at := a.(type) {
	case string:
		bs, ok := b.(string)
		return ok && at == bs
	case bool:
		bb, ok := b.(bool)
		return ok && at == bb
	case []any:
		bs, ok := b.([]any)
		if !ok || len(at) != len(bs) {
			return false
		}
		for i := range at {
			if !valueEqual(at[i], bs[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bm, ok := b.(map[string]any)
		if !ok || len(at) != len(bm) {
			return false
		}
		for k, v := range at {
			bv, present := bm[k]
			if !present || !valueEqual(v, bv) {
				return false
			}
		}
		return true
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	}
	return 0, false
}

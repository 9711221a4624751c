package jsonpath

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// evalError is raised for structural problems inside a single leaf
// predicate: unsupported comparisons, deep path segments, operands of the
// wrong kind. The dispatcher catches it and folds the predicate to false so
// a malformed or partially-present document cannot short-circuit the whole
// filter.
type evalError struct {
	reason string
}

func (e *evalError) Error() string {
	return e.reason
}

func evalErrorf(format string, args ...any) *evalError {
	return &evalError{reason: fmt.Sprintf(format, args...)}
}

// evalComposed evaluates a group of connected expressions left-to-right
// with short-circuiting.
func (q *Query) evalComposed(doc any, composed *ComposedPredicate) bool {
	current := false
	for i, expr := range composed.Expressions {
		if i > 0 {
			if expr.Op == LogicalAnd && !current {
				return false
			}
			if expr.Op == LogicalOr && current {
				return true
			}
		}

		var result bool
		switch predicate := expr.Predicate.(type) {
		case *ComposedPredicate:
			result = q.evalComposed(doc, predicate)
		case *Comparison:
			value, err := q.evalComparison(doc, predicate)
			if err != nil {
				log.Debug().Err(err).Msgf("failed to evaluate expression %q", predicate)
				value = false
			}
			result = value
		}

		switch {
		case i == 0:
			current = result
		case expr.Op == LogicalAnd:
			current = current && result
		case expr.Op == LogicalOr:
			current = current || result
		}
	}
	return current
}

func (q *Query) evalComparison(doc any, cmp *Comparison) (bool, error) {
	switch cmp.Op {
	case OpEq:
		return q.compareEquals(doc, cmp)
	case OpNeq:
		equal, err := q.compareEquals(doc, cmp)
		return !equal, err
	case OpGt:
		order, err := q.compareOrder(doc, cmp)
		return order > 0, err
	case OpLte:
		order, err := q.compareOrder(doc, cmp)
		return order <= 0, err
	case OpLt:
		order, err := q.compareOrder(doc, cmp)
		return order < 0, err
	case OpGte:
		order, err := q.compareOrder(doc, cmp)
		return order >= 0, err
	case OpIn:
		return q.containedIn(doc, cmp)
	case OpNin:
		contained, err := q.containedIn(doc, cmp)
		return !contained, err
	case OpAnyOf:
		return q.anyOf(doc, cmp)
	case OpNoneOf:
		matched, err := q.anyOf(doc, cmp)
		return !matched, err
	case OpRegex:
		return false, evalErrorf("regex matching is not implemented")
	default:
		return false, evalErrorf("unknown operator %q", cmp.Op)
	}
}

// resolve descends the shallow segments of path into doc. found is false
// when any segment is missing or descends into a non-object. Deep segments
// raise an evaluation error.
func resolve(doc any, path *PathNode) (value any, found bool, err error) {
	current := doc
	for _, segment := range path.Segments {
		if segment.Deep {
			return nil, false, evalErrorf("deep search of attributes is not supported (segment ..%s)", segment.Name)
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false, nil
		}
		current, ok = obj[segment.Name]
		if !ok {
			return nil, false, nil
		}
	}
	return current, true, nil
}

func (q *Query) compareEquals(doc any, cmp *Comparison) (bool, error) {
	lpath, ok := cmp.Lval.(*PathNode)
	if !ok {
		return false, evalErrorf("value left of %q has to be an attribute path, e.g. @.attr", cmp.Op)
	}
	lval, lfound, err := resolve(doc, lpath)
	if err != nil {
		return false, err
	}

	switch rval := cmp.Rval.(type) {
	case *PathNode:
		rvalue, rfound, err := resolve(doc, rval)
		if err != nil {
			return false, err
		}
		switch {
		case !lfound && !rfound:
			// two absent attributes are not equal
			return false, nil
		case !lfound:
			return rvalue == nil, nil
		case !rfound:
			return lval == nil, nil
		default:
			return jsonEqual(lval, rvalue), nil
		}
	case *StringNode:
		if !lfound {
			return false, nil
		}
		s, ok := lval.(string)
		return ok && s == rval.Value, nil
	case *NumberNode:
		if !lfound {
			return false, nil
		}
		d, ok := toDecimal(lval)
		return ok && d.Equal(rval.Value), nil
	case *NullNode:
		// an absent attribute fulfills the == null condition
		return !lfound || lval == nil, nil
	default:
		return false, nil
	}
}

// compareOrder is defined for textual/textual and numeric/numeric pairs
// only. Numeric ordering deliberately goes through float64, accepting
// precision loss.
func (q *Query) compareOrder(doc any, cmp *Comparison) (int, error) {
	lpath, ok := cmp.Lval.(*PathNode)
	if !ok {
		return 0, evalErrorf("value left of %q has to be an attribute path, e.g. @.attr", cmp.Op)
	}
	lval, lfound, err := resolve(doc, lpath)
	if err != nil {
		return 0, err
	}

	switch rval := cmp.Rval.(type) {
	case *PathNode:
		rvalue, rfound, err := resolve(doc, rval)
		if err != nil {
			return 0, err
		}
		if !lfound || lval == nil || !rfound || rvalue == nil {
			return 0, evalErrorf("unsupported comparison (%v vs. %v)", lval, rvalue)
		}
		return compareValues(lval, rvalue)
	case *StringNode:
		if !lfound {
			return 0, evalErrorf("unsupported comparison (absent attribute vs. %s)", rval)
		}
		s, ok := lval.(string)
		if !ok {
			return 0, evalErrorf("unsupported comparison (non-text value vs. %s)", rval)
		}
		return strings.Compare(s, rval.Value), nil
	case *NumberNode:
		if !lfound {
			return 0, evalErrorf("unsupported comparison (absent attribute vs. %s)", rval)
		}
		f, ok := toFloat(lval)
		if !ok {
			return 0, evalErrorf("unsupported comparison (non-number value vs. %s)", rval)
		}
		return compareFloats(f, rval.Value.InexactFloat64()), nil
	default:
		return 0, evalErrorf("unsupported comparison (%s vs. %s)", cmp.Lval, cmp.Rval)
	}
}

func compareValues(a, b any) (int, error) {
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, evalErrorf("can't compare a text value to a non-text value (%v vs. %v)", a, b)
		}
		return strings.Compare(sa, sb), nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, evalErrorf("can't compare a number value to a non-number value (%v vs. %v)", a, b)
		}
		return compareFloats(fa, fb), nil
	}
	return 0, evalErrorf("unsupported comparison (%v vs. %v)", a, b)
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (q *Query) containedIn(doc any, cmp *Comparison) (bool, error) {
	if _, ok := cmp.Rval.(*NullNode); ok {
		return false, evalErrorf("can't have 'null' to the right of %q (try 'in [null]' or '== null')", cmp.Op)
	}

	switch lval := cmp.Lval.(type) {
	case *PathNode:
		lvalue, lfound, err := resolve(doc, lval)
		if err != nil {
			return false, err
		}
		switch rval := cmp.Rval.(type) {
		case *PathNode:
			rvalue, rfound, err := resolve(doc, rval)
			if err != nil {
				return false, err
			}
			if !lfound && !rfound {
				return true, nil
			}
			if !rfound {
				return false, nil
			}
			array, ok := rvalue.([]any)
			if !ok {
				return false, nil
			}
			if !lfound {
				return false, nil
			}
			for _, item := range array {
				if jsonEqual(item, lvalue) {
					return true, nil
				}
			}
			return false, nil
		case *ListNode:
			if !lfound || lvalue == nil {
				return rval.Contains(&NullNode{}), nil
			}
			node, ok := nodeFromValue(lvalue)
			if !ok {
				log.Trace().Msgf("attribute value %v is not comparable to list literal items", lvalue)
				return false, nil
			}
			return rval.Contains(node), nil
		default:
			return false, evalErrorf("value right of %q has to be an attribute path or a list, e.g. ['a', 'b']", cmp.Op)
		}
	case *StringNode:
		return q.scalarIn(doc, lval, cmp)
	case *NumberNode:
		return q.scalarIn(doc, lval, cmp)
	case *NullNode:
		return q.scalarIn(doc, lval, cmp)
	default:
		return false, evalErrorf("value left of %q has to be an attribute path, a string, a number or null", cmp.Op)
	}
}

// scalarIn checks a literal scalar for membership in the right operand,
// which resolves to a JSON array or is a list literal.
func (q *Query) scalarIn(doc any, scalar Node, cmp *Comparison) (bool, error) {
	switch rval := cmp.Rval.(type) {
	case *PathNode:
		rvalue, rfound, err := resolve(doc, rval)
		if err != nil {
			return false, err
		}
		if !rfound || rvalue == nil {
			return false, nil
		}
		array, ok := rvalue.([]any)
		if !ok {
			// membership in a non-array scalar is false
			return false, nil
		}
		for _, item := range array {
			if scalarEqualsValue(scalar, item) {
				return true, nil
			}
		}
		return false, nil
	case *ListNode:
		return rval.Contains(scalar), nil
	default:
		return false, evalErrorf("value right of %q has to be an attribute path or a list, e.g. ['a', 'b']", cmp.Op)
	}
}

func (q *Query) anyOf(doc any, cmp *Comparison) (bool, error) {
	opname := cmp.Op.String()

	list, ok := cmp.Rval.(*ListNode)
	if !ok {
		return false, evalErrorf("value right of %q has to be a list, e.g. ['a', 'b']", opname)
	}
	lpath, ok := cmp.Lval.(*PathNode)
	if !ok {
		return false, evalErrorf("value left of %q has to be an attribute path, e.g. @.attr", opname)
	}

	lvalue, lfound, err := resolve(doc, lpath)
	if err != nil {
		return false, err
	}
	if !lfound || lvalue == nil {
		return false, nil
	}
	array, ok := lvalue.([]any)
	if !ok {
		return false, nil
	}

	for _, item := range array {
		node, ok := nodeFromValue(item)
		if !ok {
			continue
		}
		if list.Contains(node) {
			return true, nil
		}
	}
	return false, nil
}

// scalarEqualsValue compares a literal operand to a decoded JSON value
// under the operand's natural equality.
func scalarEqualsValue(scalar Node, value any) bool {
	switch want := scalar.(type) {
	case *StringNode:
		s, ok := value.(string)
		return ok && s == want.Value
	case *NumberNode:
		d, ok := toDecimal(value)
		return ok && d.Equal(want.Value)
	case *NullNode:
		return value == nil
	default:
		return false
	}
}

// nodeFromValue converts a decoded scalar JSON value into the matching
// operand node. Objects, arrays and booleans have no operand form.
func nodeFromValue(value any) (Node, bool) {
	if value == nil {
		return &NullNode{}, true
	}
	if s, ok := value.(string); ok {
		return &StringNode{Value: s}, true
	}
	if d, ok := toDecimal(value); ok {
		return &NumberNode{Value: d}, true
	}
	return nil, false
}

// jsonEqual is deep JSON equality over decoded documents. Numbers compare
// by decimal value so 1, 1.0 and 1e0 are equal regardless of how the
// document spelled them.
func jsonEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if da, ok := toDecimal(a); ok {
		db, ok := toDecimal(b)
		return ok && da.Equal(db)
	}

	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		return ok && va == vb
	case bool:
		vb, ok := b.(bool)
		return ok && va == vb
	case []any:
		vb, ok := b.([]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !jsonEqual(va[i], vb[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		vb, ok := b.(map[string]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for key, item := range va {
			other, ok := vb[key]
			if !ok || !jsonEqual(item, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	default:
		return decimal.Decimal{}, false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

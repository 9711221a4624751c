package jsonpath

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Logical connects an expression to the running result of its group.
type Logical int

const (
	// LogicalNone marks the first expression of a group.
	LogicalNone Logical = iota
	LogicalAnd
	LogicalOr
)

func (l Logical) String() string {
	switch l {
	case LogicalAnd:
		return "and"
	case LogicalOr:
		return "or"
	default:
		return ""
	}
}

// Operator is a comparison operator of a leaf predicate.
type Operator int

const (
	OpEq Operator = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpIn
	OpNin
	OpAnyOf
	OpNoneOf
	// OpRegex ('=~') is recognised by the tokenizer but rejected by the
	// parser; regex matching is not supported.
	OpRegex
)

func (o Operator) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNeq:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpIn:
		return "in"
	case OpNin:
		return "nin"
	case OpAnyOf:
		return "anyof"
	case OpNoneOf:
		return "noneof"
	case OpRegex:
		return "=~"
	default:
		return "?"
	}
}

// Node is an operand of a leaf predicate.
type Node interface {
	String() string
	operandNode()
}

// PathSegment is one step of an attribute path. Deep segments ('..name')
// parse but are rejected during evaluation.
type PathSegment struct {
	Name string
	Deep bool
}

// PathNode is an attribute path such as '@.realm_access.roles'.
type PathNode struct {
	Segments []PathSegment
}

func (n *PathNode) operandNode() {}

func (n *PathNode) String() string {
	var b strings.Builder
	b.WriteString("@")
	for _, segment := range n.Segments {
		if segment.Deep {
			b.WriteString("..")
		} else {
			b.WriteString(".")
		}
		b.WriteString(segment.Name)
	}
	return b.String()
}

type StringNode struct {
	Value string
}

func (n *StringNode) operandNode() {}

func (n *StringNode) String() string {
	return "'" + n.Value + "'"
}

// NumberNode holds a decimal literal at arbitrary precision.
type NumberNode struct {
	Value decimal.Decimal
}

func (n *NumberNode) operandNode() {}

func (n *NumberNode) String() string {
	return n.Value.String()
}

type NullNode struct{}

func (n *NullNode) operandNode() {}

func (n *NullNode) String() string {
	return "null"
}

// ListNode is a literal list of operands, e.g. ['a', 'b', null].
type ListNode struct {
	Items []Node
}

func (n *ListNode) operandNode() {}

func (n *ListNode) String() string {
	var b strings.Builder
	b.WriteString("[")
	for i, item := range n.Items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(item.String())
	}
	b.WriteString("]")
	return b.String()
}

// Contains reports whether the list holds an item equal to node under the
// operand's natural equality: strings by characters, numbers by decimal
// value, null by kind.
func (n *ListNode) Contains(node Node) bool {
	for _, item := range n.Items {
		switch want := node.(type) {
		case *StringNode:
			if s, ok := item.(*StringNode); ok && s.Value == want.Value {
				return true
			}
		case *NumberNode:
			if num, ok := item.(*NumberNode); ok && num.Value.Equal(want.Value) {
				return true
			}
		case *NullNode:
			if _, ok := item.(*NullNode); ok {
				return true
			}
		}
	}
	return false
}

// PredicateNode is either a leaf comparison or a parenthesized group.
type PredicateNode interface {
	String() string
	predicateNode()
}

// Expression is one element of a composed predicate: the connector to the
// running result, and the predicate itself.
type Expression struct {
	Op        Logical
	Predicate PredicateNode
}

func (e Expression) String() string {
	if e.Op == LogicalNone {
		return e.Predicate.String()
	}
	return e.Op.String() + " " + e.Predicate.String()
}

// ComposedPredicate is a non-empty sequence of connected expressions.
type ComposedPredicate struct {
	Expressions []Expression
}

func (n *ComposedPredicate) predicateNode() {}

func (n *ComposedPredicate) String() string {
	parts := make([]string, 0, len(n.Expressions))
	for _, expr := range n.Expressions {
		parts = append(parts, expr.String())
	}
	return strings.Join(parts, " ")
}

// Comparison is a leaf predicate (lval op rval).
type Comparison struct {
	Lval Node
	Op   Operator
	Rval Node
}

func (n *Comparison) predicateNode() {}

func (n *Comparison) String() string {
	return n.Lval.String() + " " + n.Op.String() + " " + n.Rval.String()
}

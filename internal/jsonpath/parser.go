package jsonpath

import (
	"strings"

	"github.com/shopspring/decimal"
)

type parser struct {
	lex    *lexer
	tok    token
	peeked bool
}

func (p *parser) peek() (token, error) {
	if !p.peeked {
		tok, err := p.lex.next()
		if err != nil {
			return token{}, err
		}
		p.tok = tok
		p.peeked = true
	}
	return p.tok, nil
}

func (p *parser) advance() (token, error) {
	tok, err := p.peek()
	if err != nil {
		return token{}, err
	}
	p.peeked = false
	return tok, nil
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok, err := p.advance()
	if err != nil {
		return token{}, err
	}
	if tok.kind != kind {
		return token{}, parseErrorf(tok.pos, "expected %s, got %q", what, tok.text)
	}
	return tok, nil
}

// parseQuery parses the full query form:
//
//	[ '$' ] '[' '?' '(' Composed ')' ']'
func (p *parser) parseQuery() (*ComposedPredicate, error) {
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.kind == tokenDollar {
		if _, err := p.advance(); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(tokenLBracket, "'['"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenQuestion, "'?'"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenLParen, "'('"); err != nil {
		return nil, err
	}

	composed, err := p.parseComposed()
	if err != nil {
		return nil, err
	}

	if _, err := p.expect(tokenRParen, "')'"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenRBracket, "']'"); err != nil {
		return nil, err
	}
	if tok, err = p.advance(); err != nil {
		return nil, err
	}
	if tok.kind != tokenEOF {
		return nil, parseErrorf(tok.pos, "unexpected trailing input %q", tok.text)
	}
	return composed, nil
}

func (p *parser) parseComposed() (*ComposedPredicate, error) {
	first, err := p.parseExpressionPredicate()
	if err != nil {
		return nil, err
	}

	composed := &ComposedPredicate{
		Expressions: []Expression{{Op: LogicalNone, Predicate: first}},
	}

	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		var logical Logical
		switch {
		case tok.kind == tokenWord && tok.text == "and":
			logical = LogicalAnd
		case tok.kind == tokenWord && tok.text == "or":
			logical = LogicalOr
		default:
			return composed, nil
		}
		if _, err := p.advance(); err != nil {
			return nil, err
		}

		predicate, err := p.parseExpressionPredicate()
		if err != nil {
			return nil, err
		}
		composed.Expressions = append(composed.Expressions, Expression{Op: logical, Predicate: predicate})
	}
}

func (p *parser) parseExpressionPredicate() (PredicateNode, error) {
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}

	if tok.kind == tokenLParen {
		if _, err := p.advance(); err != nil {
			return nil, err
		}
		composed, err := p.parseComposed()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}
		return composed, nil
	}

	return p.parseComparison()
}

func (p *parser) parseComparison() (*Comparison, error) {
	lval, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	opTok, err := p.advance()
	if err != nil {
		return nil, err
	}
	op, ok := operatorFromToken(opTok)
	if !ok {
		return nil, parseErrorf(opTok.pos, "expected a comparison operator, got %q", opTok.text)
	}
	if op == OpRegex {
		return nil, parseErrorf(opTok.pos, "the '=~' operator is not supported")
	}

	rval, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	return &Comparison{Lval: lval, Op: op, Rval: rval}, nil
}

func operatorFromToken(tok token) (Operator, bool) {
	switch tok.kind {
	case tokenOperator:
		switch tok.text {
		case "==":
			return OpEq, true
		case "!=":
			return OpNeq, true
		case "<":
			return OpLt, true
		case "<=":
			return OpLte, true
		case ">":
			return OpGt, true
		case ">=":
			return OpGte, true
		case "=~":
			return OpRegex, true
		}
	case tokenWord:
		switch tok.text {
		case "in":
			return OpIn, true
		case "nin":
			return OpNin, true
		case "anyof":
			return OpAnyOf, true
		case "noneof":
			return OpNoneOf, true
		}
	}
	return 0, false
}

func (p *parser) parseOperand() (Node, error) {
	tok, err := p.advance()
	if err != nil {
		return nil, err
	}

	switch tok.kind {
	case tokenPath:
		return &PathNode{Segments: tok.segments}, nil
	case tokenString:
		return &StringNode{Value: tok.text}, nil
	case tokenNumber:
		value, err := decimal.NewFromString(tok.text)
		if err != nil {
			return nil, parseErrorf(tok.pos, "malformed number literal %q", tok.text)
		}
		return &NumberNode{Value: value}, nil
	case tokenWord:
		if tok.text == "null" {
			return &NullNode{}, nil
		}
		return nil, parseErrorf(tok.pos, "unexpected word %q (expected an operand)", tok.text)
	case tokenLBracket:
		return p.parseList(tok.pos)
	default:
		return nil, parseErrorf(tok.pos, "expected an operand, got %q", tok.text)
	}
}

func (p *parser) parseList(startPos int) (*ListNode, error) {
	list := &ListNode{}
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokenRBracket {
			if _, err := p.advance(); err != nil {
				return nil, err
			}
			return list, nil
		}

		if len(list.Items) > 0 {
			if _, err := p.expect(tokenComma, "','"); err != nil {
				return nil, err
			}
		}

		if tok, err = p.peek(); err != nil {
			return nil, err
		}
		if tok.kind == tokenLBracket {
			return nil, parseErrorf(tok.pos, "nested lists are not supported")
		}
		if tok.kind == tokenEOF {
			return nil, parseErrorf(startPos, "unterminated list")
		}

		item, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)
	}
}

// matchAllQuery is the degenerate query form that matches every document.
const matchAllQuery = "@.*"

func isMatchAll(query string) bool {
	return strings.TrimSpace(query) == matchAllQuery
}

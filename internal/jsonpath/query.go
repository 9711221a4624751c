// Package jsonpath implements the JsonPath-style filter query language used
// to validate JWT payloads during authentication, e.g.:
//
//	$[?(@.iss == 'https://auth.example.com/' and 'kafka' in @.aud)]
//
// A parsed Query is immutable and safe for concurrent use; evaluation state
// is stack-local.
package jsonpath

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Query is a parsed filter query.
type Query struct {
	source   string
	matchAll bool
	root     *ComposedPredicate
}

// Parse parses a filter query. The accepted forms are '@.*' (matches every
// document), '$[?( ... )]' and '[?( ... )]'. A *ParseError describes the
// position and reason of any grammar violation.
func Parse(query string) (*Query, error) {
	if isMatchAll(query) {
		return &Query{source: strings.TrimSpace(query), matchAll: true}, nil
	}

	p := &parser{lex: &lexer{input: query}}
	root, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	return &Query{source: strings.TrimSpace(query), root: root}, nil
}

// Matches evaluates the query against a decoded JSON document, as produced
// by encoding/json unmarshalling into any (ideally with UseNumber so that
// numeric equality keeps full precision).
func (q *Query) Matches(doc any) bool {
	if q.matchAll {
		return true
	}
	return q.evalComposed(doc, q.root)
}

// MatchesJSON decodes raw JSON (numbers kept at full precision) and
// evaluates the query against it.
func (q *Query) MatchesJSON(raw []byte) (bool, error) {
	doc, err := DecodeJSON(raw)
	if err != nil {
		return false, err
	}
	return q.Matches(doc), nil
}

func (q *Query) String() string {
	return q.source
}

// DecodeJSON unmarshals a JSON document preserving numeric precision
// (numbers decode to json.Number).
func DecodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding JSON document: %w", err)
	}
	return doc, nil
}

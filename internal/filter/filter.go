// Package filter parses and evaluates the boolean expressions accepted by
// the store's query and delete operations, e.g.
//
//	city == "Lyon" and (price < 200000 or type in ["Maison"])
//
// Comparisons are typed by column: numeric columns compare numerically,
// sale_date compares chronologically, everything else as strings. A record
// with a null value in the compared column never matches, whatever the
// operator.
package filter

import (
	"fmt"
	"strconv"
	"strings"

	"immopipe/internal/models"
)

// Filter is a parsed expression ready for evaluation.
type Filter struct {
	root expr
	text string
}

// Parse compiles the expression or returns a descriptive error. Column
// names are validated against the canonical schema at parse time.
func Parse(input string) (*Filter, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("empty filter expression")
	}
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", tok.text, tok.pos)
	}
	return &Filter{root: root, text: input}, nil
}

// Matches evaluates the filter against a single record.
func (f *Filter) Matches(rec *models.PropertyRecord) bool {
	return f.root.eval(rec)
}

func (f *Filter) String() string {
	return f.text
}

type expr interface {
	eval(rec *models.PropertyRecord) bool
}

type andExpr struct{ left, right expr }

func (e andExpr) eval(rec *models.PropertyRecord) bool {
	return e.left.eval(rec) && e.right.eval(rec)
}

type orExpr struct{ left, right expr }

func (e orExpr) eval(rec *models.PropertyRecord) bool {
	return e.left.eval(rec) || e.right.eval(rec)
}

type notExpr struct{ inner expr }

func (e notExpr) eval(rec *models.PropertyRecord) bool {
	return !e.inner.eval(rec)
}

type comparison struct {
	column string
	op     string
	value  string
}

func (e comparison) eval(rec *models.PropertyRecord) bool {
	raw, ok := rec.ColumnValue(e.column)
	if !ok || raw == "" {
		return false
	}

	switch {
	case models.IsNumericColumn(e.column):
		left, lerr := strconv.ParseFloat(raw, 64)
		right, rerr := strconv.ParseFloat(e.value, 64)
		if lerr != nil || rerr != nil {
			return false
		}
		return compareFloats(left, right, e.op)
	case models.IsDateColumn(e.column):
		left, lerr := models.ParseDate(raw)
		right, rerr := models.ParseDate(e.value)
		if lerr != nil || rerr != nil {
			return false
		}
		switch e.op {
		case "==":
			return left.Equal(right)
		case "!=":
			return !left.Equal(right)
		case "<":
			return left.Before(right)
		case "<=":
			return !left.After(right)
		case ">":
			return left.After(right)
		case ">=":
			return !left.Before(right)
		}
		return false
	default:
		return compareStrings(raw, e.value, e.op)
	}
}

type inExpr struct {
	column string
	values []string
}

func (e inExpr) eval(rec *models.PropertyRecord) bool {
	raw, ok := rec.ColumnValue(e.column)
	if !ok || raw == "" {
		return false
	}
	numeric := models.IsNumericColumn(e.column)
	for _, v := range e.values {
		if numeric {
			left, lerr := strconv.ParseFloat(raw, 64)
			right, rerr := strconv.ParseFloat(v, 64)
			if lerr == nil && rerr == nil && left == right {
				return true
			}
			continue
		}
		if raw == v {
			return true
		}
	}
	return false
}

func compareFloats(left, right float64, op string) bool {
	switch op {
	case "==":
		return left == right
	case "!=":
		return left != right
	case "<":
		return left < right
	case "<=":
		return left <= right
	case ">":
		return left > right
	case ">=":
		return left >= right
	}
	return false
}

func compareStrings(left, right, op string) bool {
	switch op {
	case "==":
		return left == right
	case "!=":
		return left != right
	case "<":
		return left < right
	case "<=":
		return left <= right
	case ">":
		return left > right
	case ">=":
		return left >= right
	}
	return false
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	if p.pos >= len(p.tokens) {
		return token{kind: tokEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().isKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().isKeyword("and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.peek().isKeyword("not") {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (expr, error) {
	tok := p.peek()

	if tok.kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at position %d", closing.pos)
		}
		return inner, nil
	}

	if tok.kind != tokIdent {
		return nil, fmt.Errorf("expected column name, got %q at position %d", tok.text, tok.pos)
	}
	column := p.next()
	if !models.IsCanonicalColumn(column.text) {
		return nil, fmt.Errorf("unknown column %q at position %d", column.text, column.pos)
	}

	if p.peek().isKeyword("in") {
		p.next()
		values, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return inExpr{column: column.text, values: values}, nil
	}

	op := p.next()
	if op.kind != tokOp {
		return nil, fmt.Errorf("expected comparison operator after %q, got %q at position %d",
			column.text, op.text, op.pos)
	}

	value := p.next()
	if value.kind != tokString && value.kind != tokNumber && value.kind != tokIdent {
		return nil, fmt.Errorf("expected value after %q, got %q at position %d",
			op.text, value.text, value.pos)
	}

	normalized := op.text
	if normalized == "=" {
		normalized = "=="
	}
	return comparison{column: column.text, op: normalized, value: value.text}, nil
}

func (p *parser) parseList() ([]string, error) {
	if open := p.next(); open.kind != tokLBracket {
		return nil, fmt.Errorf("expected '[' after 'in' at position %d", open.pos)
	}

	var values []string
	for {
		tok := p.next()
		switch tok.kind {
		case tokString, tokNumber, tokIdent:
			values = append(values, tok.text)
		case tokRBracket:
			if len(values) == 0 {
				return values, nil
			}
			return nil, fmt.Errorf("expected value before ']' at position %d", tok.pos)
		default:
			return nil, fmt.Errorf("expected value in list, got %q at position %d", tok.text, tok.pos)
		}

		sep := p.next()
		if sep.kind == tokRBracket {
			return values, nil
		}
		if sep.kind != tokComma {
			return nil, fmt.Errorf("expected ',' or ']' in list at position %d", sep.pos)
		}
	}
}

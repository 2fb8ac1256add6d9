package storage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
)

// The filter grammar accepted over scalar columns:
//
//	expr      := andExpr (OR andExpr)*
//	andExpr   := unary (AND unary)*
//	unary     := NOT unary | '(' expr ')' | predicate
//	predicate := field '=' literal | field '!=' literal
//	           | field '<' literal | field '<=' literal
//	           | field IN '(' literal (',' literal)* ')'
//	           | field LIKE string
//	           | field IS [NOT] NULL
//
// The operator set is closed: greater-than comparisons and anything outside
// the list above fail with FilterParseError.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp     // = != < <=
	tokLParen
	tokRParen
	tokComma
	tokKeyword // AND OR NOT IN LIKE IS NULL
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && (l.input[l.pos] == ' ' || l.input[l.pos] == '\t' || l.input[l.pos] == '\n') {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	c := l.input[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case c == '=':
		l.pos++
		return token{kind: tokOp, text: "=", pos: start}, nil
	case c == '!':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '=' {
			l.pos += 2
			return token{kind: tokOp, text: "!=", pos: start}, nil
		}
		return token{}, &models.FilterParseError{Pos: start, Token: "!", Reason: "expected !="}
	case c == '<':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '=' {
			l.pos += 2
			return token{kind: tokOp, text: "<=", pos: start}, nil
		}
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '>' {
			return token{}, &models.FilterParseError{Pos: start, Token: "<>", Reason: "operator not supported, use !="}
		}
		l.pos++
		return token{kind: tokOp, text: "<", pos: start}, nil
	case c == '>':
		tok := ">"
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '=' {
			tok = ">="
		}
		return token{}, &models.FilterParseError{Pos: start, Token: tok,
			Reason: "greater-than operators are not supported"}
	case c == '\'':
		l.pos++
		var sb strings.Builder
		for l.pos < len(l.input) {
			if l.input[l.pos] == '\'' {
				// doubled quote escapes a literal quote
				if l.pos+1 < len(l.input) && l.input[l.pos+1] == '\'' {
					sb.WriteByte('\'')
					l.pos += 2
					continue
				}
				l.pos++
				return token{kind: tokString, text: sb.String(), pos: start}, nil
			}
			sb.WriteByte(l.input[l.pos])
			l.pos++
		}
		return token{}, &models.FilterParseError{Pos: start, Reason: "unterminated string literal"}
	case c >= '0' && c <= '9' || c == '-':
		l.pos++
		for l.pos < len(l.input) && (l.input[l.pos] >= '0' && l.input[l.pos] <= '9' || l.input[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokNumber, text: l.input[start:l.pos], pos: start}, nil
	case isIdentStart(c):
		l.pos++
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		text := l.input[start:l.pos]
		switch strings.ToUpper(text) {
		case "AND", "OR", "NOT", "IN", "LIKE", "IS", "NULL":
			return token{kind: tokKeyword, text: strings.ToUpper(text), pos: start}, nil
		}
		return token{kind: tokIdent, text: text, pos: start}, nil
	default:
		return token{}, &models.FilterParseError{Pos: start, Token: string(c), Reason: "unexpected character"}
	}
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '.'
}

// FilterExpr is a parsed filter expression.
type FilterExpr interface {
	// Eval evaluates the expression against row i of the batch.
	Eval(b *schema.Batch, i int) bool
	// fields appends every column referenced by the expression.
	fields(out map[string]bool)
}

// FilterFields returns the set of columns referenced by the expression.
func FilterFields(e FilterExpr) []string {
	set := make(map[string]bool)
	e.fields(set)
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	return out
}

type binaryExpr struct {
	op          string // = != < <=
	field       string
	value       literal
}

type andExpr struct{ left, right FilterExpr }
type orExpr struct{ left, right FilterExpr }
type notExpr struct{ inner FilterExpr }

type inExpr struct {
	field  string
	values []literal
}

type likeExpr struct {
	field   string
	pattern *regexp.Regexp
	raw     string
}

type nullExpr struct {
	field  string
	negate bool // IS NOT NULL
}

type literal struct {
	str      string
	num      float64
	isNumber bool
}

func (e *andExpr) Eval(b *schema.Batch, i int) bool { return e.left.Eval(b, i) && e.right.Eval(b, i) }
func (e *orExpr) Eval(b *schema.Batch, i int) bool  { return e.left.Eval(b, i) || e.right.Eval(b, i) }
func (e *notExpr) Eval(b *schema.Batch, i int) bool { return !e.inner.Eval(b, i) }

func (e *andExpr) fields(out map[string]bool) { e.left.fields(out); e.right.fields(out) }
func (e *orExpr) fields(out map[string]bool)  { e.left.fields(out); e.right.fields(out) }
func (e *notExpr) fields(out map[string]bool) { e.inner.fields(out) }

func (e *binaryExpr) fields(out map[string]bool) { out[e.field] = true }
func (e *inExpr) fields(out map[string]bool)     { out[e.field] = true }
func (e *likeExpr) fields(out map[string]bool)   { out[e.field] = true }
func (e *nullExpr) fields(out map[string]bool)   { out[e.field] = true }

func (e *binaryExpr) Eval(b *schema.Batch, i int) bool {
	v, ok := b.Value(e.field, i)
	if !ok {
		return false
	}
	return anyElement(v, func(s string, isNull bool) bool {
		if isNull {
			return false
		}
		return compare(e.op, s, e.value)
	})
}

func (e *inExpr) Eval(b *schema.Batch, i int) bool {
	v, ok := b.Value(e.field, i)
	if !ok {
		return false
	}
	return anyElement(v, func(s string, isNull bool) bool {
		if isNull {
			return false
		}
		for _, lit := range e.values {
			if compare("=", s, lit) {
				return true
			}
		}
		return false
	})
}

func (e *likeExpr) Eval(b *schema.Batch, i int) bool {
	v, ok := b.Value(e.field, i)
	if !ok {
		return false
	}
	return anyElement(v, func(s string, isNull bool) bool {
		return !isNull && e.pattern.MatchString(s)
	})
}

func (e *nullExpr) Eval(b *schema.Batch, i int) bool {
	v, ok := b.Value(e.field, i)
	if !ok {
		return !e.negate
	}
	isNull := true
	anyElement(v, func(s string, null bool) bool {
		if !null {
			isNull = false
		}
		return false
	})
	if e.negate {
		return !isNull
	}
	return isNull
}

// anyElement applies pred across the value: scalar values are a single
// element, list fields match if any element satisfies the predicate. Empty
// strings and nil pointers are NULL.
func anyElement(v any, pred func(s string, isNull bool) bool) bool {
	switch val := v.(type) {
	case string:
		return pred(val, val == "")
	case *int:
		if val == nil {
			return pred("", true)
		}
		return pred(strconv.Itoa(*val), false)
	case []string:
		if len(val) == 0 {
			return pred("", true)
		}
		for _, s := range val {
			if pred(s, s == "") {
				return true
			}
		}
		return false
	default:
		return pred("", true)
	}
}

func compare(op, fieldValue string, lit literal) bool {
	if lit.isNumber {
		fv, err := strconv.ParseFloat(fieldValue, 64)
		if err == nil {
			switch op {
			case "=":
				return fv == lit.num
			case "!=":
				return fv != lit.num
			case "<":
				return fv < lit.num
			case "<=":
				return fv <= lit.num
			}
			return false
		}
		// non-numeric field value against a number literal: fall through
		// to string comparison against the literal's text
	}
	switch op {
	case "=":
		return fieldValue == lit.str
	case "!=":
		return fieldValue != lit.str
	case "<":
		return fieldValue < lit.str
	case "<=":
		return fieldValue <= lit.str
	}
	return false
}

// likeToRegexp compiles a SQL LIKE pattern (% and _ wildcards) into an
// anchored regular expression.
func likeToRegexp(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

type parser struct {
	lex  *lexer
	cur  token
	prev token
}

// ParseFilter parses a filter expression and checks every referenced column
// is a filterable scalar of the schema. An empty expression returns nil.
func ParseFilter(input string) (FilterExpr, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	p := &parser{lex: &lexer{input: input}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, &models.FilterParseError{Pos: p.cur.pos, Token: p.cur.text,
			Reason: "unexpected trailing input"}
	}
	for _, f := range FilterFields(expr) {
		if !schema.IsFilterable(f) {
			if schema.BlobColumns[f] {
				return nil, &models.FilterParseError{Pos: 0, Token: f,
					Reason: "blob columns cannot appear in a filter"}
			}
			return nil, &models.FilterParseError{Pos: 0, Token: f,
				Reason: fmt.Sprintf("unknown or non-filterable column %q", f)}
		}
	}
	return expr, nil
}

func (p *parser) advance() error {
	p.prev = p.cur
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) parseOr() (FilterExpr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokKeyword && p.cur.text == "OR" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (FilterExpr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokKeyword && p.cur.text == "AND" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (FilterExpr, error) {
	if p.cur.kind == tokKeyword && p.cur.text == "NOT" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	if p.cur.kind == tokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, &models.FilterParseError{Pos: p.cur.pos, Token: p.cur.text,
				Reason: "expected closing parenthesis"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() (FilterExpr, error) {
	if p.cur.kind != tokIdent {
		return nil, &models.FilterParseError{Pos: p.cur.pos, Token: p.cur.text,
			Reason: "expected a column name"}
	}
	field := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	switch {
	case p.cur.kind == tokOp:
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{op: op, field: field, value: lit}, nil
	case p.cur.kind == tokKeyword && p.cur.text == "IN":
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tokLParen {
			return nil, &models.FilterParseError{Pos: p.cur.pos, Token: p.cur.text,
				Reason: "expected ( after IN"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		var values []literal
		for {
			lit, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			values = append(values, lit)
			if p.cur.kind == tokComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if p.cur.kind != tokRParen {
			return nil, &models.FilterParseError{Pos: p.cur.pos, Token: p.cur.text,
				Reason: "expected ) closing IN list"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &inExpr{field: field, values: values}, nil
	case p.cur.kind == tokKeyword && p.cur.text == "LIKE":
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tokString {
			return nil, &models.FilterParseError{Pos: p.cur.pos, Token: p.cur.text,
				Reason: "LIKE requires a string pattern"}
		}
		re, err := likeToRegexp(p.cur.text)
		if err != nil {
			return nil, &models.FilterParseError{Pos: p.cur.pos, Token: p.cur.text,
				Reason: "invalid LIKE pattern"}
		}
		expr := &likeExpr{field: field, pattern: re, raw: p.cur.text}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return expr, nil
	case p.cur.kind == tokKeyword && p.cur.text == "IS":
		if err := p.advance(); err != nil {
			return nil, err
		}
		negate := false
		if p.cur.kind == tokKeyword && p.cur.text == "NOT" {
			negate = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if p.cur.kind != tokKeyword || p.cur.text != "NULL" {
			return nil, &models.FilterParseError{Pos: p.cur.pos, Token: p.cur.text,
				Reason: "expected NULL"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &nullExpr{field: field, negate: negate}, nil
	default:
		return nil, &models.FilterParseError{Pos: p.cur.pos, Token: p.cur.text,
			Reason: "expected an operator (=, !=, <, <=, IN, LIKE, IS)"}
	}
}

func (p *parser) parseLiteral() (literal, error) {
	switch p.cur.kind {
	case tokString:
		lit := literal{str: p.cur.text}
		if err := p.advance(); err != nil {
			return literal{}, err
		}
		return lit, nil
	case tokNumber:
		n, err := strconv.ParseFloat(p.cur.text, 64)
		if err != nil {
			return literal{}, &models.FilterParseError{Pos: p.cur.pos, Token: p.cur.text,
				Reason: "invalid number"}
		}
		lit := literal{str: p.cur.text, num: n, isNumber: true}
		if err := p.advance(); err != nil {
			return literal{}, err
		}
		return lit, nil
	default:
		return literal{}, &models.FilterParseError{Pos: p.cur.pos, Token: p.cur.text,
			Reason: "expected a literal"}
	}
}

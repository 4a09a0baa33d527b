// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package formula

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// ErrSyntax is returned for formula text that cannot be parsed.
var ErrSyntax = errors.New("formula syntax error")

// Parser turns cell text into a tree.
type Parser interface {
	Parse(text string) (Node, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(text string) (Node, error)

// Parse implements Parser.
func (f ParserFunc) Parse(text string) (Node, error) { return f(text) }

// DefaultParser is the built-in Parser.
var DefaultParser Parser = ParserFunc(Parse)

// Parse parses cell text.
//
// Description:
//
//	Text starting with "=" is an expression. Anything else is a literal:
//	a number, TRUE/FALSE, or text.
//
// Inputs:
//
//	text - Cell text as typed, for example "=B2+1" or "5".
//
// Outputs:
//
//	Node - The tree. Never nil when error is nil.
//	error - Wraps ErrSyntax with the failing position.
func Parse(text string) (Node, error) {
	if !strings.HasPrefix(text, "=") {
		return parseLiteral(text), nil
	}
	p := &parser{src: text[1:]}
	p.next()
	n, err := p.expression()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %q", p.tok.text)
	}
	return n, nil
}

func parseLiteral(text string) Node {
	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		if v, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return Number{Value: v}
		}
	}
	switch strings.ToUpper(trimmed) {
	case "TRUE":
		return Boolean{Value: true}
	case "FALSE":
		return Boolean{Value: false}
	}
	return Text{Value: text}
}

// =============================================================================
// Lexer
// =============================================================================

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOperator
	tokLParen
	tokRParen
	tokComma
	tokColon
	tokInvalid
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type parser struct {
	src string
	pos int
	tok token
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at %d: %s", ErrSyntax, p.tok.pos+1, fmt.Sprintf(format, args...))
}

func (p *parser) next() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}
	c := p.src[p.pos]
	switch {
	case c >= '0' && c <= '9' || c == '.':
		p.pos++
		for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
			p.pos++
		}
		if p.pos < len(p.src) && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') {
			p.pos++
			if p.pos < len(p.src) && (p.src[p.pos] == '+' || p.src[p.pos] == '-') {
				p.pos++
			}
			for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
				p.pos++
			}
		}
		p.tok = token{kind: tokNumber, text: p.src[start:p.pos], pos: start}
	case c == '"':
		var sb strings.Builder
		p.pos++
		for {
			if p.pos >= len(p.src) {
				p.tok = token{kind: tokInvalid, text: "unterminated string", pos: start}
				return
			}
			if p.src[p.pos] == '"' {
				if p.pos+1 < len(p.src) && p.src[p.pos+1] == '"' {
					sb.WriteByte('"')
					p.pos += 2
					continue
				}
				p.pos++
				break
			}
			sb.WriteByte(p.src[p.pos])
			p.pos++
		}
		p.tok = token{kind: tokString, text: sb.String(), pos: start}
	case c == '$' || c == '_' || unicode.IsLetter(rune(c)):
		p.pos++
		for p.pos < len(p.src) && isIdent(p.src[p.pos]) {
			p.pos++
		}
		p.tok = token{kind: tokIdent, text: p.src[start:p.pos], pos: start}
	case c == '(':
		p.pos++
		p.tok = token{kind: tokLParen, text: "(", pos: start}
	case c == ')':
		p.pos++
		p.tok = token{kind: tokRParen, text: ")", pos: start}
	case c == ',':
		p.pos++
		p.tok = token{kind: tokComma, text: ",", pos: start}
	case c == ':':
		p.pos++
		p.tok = token{kind: tokColon, text: ":", pos: start}
	case c == '<' || c == '>':
		p.pos++
		if p.pos < len(p.src) && (p.src[p.pos] == '=' || (c == '<' && p.src[p.pos] == '>')) {
			p.pos++
		}
		p.tok = token{kind: tokOperator, text: p.src[start:p.pos], pos: start}
	case strings.IndexByte("+-*/^&=", c) >= 0:
		p.pos++
		p.tok = token{kind: tokOperator, text: string(c), pos: start}
	default:
		p.pos++
		p.tok = token{kind: tokOperator, text: string(c), pos: start}
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdent(c byte) bool {
	return c == '$' || c == '_' || c == '.' || isDigit(c) || unicode.IsLetter(rune(c))
}

// =============================================================================
// Grammar
// =============================================================================

func (p *parser) expression() (Node, error) { return p.comparison() }

func (p *parser) binaryLevel(ops []Operator, operand func() (Node, error)) (Node, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOperator && containsOp(ops, Operator(p.tok.text)) {
		op := Operator(p.tok.text)
		p.next()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func containsOp(ops []Operator, op Operator) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func (p *parser) comparison() (Node, error) {
	return p.binaryLevel([]Operator{OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual}, p.concat)
}

func (p *parser) concat() (Node, error) {
	return p.binaryLevel([]Operator{OpConcat}, p.additive)
}

func (p *parser) additive() (Node, error) {
	return p.binaryLevel([]Operator{OpAdd, OpSubtract}, p.term)
}

func (p *parser) term() (Node, error) {
	return p.binaryLevel([]Operator{OpMultiply, OpDivide}, p.power)
}

func (p *parser) power() (Node, error) {
	return p.binaryLevel([]Operator{OpPower}, p.unary)
}

func (p *parser) unary() (Node, error) {
	if p.tok.kind == tokOperator && (p.tok.text == "-" || p.tok.text == "+") {
		op := Operator(p.tok.text)
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: op, Operand: operand}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Node, error) {
	tok := p.tok
	switch tok.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, p.errorf("bad number %q", tok.text)
		}
		p.next()
		return Number{Value: v}, nil
	case tokString:
		p.next()
		return Text{Value: tok.text}, nil
	case tokLParen:
		p.next()
		inner, err := p.expression()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, p.errorf("expected )")
		}
		p.next()
		return Group{Inner: inner}, nil
	case tokIdent:
		p.next()
		return p.identifier(tok)
	case tokEOF:
		return nil, p.errorf("unexpected end of formula")
	case tokInvalid:
		return nil, p.errorf("%s", tok.text)
	default:
		return nil, p.errorf("unexpected %q", tok.text)
	}
}

func (p *parser) identifier(tok token) (Node, error) {
	if p.tok.kind == tokLParen {
		return p.function(strings.ToUpper(tok.text))
	}
	switch strings.ToUpper(tok.text) {
	case "TRUE":
		return Boolean{Value: true}, nil
	case "FALSE":
		return Boolean{Value: false}, nil
	}
	if cell, err := selection.ParseCell(tok.text); err == nil {
		if p.tok.kind != tokColon {
			return CellRef{Reference: cell}, nil
		}
		p.next()
		if p.tok.kind != tokIdent {
			return nil, p.errorf("expected cell after :")
		}
		end, err := selection.ParseCell(p.tok.text)
		if err != nil {
			return nil, p.errorf("bad range end %q", p.tok.text)
		}
		p.next()
		return RangeRef{Range: selection.NewRange(cell, end)}, nil
	}
	label, err := selection.ParseLabel(tok.text)
	if err != nil {
		return nil, fmt.Errorf("%w at %d: bad reference %q", ErrSyntax, tok.pos+1, tok.text)
	}
	return LabelRef{Label: label}, nil
}

func (p *parser) function(name string) (Node, error) {
	p.next() // (
	fn := Function{Name: name}
	if p.tok.kind == tokRParen {
		p.next()
		return fn, nil
	}
	for {
		arg, err := p.expression()
		if err != nil {
			return nil, err
		}
		fn.Args = append(fn.Args, arg)
		switch p.tok.kind {
		case tokComma:
			p.next()
		case tokRParen:
			p.next()
			return fn, nil
		default:
			return nil, p.errorf("expected , or ) in %s", name)
		}
	}
}

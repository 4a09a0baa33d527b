// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package formula defines the expression tree of a cell formula and the
// operations the change tracker needs from it.
//
// The tree is a closed tagged union: Node is sealed and every consumer uses
// an exhaustive type switch. The change tracker only walks trees (see
// VisitReferences); Parse and Evaluate are small reference implementations of
// the parser and evaluator an engine is expected to plug in through the
// Parser and Evaluator interfaces.
package formula

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// Node is one expression tree node.
type Node interface {
	// String renders the node back to formula text, without the leading "=".
	String() string

	node()
}

// Number is a numeric literal.
type Number struct {
	Value float64
}

// Text is a string literal.
type Text struct {
	Value string
}

// Boolean is TRUE or FALSE.
type Boolean struct {
	Value bool
}

// CellRef references one cell, keeping the absolute/relative markers as written.
type CellRef struct {
	Reference selection.CellReference
}

// RangeRef references a block of cells.
type RangeRef struct {
	Range selection.CellRange
}

// LabelRef references a label by name.
type LabelRef struct {
	Label selection.LabelName
}

// Unary is a prefix + or -.
type Unary struct {
	Op      Operator
	Operand Node
}

// Binary is an infix operation.
type Binary struct {
	Op          Operator
	Left, Right Node
}

// Group is a parenthesized expression.
type Group struct {
	Inner Node
}

// Function is a named function call.
type Function struct {
	Name string
	Args []Node
}

// Invalid stands in for text that failed to parse, so a cell with a broken
// formula still has a tree.
type Invalid struct {
	Text string
	Err  error
}

func (Number) node()   {}
func (Text) node()     {}
func (Boolean) node()  {}
func (CellRef) node()  {}
func (RangeRef) node() {}
func (LabelRef) node() {}
func (Unary) node()    {}
func (Binary) node()   {}
func (Group) node()    {}
func (Function) node() {}
func (Invalid) node()  {}

func (n Number) String() string { return strconv.FormatFloat(n.Value, 'f', -1, 64) }
func (n Text) String() string   { return strconv.Quote(n.Value) }

func (n Boolean) String() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

func (n CellRef) String() string  { return n.Reference.String() }
func (n RangeRef) String() string { return n.Range.Begin().String() + ":" + n.Range.End().String() }
func (n LabelRef) String() string { return n.Label.String() }
func (n Unary) String() string    { return string(n.Op) + n.Operand.String() }
func (n Binary) String() string   { return n.Left.String() + string(n.Op) + n.Right.String() }
func (n Group) String() string    { return "(" + n.Inner.String() + ")" }
func (n Invalid) String() string  { return n.Text }

func (n Function) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Name + "(" + strings.Join(args, ",") + ")"
}

// Operator is an infix or prefix operator symbol.
type Operator string

// Supported operators.
const (
	OpAdd          Operator = "+"
	OpSubtract     Operator = "-"
	OpMultiply     Operator = "*"
	OpDivide       Operator = "/"
	OpPower        Operator = "^"
	OpConcat       Operator = "&"
	OpEqual        Operator = "="
	OpNotEqual     Operator = "<>"
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
)

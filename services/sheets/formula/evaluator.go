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
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// Resolver supplies the values an expression reads.
//
// ResolveCell returns the cell's value, which may be an *model.ErrorValue
// (for a missing cell, a cycle, or a cell that itself failed). The error
// return is reserved for infrastructure failures such as a store read error;
// evaluation stops and the error is passed up unchanged.
type Resolver interface {
	ResolveCell(ctx context.Context, ref selection.CellReference) (any, error)
	ResolveLabel(ctx context.Context, label selection.LabelName) (selection.Selection, bool, error)
}

// Evaluator computes the value of a tree.
type Evaluator interface {
	// Evaluate returns a model.Value or an *model.ErrorValue. A non-nil
	// error is only returned when the Resolver failed.
	Evaluate(ctx context.Context, n Node, r Resolver) (any, error)
}

// DefaultEvaluator is the built-in Evaluator.
var DefaultEvaluator Evaluator = evaluator{}

type evaluator struct{}

type evalState struct {
	ctx context.Context
	r   Resolver
}

// Evaluate implements Evaluator.
func (evaluator) Evaluate(ctx context.Context, n Node, r Resolver) (any, error) {
	s := &evalState{ctx: ctx, r: r}
	v, err := s.eval(n)
	if err != nil {
		return nil, err
	}
	return Finite(v), nil
}

// Finite replaces NaN and infinite numbers with a #VALUE! error value.
// Every other value is returned unchanged.
func Finite(v any) any {
	if x, ok := v.(float64); ok && (math.IsNaN(x) || math.IsInf(x, 0)) {
		return model.NewErrorValue(model.ErrorValueKind, "result is not a finite number")
	}
	return v
}

func (s *evalState) eval(n Node) (any, error) {
	switch t := n.(type) {
	case nil:
		return nil, nil
	case Number:
		return t.Value, nil
	case Text:
		return t.Value, nil
	case Boolean:
		return t.Value, nil
	case Invalid:
		return model.NewErrorValue(model.ErrorSyntax, "%v", t.Err), nil
	case CellRef:
		return s.r.ResolveCell(s.ctx, t.Reference)
	case RangeRef:
		if t.Range.IsSingleCell() {
			return s.r.ResolveCell(s.ctx, t.Range.Begin())
		}
		return model.NewErrorValue(model.ErrorValueKind, "range %s used as a value", t.Range), nil
	case LabelRef:
		target, err := s.label(t.Label)
		if err != nil {
			return nil, err
		}
		switch tt := target.(type) {
		case *model.ErrorValue:
			return tt, nil
		case selection.CellReference:
			return s.r.ResolveCell(s.ctx, tt)
		case selection.CellRange:
			return s.eval(RangeRef{Range: tt})
		}
		return model.NewErrorValue(model.ErrorValueKind, "label %s", t.Label), nil
	case Group:
		return s.eval(t.Inner)
	case Unary:
		v, err := s.eval(t.Operand)
		if err != nil {
			return nil, err
		}
		x, ev := toNumber(v)
		if ev != nil {
			return ev, nil
		}
		if t.Op == OpSubtract {
			return -x, nil
		}
		return x, nil
	case Binary:
		return s.binary(t)
	case Function:
		return s.function(t)
	default:
		panic(fmt.Sprintf("formula: unhandled node %T", n))
	}
}

// label resolves a label to its target selection, or to an *ErrorValue when
// the label is unknown.
func (s *evalState) label(name selection.LabelName) (any, error) {
	target, ok, err := s.r.ResolveLabel(s.ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return model.NewErrorValue(model.ErrorName, "unknown label %s", name), nil
	}
	return target, nil
}

func (s *evalState) binary(b Binary) (any, error) {
	left, err := s.eval(b.Left)
	if err != nil {
		return nil, err
	}
	right, err := s.eval(b.Right)
	if err != nil {
		return nil, err
	}
	if e, ok := left.(*model.ErrorValue); ok {
		return e, nil
	}
	if e, ok := right.(*model.ErrorValue); ok {
		return e, nil
	}

	switch b.Op {
	case OpConcat:
		return model.FormatValue(left) + model.FormatValue(right), nil
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return compare(b.Op, left, right), nil
	}

	x, ev := toNumber(left)
	if ev != nil {
		return ev, nil
	}
	y, ev := toNumber(right)
	if ev != nil {
		return ev, nil
	}
	switch b.Op {
	case OpAdd:
		return x + y, nil
	case OpSubtract:
		return x - y, nil
	case OpMultiply:
		return x * y, nil
	case OpDivide:
		if y == 0 {
			return model.NewErrorValue(model.ErrorDivZero, "division by zero"), nil
		}
		return x / y, nil
	case OpPower:
		return math.Pow(x, y), nil
	}
	return model.NewErrorValue(model.ErrorSyntax, "unknown operator %s", b.Op), nil
}

func compare(op Operator, left, right any) bool {
	var c int
	x, xok := left.(float64)
	y, yok := right.(float64)
	if xok && yok {
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
	} else {
		c = strings.Compare(strings.ToLower(model.FormatValue(left)), strings.ToLower(model.FormatValue(right)))
	}
	switch op {
	case OpEqual:
		return c == 0
	case OpNotEqual:
		return c != 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	default:
		return c >= 0
	}
}

func toNumber(v any) (float64, *model.ErrorValue) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, model.NewErrorValue(model.ErrorValueKind, "%q is not a number", t)
		}
		return f, nil
	case *model.ErrorValue:
		return 0, t
	default:
		return 0, model.NewErrorValue(model.ErrorValueKind, "unsupported value %T", v)
	}
}

// =============================================================================
// Functions
// =============================================================================

func (s *evalState) function(f Function) (any, error) {
	switch f.Name {
	case "IF":
		return s.ifFunction(f)
	case "SUM", "MIN", "MAX", "COUNT", "AVERAGE":
		numbers, ev, err := s.numbers(f.Args)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
		return aggregate(f.Name, numbers), nil
	default:
		return model.NewErrorValue(model.ErrorName, "unknown function %s", f.Name), nil
	}
}

func (s *evalState) ifFunction(f Function) (any, error) {
	if len(f.Args) < 2 || len(f.Args) > 3 {
		return model.NewErrorValue(model.ErrorValueKind, "IF expects 2 or 3 arguments"), nil
	}
	cond, err := s.eval(f.Args[0])
	if err != nil {
		return nil, err
	}
	x, ev := toNumber(cond)
	if ev != nil {
		return ev, nil
	}
	if x != 0 {
		return s.eval(f.Args[1])
	}
	if len(f.Args) == 3 {
		return s.eval(f.Args[2])
	}
	return false, nil
}

// numbers flattens function arguments. Values read through ranges skip
// blanks and text; direct arguments must convert to numbers.
func (s *evalState) numbers(args []Node) ([]float64, *model.ErrorValue, error) {
	var out []float64
	for _, a := range args {
		cells, isRange, ev, err := s.rangeArgument(a)
		if err != nil || ev != nil {
			return nil, ev, err
		}
		if isRange {
			for _, c := range cells {
				v, err := s.r.ResolveCell(s.ctx, c)
				if err != nil {
					return nil, nil, err
				}
				switch t := v.(type) {
				case float64:
					out = append(out, t)
				case bool:
					x, _ := toNumber(t)
					out = append(out, x)
				case *model.ErrorValue:
					// A missing cell inside a range is blank, not an error.
					if t.Kind == model.ErrorRef && t.Message == missingCellMessage(c) {
						continue
					}
					return nil, t, nil
				}
			}
			continue
		}
		v, err := s.eval(a)
		if err != nil {
			return nil, nil, err
		}
		x, ev := toNumber(v)
		if ev != nil {
			return nil, ev, nil
		}
		out = append(out, x)
	}
	return out, nil, nil
}

func (s *evalState) rangeArgument(a Node) ([]selection.CellReference, bool, *model.ErrorValue, error) {
	switch t := a.(type) {
	case RangeRef:
		return t.Range.Cells(), true, nil, nil
	case LabelRef:
		target, err := s.label(t.Label)
		if err != nil {
			return nil, false, nil, err
		}
		switch tt := target.(type) {
		case *model.ErrorValue:
			return nil, false, tt, nil
		case selection.CellRange:
			return tt.Cells(), true, nil, nil
		}
	}
	return nil, false, nil, nil
}

func aggregate(name string, xs []float64) any {
	switch name {
	case "COUNT":
		return float64(len(xs))
	case "SUM":
		var sum float64
		for _, x := range xs {
			sum += x
		}
		return sum
	case "AVERAGE":
		if len(xs) == 0 {
			return model.NewErrorValue(model.ErrorDivZero, "AVERAGE of no values")
		}
		var sum float64
		for _, x := range xs {
			sum += x
		}
		return sum / float64(len(xs))
	case "MIN", "MAX":
		if len(xs) == 0 {
			return 0.0
		}
		m := xs[0]
		for _, x := range xs[1:] {
			if (name == "MIN" && x < m) || (name == "MAX" && x > m) {
				m = x
			}
		}
		return m
	}
	return model.NewErrorValue(model.ErrorName, "unknown function %s", name)
}

// MissingCell is the error value a Resolver returns for a cell that does not
// exist. Aggregate functions treat it as blank inside ranges.
func MissingCell(ref selection.CellReference) *model.ErrorValue {
	return &model.ErrorValue{Kind: model.ErrorRef, Message: missingCellMessage(ref)}
}

func missingCellMessage(ref selection.CellReference) string {
	return "missing cell " + ref.ToRelative().String()
}

// Cycle is the error value a Resolver returns for a cell read while it is
// still being computed.
func Cycle(ref selection.CellReference) *model.ErrorValue {
	return &model.ErrorValue{Kind: model.ErrorRef, Message: "cycle through " + ref.ToRelative().String()}
}

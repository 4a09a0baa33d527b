// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model holds the spreadsheet entities that are stored, tracked and
// reported: cells, columns, rows and label mappings.
//
// # Ownership Model
//
// Entities are passed by pointer but treated as values once handed to a
// store or a session: callers MUST NOT mutate an entity after saving it.
// Use the With* helpers to derive a modified copy.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// Entity is implemented by every stored entity.
type Entity interface {
	// Selection returns the reference the entity is stored under.
	Selection() selection.Selection
}

// =============================================================================
// Cell
// =============================================================================

// Formula is the text a user typed into a cell plus the last evaluated result.
//
// Exactly one of Value and Error is meaningful: Error is set when parsing or
// evaluating the text failed.
type Formula struct {
	Text  string
	Value Value
	Error *ErrorValue
}

// Cell is a single spreadsheet cell.
type Cell struct {
	Reference selection.CellReference
	Formula   Formula
}

// NewCell creates an unevaluated cell.
func NewCell(ref selection.CellReference, text string) *Cell {
	return &Cell{Reference: ref, Formula: Formula{Text: text}}
}

// Selection implements Entity.
func (c *Cell) Selection() selection.Selection { return c.Reference }

// Result returns the evaluated value, or the error value when evaluation failed.
func (c *Cell) Result() any {
	if c.Formula.Error != nil {
		return c.Formula.Error
	}
	return c.Formula.Value
}

// WithResult returns a copy of the cell holding an evaluation result.
// v may be an *ErrorValue.
func (c *Cell) WithResult(v any) *Cell {
	out := &Cell{Reference: c.Reference, Formula: Formula{Text: c.Formula.Text}}
	if e, ok := v.(*ErrorValue); ok {
		out.Formula.Error = e
		return out
	}
	out.Formula.Value = v
	return out
}

// String renders "A1=value" for diagnostics.
func (c *Cell) String() string {
	return c.Reference.String() + "=" + FormatValue(c.Result())
}

type cellJSON struct {
	Reference string     `json:"reference,omitempty"`
	Formula   formulaDTO `json:"formula"`
}

type formulaDTO struct {
	Text  string      `json:"text"`
	Value Value       `json:"value,omitempty"`
	Error *ErrorValue `json:"error,omitempty"`
}

// MarshalJSON encodes the cell with its reference text.
func (c *Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal(cellJSON{
		Reference: c.Reference.String(),
		Formula:   formulaDTO{Text: c.Formula.Text, Value: c.Formula.Value, Error: c.Formula.Error},
	})
}

// UnmarshalJSON decodes a cell. An empty reference is allowed so map-keyed
// encodings (such as a delta) can fill it in afterwards.
func (c *Cell) UnmarshalJSON(data []byte) error {
	var dto cellJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	if dto.Reference != "" {
		ref, err := selection.ParseCell(dto.Reference)
		if err != nil {
			return err
		}
		c.Reference = ref
	}
	c.Formula = Formula{Text: dto.Formula.Text, Value: dto.Formula.Value, Error: dto.Formula.Error}
	return nil
}

// =============================================================================
// Column and Row
// =============================================================================

// Column holds per-column properties.
type Column struct {
	Reference selection.ColumnReference
	Width     float64
	Hidden    bool
}

// Selection implements Entity.
func (c *Column) Selection() selection.Selection { return c.Reference }

// String renders the column reference.
func (c *Column) String() string { return c.Reference.String() }

type columnJSON struct {
	Reference string  `json:"reference,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Hidden    bool    `json:"hidden,omitempty"`
}

// MarshalJSON encodes the column.
func (c *Column) MarshalJSON() ([]byte, error) {
	return json.Marshal(columnJSON{Reference: c.Reference.String(), Width: c.Width, Hidden: c.Hidden})
}

// UnmarshalJSON decodes the column.
func (c *Column) UnmarshalJSON(data []byte) error {
	var dto columnJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	if dto.Reference != "" {
		ref, err := selection.ParseColumn(dto.Reference)
		if err != nil {
			return err
		}
		c.Reference = ref
	}
	c.Width, c.Hidden = dto.Width, dto.Hidden
	return nil
}

// Row holds per-row properties.
type Row struct {
	Reference selection.RowReference
	Height    float64
	Hidden    bool
}

// Selection implements Entity.
func (r *Row) Selection() selection.Selection { return r.Reference }

// String renders the row reference.
func (r *Row) String() string { return r.Reference.String() }

type rowJSON struct {
	Reference string  `json:"reference,omitempty"`
	Height    float64 `json:"height,omitempty"`
	Hidden    bool    `json:"hidden,omitempty"`
}

// MarshalJSON encodes the row.
func (r *Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(rowJSON{Reference: r.Reference.String(), Height: r.Height, Hidden: r.Hidden})
}

// UnmarshalJSON decodes the row.
func (r *Row) UnmarshalJSON(data []byte) error {
	var dto rowJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	if dto.Reference != "" {
		ref, err := selection.ParseRow(dto.Reference)
		if err != nil {
			return err
		}
		r.Reference = ref
	}
	r.Height, r.Hidden = dto.Height, dto.Hidden
	return nil
}

// =============================================================================
// Label
// =============================================================================

// LabelMapping points a label at a cell or a cell range.
type LabelMapping struct {
	Label  selection.LabelName
	Target selection.Selection
}

// NewLabelMapping validates that target is a cell or a range.
func NewLabelMapping(label selection.LabelName, target selection.Selection) (*LabelMapping, error) {
	switch target.(type) {
	case selection.CellReference, selection.CellRange:
		return &LabelMapping{Label: label, Target: target}, nil
	default:
		return nil, fmt.Errorf("%w: label %s must target a cell or range, got %s",
			selection.ErrInvalidReference, label, target.Kind())
	}
}

// Selection implements Entity.
func (l *LabelMapping) Selection() selection.Selection { return l.Label }

// TargetCells returns the cells the label covers.
func (l *LabelMapping) TargetCells() []selection.CellReference {
	switch t := l.Target.(type) {
	case selection.CellReference:
		return []selection.CellReference{t}
	case selection.CellRange:
		return t.Cells()
	default:
		return nil
	}
}

// String renders "Label=Target".
func (l *LabelMapping) String() string { return l.Label.String() + "=" + l.Target.String() }

type labelJSON struct {
	Label  string `json:"label"`
	Target string `json:"reference"`
}

// MarshalJSON encodes the mapping.
func (l *LabelMapping) MarshalJSON() ([]byte, error) {
	return json.Marshal(labelJSON{Label: l.Label.String(), Target: l.Target.String()})
}

// UnmarshalJSON decodes the mapping.
func (l *LabelMapping) UnmarshalJSON(data []byte) error {
	var dto labelJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	label, err := selection.ParseLabel(dto.Label)
	if err != nil {
		return err
	}
	target, err := selection.ParseRange(dto.Target)
	if err != nil {
		return err
	}
	var sel selection.Selection = target
	if target.IsSingleCell() {
		sel = target.Begin()
	}
	mapping, err := NewLabelMapping(label, sel)
	if err != nil {
		return err
	}
	*l = *mapping
	return nil
}

// =============================================================================
// Values
// =============================================================================

// Value is an evaluated cell value: nil, float64, string or bool.
type Value = any

// FormatValue renders a value the way diagnostics print it.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case *ErrorValue:
		return t.Kind.String()
	default:
		return fmt.Sprint(t)
	}
}

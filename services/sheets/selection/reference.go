// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package selection

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Column
// =============================================================================

// ColumnReference addresses a column. Value is zero based (A is 0).
type ColumnReference struct {
	value int
	kind  ReferenceKind
}

// NewColumn returns a column reference, failing outside A..XFD.
func NewColumn(value int, kind ReferenceKind) (ColumnReference, error) {
	if value < 0 || value >= MaxColumns {
		return ColumnReference{}, fmt.Errorf("%w: column %d out of range", ErrInvalidReference, value)
	}
	return ColumnReference{value: value, kind: kind}, nil
}

// ParseColumn parses "A", "$B" or "XFD".
func ParseColumn(text string) (ColumnReference, error) {
	kind := Relative
	rest := text
	if strings.HasPrefix(rest, "$") {
		kind = Absolute
		rest = rest[1:]
	}
	if rest == "" || len(rest) > 3 {
		return ColumnReference{}, fmt.Errorf("%w: column %q", ErrInvalidReference, text)
	}
	value := 0
	for _, r := range rest {
		switch {
		case r >= 'A' && r <= 'Z':
			value = value*26 + int(r-'A') + 1
		case r >= 'a' && r <= 'z':
			value = value*26 + int(r-'a') + 1
		default:
			return ColumnReference{}, fmt.Errorf("%w: column %q", ErrInvalidReference, text)
		}
	}
	return NewColumn(value-1, kind)
}

// Value returns the zero based column index.
func (c ColumnReference) Value() int { return c.value }

// ReferenceKind returns whether the column was written absolute.
func (c ColumnReference) ReferenceKind() ReferenceKind { return c.kind }

// Kind implements Selection.
func (c ColumnReference) Kind() Kind { return KindColumn }

// Key implements Selection.
func (c ColumnReference) Key() string { return "column:" + c.letters() }

// String implements Selection.
func (c ColumnReference) String() string { return c.kind.prefix() + c.letters() }

// ToRelative drops the absolute marker.
func (c ColumnReference) ToRelative() ColumnReference {
	return ColumnReference{value: c.value}
}

// Add returns the column delta columns away, clamped to the grid.
func (c ColumnReference) Add(delta int) ColumnReference {
	return ColumnReference{value: clamp(c.value+delta, MaxColumns-1), kind: c.kind}
}

func (c ColumnReference) letters() string {
	n := c.value + 1
	var buf [3]byte
	i := len(buf)
	for n > 0 {
		n--
		i--
		buf[i] = byte('A' + n%26)
		n /= 26
	}
	return string(buf[i:])
}

func (ColumnReference) sealed() {}

// =============================================================================
// Row
// =============================================================================

// RowReference addresses a row. Value is zero based (row 1 is 0).
type RowReference struct {
	value int
	kind  ReferenceKind
}

// NewRow returns a row reference, failing outside 1..1048576.
func NewRow(value int, kind ReferenceKind) (RowReference, error) {
	if value < 0 || value >= MaxRows {
		return RowReference{}, fmt.Errorf("%w: row %d out of range", ErrInvalidReference, value+1)
	}
	return RowReference{value: value, kind: kind}, nil
}

// ParseRow parses "1" or "$12".
func ParseRow(text string) (RowReference, error) {
	kind := Relative
	rest := text
	if strings.HasPrefix(rest, "$") {
		kind = Absolute
		rest = rest[1:]
	}
	if rest == "" || rest[0] == '+' || rest[0] == '-' {
		return RowReference{}, fmt.Errorf("%w: row %q", ErrInvalidReference, text)
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return RowReference{}, fmt.Errorf("%w: row %q", ErrInvalidReference, text)
	}
	return NewRow(n-1, kind)
}

// Value returns the zero based row index.
func (r RowReference) Value() int { return r.value }

// ReferenceKind returns whether the row was written absolute.
func (r RowReference) ReferenceKind() ReferenceKind { return r.kind }

// Kind implements Selection.
func (r RowReference) Kind() Kind { return KindRow }

// Key implements Selection.
func (r RowReference) Key() string { return "row:" + strconv.Itoa(r.value+1) }

// String implements Selection.
func (r RowReference) String() string { return r.kind.prefix() + strconv.Itoa(r.value+1) }

// ToRelative drops the absolute marker.
func (r RowReference) ToRelative() RowReference {
	return RowReference{value: r.value}
}

// Add returns the row delta rows away, clamped to the grid.
func (r RowReference) Add(delta int) RowReference {
	return RowReference{value: clamp(r.value+delta, MaxRows-1), kind: r.kind}
}

func (RowReference) sealed() {}

// =============================================================================
// Cell
// =============================================================================

// CellReference addresses a single cell.
type CellReference struct {
	column ColumnReference
	row    RowReference
}

// NewCell combines a column and a row.
func NewCell(column ColumnReference, row RowReference) CellReference {
	return CellReference{column: column, row: row}
}

// ParseCell parses "A1", "$A$1", "A$1" or "$A1".
func ParseCell(text string) (CellReference, error) {
	split := strings.IndexFunc(text, func(r rune) bool {
		return r == '$' || (r >= '0' && r <= '9')
	})
	if split == 0 && strings.HasPrefix(text, "$") {
		next := strings.IndexFunc(text[1:], func(r rune) bool {
			return r == '$' || (r >= '0' && r <= '9')
		})
		if next < 0 {
			return CellReference{}, fmt.Errorf("%w: cell %q", ErrInvalidReference, text)
		}
		split = next + 1
	}
	if split <= 0 {
		return CellReference{}, fmt.Errorf("%w: cell %q", ErrInvalidReference, text)
	}
	column, err := ParseColumn(text[:split])
	if err != nil {
		return CellReference{}, fmt.Errorf("%w: cell %q", ErrInvalidReference, text)
	}
	row, err := ParseRow(text[split:])
	if err != nil {
		return CellReference{}, fmt.Errorf("%w: cell %q", ErrInvalidReference, text)
	}
	return CellReference{column: column, row: row}, nil
}

// MustParseCell is ParseCell for constants and tests.
func MustParseCell(text string) CellReference {
	c, err := ParseCell(text)
	if err != nil {
		panic(err)
	}
	return c
}

// Column returns the column part.
func (c CellReference) Column() ColumnReference { return c.column }

// Row returns the row part.
func (c CellReference) Row() RowReference { return c.row }

// Kind implements Selection.
func (c CellReference) Kind() Kind { return KindCell }

// Key implements Selection.
func (c CellReference) Key() string { return "cell:" + c.ToRelative().String() }

// String implements Selection.
func (c CellReference) String() string { return c.column.String() + c.row.String() }

// ToRelative drops both absolute markers; used wherever identity matters.
func (c CellReference) ToRelative() CellReference {
	return CellReference{column: c.column.ToRelative(), row: c.row.ToRelative()}
}

// Compare orders by column then row, ignoring reference kind.
func (c CellReference) Compare(other CellReference) int {
	if v := cmpInt(c.column.value, other.column.value); v != 0 {
		return v
	}
	return cmpInt(c.row.value, other.row.value)
}

// Range returns the single cell range holding c.
func (c CellReference) Range() CellRange {
	return CellRange{begin: c, end: c}
}

func (CellReference) sealed() {}

// =============================================================================
// Label
// =============================================================================

// LabelName is a user defined name for a cell or range.
type LabelName struct {
	name string
}

// ParseLabel validates a label name.
//
// Names start with a letter or underscore and continue with letters, digits,
// underscore or period. Names that would parse as a cell reference, or the
// words TRUE and FALSE, are rejected.
func ParseLabel(text string) (LabelName, error) {
	if text == "" || len(text) > 255 {
		return LabelName{}, fmt.Errorf("%w: label %q", ErrInvalidReference, text)
	}
	for i, r := range text {
		letter := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '_'
		digit := r >= '0' && r <= '9'
		if i == 0 && !letter {
			return LabelName{}, fmt.Errorf("%w: label %q", ErrInvalidReference, text)
		}
		if !letter && !digit && r != '.' {
			return LabelName{}, fmt.Errorf("%w: label %q", ErrInvalidReference, text)
		}
	}
	if _, err := ParseCell(text); err == nil {
		return LabelName{}, fmt.Errorf("%w: label %q looks like a cell", ErrInvalidReference, text)
	}
	if strings.EqualFold(text, "true") || strings.EqualFold(text, "false") {
		return LabelName{}, fmt.Errorf("%w: label %q is reserved", ErrInvalidReference, text)
	}
	return LabelName{name: text}, nil
}

// MustParseLabel is ParseLabel for constants and tests.
func MustParseLabel(text string) LabelName {
	l, err := ParseLabel(text)
	if err != nil {
		panic(err)
	}
	return l
}

// Kind implements Selection.
func (l LabelName) Kind() Kind { return KindLabel }

// Key implements Selection. Labels compare case-insensitively.
func (l LabelName) Key() string { return "label:" + strings.ToLower(l.name) }

// String implements Selection.
func (l LabelName) String() string { return l.name }

func (LabelName) sealed() {}

// =============================================================================
// Range
// =============================================================================

// CellRange is an inclusive rectangle of cells. Begin is always the top-left
// corner after construction.
type CellRange struct {
	begin CellReference
	end   CellReference
}

// NewRange builds a range from two corners in any order.
func NewRange(a, b CellReference) CellRange {
	left, right := a.column, b.column
	if left.value > right.value {
		left, right = right, left
	}
	top, bottom := a.row, b.row
	if top.value > bottom.value {
		top, bottom = bottom, top
	}
	return CellRange{begin: NewCell(left, top), end: NewCell(right, bottom)}
}

// ParseRange parses "A1:B2" or a single cell "A1".
func ParseRange(text string) (CellRange, error) {
	parts := strings.Split(text, ":")
	switch len(parts) {
	case 1:
		c, err := ParseCell(parts[0])
		if err != nil {
			return CellRange{}, fmt.Errorf("%w: range %q", ErrInvalidReference, text)
		}
		return c.Range(), nil
	case 2:
		a, err := ParseCell(parts[0])
		if err != nil {
			return CellRange{}, fmt.Errorf("%w: range %q", ErrInvalidReference, text)
		}
		b, err := ParseCell(parts[1])
		if err != nil {
			return CellRange{}, fmt.Errorf("%w: range %q", ErrInvalidReference, text)
		}
		return NewRange(a, b), nil
	default:
		return CellRange{}, fmt.Errorf("%w: range %q", ErrInvalidReference, text)
	}
}

// MustParseRange is ParseRange for constants and tests.
func MustParseRange(text string) CellRange {
	r, err := ParseRange(text)
	if err != nil {
		panic(err)
	}
	return r
}

// Begin returns the top-left cell.
func (r CellRange) Begin() CellReference { return r.begin }

// End returns the bottom-right cell.
func (r CellRange) End() CellReference { return r.end }

// Kind implements Selection.
func (r CellRange) Kind() Kind { return KindCellRange }

// Key implements Selection.
func (r CellRange) Key() string {
	return "range:" + r.ToRelative().String()
}

// String implements Selection. A single cell range prints as that cell.
func (r CellRange) String() string {
	if r.IsSingleCell() {
		return r.begin.String()
	}
	return r.begin.String() + ":" + r.end.String()
}

// ToRelative drops every absolute marker.
func (r CellRange) ToRelative() CellRange {
	return CellRange{begin: r.begin.ToRelative(), end: r.end.ToRelative()}
}

// IsSingleCell reports whether the range covers exactly one cell.
func (r CellRange) IsSingleCell() bool {
	return r.begin.Compare(r.end) == 0
}

// Width returns the number of columns covered.
func (r CellRange) Width() int { return r.end.column.value - r.begin.column.value + 1 }

// Height returns the number of rows covered.
func (r CellRange) Height() int { return r.end.row.value - r.begin.row.value + 1 }

// Count returns the number of cells covered.
func (r CellRange) Count() int { return r.Width() * r.Height() }

// Contains reports whether c lies inside the range.
func (r CellRange) Contains(c CellReference) bool {
	return c.column.value >= r.begin.column.value && c.column.value <= r.end.column.value &&
		c.row.value >= r.begin.row.value && c.row.value <= r.end.row.value
}

// TestColumn reports whether the column intersects the range.
func (r CellRange) TestColumn(c ColumnReference) bool {
	return c.value >= r.begin.column.value && c.value <= r.end.column.value
}

// TestRow reports whether the row intersects the range.
func (r CellRange) TestRow(row RowReference) bool {
	return row.value >= r.begin.row.value && row.value <= r.end.row.value
}

// Overlaps reports whether the two ranges share at least one cell.
func (r CellRange) Overlaps(other CellRange) bool {
	return r.begin.column.value <= other.end.column.value &&
		other.begin.column.value <= r.end.column.value &&
		r.begin.row.value <= other.end.row.value &&
		other.begin.row.value <= r.end.row.value
}

// Cells returns every cell in the range in column-then-row order.
func (r CellRange) Cells() []CellReference {
	cells := make([]CellReference, 0, r.Count())
	for col := r.begin.column.value; col <= r.end.column.value; col++ {
		for row := r.begin.row.value; row <= r.end.row.value; row++ {
			cells = append(cells, CellReference{
				column: ColumnReference{value: col},
				row:    RowReference{value: row},
			})
		}
	}
	return cells
}

func (CellRange) sealed() {}

func clamp(v, upper int) int {
	if v < 0 {
		return 0
	}
	if v > upper {
		return upper
	}
	return v
}

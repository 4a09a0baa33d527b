// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package selection defines the references a spreadsheet operation can touch.
//
// A Selection is a closed tagged union of CellReference, ColumnReference,
// RowReference, LabelName and CellRange. Every variant keeps the text it was
// written with (String) and a normalized identity (Key) that ignores whether
// an axis was written absolute ($A) or relative (A).
//
// # Identity
//
// Two selections denote the same entity when their Key values are equal:
//
//	a, _ := selection.ParseCell("$A$1")
//	b, _ := selection.ParseCell("A1")
//	a.Key() == b.Key() // true, both "cell:A1"
//	a.String()         // "$A$1"
//
// # Thread Safety
//
// All selection values are immutable and safe for concurrent use.
package selection

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidReference is returned when text cannot be parsed as a selection.
var ErrInvalidReference = errors.New("invalid reference")

// Kind identifies the variant of a Selection.
type Kind int

const (
	// KindCell is a single cell such as A1.
	KindCell Kind = iota

	// KindColumn is a whole column such as B.
	KindColumn

	// KindRow is a whole row such as 3.
	KindRow

	// KindLabel is a named label that maps to a cell or range.
	KindLabel

	// KindCellRange is a rectangular block of cells such as A1:B2.
	KindCellRange
)

// String returns the lowercase name used in keys and logs.
func (k Kind) String() string {
	switch k {
	case KindCell:
		return "cell"
	case KindColumn:
		return "column"
	case KindRow:
		return "row"
	case KindLabel:
		return "label"
	case KindCellRange:
		return "range"
	default:
		return "unknown"
	}
}

// ReferenceKind records whether an axis was written absolute or relative.
type ReferenceKind int

const (
	// Relative axes are written without a dollar sign (A, 1).
	Relative ReferenceKind = iota

	// Absolute axes are written with a leading dollar sign ($A, $1).
	Absolute
)

func (r ReferenceKind) prefix() string {
	if r == Absolute {
		return "$"
	}
	return ""
}

// Limits of the addressable grid.
const (
	// MaxColumns is the number of addressable columns (A..XFD).
	MaxColumns = 16384

	// MaxRows is the number of addressable rows (1..1048576).
	MaxRows = 1048576
)

// Selection is implemented by every reference variant.
//
// The interface is sealed: only types in this package implement it, so a
// type switch over the five variants is exhaustive.
type Selection interface {
	// Kind returns the variant.
	Kind() Kind

	// Key returns the normalized identity, prefixed by kind ("cell:A1").
	Key() string

	// String returns the text as originally written ("$A$1").
	String() string

	sealed()
}

// Parse parses any selection, trying cell range, cell, column, row and label
// in that order.
//
// Description:
//
//	Text containing a colon is parsed as a range. Otherwise the first variant
//	that accepts the text wins. Because label names may not look like cell
//	references, the order is unambiguous.
//
// Inputs:
//
//	text - Reference text such as "A1", "$B$2", "C", "7", "Total" or "A1:B2".
//
// Outputs:
//
//	Selection - The parsed selection.
//	error - Wraps ErrInvalidReference if nothing matches.
func Parse(text string) (Selection, error) {
	if strings.Contains(text, ":") {
		return ParseRange(text)
	}
	if c, err := ParseCell(text); err == nil {
		return c, nil
	}
	if c, err := ParseColumn(text); err == nil {
		return c, nil
	}
	if r, err := ParseRow(text); err == nil {
		return r, nil
	}
	if l, err := ParseLabel(text); err == nil {
		return l, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidReference, text)
}

// MustParse is Parse for constants and tests. It panics on invalid text.
func MustParse(text string) Selection {
	s, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return s
}

// Compare orders selections canonically, ignoring absolute/relative kind.
//
// Selections of different kinds order by Kind. Cells order by column then
// row, columns and rows numerically, labels case-insensitively and ranges by
// their begin then end cell.
func Compare(a, b Selection) int {
	if a.Kind() != b.Kind() {
		return cmpInt(int(a.Kind()), int(b.Kind()))
	}
	switch av := a.(type) {
	case CellReference:
		return av.Compare(b.(CellReference))
	case ColumnReference:
		return cmpInt(av.Value(), b.(ColumnReference).Value())
	case RowReference:
		return cmpInt(av.Value(), b.(RowReference).Value())
	case LabelName:
		return strings.Compare(av.Key(), b.(LabelName).Key())
	case CellRange:
		bv := b.(CellRange)
		if c := av.Begin().Compare(bv.Begin()); c != 0 {
			return c
		}
		return av.End().Compare(bv.End())
	}
	return strings.Compare(a.Key(), b.Key())
}

// Equal reports whether two selections denote the same entity.
func Equal(a, b Selection) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Key() == b.Key()
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// FromKey is the inverse of Selection.Key.
//
// Stores that persist references by key use it to rebuild selections. The
// original absolute/relative markers are not part of a key and come back
// relative.
func FromKey(key string) (Selection, error) {
	kind, text, ok := strings.Cut(key, ":")
	if !ok {
		return nil, fmt.Errorf("%w: key %q", ErrInvalidReference, key)
	}
	switch kind {
	case "cell":
		return ParseCell(text)
	case "column":
		return ParseColumn(text)
	case "row":
		return ParseRow(text)
	case "label":
		return ParseLabel(text)
	case "range":
		return ParseRange(text)
	default:
		return nil, fmt.Errorf("%w: key %q", ErrInvalidReference, key)
	}
}

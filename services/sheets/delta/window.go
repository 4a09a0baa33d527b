// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package delta

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// Sentinel errors for window construction.
var (
	// ErrOverlappingWindow is returned when two window ranges share a cell.
	ErrOverlappingWindow = errors.New("overlapping window ranges")

	// ErrInvalidWindow is returned for window text that cannot be parsed.
	ErrInvalidWindow = errors.New("invalid window")
)

// Pixels is a viewport size in pixels, anchored at A1.
type Pixels struct {
	Width  float64
	Height float64
}

// String renders "300x50".
func (p Pixels) String() string {
	return strconv.FormatFloat(p.Width, 'f', -1, 64) + "x" + strconv.FormatFloat(p.Height, 'f', -1, 64)
}

// Window is a set of non-overlapping cell ranges, or a pixel viewport.
//
// The zero Window is empty and lets everything through. A pixel window must
// be resolved to a range (see Resolve) before it filters anything; until
// then it behaves like an empty window.
type Window struct {
	ranges []selection.CellRange
	pixels *Pixels
}

// NewWindow builds a window from ranges, rejecting any pair that overlaps.
//
// Description:
//
//	Every pair of ranges is compared once. The first overlapping pair fails
//	construction, and the error names both ranges as written.
//
// Inputs:
//
//	ranges - Zero or more ranges. Zero ranges yields the empty window.
//
// Outputs:
//
//	Window - The window.
//	error - Wraps ErrOverlappingWindow naming both ranges.
func NewWindow(ranges ...selection.CellRange) (Window, error) {
	for i := 0; i < len(ranges); i++ {
		for j := i + 1; j < len(ranges); j++ {
			if ranges[i].Overlaps(ranges[j]) {
				return Window{}, fmt.Errorf("%w: %s and %s", ErrOverlappingWindow, ranges[i], ranges[j])
			}
		}
	}
	if len(ranges) == 0 {
		return Window{}, nil
	}
	return Window{ranges: append([]selection.CellRange(nil), ranges...)}, nil
}

// PixelWindow builds an unresolved pixel viewport.
func PixelWindow(width, height float64) (Window, error) {
	if width <= 0 || height <= 0 {
		return Window{}, fmt.Errorf("%w: pixel size must be positive, got %vx%v", ErrInvalidWindow, width, height)
	}
	return Window{pixels: &Pixels{Width: width, Height: height}}, nil
}

// ParseWindow parses "A1:E5,F6:Z99", "300x50" or "" (empty window).
func ParseWindow(text string) (Window, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Window{}, nil
	}
	if w, h, ok := strings.Cut(text, "x"); ok && !strings.Contains(text, ":") {
		width, err1 := strconv.ParseFloat(w, 64)
		height, err2 := strconv.ParseFloat(h, 64)
		if err1 == nil && err2 == nil {
			return PixelWindow(width, height)
		}
	}
	var ranges []selection.CellRange
	for _, part := range strings.Split(text, ",") {
		r, err := selection.ParseRange(strings.TrimSpace(part))
		if err != nil {
			return Window{}, fmt.Errorf("%w: %q: %v", ErrInvalidWindow, text, err)
		}
		ranges = append(ranges, r)
	}
	return NewWindow(ranges...)
}

// Resolve attaches the range a pixel window covers. Range windows are
// returned unchanged.
func (w Window) Resolve(covered selection.CellRange) Window {
	if w.pixels == nil {
		return w
	}
	return Window{ranges: []selection.CellRange{covered}, pixels: w.pixels}
}

// IsEmpty reports whether the window filters nothing.
func (w Window) IsEmpty() bool { return len(w.ranges) == 0 && w.pixels == nil }

// Ranges returns a copy of the ranges.
func (w Window) Ranges() []selection.CellRange {
	return append([]selection.CellRange(nil), w.ranges...)
}

// Pixels returns the pixel size, if this is a pixel window.
func (w Window) Pixels() (Pixels, bool) {
	if w.pixels == nil {
		return Pixels{}, false
	}
	return *w.pixels, true
}

// IsResolved reports whether the window has ranges to filter with.
func (w Window) IsResolved() bool { return len(w.ranges) > 0 }

// TestCell reports whether the cell is visible. Unresolved windows show
// everything.
func (w Window) TestCell(c selection.CellReference) bool {
	if len(w.ranges) == 0 {
		return true
	}
	for _, r := range w.ranges {
		if r.Contains(c) {
			return true
		}
	}
	return false
}

// TestColumn reports whether any range covers the column.
func (w Window) TestColumn(c selection.ColumnReference) bool {
	if len(w.ranges) == 0 {
		return true
	}
	for _, r := range w.ranges {
		if r.TestColumn(c) {
			return true
		}
	}
	return false
}

// TestRow reports whether any range covers the row.
func (w Window) TestRow(row selection.RowReference) bool {
	if len(w.ranges) == 0 {
		return true
	}
	for _, r := range w.ranges {
		if r.TestRow(row) {
			return true
		}
	}
	return false
}

// String renders the pixel size when present, otherwise the comma-joined
// ranges.
func (w Window) String() string {
	if w.pixels != nil {
		return w.pixels.String()
	}
	parts := make([]string, len(w.ranges))
	for i, r := range w.ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

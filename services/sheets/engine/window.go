// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"

	"github.com/AleutianAI/AleutianSheets/services/sheets/delta"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// resolveWindow turns a pixel window into the range it covers from A1.
// Range windows and the empty window are returned unchanged.
func (e *Engine) resolveWindow(ctx context.Context, w delta.Window) (delta.Window, error) {
	px, ok := w.Pixels()
	if !ok || w.IsResolved() {
		return w, nil
	}

	columns, err := e.stores.Columns.All(ctx)
	if err != nil {
		return w, err
	}
	widths := make(map[int]float64, len(columns))
	for _, c := range columns {
		widths[c.Reference.Value()] = visibleSize(c.Width, c.Hidden, e.opts.ColumnWidth)
	}

	rows, err := e.stores.Rows.All(ctx)
	if err != nil {
		return w, err
	}
	heights := make(map[int]float64, len(rows))
	for _, r := range rows {
		heights[r.Reference.Value()] = visibleSize(r.Height, r.Hidden, e.opts.RowHeight)
	}

	lastColumn := coveredCount(px.Width, widths, e.opts.ColumnWidth, selection.MaxColumns)
	lastRow := coveredCount(px.Height, heights, e.opts.RowHeight, selection.MaxRows)

	begin := selection.MustParseCell("A1")
	col, err := selection.NewColumn(lastColumn-1, selection.Relative)
	if err != nil {
		return w, err
	}
	row, err := selection.NewRow(lastRow-1, selection.Relative)
	if err != nil {
		return w, err
	}
	return w.Resolve(selection.NewRange(begin, selection.NewCell(col, row))), nil
}

func visibleSize(size float64, hidden bool, fallback float64) float64 {
	if hidden {
		return 0
	}
	if size <= 0 {
		return fallback
	}
	return size
}

// coveredCount returns how many lines starting at index 0 are at least
// partly visible within extent pixels. It is always between 1 and limit.
func coveredCount(extent float64, sizes map[int]float64, fallback float64, limit int) int {
	var used float64
	n := 0
	for n < limit && used < extent {
		size, ok := sizes[n]
		if !ok {
			size = fallback
		}
		used += size
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package delta renders what one operation changed as an immutable snapshot.
//
// A Builder collects touched entities and deletions; Build applies an
// optional Window and sorts everything canonically. The resulting Delta is
// never mutated: every accessor returns a copy.
//
// # Windows
//
// Cells, columns and rows outside every window range are dropped. Deletions
// are always kept so clients can evict stale state.
//
// # JSON
//
//	{
//	  "cells":        {"A1": {...}},
//	  "columns":      {"M": {...}},
//	  "rows":         {"7": {...}},
//	  "labels":       {"Total": "A1:A3"},
//	  "deletedCells": "B2,C3",
//	  "columnWidths": {"M": 120},
//	  "rowHeights":   {"7": 42},
//	  "window":       "A1:E5,F6:Z99"
//	}
//
// Every field is omitted when empty.
package delta

import (
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// Builder collects the entities of one operation.
//
// Adding an entity replaces an earlier deletion of the same key and vice
// versa. Builders are not safe for concurrent use.
type Builder struct {
	cells          map[string]*model.Cell
	columns        map[string]*model.Column
	rows           map[string]*model.Row
	labels         map[string]*model.LabelMapping
	deletedCells   map[string]selection.CellReference
	deletedColumns map[string]selection.ColumnReference
	deletedRows    map[string]selection.RowReference
	deletedLabels  map[string]selection.LabelName
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		cells:          make(map[string]*model.Cell),
		columns:        make(map[string]*model.Column),
		rows:           make(map[string]*model.Row),
		labels:         make(map[string]*model.LabelMapping),
		deletedCells:   make(map[string]selection.CellReference),
		deletedColumns: make(map[string]selection.ColumnReference),
		deletedRows:    make(map[string]selection.RowReference),
		deletedLabels:  make(map[string]selection.LabelName),
	}
}

// AddCell records a saved or loaded cell.
func (b *Builder) AddCell(c *model.Cell) *Builder {
	key := c.Reference.Key()
	delete(b.deletedCells, key)
	b.cells[key] = c
	return b
}

// AddColumn records a saved or loaded column.
func (b *Builder) AddColumn(c *model.Column) *Builder {
	key := c.Reference.Key()
	delete(b.deletedColumns, key)
	b.columns[key] = c
	return b
}

// AddRow records a saved or loaded row.
func (b *Builder) AddRow(r *model.Row) *Builder {
	key := r.Reference.Key()
	delete(b.deletedRows, key)
	b.rows[key] = r
	return b
}

// AddLabel records a saved or loaded label mapping.
func (b *Builder) AddLabel(l *model.LabelMapping) *Builder {
	key := l.Label.Key()
	delete(b.deletedLabels, key)
	b.labels[key] = l
	return b
}

// DeleteCell records a deleted or missing cell.
func (b *Builder) DeleteCell(ref selection.CellReference) *Builder {
	delete(b.cells, ref.Key())
	b.deletedCells[ref.Key()] = ref
	return b
}

// DeleteColumn records a deleted column.
func (b *Builder) DeleteColumn(ref selection.ColumnReference) *Builder {
	delete(b.columns, ref.Key())
	b.deletedColumns[ref.Key()] = ref
	return b
}

// DeleteRow records a deleted row.
func (b *Builder) DeleteRow(ref selection.RowReference) *Builder {
	delete(b.rows, ref.Key())
	b.deletedRows[ref.Key()] = ref
	return b
}

// DeleteLabel records a deleted label.
func (b *Builder) DeleteLabel(name selection.LabelName) *Builder {
	delete(b.labels, name.Key())
	b.deletedLabels[name.Key()] = name
	return b
}

// Build produces the Delta visible through window.
//
// Description:
//
//	Cells, columns and rows outside the window are dropped; labels and every
//	deletion are kept. All collections are sorted by selection.Compare. The
//	builder may be reused afterwards without affecting the Delta.
//
// Inputs:
//
//	window - The viewport. The zero Window keeps everything.
//
// Outputs:
//
//	*Delta - The immutable snapshot.
func (b *Builder) Build(window Window) *Delta {
	d := &Delta{window: window}
	for _, c := range b.cells {
		if window.TestCell(c.Reference) {
			d.cells = append(d.cells, c)
		}
	}
	for _, c := range b.columns {
		if window.TestColumn(c.Reference) {
			d.columns = append(d.columns, c)
		}
	}
	for _, r := range b.rows {
		if window.TestRow(r.Reference) {
			d.rows = append(d.rows, r)
		}
	}
	for _, l := range b.labels {
		d.labels = append(d.labels, l)
	}
	for _, ref := range b.deletedCells {
		d.deletedCells = append(d.deletedCells, ref)
	}
	for _, ref := range b.deletedColumns {
		d.deletedColumns = append(d.deletedColumns, ref)
	}
	for _, ref := range b.deletedRows {
		d.deletedRows = append(d.deletedRows, ref)
	}
	for _, name := range b.deletedLabels {
		d.deletedLabels = append(d.deletedLabels, name)
	}
	d.sortAll()
	return d
}

// Delta is the immutable output of one operation.
type Delta struct {
	cells          []*model.Cell
	columns        []*model.Column
	rows           []*model.Row
	labels         []*model.LabelMapping
	deletedCells   []selection.CellReference
	deletedColumns []selection.ColumnReference
	deletedRows    []selection.RowReference
	deletedLabels  []selection.LabelName
	window         Window
}

func (d *Delta) sortAll() {
	sortBy(d.cells, func(c *model.Cell) selection.Selection { return c.Reference })
	sortBy(d.columns, func(c *model.Column) selection.Selection { return c.Reference })
	sortBy(d.rows, func(r *model.Row) selection.Selection { return r.Reference })
	sortBy(d.labels, func(l *model.LabelMapping) selection.Selection { return l.Label })
	sortBy(d.deletedCells, func(r selection.CellReference) selection.Selection { return r })
	sortBy(d.deletedColumns, func(r selection.ColumnReference) selection.Selection { return r })
	sortBy(d.deletedRows, func(r selection.RowReference) selection.Selection { return r })
	sortBy(d.deletedLabels, func(l selection.LabelName) selection.Selection { return l })
}

func sortBy[T any](xs []T, sel func(T) selection.Selection) {
	sort.Slice(xs, func(i, j int) bool { return selection.Compare(sel(xs[i]), sel(xs[j])) < 0 })
}

// Cells returns the visible cells.
func (d *Delta) Cells() []*model.Cell { return append([]*model.Cell(nil), d.cells...) }

// Columns returns the visible columns.
func (d *Delta) Columns() []*model.Column { return append([]*model.Column(nil), d.columns...) }

// Rows returns the visible rows.
func (d *Delta) Rows() []*model.Row { return append([]*model.Row(nil), d.rows...) }

// Labels returns every touched label mapping.
func (d *Delta) Labels() []*model.LabelMapping {
	return append([]*model.LabelMapping(nil), d.labels...)
}

// DeletedCells returns every deleted cell, regardless of window.
func (d *Delta) DeletedCells() []selection.CellReference {
	return append([]selection.CellReference(nil), d.deletedCells...)
}

// DeletedColumns returns every deleted column.
func (d *Delta) DeletedColumns() []selection.ColumnReference {
	return append([]selection.ColumnReference(nil), d.deletedColumns...)
}

// DeletedRows returns every deleted row.
func (d *Delta) DeletedRows() []selection.RowReference {
	return append([]selection.RowReference(nil), d.deletedRows...)
}

// DeletedLabels returns every deleted label.
func (d *Delta) DeletedLabels() []selection.LabelName {
	return append([]selection.LabelName(nil), d.deletedLabels...)
}

// Window returns the window the delta was built with.
func (d *Delta) Window() Window { return d.window }

// Cell returns the visible cell at ref.
func (d *Delta) Cell(ref selection.CellReference) (*model.Cell, bool) {
	for _, c := range d.cells {
		if c.Reference.Key() == ref.Key() {
			return c, true
		}
	}
	return nil, false
}

// ColumnWidths returns the non-zero widths of the visible columns.
func (d *Delta) ColumnWidths() map[string]float64 {
	out := make(map[string]float64)
	for _, c := range d.columns {
		if c.Width > 0 {
			out[c.Reference.ToRelative().String()] = c.Width
		}
	}
	return out
}

// RowHeights returns the non-zero heights of the visible rows.
func (d *Delta) RowHeights() map[string]float64 {
	out := make(map[string]float64)
	for _, r := range d.rows {
		if r.Height > 0 {
			out[r.Reference.ToRelative().String()] = r.Height
		}
	}
	return out
}

// IsEmpty reports whether nothing changed.
func (d *Delta) IsEmpty() bool {
	return len(d.cells) == 0 && len(d.columns) == 0 && len(d.rows) == 0 && len(d.labels) == 0 &&
		len(d.deletedCells) == 0 && len(d.deletedColumns) == 0 && len(d.deletedRows) == 0 &&
		len(d.deletedLabels) == 0
}

// String renders the delta for diagnostics, for example
// "cells: A1=1, B2=2 columns: M deletedCells: C3 window: A1:B2".
func (d *Delta) String() string {
	var parts []string
	add := func(name string, items []string) {
		if len(items) > 0 {
			parts = append(parts, name+": "+strings.Join(items, ", "))
		}
	}
	add("cells", stringsOf(d.cells))
	add("columns", stringsOf(d.columns))
	add("rows", stringsOf(d.rows))
	add("labels", stringsOf(d.labels))
	add("deletedCells", stringsOf(d.deletedCells))
	add("deletedColumns", stringsOf(d.deletedColumns))
	add("deletedRows", stringsOf(d.deletedRows))
	add("deletedLabels", stringsOf(d.deletedLabels))
	if !d.window.IsEmpty() {
		parts = append(parts, "window: "+d.window.String())
	}
	return strings.Join(parts, " ")
}

func stringsOf[T interface{ String() string }](xs []T) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = x.String()
	}
	return out
}

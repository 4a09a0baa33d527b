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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// deltaJSON is the decoding shape. Encoding uses deltaOut so that object
// members keep canonical order.
type deltaJSON struct {
	Cells          map[string]*model.Cell   `json:"cells,omitempty"`
	Columns        map[string]*model.Column `json:"columns,omitempty"`
	Rows           map[string]*model.Row    `json:"rows,omitempty"`
	Labels         map[string]string        `json:"labels,omitempty"`
	DeletedCells   string                   `json:"deletedCells,omitempty"`
	DeletedColumns string                   `json:"deletedColumns,omitempty"`
	DeletedRows    string                   `json:"deletedRows,omitempty"`
	DeletedLabels  string                   `json:"deletedLabels,omitempty"`
	ColumnWidths   map[string]float64       `json:"columnWidths,omitempty"`
	RowHeights     map[string]float64       `json:"rowHeights,omitempty"`
	Window         string                   `json:"window,omitempty"`
}

type deltaOut struct {
	Cells          orderedObject `json:"cells,omitempty"`
	Columns        orderedObject `json:"columns,omitempty"`
	Rows           orderedObject `json:"rows,omitempty"`
	Labels         orderedObject `json:"labels,omitempty"`
	DeletedCells   string        `json:"deletedCells,omitempty"`
	DeletedColumns string        `json:"deletedColumns,omitempty"`
	DeletedRows    string        `json:"deletedRows,omitempty"`
	DeletedLabels  string        `json:"deletedLabels,omitempty"`
	ColumnWidths   orderedObject `json:"columnWidths,omitempty"`
	RowHeights     orderedObject `json:"rowHeights,omitempty"`
	Window         string        `json:"window,omitempty"`
}

type member struct {
	key   string
	value any
}

// orderedObject is a JSON object whose members are written in slice order.
type orderedObject []member

// MarshalJSON writes {"key":value,...} in slice order.
func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(m.value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON encodes the delta with objects keyed by reference text, in
// canonical reference order. Empty fields are omitted.
func (d *Delta) MarshalJSON() ([]byte, error) {
	out := deltaOut{
		DeletedCells:   joinStrings(d.deletedCells),
		DeletedColumns: joinStrings(d.deletedColumns),
		DeletedRows:    joinStrings(d.deletedRows),
		DeletedLabels:  joinStrings(d.deletedLabels),
		Window:         d.window.String(),
	}
	for _, c := range d.cells {
		out.Cells = append(out.Cells, member{c.Reference.String(), c})
	}
	for _, c := range d.columns {
		out.Columns = append(out.Columns, member{c.Reference.String(), c})
		if c.Width > 0 {
			out.ColumnWidths = append(out.ColumnWidths, member{c.Reference.ToRelative().String(), c.Width})
		}
	}
	for _, r := range d.rows {
		out.Rows = append(out.Rows, member{r.Reference.String(), r})
		if r.Height > 0 {
			out.RowHeights = append(out.RowHeights, member{r.Reference.ToRelative().String(), r.Height})
		}
	}
	for _, l := range d.labels {
		out.Labels = append(out.Labels, member{l.Label.String(), l.Target.String()})
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a delta produced by MarshalJSON. Map keys supply the
// references; columnWidths and rowHeights are derived and ignored.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var in deltaJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	window, err := ParseWindow(in.Window)
	if err != nil {
		return err
	}

	b := NewBuilder()
	for text, c := range in.Cells {
		ref, err := selection.ParseCell(text)
		if err != nil {
			return fmt.Errorf("cells: %w", err)
		}
		if c == nil {
			c = &model.Cell{}
		}
		c.Reference = ref
		b.AddCell(c)
	}
	for text, c := range in.Columns {
		ref, err := selection.ParseColumn(text)
		if err != nil {
			return fmt.Errorf("columns: %w", err)
		}
		if c == nil {
			c = &model.Column{}
		}
		c.Reference = ref
		b.AddColumn(c)
	}
	for text, r := range in.Rows {
		ref, err := selection.ParseRow(text)
		if err != nil {
			return fmt.Errorf("rows: %w", err)
		}
		if r == nil {
			r = &model.Row{}
		}
		r.Reference = ref
		b.AddRow(r)
	}
	for name, target := range in.Labels {
		mapping, err := parseLabel(name, target)
		if err != nil {
			return fmt.Errorf("labels: %w", err)
		}
		b.AddLabel(mapping)
	}
	if err := splitEach(in.DeletedCells, func(s string) error {
		ref, err := selection.ParseCell(s)
		if err == nil {
			b.DeleteCell(ref)
		}
		return err
	}); err != nil {
		return fmt.Errorf("deletedCells: %w", err)
	}
	if err := splitEach(in.DeletedColumns, func(s string) error {
		ref, err := selection.ParseColumn(s)
		if err == nil {
			b.DeleteColumn(ref)
		}
		return err
	}); err != nil {
		return fmt.Errorf("deletedColumns: %w", err)
	}
	if err := splitEach(in.DeletedRows, func(s string) error {
		ref, err := selection.ParseRow(s)
		if err == nil {
			b.DeleteRow(ref)
		}
		return err
	}); err != nil {
		return fmt.Errorf("deletedRows: %w", err)
	}
	if err := splitEach(in.DeletedLabels, func(s string) error {
		name, err := selection.ParseLabel(s)
		if err == nil {
			b.DeleteLabel(name)
		}
		return err
	}); err != nil {
		return fmt.Errorf("deletedLabels: %w", err)
	}

	// The encoded delta is already filtered; rebuilding must not drop more.
	*d = *b.Build(Window{})
	d.window = window
	return nil
}

func parseLabel(name, target string) (*model.LabelMapping, error) {
	label, err := selection.ParseLabel(name)
	if err != nil {
		return nil, err
	}
	rng, err := selection.ParseRange(target)
	if err != nil {
		return nil, err
	}
	var sel selection.Selection = rng
	if rng.IsSingleCell() {
		sel = rng.Begin()
	}
	return model.NewLabelMapping(label, sel)
}

func joinStrings[T interface{ String() string }](xs []T) string {
	return strings.Join(stringsOf(xs), ",")
}

func splitEach(text string, fn func(string) error) error {
	if text == "" {
		return nil
	}
	for _, part := range strings.Split(text, ",") {
		if err := fn(strings.TrimSpace(part)); err != nil {
			return err
		}
	}
	return nil
}

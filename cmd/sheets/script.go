// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianSheets/services/sheets/delta"
	"github.com/AleutianAI/AleutianSheets/services/sheets/engine"
	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// Script is an ordered list of operations read from YAML:
//
//	operations:
//	  - {op: save_cell, cell: A1, text: "=B2+1"}
//	  - {op: save_cell, cell: B2, text: "5"}
//	  - {op: save_label, label: Total, target: "A1:A3"}
//	  - {op: delete_column, column: B}
//	  - {op: load_cells, range: "A1:C3", window: "A1:B2"}
type Script struct {
	Operations []Operation `yaml:"operations"`
}

// Operation is one engine call. Only the fields its Op needs are read.
type Operation struct {
	Op     string  `yaml:"op"`
	Cell   string  `yaml:"cell,omitempty"`
	Text   string  `yaml:"text,omitempty"`
	Column string  `yaml:"column,omitempty"`
	Row    string  `yaml:"row,omitempty"`
	Width  float64 `yaml:"width,omitempty"`
	Height float64 `yaml:"height,omitempty"`
	Hidden bool    `yaml:"hidden,omitempty"`
	Label  string  `yaml:"label,omitempty"`
	Target string  `yaml:"target,omitempty"`
	Range  string  `yaml:"range,omitempty"`

	// Window overrides the command's window for this operation.
	Window *string `yaml:"window,omitempty"`
}

// ReadScript decodes a script, rejecting unknown fields.
func ReadScript(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Script
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return &s, nil
}

// Run applies the operation to eng. fallback is used unless the operation
// carries its own window.
func (o Operation) Run(ctx context.Context, eng *engine.Engine, fallback delta.Window) (*delta.Delta, error) {
	window := fallback
	if o.Window != nil {
		w, err := delta.ParseWindow(*o.Window)
		if err != nil {
			return nil, err
		}
		window = w
	}

	switch o.Op {
	case "save_cell":
		ref, err := selection.ParseCell(o.Cell)
		if err != nil {
			return nil, err
		}
		return eng.SaveCell(ctx, ref, o.Text, window)
	case "delete_cell":
		ref, err := selection.ParseCell(o.Cell)
		if err != nil {
			return nil, err
		}
		return eng.DeleteCell(ctx, ref, window)
	case "load_cell":
		ref, err := selection.ParseCell(o.Cell)
		if err != nil {
			return nil, err
		}
		return eng.LoadCell(ctx, ref, window)
	case "load_cells":
		rng, err := selection.ParseRange(o.Range)
		if err != nil {
			return nil, err
		}
		return eng.LoadCells(ctx, rng, window)
	case "save_column":
		ref, err := selection.ParseColumn(o.Column)
		if err != nil {
			return nil, err
		}
		return eng.SaveColumn(ctx, &model.Column{Reference: ref, Width: o.Width, Hidden: o.Hidden}, window)
	case "delete_column":
		ref, err := selection.ParseColumn(o.Column)
		if err != nil {
			return nil, err
		}
		return eng.DeleteColumn(ctx, ref, window)
	case "save_row":
		ref, err := selection.ParseRow(o.Row)
		if err != nil {
			return nil, err
		}
		return eng.SaveRow(ctx, &model.Row{Reference: ref, Height: o.Height, Hidden: o.Hidden}, window)
	case "delete_row":
		ref, err := selection.ParseRow(o.Row)
		if err != nil {
			return nil, err
		}
		return eng.DeleteRow(ctx, ref, window)
	case "save_label":
		name, err := selection.ParseLabel(o.Label)
		if err != nil {
			return nil, err
		}
		target, err := selection.Parse(o.Target)
		if err != nil {
			return nil, err
		}
		mapping, err := model.NewLabelMapping(name, target)
		if err != nil {
			return nil, err
		}
		return eng.SaveLabel(ctx, mapping, window)
	case "delete_label":
		name, err := selection.ParseLabel(o.Label)
		if err != nil {
			return nil, err
		}
		return eng.DeleteLabel(ctx, name, window)
	default:
		return nil, fmt.Errorf("unknown operation %q", o.Op)
	}
}

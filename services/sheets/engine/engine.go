// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine exposes spreadsheet operations on top of the change
// tracker.
//
// Every operation opens its own changes.Session, applies one mutation or
// load, commits, and returns the session's Delta filtered through the
// caller's window:
//
//	eng, _ := engine.New(store.NewMemoryStores(), engine.Options{})
//	d, err := eng.SaveCell(ctx, selection.MustParseCell("A1"), "=B2+1", delta.Window{})
//
// Structural deletes (DeleteColumn, DeleteRow) always run in BATCH mode so
// that dependents shared by several removed cells are recomputed once.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Operations are serialized: the stores
// have a single writer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianSheets/services/sheets/changes"
	"github.com/AleutianAI/AleutianSheets/services/sheets/delta"
	"github.com/AleutianAI/AleutianSheets/services/sheets/formula"
	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
	"github.com/AleutianAI/AleutianSheets/services/sheets/store"
)

// Default sizes used when resolving pixel windows.
const (
	DefaultColumnWidth = 100
	DefaultRowHeight   = 30
)

// ErrNilArgument is returned for nil entities passed to an operation.
var ErrNilArgument = errors.New("nil argument")

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	// Mode is the propagation mode of ordinary operations.
	Mode changes.Mode

	// Parser and Evaluator are handed to every session.
	Parser    formula.Parser
	Evaluator formula.Evaluator

	// Logger receives one Info line per operation.
	Logger *slog.Logger

	// ColumnWidth and RowHeight are the sizes of columns and rows without
	// stored properties. Default: DefaultColumnWidth, DefaultRowHeight.
	ColumnWidth float64
	RowHeight   float64
}

// Engine runs operations against one set of stores.
type Engine struct {
	mu     sync.Mutex
	stores store.Stores
	opts   Options
	logger *slog.Logger
}

// New creates an engine over stores.
//
// Outputs:
//
//	*Engine - The engine. It borrows the stores and never closes them.
//	error - Wraps store.ErrMissingStore.
func New(stores store.Stores, opts Options) (*Engine, error) {
	if err := stores.Validate(); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ColumnWidth <= 0 {
		opts.ColumnWidth = DefaultColumnWidth
	}
	if opts.RowHeight <= 0 {
		opts.RowHeight = DefaultRowHeight
	}
	return &Engine{stores: stores, opts: opts, logger: opts.Logger}, nil
}

// Mode returns the propagation mode of ordinary operations.
func (e *Engine) Mode() changes.Mode { return e.opts.Mode }

// =============================================================================
// Cells
// =============================================================================

// SaveCell sets the text of a cell and recomputes its dependents.
func (e *Engine) SaveCell(ctx context.Context, ref selection.CellReference, text string, window delta.Window) (*delta.Delta, error) {
	return e.run(ctx, "save_cell", ref, e.opts.Mode, window, func(ctx context.Context, s *changes.Session) error {
		return s.OnCellSaved(ctx, model.NewCell(ref, text))
	})
}

// DeleteCell removes a cell. Its dependents recompute to #REF!.
func (e *Engine) DeleteCell(ctx context.Context, ref selection.CellReference, window delta.Window) (*delta.Delta, error) {
	return e.run(ctx, "delete_cell", ref, e.opts.Mode, window, func(ctx context.Context, s *changes.Session) error {
		return s.OnCellDeleted(ctx, ref)
	})
}

// LoadCell reports one cell, or its deletion when it does not exist.
func (e *Engine) LoadCell(ctx context.Context, ref selection.CellReference, window delta.Window) (*delta.Delta, error) {
	return e.run(ctx, "load_cell", ref, e.opts.Mode, window, func(ctx context.Context, s *changes.Session) error {
		_, _, err := s.OnCellLoaded(ctx, ref)
		return err
	})
}

// LoadCells reports every stored cell inside rng.
func (e *Engine) LoadCells(ctx context.Context, rng selection.CellRange, window delta.Window) (*delta.Delta, error) {
	return e.run(ctx, "load_cells", rng, e.opts.Mode, window, func(ctx context.Context, s *changes.Session) error {
		_, err := s.LoadRange(ctx, rng)
		return err
	})
}

// =============================================================================
// Columns and rows
// =============================================================================

// SaveColumn stores column properties.
func (e *Engine) SaveColumn(ctx context.Context, col *model.Column, window delta.Window) (*delta.Delta, error) {
	if col == nil {
		return nil, fmt.Errorf("save column: %w", ErrNilArgument)
	}
	return e.run(ctx, "save_column", col.Reference, e.opts.Mode, window, func(ctx context.Context, s *changes.Session) error {
		return s.OnColumnSaved(ctx, col)
	})
}

// SaveRow stores row properties.
func (e *Engine) SaveRow(ctx context.Context, row *model.Row, window delta.Window) (*delta.Delta, error) {
	if row == nil {
		return nil, fmt.Errorf("save row: %w", ErrNilArgument)
	}
	return e.run(ctx, "save_row", row.Reference, e.opts.Mode, window, func(ctx context.Context, s *changes.Session) error {
		return s.OnRowSaved(ctx, row)
	})
}

// DeleteColumn removes the column's properties and every cell in it.
// Remaining cells are not shifted.
func (e *Engine) DeleteColumn(ctx context.Context, col selection.ColumnReference, window delta.Window) (*delta.Delta, error) {
	return e.run(ctx, "delete_column", col, changes.ModeBatch, window, func(ctx context.Context, s *changes.Session) error {
		return e.clear(ctx, s, func(ref selection.CellReference) bool {
			return ref.Column().Value() == col.Value()
		}, func() error {
			return s.OnColumnDeleted(ctx, col)
		})
	})
}

// DeleteRow removes the row's properties and every cell in it. Remaining
// cells are not shifted.
func (e *Engine) DeleteRow(ctx context.Context, row selection.RowReference, window delta.Window) (*delta.Delta, error) {
	return e.run(ctx, "delete_row", row, changes.ModeBatch, window, func(ctx context.Context, s *changes.Session) error {
		return e.clear(ctx, s, func(ref selection.CellReference) bool {
			return ref.Row().Value() == row.Value()
		}, func() error {
			return s.OnRowDeleted(ctx, row)
		})
	})
}

// clear deletes every stored cell matched by in, then the line itself.
func (e *Engine) clear(ctx context.Context, s *changes.Session, in func(selection.CellReference) bool, deleteLine func() error) error {
	cells, err := e.stores.Cells.All(ctx)
	if err != nil {
		return err
	}
	for _, c := range cells {
		if !in(c.Reference) {
			continue
		}
		if err := s.OnCellDeleted(ctx, c.Reference); err != nil {
			return err
		}
	}
	return deleteLine()
}

// =============================================================================
// Labels
// =============================================================================

// SaveLabel points a label at a cell or range. Cells reading the label
// recompute.
func (e *Engine) SaveLabel(ctx context.Context, mapping *model.LabelMapping, window delta.Window) (*delta.Delta, error) {
	if mapping == nil {
		return nil, fmt.Errorf("save label: %w", ErrNilArgument)
	}
	return e.run(ctx, "save_label", mapping.Label, e.opts.Mode, window, func(ctx context.Context, s *changes.Session) error {
		return s.OnLabelSaved(ctx, mapping)
	})
}

// DeleteLabel removes a label. Cells reading it recompute to #NAME?.
func (e *Engine) DeleteLabel(ctx context.Context, name selection.LabelName, window delta.Window) (*delta.Delta, error) {
	return e.run(ctx, "delete_label", name, e.opts.Mode, window, func(ctx context.Context, s *changes.Session) error {
		return s.OnLabelDeleted(ctx, name)
	})
}

// =============================================================================
// Operation runner
// =============================================================================

// run executes one operation in a fresh session.
//
// Description:
//
//	Serializes on the engine mutex, opens a session in mode, calls apply,
//	commits, resolves a pixel window against the stored column and row
//	sizes and renders the delta. On failure no delta is returned; writes
//	already made stay in the stores.
func (e *Engine) run(ctx context.Context, op string, target selection.Selection, mode changes.Mode, window delta.Window, apply func(context.Context, *changes.Session) error) (d *delta.Delta, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := startOperationSpan(ctx, op, target.String())
	defer span.End()
	start := time.Now()
	defer func() {
		size := 0
		if d != nil {
			size = deltaSize(d)
		}
		recordOperation(ctx, op, time.Since(start), size, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Error("operation failed",
				slog.String("op", op),
				slog.String("target", target.String()),
				slog.String("error", err.Error()),
			)
		}
	}()

	s, err := changes.New(e.stores, changes.Options{
		Mode:      mode,
		Parser:    e.opts.Parser,
		Evaluator: e.opts.Evaluator,
		Logger:    e.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := apply(ctx, s); err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, target, err)
	}
	if err := s.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, target, err)
	}
	window, err = e.resolveWindow(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, target, err)
	}
	d = s.Delta(window)
	e.logger.Info("operation",
		slog.String("op", op),
		slog.String("target", target.String()),
		slog.String("session", s.ID()),
		slog.Int("entities", deltaSize(d)),
	)
	return d, nil
}

func deltaSize(d *delta.Delta) int {
	return len(d.Cells()) + len(d.Columns()) + len(d.Rows()) + len(d.Labels()) +
		len(d.DeletedCells()) + len(d.DeletedColumns()) + len(d.DeletedRows()) + len(d.DeletedLabels())
}

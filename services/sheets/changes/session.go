// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package changes tracks what one spreadsheet operation touched and
// propagates each change to the cells that depend on it.
//
// # Sessions
//
// A Session lives for exactly one engine operation. It borrows the stores,
// keeps one cache entry per touched selection, and maintains the reference
// graph as formulas change:
//
//	OnCellSaved(A1 "=B2+1")
//	  → A1 SAVING → evaluate → SAVED → persist
//	  → drop A1's old edges, add A1→B2
//	  → dependents of A1: ForceReferencesRefresh, then
//	      IMMEDIATE: recompute now (recursively)
//	      BATCH:     flag until Commit
//	  → A1 SAVED_REFERENCES_REFRESHED
//
// # Termination
//
// Every entry point and every Commit starts a new pass. An entry is
// recomputed at most once per pass, and a cell read while it is itself being
// computed resolves to a #REF! cycle error. Cyclic formulas therefore settle
// after one visit per cell.
//
// # Failure
//
// Formula errors become the cell's error value and never stop a session.
// Store errors stop the operation and are returned; writes already made stay
// made. A failed Commit keeps every not yet recomputed dependent flagged, so
// calling Commit again finishes the work.
//
// # Thread Safety
//
// A Session is not safe for concurrent use. Callers (the engine) run one
// session at a time against a set of stores.
package changes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSheets/services/sheets/delta"
	"github.com/AleutianAI/AleutianSheets/services/sheets/formula"
	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
	"github.com/AleutianAI/AleutianSheets/services/sheets/store"
)

// Mode selects when dependents are recomputed.
type Mode int

const (
	// ModeImmediate recomputes dependents before each entry point returns.
	ModeImmediate Mode = iota

	// ModeBatch only flags dependents; Commit recomputes them.
	ModeBatch
)

// String returns "IMMEDIATE" or "BATCH".
func (m Mode) String() string {
	if m == ModeBatch {
		return "BATCH"
	}
	return "IMMEDIATE"
}

// ParseMode parses "immediate" or "batch", case-insensitively.
func ParseMode(text string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case "IMMEDIATE", "":
		return ModeImmediate, nil
	case "BATCH":
		return ModeBatch, nil
	default:
		return ModeImmediate, fmt.Errorf("unknown mode %q", text)
	}
}

// Options configures a Session.
type Options struct {
	// Mode selects immediate or batched recomputation.
	Mode Mode

	// Parser turns cell text into a tree. Default: formula.DefaultParser.
	Parser formula.Parser

	// Evaluator computes values. Default: formula.DefaultEvaluator.
	Evaluator formula.Evaluator

	// Logger receives per-entity debug logging. Default: slog.Default().
	Logger *slog.Logger
}

// Session is the change tracker of one operation.
type Session struct {
	id     string
	stores store.Stores
	opts   Options
	logger *slog.Logger

	cells   *Cache[*model.Cell]
	columns *Cache[*model.Column]
	rows    *Cache[*model.Row]
	labels  *Cache[*model.LabelMapping]

	pass       int
	committing bool
	pending    map[string]selection.Selection
}

// New creates a session over stores.
//
// Description:
//
//	Validates the stores, fills in default collaborators and assigns the
//	session a random ID used in logs and spans. The session never closes or
//	otherwise owns the stores.
//
// Inputs:
//
//	stores - The borrowed stores. Every capability is required.
//	opts - Mode and collaborators.
//
// Outputs:
//
//	*Session - The session.
//	error - Wraps store.ErrMissingStore.
func New(stores store.Stores, opts Options) (*Session, error) {
	if err := stores.Validate(); err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	if opts.Parser == nil {
		opts.Parser = formula.DefaultParser
	}
	if opts.Evaluator == nil {
		opts.Evaluator = formula.DefaultEvaluator
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := uuid.NewString()
	recordSession(opts.Mode)
	return &Session{
		id:      id,
		stores:  stores,
		opts:    opts,
		logger:  opts.Logger.With(slog.String("session", id), slog.String("mode", opts.Mode.String())),
		cells:   NewCache[*model.Cell](selection.KindCell),
		columns: NewCache[*model.Column](selection.KindColumn),
		rows:    NewCache[*model.Row](selection.KindRow),
		labels:  NewCache[*model.LabelMapping](selection.KindLabel),
		pending: make(map[string]selection.Selection),
	}, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Mode returns the session mode.
func (s *Session) Mode() Mode { return s.opts.Mode }

// Cells returns the cell cache.
func (s *Session) Cells() *Cache[*model.Cell] { return s.cells }

// Columns returns the column cache.
func (s *Session) Columns() *Cache[*model.Column] { return s.columns }

// Rows returns the row cache.
func (s *Session) Rows() *Cache[*model.Row] { return s.rows }

// Labels returns the label cache.
func (s *Session) Labels() *Cache[*model.LabelMapping] { return s.labels }

// Pending returns the dependents flagged for Commit, in canonical order.
func (s *Session) Pending() []selection.Selection {
	out := make([]selection.Selection, 0, len(s.pending))
	for _, sel := range s.pending {
		out = append(out, sel)
	}
	sortSelections(out)
	return out
}

// Visits returns how many times sel was recomputed or rewritten. Zero when
// the session never touched it.
func (s *Session) Visits(sel selection.Selection) int {
	switch sel.Kind() {
	case selection.KindCell:
		if e, ok := s.cells.Get(sel); ok {
			return e.Visits()
		}
	case selection.KindColumn:
		if e, ok := s.columns.Get(sel); ok {
			return e.Visits()
		}
	case selection.KindRow:
		if e, ok := s.rows.Get(sel); ok {
			return e.Visits()
		}
	case selection.KindLabel:
		if e, ok := s.labels.Get(sel); ok {
			return e.Visits()
		}
	}
	return 0
}

func (s *Session) beginPass() {
	s.pass++
}

// =============================================================================
// Cells
// =============================================================================

// OnCellSaved evaluates and stores cell, then updates its references and
// dependents.
func (s *Session) OnCellSaved(ctx context.Context, cell *model.Cell) error {
	if cell == nil {
		panic("changes: OnCellSaved with nil cell")
	}
	s.beginPass()
	e := s.cells.GetOrCreate(cell.Reference, s.stores.Cells, s.cells.machine.Initial(false))
	e.ToNonReference()
	if err := s.saveCell(ctx, e, cell.Reference, cell.Formula.Text); err != nil {
		return fmt.Errorf("save cell %s: %w", cell.Reference, err)
	}
	return nil
}

// OnCellDeleted removes the cell and recomputes its dependents, which now
// read a missing cell.
//
// The dependents' edges to the cell are kept: their formulas still name it,
// and recreating the cell must reach them again.
func (s *Session) OnCellDeleted(ctx context.Context, ref selection.CellReference) error {
	s.beginPass()
	e := s.cells.GetOrCreate(ref, s.stores.Cells, s.cells.machine.Initial(false))
	e.ToNonReference()
	e.visit(s.pass)
	e.Deleted()
	if err := s.stores.Cells.Delete(ctx, ref); err != nil {
		return fmt.Errorf("delete cell %s: %w", ref, err)
	}
	if _, err := s.stores.References.RemoveReferencesFrom(ctx, ref); err != nil {
		return fmt.Errorf("delete cell %s: %w", ref, err)
	}
	s.logger.Debug("cell deleted", slog.String("cell", ref.String()))
	if err := s.propagate(ctx, ref); err != nil {
		return fmt.Errorf("delete cell %s: %w", ref, err)
	}
	e.ReferencesRefreshed()
	return nil
}

// OnCellLoaded loads a cell into the session as a direct entry. A missing
// cell is reported as deleted.
func (s *Session) OnCellLoaded(ctx context.Context, ref selection.CellReference) (*model.Cell, bool, error) {
	e := s.cells.GetOrCreate(ref, s.stores.Cells, s.cells.machine.Initial(false))
	e.ToNonReference()
	cell, ok, err := e.Load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load cell %s: %w", ref, err)
	}
	return cell, ok, nil
}

// LoadRange loads every stored cell inside rng. Missing cells are not
// reported.
func (s *Session) LoadRange(ctx context.Context, rng selection.CellRange) ([]*model.Cell, error) {
	all, err := s.stores.Cells.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load range %s: %w", rng, err)
	}
	var out []*model.Cell
	for _, c := range all {
		if !rng.Contains(c.Reference) {
			continue
		}
		e := s.cells.GetOrCreate(c.Reference, s.stores.Cells, s.cells.machine.Initial(false))
		e.ToNonReference()
		if e.Status().IsUnloaded() {
			e.Loading()
			e.Loaded(c)
		}
		if v, ok := e.Value(); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// =============================================================================
// Columns and rows
// =============================================================================

// OnColumnSaved stores column properties.
func (s *Session) OnColumnSaved(ctx context.Context, col *model.Column) error {
	if col == nil {
		panic("changes: OnColumnSaved with nil column")
	}
	s.beginPass()
	return saveEntity(ctx, s, s.columns, s.stores.Columns, col)
}

// OnColumnDeleted removes column properties.
func (s *Session) OnColumnDeleted(ctx context.Context, ref selection.ColumnReference) error {
	s.beginPass()
	return deleteEntity(ctx, s, s.columns, s.stores.Columns, ref)
}

// LoadColumn loads column properties as a direct entry.
func (s *Session) LoadColumn(ctx context.Context, ref selection.ColumnReference) (*model.Column, bool, error) {
	return loadEntity(ctx, s.columns, s.stores.Columns, ref)
}

// OnRowSaved stores row properties.
func (s *Session) OnRowSaved(ctx context.Context, row *model.Row) error {
	if row == nil {
		panic("changes: OnRowSaved with nil row")
	}
	s.beginPass()
	return saveEntity(ctx, s, s.rows, s.stores.Rows, row)
}

// OnRowDeleted removes row properties.
func (s *Session) OnRowDeleted(ctx context.Context, ref selection.RowReference) error {
	s.beginPass()
	return deleteEntity(ctx, s, s.rows, s.stores.Rows, ref)
}

// LoadRow loads row properties as a direct entry.
func (s *Session) LoadRow(ctx context.Context, ref selection.RowReference) (*model.Row, bool, error) {
	return loadEntity(ctx, s.rows, s.stores.Rows, ref)
}

// =============================================================================
// Labels
// =============================================================================

// OnLabelSaved stores the mapping, replaces the label's edges with one per
// target cell, and recomputes every cell that reads the label.
func (s *Session) OnLabelSaved(ctx context.Context, mapping *model.LabelMapping) error {
	if mapping == nil {
		panic("changes: OnLabelSaved with nil mapping")
	}
	s.beginPass()
	e := s.labels.GetOrCreate(mapping.Label, s.stores.Labels, s.labels.machine.Initial(false))
	e.ToNonReference()
	e.visit(s.pass)
	e.Saving()
	e.Saved(mapping)
	if err := s.stores.Labels.Save(ctx, mapping); err != nil {
		return fmt.Errorf("save label %s: %w", mapping.Label, err)
	}
	if _, err := s.stores.References.RemoveReferencesFrom(ctx, mapping.Label); err != nil {
		return fmt.Errorf("save label %s: %w", mapping.Label, err)
	}
	for _, target := range mapping.TargetCells() {
		if err := s.stores.References.AddReference(ctx, mapping.Label, target); err != nil {
			return fmt.Errorf("save label %s: %w", mapping.Label, err)
		}
	}
	s.logger.Debug("label saved", slog.String("label", mapping.String()))
	if err := s.propagate(ctx, mapping.Label); err != nil {
		return fmt.Errorf("save label %s: %w", mapping.Label, err)
	}
	e.ReferencesRefreshed()
	return nil
}

// OnLabelDeleted removes the mapping and its edges; cells reading the label
// recompute to #NAME?.
func (s *Session) OnLabelDeleted(ctx context.Context, name selection.LabelName) error {
	s.beginPass()
	e := s.labels.GetOrCreate(name, s.stores.Labels, s.labels.machine.Initial(false))
	e.ToNonReference()
	e.visit(s.pass)
	e.Deleted()
	if err := s.stores.Labels.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete label %s: %w", name, err)
	}
	if _, err := s.stores.References.RemoveReferencesFrom(ctx, name); err != nil {
		return fmt.Errorf("delete label %s: %w", name, err)
	}
	if err := s.propagate(ctx, name); err != nil {
		return fmt.Errorf("delete label %s: %w", name, err)
	}
	e.ReferencesRefreshed()
	return nil
}

// LoadLabel loads a mapping as a direct entry.
func (s *Session) LoadLabel(ctx context.Context, name selection.LabelName) (*model.LabelMapping, bool, error) {
	return loadEntity(ctx, s.labels, s.stores.Labels, name)
}

// =============================================================================
// Generic entity bookkeeping
// =============================================================================

func saveEntity[V model.Entity](ctx context.Context, s *Session, cache *Cache[V], backing store.Store[V], v V) error {
	sel := v.Selection()
	e := cache.GetOrCreate(sel, backing, cache.machine.Initial(false))
	e.ToNonReference()
	e.visit(s.pass)
	e.Saving()
	e.Saved(v)
	if err := backing.Save(ctx, v); err != nil {
		return fmt.Errorf("save %s %s: %w", sel.Kind(), sel, err)
	}
	if err := s.propagate(ctx, sel); err != nil {
		return fmt.Errorf("save %s %s: %w", sel.Kind(), sel, err)
	}
	e.ReferencesRefreshed()
	return nil
}

func deleteEntity[V model.Entity](ctx context.Context, s *Session, cache *Cache[V], backing store.Store[V], sel selection.Selection) error {
	e := cache.GetOrCreate(sel, backing, cache.machine.Initial(false))
	e.ToNonReference()
	e.visit(s.pass)
	e.Deleted()
	if err := backing.Delete(ctx, sel); err != nil {
		return fmt.Errorf("delete %s %s: %w", sel.Kind(), sel, err)
	}
	if err := s.propagate(ctx, sel); err != nil {
		return fmt.Errorf("delete %s %s: %w", sel.Kind(), sel, err)
	}
	e.ReferencesRefreshed()
	return nil
}

func loadEntity[V model.Entity](ctx context.Context, cache *Cache[V], backing store.Store[V], sel selection.Selection) (V, bool, error) {
	e := cache.GetOrCreate(sel, backing, cache.machine.Initial(false))
	e.ToNonReference()
	v, ok, err := e.Load(ctx)
	if err != nil {
		return v, false, fmt.Errorf("load %s %s: %w", sel.Kind(), sel, err)
	}
	return v, ok, nil
}

// =============================================================================
// Output
// =============================================================================

// Delta renders the session through window.
//
// Direct entries are reported with their value, or as deletions when they
// are deleted or missing. Reference-only entries appear only when the
// session recomputed them.
func (s *Session) Delta(window delta.Window) *delta.Delta {
	b := delta.NewBuilder()
	for _, e := range s.cells.Entries() {
		if v, ok := reportable(e); ok {
			b.AddCell(v)
		} else if reportDeleted(e) {
			b.DeleteCell(e.sel.(selection.CellReference))
		}
	}
	for _, e := range s.columns.Entries() {
		if v, ok := reportable(e); ok {
			b.AddColumn(v)
		} else if reportDeleted(e) {
			b.DeleteColumn(e.sel.(selection.ColumnReference))
		}
	}
	for _, e := range s.rows.Entries() {
		if v, ok := reportable(e); ok {
			b.AddRow(v)
		} else if reportDeleted(e) {
			b.DeleteRow(e.sel.(selection.RowReference))
		}
	}
	for _, e := range s.labels.Entries() {
		if v, ok := reportable(e); ok {
			b.AddLabel(v)
		} else if reportDeleted(e) {
			b.DeleteLabel(e.sel.(selection.LabelName))
		}
	}
	return b.Build(window)
}

func reportable[V model.Entity](e *Entry[V]) (V, bool) {
	v, ok := e.Value()
	if !ok || e.status.IsMissingValue() {
		var zero V
		return zero, false
	}
	if e.status.IsReference() && e.visits == 0 {
		return v, false
	}
	return v, true
}

func reportDeleted[V model.Entity](e *Entry[V]) bool {
	return e.status.IsDeleted() && !e.status.IsReference()
}

// String renders every touched entity grouped by kind, for example
// "cells: A1=1 status=SAVED_REFERENCES_REFRESHED columns: M status=SAVED".
func (s *Session) String() string {
	var groups []string
	add := func(name string, items []string) {
		if len(items) > 0 {
			groups = append(groups, name+": "+strings.Join(items, ", "))
		}
	}
	add("cells", describe(s.cells))
	add("columns", describe(s.columns))
	add("rows", describe(s.rows))
	add("labels", describe(s.labels))
	return strings.Join(groups, " ")
}

func describe[V model.Entity](c *Cache[V]) []string {
	entries := c.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		text := e.sel.String()
		if v, ok := e.Value(); ok && !e.status.IsDeleted() {
			text = fmt.Sprint(v)
		}
		out[i] = text + " status=" + e.status.String()
	}
	return out
}

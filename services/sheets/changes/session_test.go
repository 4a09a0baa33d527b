// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package changes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSheets/services/sheets/delta"
	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
	"github.com/AleutianAI/AleutianSheets/services/sheets/store"
)

var errBoom = errors.New("boom")

// flakyCells fails Save and Load for one key a fixed number of times.
type flakyCells struct {
	store.Store[*model.Cell]
	failKey      string
	failures     int
	loadFailures int
}

func (f *flakyCells) Save(ctx context.Context, c *model.Cell) error {
	if c.Reference.Key() == f.failKey && f.failures > 0 {
		f.failures--
		return errBoom
	}
	return f.Store.Save(ctx, c)
}

func (f *flakyCells) Load(ctx context.Context, ref selection.Selection) (*model.Cell, bool, error) {
	if ref.Key() == f.failKey && f.loadFailures > 0 {
		f.loadFailures--
		return nil, false, errBoom
	}
	return f.Store.Load(ctx, ref)
}

func newSession(t *testing.T, stores store.Stores, mode Mode) *Session {
	t.Helper()
	s, err := New(stores, Options{Mode: mode})
	require.NoError(t, err)
	return s
}

// saveCells saves each "REF" → "text" pair in its own session, like separate
// engine operations.
func saveCells(t *testing.T, stores store.Stores, pairs ...string) {
	t.Helper()
	require.Zero(t, len(pairs)%2)
	for i := 0; i < len(pairs); i += 2 {
		s := newSession(t, stores, ModeImmediate)
		require.NoError(t, s.OnCellSaved(context.Background(), model.NewCell(selection.MustParseCell(pairs[i]), pairs[i+1])))
	}
}

func storedResult(t *testing.T, stores store.Stores, ref string) any {
	t.Helper()
	c, ok, err := stores.Cells.Load(context.Background(), selection.MustParseCell(ref))
	require.NoError(t, err)
	require.True(t, ok, "cell %s missing", ref)
	return c.Result()
}

func deltaResult(t *testing.T, d *delta.Delta, ref string) any {
	t.Helper()
	c, ok := d.Cell(selection.MustParseCell(ref))
	require.True(t, ok, "cell %s not in delta %s", ref, d)
	return c.Result()
}

func keysOf(sels []selection.Selection) []string {
	out := make([]string, len(sels))
	for i, s := range sels {
		out[i] = s.Key()
	}
	return out
}

func TestNew_RequiresStores(t *testing.T) {
	_, err := New(store.Stores{}, Options{})
	require.ErrorIs(t, err, store.ErrMissingStore)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("batch")
	require.NoError(t, err)
	assert.Equal(t, ModeBatch, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeImmediate, m)
	_, err = ParseMode("eventually")
	assert.Error(t, err)
}

func TestSession_SaveWithMissingReference(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()

	s := newSession(t, stores, ModeImmediate)
	require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("A1"), "=B2+1")))

	from, err := stores.References.ReferencesFrom(ctx, selection.MustParseCell("A1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"cell:B2"}, keysOf(from))

	res, ok := storedResult(t, stores, "A1").(*model.ErrorValue)
	require.True(t, ok)
	assert.Equal(t, model.ErrorRef, res.Kind)

	d := s.Delta(delta.Window{})
	assert.Len(t, d.Cells(), 1, "reference-only B2 is not reported")
	assert.Empty(t, d.DeletedCells())
}

func TestSession_SaveRecomputesDependent(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	saveCells(t, stores, "A1", "=B2+1")

	s := newSession(t, stores, ModeImmediate)
	require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("B2"), "5")))

	d := s.Delta(delta.Window{})
	assert.Equal(t, 6.0, deltaResult(t, d, "A1"))
	assert.Equal(t, 5.0, deltaResult(t, d, "B2"))
	assert.Equal(t, 6.0, storedResult(t, stores, "A1"))
	assert.Equal(t,
		"cells: A1=6 status=REFERENCE_SAVED_REFERENCES_REFRESHED, B2=5 status=SAVED_REFERENCES_REFRESHED",
		s.String())
}

func TestSession_DeleteReferencedCell(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	saveCells(t, stores, "A1", "=B2+1", "B2", "5")
	require.Equal(t, 6.0, storedResult(t, stores, "A1"))

	s := newSession(t, stores, ModeImmediate)
	require.NoError(t, s.OnCellDeleted(ctx, selection.MustParseCell("B2")))

	d := s.Delta(delta.Window{})
	res, ok := deltaResult(t, d, "A1").(*model.ErrorValue)
	require.True(t, ok)
	assert.Equal(t, model.ErrorRef, res.Kind)
	assert.Contains(t, res.Message, "B2")
	require.Len(t, d.DeletedCells(), 1)
	assert.Equal(t, "B2", d.DeletedCells()[0].String())

	// A1 still names B2, so recreating B2 reaches it again.
	to, err := stores.References.ReferencesTo(ctx, selection.MustParseCell("B2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"cell:A1"}, keysOf(to))

	saveCells(t, stores, "B2", "7")
	assert.Equal(t, 8.0, storedResult(t, stores, "A1"))
}

func TestSession_SelfReferenceTerminates(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()

	s := newSession(t, stores, ModeImmediate)
	require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("A1"), "=A1+1")))

	assert.Equal(t, 1, s.Visits(selection.MustParseCell("A1")))
	res, ok := storedResult(t, stores, "A1").(*model.ErrorValue)
	require.True(t, ok)
	assert.Equal(t, model.ErrorRef, res.Kind)
	assert.Contains(t, res.Message, "cycle")
}

func TestSession_MutualCycleTerminates(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	saveCells(t, stores, "A1", "=B1+1")

	s := newSession(t, stores, ModeImmediate)
	require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("B1"), "=A1+1")))
	assert.Equal(t, 1, s.Visits(selection.MustParseCell("A1")))
	assert.Equal(t, 1, s.Visits(selection.MustParseCell("B1")))

	for _, ref := range []string{"A1", "B1"} {
		_, isErr := storedResult(t, stores, ref).(*model.ErrorValue)
		assert.True(t, isErr, ref)
	}
}

func TestSession_DiamondSettles(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	saveCells(t, stores,
		"A1", "1",
		"B1", "=A1*2",
		"C1", "=A1*3",
		"C2", "=C1+0",
		"D1", "=B1+C2",
	)
	require.Equal(t, 5.0, storedResult(t, stores, "D1"))

	s := newSession(t, stores, ModeImmediate)
	require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("A1"), "10")))

	assert.Equal(t, 50.0, storedResult(t, stores, "D1"))
	for _, ref := range []string{"A1", "B1", "C1", "C2", "D1"} {
		assert.Equal(t, 1, s.Visits(selection.MustParseCell(ref)), ref)
	}
}

func TestSession_BatchDefersUntilCommit(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	saveCells(t, stores, "A1", "=B2+1", "C1", "=A1*10")

	s := newSession(t, stores, ModeBatch)
	require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("B2"), "5")))

	assert.Equal(t, []string{"cell:A1"}, keysOf(s.Pending()))
	a1, ok := s.Cells().Get(selection.MustParseCell("A1"))
	require.True(t, ok)
	assert.True(t, a1.Status().IsReference())
	assert.Equal(t, 0, a1.Visits())
	_, inDelta := s.Delta(delta.Window{}).Cell(selection.MustParseCell("A1"))
	assert.False(t, inDelta)

	require.NoError(t, s.Commit(ctx))
	assert.Empty(t, s.Pending())
	assert.Equal(t, 6.0, storedResult(t, stores, "A1"))
	assert.Equal(t, 60.0, storedResult(t, stores, "C1"))
	assert.Equal(t, 60.0, deltaResult(t, s.Delta(delta.Window{}), "C1"))

	require.NoError(t, s.Commit(ctx), "empty commit is a no-op")
}

func TestSession_ImmediateCommitIsNoop(t *testing.T) {
	s := newSession(t, store.NewMemoryStores(), ModeImmediate)
	require.NoError(t, s.Commit(context.Background()))
	assert.Empty(t, s.Pending())
}

func TestSession_FailedCommitRetries(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	saveCells(t, stores, "A1", "=B1*2", "C1", "=B1*3")

	flaky := &flakyCells{Store: stores.Cells, failKey: "cell:C1", failures: 1}
	stores.Cells = flaky

	s := newSession(t, stores, ModeBatch)
	require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("B1"), "10")))
	require.Equal(t, []string{"cell:A1", "cell:C1"}, keysOf(s.Pending()))

	err := s.Commit(ctx)
	require.ErrorIs(t, err, errBoom)

	// No rollback: A1 is written, C1 stays flagged.
	assert.Equal(t, 20.0, storedResult(t, stores, "A1"))
	assert.Equal(t, []string{"cell:C1"}, keysOf(s.Pending()))

	require.NoError(t, s.Commit(ctx))
	assert.Empty(t, s.Pending())
	assert.Equal(t, 30.0, storedResult(t, stores, "C1"))
}

func TestSession_FailedLoadRetries(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	saveCells(t, stores, "A1", "=B1*2")

	flaky := &flakyCells{Store: stores.Cells, failKey: "cell:A1", loadFailures: 1}
	stores.Cells = flaky

	s := newSession(t, stores, ModeBatch)
	require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("B1"), "10")))
	require.Equal(t, []string{"cell:A1"}, keysOf(s.Pending()))

	err := s.Commit(ctx)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"cell:A1"}, keysOf(s.Pending()))
	e, ok := s.Cells().Get(selection.MustParseCell("A1"))
	require.True(t, ok)
	assert.False(t, e.Status().IsBusy(), "a failed load leaves the entry idle")

	require.NoError(t, s.Commit(ctx))
	assert.Empty(t, s.Pending())
	assert.Equal(t, 20.0, storedResult(t, stores, "A1"))
}

func TestSession_FailedSaveRestoresEntry(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	flaky := &flakyCells{Store: stores.Cells, failKey: "cell:A1", failures: 1}
	stores.Cells = flaky

	s := newSession(t, stores, ModeImmediate)
	require.ErrorIs(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("A1"), "5")), errBoom)
	e, ok := s.Cells().Get(selection.MustParseCell("A1"))
	require.True(t, ok)
	assert.False(t, e.Status().IsBusy(), "a failed save leaves the entry idle")

	require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("A1"), "5")))
	assert.Equal(t, 5.0, storedResult(t, stores, "A1"))
}

func TestSession_FormulaErrorsDoNotAbort(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()

	s := newSession(t, stores, ModeImmediate)
	require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("A1"), "=1+")))
	require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("A2"), "=1/0")))
	require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("A3"), "=2*3")))

	d := s.Delta(delta.Window{})
	syntax, ok := deltaResult(t, d, "A1").(*model.ErrorValue)
	require.True(t, ok)
	assert.Equal(t, model.ErrorSyntax, syntax.Kind)
	div, ok := deltaResult(t, d, "A2").(*model.ErrorValue)
	require.True(t, ok)
	assert.Equal(t, model.ErrorDivZero, div.Kind)
	assert.Equal(t, 6.0, deltaResult(t, d, "A3"))
}

func TestSession_FormulaChangeRewiresEdges(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	saveCells(t, stores, "A1", "=B1+C1", "A1", "=$D$1")

	from, err := stores.References.ReferencesFrom(ctx, selection.MustParseCell("A1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"cell:D1"}, keysOf(from))
	to, err := stores.References.ReferencesTo(ctx, selection.MustParseCell("B1"))
	require.NoError(t, err)
	assert.Empty(t, to)
}

func TestSession_Labels(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	saveCells(t, stores, "A1", "1", "A2", "2", "B1", "5", "C1", "=SUM(Total)")

	mapping, err := model.NewLabelMapping(selection.MustParseLabel("Total"), selection.MustParseRange("A1:A2"))
	require.NoError(t, err)

	s := newSession(t, stores, ModeImmediate)
	require.NoError(t, s.OnLabelSaved(ctx, mapping))
	assert.Equal(t, 3.0, storedResult(t, stores, "C1"))
	d := s.Delta(delta.Window{})
	require.Len(t, d.Labels(), 1)
	assert.Equal(t, 3.0, deltaResult(t, d, "C1"))

	// C1's edge is to the label itself, not to the label's cells.
	from, err := stores.References.ReferencesFrom(ctx, selection.MustParseCell("C1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"label:total"}, keysOf(from))

	t.Run("target cell change reaches label readers", func(t *testing.T) {
		s := newSession(t, stores, ModeImmediate)
		require.NoError(t, s.OnCellSaved(ctx, model.NewCell(selection.MustParseCell("A2"), "20")))
		assert.Equal(t, 21.0, storedResult(t, stores, "C1"))

		d := s.Delta(delta.Window{})
		assert.Equal(t, 21.0, deltaResult(t, d, "C1"))
		assert.Empty(t, d.Labels(), "an unchanged mapping is not reported")
	})

	t.Run("moving the label", func(t *testing.T) {
		moved, err := model.NewLabelMapping(selection.MustParseLabel("Total"), selection.MustParseCell("B1"))
		require.NoError(t, err)
		s := newSession(t, stores, ModeImmediate)
		require.NoError(t, s.OnLabelSaved(ctx, moved))
		assert.Equal(t, 5.0, storedResult(t, stores, "C1"))

		saveCells(t, stores, "A1", "100")
		assert.Equal(t, 5.0, storedResult(t, stores, "C1"))
	})

	t.Run("deleting the label", func(t *testing.T) {
		s := newSession(t, stores, ModeImmediate)
		require.NoError(t, s.OnLabelDeleted(ctx, selection.MustParseLabel("Total")))
		res, ok := storedResult(t, stores, "C1").(*model.ErrorValue)
		require.True(t, ok)
		assert.Equal(t, model.ErrorName, res.Kind)
		require.Len(t, s.Delta(delta.Window{}).DeletedLabels(), 1)
	})
}

func TestSession_ColumnsAndRows(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	colM, err := selection.ParseColumn("M")
	require.NoError(t, err)
	row3, err := selection.ParseRow("3")
	require.NoError(t, err)

	s := newSession(t, stores, ModeImmediate)
	require.NoError(t, s.OnColumnSaved(ctx, &model.Column{Reference: colM, Width: 80}))
	require.NoError(t, s.OnRowSaved(ctx, &model.Row{Reference: row3, Height: 25}))
	assert.Equal(t, "columns: M status=SAVED_REFERENCES_REFRESHED rows: 3 status=SAVED_REFERENCES_REFRESHED", s.String())

	d := s.Delta(delta.Window{})
	assert.Equal(t, map[string]float64{"M": 80}, d.ColumnWidths())
	assert.Equal(t, map[string]float64{"3": 25}, d.RowHeights())

	s = newSession(t, stores, ModeImmediate)
	require.NoError(t, s.OnColumnDeleted(ctx, colM))
	require.NoError(t, s.OnRowDeleted(ctx, row3))
	d = s.Delta(delta.Window{})
	assert.Len(t, d.DeletedColumns(), 1)
	assert.Len(t, d.DeletedRows(), 1)

	_, ok, err := s.LoadColumn(ctx, colM)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_Loads(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	saveCells(t, stores, "A1", "1", "B2", "2", "C3", "3")

	s := newSession(t, stores, ModeImmediate)
	cells, err := s.LoadRange(ctx, selection.MustParseRange("A1:B5"))
	require.NoError(t, err)
	assert.Len(t, cells, 2)

	_, ok, err := s.OnCellLoaded(ctx, selection.MustParseCell("Z1"))
	require.NoError(t, err)
	assert.False(t, ok)

	d := s.Delta(delta.Window{})
	assert.Len(t, d.Cells(), 2)
	require.Len(t, d.DeletedCells(), 1)
	assert.Equal(t, "Z1", d.DeletedCells()[0].String())
	assert.Equal(t, "cells: A1=1 status=LOADED, B2=2 status=LOADED, Z1 status=DELETED", s.String())
}

func TestSession_NilArgumentsPanic(t *testing.T) {
	s := newSession(t, store.NewMemoryStores(), ModeImmediate)
	ctx := context.Background()
	assert.Panics(t, func() { _ = s.OnCellSaved(ctx, nil) })
	assert.Panics(t, func() { _ = s.OnLabelSaved(ctx, nil) })
	assert.Panics(t, func() { _ = s.OnColumnSaved(ctx, nil) })
	assert.Panics(t, func() { _ = s.OnRowSaved(ctx, nil) })
}

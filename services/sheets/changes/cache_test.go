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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
	"github.com/AleutianAI/AleutianSheets/services/sheets/status"
	"github.com/AleutianAI/AleutianSheets/services/sheets/store"
)

func TestCache_GetOrCreateIsSingleFlight(t *testing.T) {
	cells := store.NewMemoryStore(store.NewCell)
	c := NewCache[*model.Cell](selection.KindCell)

	first := c.GetOrCreate(selection.MustParseCell("A1"), cells, c.Machine().Initial(false))
	again := c.GetOrCreate(selection.MustParseCell("$A$1"), cells, c.Machine().Initial(true))
	other := c.GetOrCreate(selection.MustParseCell("B1"), cells, c.Machine().Initial(true))

	assert.Same(t, first, again)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, c.Len())
	assert.False(t, again.Status().IsReference(), "first creation decides the track")
	assert.Equal(t, "A1", again.Selection().String())
}

func TestCache_Entries_Sorted(t *testing.T) {
	cells := store.NewMemoryStore(store.NewCell)
	c := NewCache[*model.Cell](selection.KindCell)
	for _, ref := range []string{"B1", "A2", "A10", "A1"} {
		c.GetOrCreate(selection.MustParseCell(ref), cells, c.Machine().Initial(false))
	}
	var got []string
	for _, e := range c.Entries() {
		got = append(got, e.Selection().String())
	}
	assert.Equal(t, []string{"A1", "A2", "A10", "B1"}, got)
}

func TestCache_WrongKindPanics(t *testing.T) {
	c := NewCache[*model.Cell](selection.KindCell)
	assert.Panics(t, func() {
		c.GetOrCreate(selection.MustParseLabel("Total"), store.NewMemoryStore(store.NewCell), c.Machine().Initial(false))
	})
	assert.Panics(t, func() {
		c.GetOrCreate(selection.MustParseCell("A1"), store.NewMemoryStore(store.NewCell), status.For(selection.KindRow).Initial(false))
	})
}

func TestEntry_LoadIsLazy(t *testing.T) {
	ctx := context.Background()
	cells := store.NewMemoryStore(store.NewCell)
	require.NoError(t, cells.Save(ctx, model.NewCell(selection.MustParseCell("A1"), "1").WithResult(1.0)))

	c := NewCache[*model.Cell](selection.KindCell)
	e := c.GetOrCreate(selection.MustParseCell("A1"), cells, c.Machine().Initial(true))
	assert.True(t, e.Status().IsUnloaded())
	_, ok := e.Value()
	assert.False(t, ok)

	v, ok, err := e.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, v.Result())
	assert.Equal(t, "REFERENCE_LOADED", e.Status().String())

	// A second Load answers from memory.
	require.NoError(t, cells.Delete(ctx, selection.MustParseCell("A1")))
	_, ok, err = e.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEntry_LoadMissingIsDeleted(t *testing.T) {
	c := NewCache[*model.Cell](selection.KindCell)
	e := c.GetOrCreate(selection.MustParseCell("Z9"), store.NewMemoryStore(store.NewCell), c.Machine().Initial(false))

	_, ok, err := e.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "DELETED", e.Status().String())
	assert.True(t, e.Status().IsMissingValue())
}

func TestEntry_Mutators(t *testing.T) {
	c := NewCache[*model.Cell](selection.KindCell)
	e := c.GetOrCreate(selection.MustParseCell("A1"), store.NewMemoryStore(store.NewCell), c.Machine().Initial(true))

	e.Saving()
	saved := e.Saved(model.NewCell(selection.MustParseCell("A1"), "1"))
	assert.Same(t, saved, e.Saved(model.NewCell(selection.MustParseCell("A1"), "2")))
	v, _ := e.Value()
	assert.Equal(t, "2", v.Formula.Text)

	refreshed := e.ReferencesRefreshed()
	assert.True(t, refreshed.IsReferencesRefreshed())
	assert.Equal(t, "REFERENCE_SAVED", e.ForceReferencesRefresh().String())
	assert.Equal(t, "SAVED", e.ToNonReference().String())

	e.Deleted()
	_, ok := e.Value()
	assert.False(t, ok)
}

func TestEntry_VisitOncePerPass(t *testing.T) {
	c := NewCache[*model.Cell](selection.KindCell)
	e := c.GetOrCreate(selection.MustParseCell("A1"), store.NewMemoryStore(store.NewCell), c.Machine().Initial(false))

	assert.True(t, e.visit(1))
	assert.False(t, e.visit(1))
	assert.False(t, e.markStale(1), "visited entries are not stale")
	assert.True(t, e.markStale(2))
	assert.True(t, e.isStale(2))
	assert.True(t, e.visit(2))
	assert.False(t, e.isStale(2))
	assert.Equal(t, 2, e.Visits())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
	"github.com/AleutianAI/AleutianSheets/services/sheets/store/badgerdb"
)

// backends returns every backend available in this environment. Redis runs
// only when SHEETS_TEST_REDIS_ADDR points at a server.
func backends(t *testing.T) map[string]func(t *testing.T) Stores {
	t.Helper()
	out := map[string]func(t *testing.T) Stores{
		"memory": func(t *testing.T) Stores { return NewMemoryStores() },
		"badger": func(t *testing.T) Stores {
			db, err := badgerdb.OpenInMemory()
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return NewBadgerStores(db)
		},
	}
	if addr := os.Getenv("SHEETS_TEST_REDIS_ADDR"); addr != "" {
		out["redis"] = func(t *testing.T) Stores {
			client, err := OpenRedis(context.Background(), addr)
			require.NoError(t, err)
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisStores(client, "sheets-test:"+uuid.NewString()+":")
		}
	}
	return out
}

func TestStores_Validate(t *testing.T) {
	require.NoError(t, NewMemoryStores().Validate())

	s := NewMemoryStores()
	s.References = nil
	err := s.Validate()
	require.ErrorIs(t, err, ErrMissingStore)
	assert.Contains(t, err.Error(), "references")
}

func TestStore_Cells(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			_, ok, err := s.Cells.Load(ctx, selection.MustParseCell("A1"))
			require.NoError(t, err)
			assert.False(t, ok)

			a1 := model.NewCell(selection.MustParseCell("A1"), "=B2+1").WithResult(3.0)
			b2 := model.NewCell(selection.MustParseCell("B2"), "2").WithResult(2.0)
			a2 := model.NewCell(selection.MustParseCell("A2"), "=1/0").
				WithResult(model.NewErrorValue(model.ErrorDivZero, "division by zero"))
			for _, c := range []*model.Cell{b2, a1, a2} {
				require.NoError(t, s.Cells.Save(ctx, c))
			}

			got, ok, err := s.Cells.Load(ctx, selection.MustParseCell("$A$1"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "=B2+1", got.Formula.Text)
			assert.Equal(t, 3.0, got.Result())

			got, ok, err = s.Cells.Load(ctx, selection.MustParseCell("A2"))
			require.NoError(t, err)
			require.True(t, ok)
			require.NotNil(t, got.Formula.Error)
			assert.Equal(t, model.ErrorDivZero, got.Formula.Error.Kind)

			all, err := s.Cells.All(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "A1", all[0].Reference.String())
			assert.Equal(t, "A2", all[1].Reference.String())
			assert.Equal(t, "B2", all[2].Reference.String())

			require.NoError(t, s.Cells.Delete(ctx, selection.MustParseCell("A1")))
			require.NoError(t, s.Cells.Delete(ctx, selection.MustParseCell("Z9")))
			_, ok, err = s.Cells.Load(ctx, selection.MustParseCell("A1"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_CopiesAndEncodes(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ref := selection.MustParseCell("C3")

			c := model.NewCell(ref, "7").WithResult(7.0)
			require.NoError(t, s.Cells.Save(ctx, c))
			c.Formula.Text = "changed"
			c.Formula.Value = 8.0

			got, ok, err := s.Cells.Load(ctx, ref)
			require.NoError(t, err)
			require.True(t, ok)
			assert.NotSame(t, c, got)
			assert.Equal(t, "7", got.Formula.Text)
			assert.Equal(t, 7.0, got.Result())

			got.Formula.Text = "mutated"
			again, _, err := s.Cells.Load(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, "7", again.Formula.Text)

			bad := model.NewCell(selection.MustParseCell("D4"), "=10^400").WithResult(math.Inf(1))
			require.Error(t, s.Cells.Save(ctx, bad))
			_, ok, err = s.Cells.Load(ctx, bad.Reference)
			require.NoError(t, err)
			assert.False(t, ok, "a record that cannot be encoded is not stored")
		})
	}
}

func TestMemoryStore_EncodeError(t *testing.T) {
	s := NewMemoryStore(NewCell)
	err := s.Save(context.Background(), model.NewCell(selection.MustParseCell("A1"), "x").WithResult(math.NaN()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode")
}

func TestStore_ColumnsRowsLabels(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			colRef, err := selection.ParseColumn("M")
			require.NoError(t, err)
			require.NoError(t, s.Columns.Save(ctx, &model.Column{Reference: colRef, Width: 120, Hidden: true}))
			col, ok, err := s.Columns.Load(ctx, colRef)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 120.0, col.Width)
			assert.True(t, col.Hidden)

			rowRef, err := selection.ParseRow("7")
			require.NoError(t, err)
			require.NoError(t, s.Rows.Save(ctx, &model.Row{Reference: rowRef, Height: 42}))
			row, ok, err := s.Rows.Load(ctx, rowRef)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 42.0, row.Height)

			mapping, err := model.NewLabelMapping(selection.MustParseLabel("Total"), selection.MustParseRange("A1:A3"))
			require.NoError(t, err)
			require.NoError(t, s.Labels.Save(ctx, mapping))
			got, ok, err := s.Labels.Load(ctx, selection.MustParseLabel("total"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "Total=A1:A3", got.String())
			assert.Len(t, got.TargetCells(), 3)
		})
	}
}

func TestReferenceStore(t *testing.T) {
	ctx := context.Background()
	a1 := selection.MustParseCell("A1")
	b1 := selection.MustParseCell("B1")
	c1 := selection.MustParseCell("C1")
	a10 := selection.MustParseCell("A10")
	total := selection.MustParseLabel("Total")

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			refs := open(t).References

			require.NoError(t, refs.AddReference(ctx, a1, c1))
			require.NoError(t, refs.AddReference(ctx, a1, b1))
			require.NoError(t, refs.AddReference(ctx, a1, b1))
			require.NoError(t, refs.AddReference(ctx, a10, b1))
			require.NoError(t, refs.AddReference(ctx, a1, total))

			from, err := refs.ReferencesFrom(ctx, a1)
			require.NoError(t, err)
			assert.Equal(t, []string{"cell:B1", "cell:C1", "label:total"}, keys(from))

			from, err = refs.ReferencesFrom(ctx, a10)
			require.NoError(t, err)
			assert.Equal(t, []string{"cell:B1"}, keys(from))

			to, err := refs.ReferencesTo(ctx, b1)
			require.NoError(t, err)
			assert.Equal(t, []string{"cell:A1", "cell:A10"}, keys(to))

			require.NoError(t, refs.RemoveReference(ctx, a1, c1))
			require.NoError(t, refs.RemoveReference(ctx, a1, c1))
			to, err = refs.ReferencesTo(ctx, c1)
			require.NoError(t, err)
			assert.Empty(t, to)

			removed, err := refs.RemoveReferencesFrom(ctx, a1)
			require.NoError(t, err)
			assert.Equal(t, []string{"cell:B1", "label:total"}, keys(removed))

			to, err = refs.ReferencesTo(ctx, b1)
			require.NoError(t, err)
			assert.Equal(t, []string{"cell:A10"}, keys(to))
			to, err = refs.ReferencesTo(ctx, total)
			require.NoError(t, err)
			assert.Empty(t, to)
		})
	}
}

func TestMemoryReferences_EdgeCount(t *testing.T) {
	ctx := context.Background()
	refs := NewMemoryReferences()
	require.NoError(t, refs.AddReference(ctx, selection.MustParseCell("A1"), selection.MustParseCell("B1")))
	require.NoError(t, refs.AddReference(ctx, selection.MustParseCell("A1"), selection.MustParseCell("$B$1")))
	assert.Equal(t, 1, refs.EdgeCount())
}

func TestBadgerStore_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := badgerdb.Open(badgerdb.DefaultConfig(dir))
	require.NoError(t, err)
	s := NewBadgerStores(db)
	require.NoError(t, s.Cells.Save(ctx, model.NewCell(selection.MustParseCell("C3"), "hello").WithResult("hello")))
	require.NoError(t, s.References.AddReference(ctx, selection.MustParseCell("D4"), selection.MustParseCell("C3")))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db, err = badgerdb.Open(badgerdb.DefaultConfig(dir))
	require.NoError(t, err)
	defer db.Close()
	s = NewBadgerStores(db)

	cell, ok, err := s.Cells.Load(ctx, selection.MustParseCell("C3"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", cell.Result())

	to, err := s.References.ReferencesTo(ctx, selection.MustParseCell("C3"))
	require.NoError(t, err)
	assert.Equal(t, []string{"cell:D4"}, keys(to))
}

func TestBadgerStore_CancelledContext(t *testing.T) {
	db, err := badgerdb.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewBadgerStores(db)
	err = s.Cells.Save(ctx, model.NewCell(selection.MustParseCell("A1"), "1"))
	require.ErrorIs(t, err, context.Canceled)
}

func keys(sels []selection.Selection) []string {
	out := make([]string, len(sels))
	for i, s := range sels {
		out[i] = s.Key()
	}
	return out
}

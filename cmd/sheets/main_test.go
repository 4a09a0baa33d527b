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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSheets/services/sheets/config"
	"github.com/AleutianAI/AleutianSheets/services/sheets/delta"
	"github.com/AleutianAI/AleutianSheets/services/sheets/engine"
	"github.com/AleutianAI/AleutianSheets/services/sheets/store"
)

const basicScript = `
operations:
  - {op: save_cell, cell: A1, text: "=B2+1"}
  - {op: save_cell, cell: B2, text: "5"}
  - {op: save_cell, cell: C3, text: "3"}
  - {op: load_cells, range: "A1:C3", window: "A1:B2"}
  - {op: delete_cell, cell: B2}
`

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append(args, "--env-file", ""))
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func decodeDeltas(t *testing.T, out string) []map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(out))
	var docs []map[string]any
	for dec.More() {
		var doc map[string]any
		require.NoError(t, dec.Decode(&doc))
		docs = append(docs, doc)
	}
	return docs
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "sheets dev\n", out)
}

func TestApply_Stdin(t *testing.T) {
	out, _, err := execute(t, basicScript, "apply", "-")
	require.NoError(t, err)

	docs := decodeDeltas(t, out)
	require.Len(t, docs, 5)

	second := docs[1]["cells"].(map[string]any)
	assert.Contains(t, second, "A1")
	assert.Contains(t, second, "B2")

	windowed := docs[3]
	assert.Equal(t, "A1:B2", windowed["window"])
	assert.NotContains(t, windowed["cells"].(map[string]any), "C3")

	assert.Equal(t, "B2", docs[4]["deletedCells"])
}

func TestApply_File(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "ops.yaml")
	require.NoError(t, os.WriteFile(script, []byte(`
operations:
  - {op: save_column, column: B, width: 120}
  - {op: save_row, row: 2, height: 40}
  - {op: save_cell, cell: A1, text: "1"}
  - {op: save_cell, cell: A2, text: "2"}
  - {op: save_cell, cell: C1, text: "=SUM(Total)"}
  - {op: save_label, label: Total, target: "A1:A2"}
  - {op: delete_label, label: Total}
  - {op: delete_row, row: 2}
  - {op: delete_column, column: B}
`), 0600))
	cfgPath := filepath.Join(dir, "sheets.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("mode: batch\nstore:\n  backend: badger\n  in_memory: true\n"), 0600))

	out, _, err := execute(t, "", "apply", script, "--config", cfgPath)
	require.NoError(t, err)
	docs := decodeDeltas(t, out)
	require.Len(t, docs, 9)
	assert.Equal(t, map[string]any{"B": 120.0}, docs[0]["columnWidths"])
	assert.Equal(t, map[string]any{"Total": "A1:A2"}, docs[5]["labels"])
	assert.Equal(t, "Total", docs[6]["deletedLabels"])
}

func TestApply_Errors(t *testing.T) {
	t.Run("unknown op", func(t *testing.T) {
		_, _, err := execute(t, "operations:\n  - {op: explode}\n", "apply", "-")
		assert.ErrorContains(t, err, `unknown operation "explode"`)
	})
	t.Run("unknown field", func(t *testing.T) {
		_, _, err := execute(t, "operations:\n  - {op: save_cell, sell: A1}\n", "apply", "-")
		assert.Error(t, err)
	})
	t.Run("bad reference", func(t *testing.T) {
		_, _, err := execute(t, "operations:\n  - {op: save_cell, cell: 1A}\n", "apply", "-")
		assert.ErrorContains(t, err, "operation 1")
	})
	t.Run("bad window flag", func(t *testing.T) {
		_, _, err := execute(t, basicScript, "apply", "-", "--window", "A1:B2,B1:C3")
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
	t.Run("missing script", func(t *testing.T) {
		_, _, err := execute(t, "", "apply", filepath.Join(t.TempDir(), "none.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestApply_Trace(t *testing.T) {
	_, errOut, err := execute(t, "operations:\n  - {op: save_cell, cell: A1, text: \"1\"}\n", "apply", "-", "--trace", "--log-level", "debug")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Engine.save_cell")
	assert.Contains(t, errOut, "cell saved")
}

func TestOperation_PixelWindow(t *testing.T) {
	eng, err := engine.New(store.NewMemoryStores(), engine.Options{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = Operation{Op: "save_cell", Cell: "E9", Text: "1"}.Run(ctx, eng, delta.Window{})
	require.NoError(t, err)

	w, err := delta.ParseWindow("200x60")
	require.NoError(t, err)
	d, err := Operation{Op: "load_cells", Range: "A1:E9"}.Run(ctx, eng, w)
	require.NoError(t, err)
	assert.Empty(t, d.Cells())
	assert.Equal(t, "A1:B2", d.Window().Ranges()[0].String())
}

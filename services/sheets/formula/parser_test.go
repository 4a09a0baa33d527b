// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

func TestParse_Literals(t *testing.T) {
	tests := []struct {
		in   string
		want Node
	}{
		{"5", Number{Value: 5}},
		{" 2.5 ", Number{Value: 2.5}},
		{"true", Boolean{Value: true}},
		{"FALSE", Boolean{Value: false}},
		{"hello", Text{Value: "hello"}},
		{"", Text{Value: ""}},
		{"1+1", Text{Value: "1+1"}},
		{"NaN", Text{Value: "NaN"}},
		{"Inf", Text{Value: "Inf"}},
		{"-Infinity", Text{Value: "-Infinity"}},
		{"1e400", Text{Value: "1e400"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			n, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestParse_Expressions(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"=1+2", "1+2"},
		{"=(1+2)*3", "(1+2)*3"},
		{"= -A1", "-A1"},
		{"=$B$2/2", "$B$2/2"},
		{"=sum(A1:B2, 3)", "SUM(A1:B2,3)"},
		{"=IF(A1>=2,\"big\",\"small\")", `IF(A1>=2,"big","small")`},
		{"=Total&\"!\"", `Total&"!"`},
		{"=NOW()", "NOW()"},
		{"=A1<>B1", "A1<>B1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			n, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.String())
		})
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	for _, in := range []string{"=", "=1+", "=(1+2", "=SUM(1;2)", "=\"open", "=A1:", "=A1:Total", "=1 2", "=1A"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestReferences(t *testing.T) {
	n, err := Parse("=SUM(A1:A2)+A1+$A$2*Total+Total+B1")
	require.NoError(t, err)

	var got []string
	for _, s := range References(n) {
		got = append(got, s.Key())
	}
	assert.Equal(t, []string{"cell:A1", "cell:A2", "cell:B1", "label:total"}, got)

	lit, err := Parse("42")
	require.NoError(t, err)
	assert.Empty(t, References(lit))
	assert.Empty(t, References(nil))
}

func TestVisitReferences_SourceOrder(t *testing.T) {
	n, err := Parse("=B1+A1:A2+B1")
	require.NoError(t, err)

	var got []string
	VisitReferences(n, func(target selection.Selection) {
		got = append(got, target.String())
	})
	assert.Equal(t, []string{"B1", "A1", "A2", "B1"}, got)
}

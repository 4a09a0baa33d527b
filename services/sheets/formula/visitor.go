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
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// ReferenceFunc receives each cell or label a formula reads.
type ReferenceFunc func(target selection.Selection)

// VisitReferences walks the tree and calls fn for every referenced cell and
// label, in source order.
//
// Description:
//
//	Cell references are passed exactly as written; callers that build edges
//	key them by Selection.Key, which ignores absolute/relative markers.
//	Ranges are expanded to one call per cell. Labels are passed as the label
//	itself and never expanded to their current target, so moving a label
//	only changes the label's own edges.
//
// Inputs:
//
//	n - Root of the tree. Nil is treated as an empty formula.
//	fn - Callback, typically an add-edge or remove-edge function.
func VisitReferences(n Node, fn ReferenceFunc) {
	switch t := n.(type) {
	case nil:
	case Number, Text, Boolean, Invalid:
	case CellRef:
		fn(t.Reference)
	case RangeRef:
		for _, c := range t.Range.Cells() {
			fn(c)
		}
	case LabelRef:
		fn(t.Label)
	case Unary:
		VisitReferences(t.Operand, fn)
	case Binary:
		VisitReferences(t.Left, fn)
		VisitReferences(t.Right, fn)
	case Group:
		VisitReferences(t.Inner, fn)
	case Function:
		for _, a := range t.Args {
			VisitReferences(a, fn)
		}
	default:
		panic(fmt.Sprintf("formula: unhandled node %T", n))
	}
}

// References returns the distinct targets of a tree in canonical order.
func References(n Node) []selection.Selection {
	seen := make(map[string]selection.Selection)
	VisitReferences(n, func(target selection.Selection) {
		if _, ok := seen[target.Key()]; !ok {
			seen[target.Key()] = target
		}
	})
	out := make([]selection.Selection, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return selection.Compare(out[i], out[j]) < 0 })
	return out
}

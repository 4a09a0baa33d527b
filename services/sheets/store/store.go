// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the persistence capability the change tracker borrows
// for the lifetime of a session, and three backends for it.
//
// # Capabilities
//
//   - Store[V]: get/save/delete for one entity kind (cells, columns, rows, labels)
//   - ReferenceStore: the forward (source → targets) and backward
//     (target → sources) reference indices
//
// # Backends
//
//	Memory (tests, CLI default) → BadgerDB (embedded, on disk) → Redis (shared)
//
// All backends encode entities with their JSON form and key them by
// selection.Selection.Key, so absolute and relative spellings of the same
// reference share one record.
//
// # Thread Safety
//
// Every backend is safe for concurrent use. The change tracker itself
// assumes a single writer per set of stores.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// Sentinel errors for store operations.
var (
	// ErrStoreClosed is returned by backends used after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrMissingStore is returned by Stores.Validate when a capability is nil.
	ErrMissingStore = errors.New("missing store")

	// ErrCorruptRecord is returned when a persisted record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt store record")
)

// Store is the key-value capability for one entity kind.
type Store[V model.Entity] interface {
	// Load returns the entity stored under sel, and false if there is none.
	Load(ctx context.Context, sel selection.Selection) (V, bool, error)

	// Save inserts or replaces the entity under its own selection.
	Save(ctx context.Context, value V) error

	// Delete removes the entity. Deleting a missing entity is not an error.
	Delete(ctx context.Context, sel selection.Selection) error

	// All returns every entity in canonical selection order.
	All(ctx context.Context) ([]V, error)
}

// ReferenceStore holds directed reference edges.
//
// An edge from → to means the formula (or label mapping) of from reads to.
type ReferenceStore interface {
	// AddReference records from → to. Adding an existing edge is a no-op.
	AddReference(ctx context.Context, from, to selection.Selection) error

	// RemoveReference forgets from → to. Removing a missing edge is a no-op.
	RemoveReference(ctx context.Context, from, to selection.Selection) error

	// RemoveReferencesFrom forgets every edge leaving from and returns the
	// targets that were removed.
	RemoveReferencesFrom(ctx context.Context, from selection.Selection) ([]selection.Selection, error)

	// ReferencesFrom returns the targets from reads, in canonical order.
	ReferencesFrom(ctx context.Context, from selection.Selection) ([]selection.Selection, error)

	// ReferencesTo returns the sources that read to (its dependents), in
	// canonical order.
	ReferencesTo(ctx context.Context, to selection.Selection) ([]selection.Selection, error)
}

// Stores bundles every capability a session borrows.
type Stores struct {
	Cells      Store[*model.Cell]
	Columns    Store[*model.Column]
	Rows       Store[*model.Row]
	Labels     Store[*model.LabelMapping]
	References ReferenceStore
}

// Validate reports the first missing capability.
func (s Stores) Validate() error {
	switch {
	case s.Cells == nil:
		return fmt.Errorf("%w: cells", ErrMissingStore)
	case s.Columns == nil:
		return fmt.Errorf("%w: columns", ErrMissingStore)
	case s.Rows == nil:
		return fmt.Errorf("%w: rows", ErrMissingStore)
	case s.Labels == nil:
		return fmt.Errorf("%w: labels", ErrMissingStore)
	case s.References == nil:
		return fmt.Errorf("%w: references", ErrMissingStore)
	}
	return nil
}

// Decode targets for the backends.

// NewCell returns an empty cell to decode into.
func NewCell() *model.Cell { return &model.Cell{} }

// NewColumn returns an empty column to decode into.
func NewColumn() *model.Column { return &model.Column{} }

// NewRow returns an empty row to decode into.
func NewRow() *model.Row { return &model.Row{} }

// NewLabel returns an empty label mapping to decode into.
func NewLabel() *model.LabelMapping { return &model.LabelMapping{} }

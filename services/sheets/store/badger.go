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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
	"github.com/AleutianAI/AleutianSheets/services/sheets/store/badgerdb"
)

const (
	entityPrefix   = "e/"
	forwardPrefix  = "f/"
	backwardPrefix = "b/"
)

// BadgerStore persists one entity kind in BadgerDB.
//
// Entities of every kind share the "e/" prefix; the kind is part of the
// selection key.
type BadgerStore[V model.Entity] struct {
	db       *badgerdb.DB
	kind     selection.Kind
	newValue func() V
}

// NewBadgerStore creates a store for entities of kind. newValue must return a
// fresh, non-nil value to decode into.
func NewBadgerStore[V model.Entity](db *badgerdb.DB, kind selection.Kind, newValue func() V) *BadgerStore[V] {
	return &BadgerStore[V]{db: db, kind: kind, newValue: newValue}
}

func entityKey(sel selection.Selection) []byte {
	return []byte(entityPrefix + sel.Key())
}

// Load implements Store.
func (s *BadgerStore[V]) Load(ctx context.Context, sel selection.Selection) (V, bool, error) {
	var (
		out   V
		found bool
	)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(entityKey(sel))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v := s.newValue()
			if err := json.Unmarshal(val, v); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrCorruptRecord, sel.Key(), err)
			}
			out, found = v, true
			return nil
		})
	})
	if err != nil {
		return out, false, fmt.Errorf("load %s: %w", sel.Key(), err)
	}
	return out, found, nil
}

// Save implements Store.
func (s *BadgerStore[V]) Save(ctx context.Context, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", value.Selection().Key(), err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(entityKey(value.Selection()), data)
	})
}

// Delete implements Store.
func (s *BadgerStore[V]) Delete(ctx context.Context, sel selection.Selection) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(entityKey(sel))
	})
}

// All implements Store.
func (s *BadgerStore[V]) All(ctx context.Context) ([]V, error) {
	prefix := []byte(entityPrefix + s.kind.String() + ":")
	var out []V
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return badgerdb.ScanPrefix(txn, prefix, true, func(suffix, value []byte) error {
			v := s.newValue()
			if err := json.Unmarshal(value, v); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrCorruptRecord, suffix, err)
			}
			out = append(out, v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortEntities(out)
	return out, nil
}

// =============================================================================
// References
// =============================================================================

// BadgerReferences persists both reference indices in BadgerDB.
type BadgerReferences struct {
	db *badgerdb.DB
}

// NewBadgerReferences creates the reference indices over db.
func NewBadgerReferences(db *badgerdb.DB) *BadgerReferences {
	return &BadgerReferences{db: db}
}

func edgeKey(prefix string, a, b selection.Selection) []byte {
	return []byte(prefix + a.Key() + "/" + b.Key())
}

func edgePrefix(prefix string, a selection.Selection) []byte {
	return []byte(prefix + a.Key() + "/")
}

// AddReference implements ReferenceStore.
func (r *BadgerReferences) AddReference(ctx context.Context, from, to selection.Selection) error {
	return r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(edgeKey(forwardPrefix, from, to), nil); err != nil {
			return err
		}
		return txn.Set(edgeKey(backwardPrefix, to, from), nil)
	})
}

// RemoveReference implements ReferenceStore.
func (r *BadgerReferences) RemoveReference(ctx context.Context, from, to selection.Selection) error {
	return r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(edgeKey(forwardPrefix, from, to)); err != nil {
			return err
		}
		return txn.Delete(edgeKey(backwardPrefix, to, from))
	})
}

// RemoveReferencesFrom implements ReferenceStore.
func (r *BadgerReferences) RemoveReferencesFrom(ctx context.Context, from selection.Selection) ([]selection.Selection, error) {
	var removed []selection.Selection
	err := r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		targets, err := scanEdges(txn, edgePrefix(forwardPrefix, from))
		if err != nil {
			return err
		}
		for _, to := range targets {
			if err := txn.Delete(edgeKey(forwardPrefix, from, to)); err != nil {
				return err
			}
			if err := txn.Delete(edgeKey(backwardPrefix, to, from)); err != nil {
				return err
			}
		}
		removed = targets
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove references from %s: %w", from.Key(), err)
	}
	return removed, nil
}

// ReferencesFrom implements ReferenceStore.
func (r *BadgerReferences) ReferencesFrom(ctx context.Context, from selection.Selection) ([]selection.Selection, error) {
	return r.scan(ctx, edgePrefix(forwardPrefix, from))
}

// ReferencesTo implements ReferenceStore.
func (r *BadgerReferences) ReferencesTo(ctx context.Context, to selection.Selection) ([]selection.Selection, error) {
	return r.scan(ctx, edgePrefix(backwardPrefix, to))
}

func (r *BadgerReferences) scan(ctx context.Context, prefix []byte) ([]selection.Selection, error) {
	var out []selection.Selection
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		found, err := scanEdges(txn, prefix)
		out = found
		return err
	})
	return out, err
}

func scanEdges(txn *badger.Txn, prefix []byte) ([]selection.Selection, error) {
	var out []selection.Selection
	err := badgerdb.ScanPrefix(txn, prefix, false, func(suffix, _ []byte) error {
		sel, err := selection.FromKey(string(suffix))
		if err != nil {
			return fmt.Errorf("%w: edge %s%s: %v", ErrCorruptRecord, prefix, suffix, err)
		}
		out = append(out, sel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSelections(out)
	return out, nil
}

// NewBadgerStores returns a complete set of stores sharing db.
func NewBadgerStores(db *badgerdb.DB) Stores {
	return Stores{
		Cells:      NewBadgerStore(db, selection.KindCell, NewCell),
		Columns:    NewBadgerStore(db, selection.KindColumn, NewColumn),
		Rows:       NewBadgerStore(db, selection.KindRow, NewRow),
		Labels:     NewBadgerStore(db, selection.KindLabel, NewLabel),
		References: NewBadgerReferences(db),
	}
}

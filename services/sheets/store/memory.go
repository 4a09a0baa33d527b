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
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// MemoryStore keeps the JSON form of each entity in a map, so it encodes
// and fails exactly like the persistent backends and never shares values
// with its callers.
type MemoryStore[V model.Entity] struct {
	mu       sync.RWMutex
	entries  map[string][]byte
	newValue func() V
}

// NewMemoryStore creates an empty store. newValue must return a fresh,
// non-nil value to decode into.
func NewMemoryStore[V model.Entity](newValue func() V) *MemoryStore[V] {
	return &MemoryStore[V]{
		entries:  make(map[string][]byte),
		newValue: newValue,
	}
}

func (m *MemoryStore[V]) decode(key string, data []byte) (V, error) {
	v := m.newValue()
	if err := json.Unmarshal(data, v); err != nil {
		var zero V
		return zero, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}
	return v, nil
}

// Load implements Store.
func (m *MemoryStore[V]) Load(ctx context.Context, sel selection.Selection) (V, bool, error) {
	m.mu.RLock()
	data, ok := m.entries[sel.Key()]
	m.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false, nil
	}
	v, err := m.decode(sel.Key(), data)
	if err != nil {
		return v, false, fmt.Errorf("load %s: %w", sel.Key(), err)
	}
	return v, true, nil
}

// Save implements Store.
func (m *MemoryStore[V]) Save(ctx context.Context, value V) error {
	key := value.Selection().Key()
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = data
	return nil
}

// Delete implements Store.
func (m *MemoryStore[V]) Delete(ctx context.Context, sel selection.Selection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sel.Key())
	return nil
}

// All implements Store.
func (m *MemoryStore[V]) All(ctx context.Context) ([]V, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]V, 0, len(m.entries))
	for key, data := range m.entries {
		v, err := m.decode(key, data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sortEntities(out)
	return out, nil
}

// Len returns the number of stored entities.
func (m *MemoryStore[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func sortEntities[V model.Entity](vs []V) {
	sort.Slice(vs, func(i, j int) bool {
		return selection.Compare(vs[i].Selection(), vs[j].Selection()) < 0
	})
}

// =============================================================================
// References
// =============================================================================

// MemoryReferences keeps both reference indices in maps.
type MemoryReferences struct {
	mu       sync.RWMutex
	forward  map[string]map[string]selection.Selection
	backward map[string]map[string]selection.Selection
}

// NewMemoryReferences creates empty indices.
func NewMemoryReferences() *MemoryReferences {
	return &MemoryReferences{
		forward:  make(map[string]map[string]selection.Selection),
		backward: make(map[string]map[string]selection.Selection),
	}
}

// AddReference implements ReferenceStore.
func (m *MemoryReferences) AddReference(ctx context.Context, from, to selection.Selection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	link(m.forward, from.Key(), to)
	link(m.backward, to.Key(), from)
	return nil
}

// RemoveReference implements ReferenceStore.
func (m *MemoryReferences) RemoveReference(ctx context.Context, from, to selection.Selection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	unlink(m.forward, from.Key(), to.Key())
	unlink(m.backward, to.Key(), from.Key())
	return nil
}

// RemoveReferencesFrom implements ReferenceStore.
func (m *MemoryReferences) RemoveReferencesFrom(ctx context.Context, from selection.Selection) ([]selection.Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	targets := sortedValues(m.forward[from.Key()])
	for _, to := range targets {
		unlink(m.backward, to.Key(), from.Key())
	}
	delete(m.forward, from.Key())
	return targets, nil
}

// ReferencesFrom implements ReferenceStore.
func (m *MemoryReferences) ReferencesFrom(ctx context.Context, from selection.Selection) ([]selection.Selection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.forward[from.Key()]), nil
}

// ReferencesTo implements ReferenceStore.
func (m *MemoryReferences) ReferencesTo(ctx context.Context, to selection.Selection) ([]selection.Selection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.backward[to.Key()]), nil
}

// EdgeCount returns the number of forward edges.
func (m *MemoryReferences) EdgeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, targets := range m.forward {
		n += len(targets)
	}
	return n
}

func link(index map[string]map[string]selection.Selection, key string, value selection.Selection) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]selection.Selection)
		index[key] = set
	}
	if _, exists := set[value.Key()]; !exists {
		set[value.Key()] = value
	}
}

func unlink(index map[string]map[string]selection.Selection, key, valueKey string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, valueKey)
	if len(set) == 0 {
		delete(index, key)
	}
}

func sortedValues(set map[string]selection.Selection) []selection.Selection {
	out := make([]selection.Selection, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	sortSelections(out)
	return out
}

func sortSelections(sels []selection.Selection) {
	sort.Slice(sels, func(i, j int) bool { return selection.Compare(sels[i], sels[j]) < 0 })
}

// NewMemoryStores returns a complete set of in-memory stores.
func NewMemoryStores() Stores {
	return Stores{
		Cells:      NewMemoryStore(NewCell),
		Columns:    NewMemoryStore(NewColumn),
		Rows:       NewMemoryStore(NewRow),
		Labels:     NewMemoryStore(NewLabel),
		References: NewMemoryReferences(),
	}
}

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
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
	"github.com/AleutianAI/AleutianSheets/services/sheets/status"
	"github.com/AleutianAI/AleutianSheets/services/sheets/store"
)

// Entry is the session's view of one selection: its status and, once
// known, its value.
//
// Thread Safety: Not safe for concurrent use; owned by one session.
type Entry[V model.Entity] struct {
	sel      selection.Selection
	status   *status.Status
	value    V
	hasValue bool
	backing  store.Store[V]

	// pass is the session pass that last visited this entry; zero means
	// never visited.
	pass   int
	visits int

	// stale is the pass in which a dependency of this entry changed.
	stale int
}

// Selection returns the selection the entry was created with.
func (e *Entry[V]) Selection() selection.Selection { return e.sel }

// Status returns the current status.
func (e *Entry[V]) Status() *status.Status { return e.status }

// Value returns the value, if one has been loaded or saved.
func (e *Entry[V]) Value() (V, bool) { return e.value, e.hasValue }

// Visits returns how many times the session recomputed or rewrote the entry.
func (e *Entry[V]) Visits() int { return e.visits }

// Load returns the entry's value, reading the backing store the first time.
//
// Description:
//
//	An UNLOADED entry moves to LOADING, reads the store, then becomes
//	LOADED with the value or DELETED when the store has none. Entries in any
//	other phase answer from memory without touching the store.
//
// Outputs:
//
//	V - The value. Zero when missing.
//	bool - False when the entity does not exist or was deleted.
//	error - Store failures. The entry goes back to UNLOADED so a later
//	Load reads the store again.
func (e *Entry[V]) Load(ctx context.Context) (V, bool, error) {
	if e.status.IsUnloaded() {
		unloaded := e.status
		e.status = e.status.Loading()
		v, ok, err := e.backing.Load(ctx, e.sel)
		if err != nil {
			e.status = unloaded
			var zero V
			return zero, false, err
		}
		if ok {
			e.Loaded(v)
		} else {
			e.Deleted()
		}
	}
	if e.status.IsDeleted() {
		var zero V
		return zero, false, nil
	}
	return e.value, e.hasValue, nil
}

// Loading moves the entry to LOADING.
func (e *Entry[V]) Loading() *status.Status {
	e.status = e.status.Loading()
	return e.status
}

// Loaded records a value read from the store.
func (e *Entry[V]) Loaded(v V) *status.Status {
	e.value, e.hasValue = v, true
	e.status = e.status.Loaded()
	return e.status
}

// Saving moves the entry to SAVING.
func (e *Entry[V]) Saving() *status.Status {
	e.status = e.status.Saving()
	return e.status
}

// Saved records a new value.
func (e *Entry[V]) Saved(v V) *status.Status {
	e.value, e.hasValue = v, true
	e.status = e.status.Saved()
	return e.status
}

// Deleted forgets the value and marks the entry DELETED.
func (e *Entry[V]) Deleted() *status.Status {
	var zero V
	e.value, e.hasValue = zero, false
	e.status = e.status.Deleted()
	return e.status
}

// ReferencesRefreshed records that dependents have been marked.
func (e *Entry[V]) ReferencesRefreshed() *status.Status {
	e.status = e.status.ReferencesRefreshed()
	return e.status
}

// ForceReferencesRefresh clears the refreshed marker.
func (e *Entry[V]) ForceReferencesRefresh() *status.Status {
	e.status = e.status.ForceReferencesRefresh()
	return e.status
}

// ToNonReference promotes a reference-only entry to direct.
func (e *Entry[V]) ToNonReference() *status.Status {
	e.status = e.status.ToNonReference()
	return e.status
}

// visit marks the entry visited in pass and reports whether this is the
// first visit of that pass.
func (e *Entry[V]) visit(pass int) bool {
	if e.pass == pass {
		return false
	}
	e.pass = pass
	e.visits++
	return true
}

func (e *Entry[V]) visited(pass int) bool { return e.pass == pass }

// relay marks the entry visited in pass without counting a recomputation,
// for entries that only pass a change on. It reports whether this is the
// first visit of that pass.
func (e *Entry[V]) relay(pass int) bool {
	if e.pass == pass {
		return false
	}
	e.pass = pass
	return true
}

// entryState is a copy of an entry's status and value.
type entryState[V model.Entity] struct {
	status   *status.Status
	value    V
	hasValue bool
}

func (e *Entry[V]) state() entryState[V] {
	return entryState[V]{status: e.status, value: e.value, hasValue: e.hasValue}
}

// restore puts back a state taken before a write that failed.
func (e *Entry[V]) restore(st entryState[V]) {
	e.status, e.value, e.hasValue = st.status, st.value, st.hasValue
}

// markStale flags the entry as out of date in pass. It reports false when the
// entry was already flagged or already visited in that pass.
func (e *Entry[V]) markStale(pass int) bool {
	if e.stale == pass || e.pass == pass {
		return false
	}
	e.stale = pass
	return true
}

// isStale reports whether the entry must be recomputed before it is read.
func (e *Entry[V]) isStale(pass int) bool {
	return e.stale == pass && e.pass != pass
}

// Cache holds at most one Entry per selection key.
type Cache[V model.Entity] struct {
	machine *status.Machine
	entries map[string]*Entry[V]
}

// NewCache creates an empty cache for one selection kind.
func NewCache[V model.Entity](kind selection.Kind) *Cache[V] {
	return &Cache[V]{
		machine: status.For(kind),
		entries: make(map[string]*Entry[V]),
	}
}

// Machine returns the status machine of the cache's kind.
func (c *Cache[V]) Machine() *status.Machine { return c.machine }

// GetOrCreate returns the entry for sel, creating it with initial if this is
// the first request for its key.
//
// Description:
//
//	Repeated calls with selections that share a key return the same *Entry,
//	whatever status or store is passed. The entry's value is not read
//	here; see Entry.Load.
//
// Inputs:
//
//	sel - The selection. Its kind must match the cache.
//	backing - Store consulted by Entry.Load.
//	initial - Status of a new entry, from the cache's machine.
//
// Outputs:
//
//	*Entry[V] - The single entry for the key.
func (c *Cache[V]) GetOrCreate(sel selection.Selection, backing store.Store[V], initial *status.Status) *Entry[V] {
	if sel.Kind() != c.machine.Kind() {
		panic(fmt.Sprintf("changes: %s selection %s in %s cache", sel.Kind(), sel, c.machine.Kind()))
	}
	key := sel.Key()
	if e, ok := c.entries[key]; ok {
		return e
	}
	if initial == nil || initial.Kind() != c.machine.Kind() {
		panic(fmt.Sprintf("changes: bad initial status %v for %s", initial, sel))
	}
	e := &Entry[V]{sel: sel, status: initial, backing: backing}
	c.entries[key] = e
	return e
}

// Get returns the entry for sel, if present.
func (c *Cache[V]) Get(sel selection.Selection) (*Entry[V], bool) {
	e, ok := c.entries[sel.Key()]
	return e, ok
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int { return len(c.entries) }

// Entries returns every entry in canonical selection order.
func (c *Cache[V]) Entries() []*Entry[V] {
	out := make([]*Entry[V], 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return selection.Compare(out[i].sel, out[j].sel) < 0 })
	return out
}

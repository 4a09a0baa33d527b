// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status implements the lifecycle state machine of a tracked entity.
//
// A single Machine is built per selection kind (cell, column, row, label).
// Each Machine owns one singleton *Status per variant, so statuses compare by
// identity:
//
//	cells := status.For(selection.KindCell)
//	s := cells.Initial(false)          // UNLOADED
//	s = s.Loading().Loaded()           // LOADED
//	s.Loaded() == s                    // true, no-op returns the same instance
//
// # Variants
//
// Every status sits on one of two tracks. The direct track is for entries an
// operation asked for explicitly. The reference track (REFERENCE_ prefix) is
// for entries pulled in only because something depends on them. Terminal
// phases (LOADED, SAVED, DELETED) have a _REFERENCES_REFRESHED sibling that
// records that the entry's outgoing references were brought up to date.
//
// # Errors
//
// Illegal transitions are programming errors. They panic with a
// *TransitionError rather than returning an error.
//
// # Thread Safety
//
// Machines and statuses are immutable after package init and safe for
// concurrent use.
package status

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// Phase is the lifecycle point of an entry, independent of track.
type Phase int

const (
	// PhaseUnloaded means the value has not been read from the store yet.
	PhaseUnloaded Phase = iota

	// PhaseLoading means a read is in progress.
	PhaseLoading

	// PhaseLoaded means the value was read and is unchanged.
	PhaseLoaded

	// PhaseSaving means a new value is being computed or written.
	PhaseSaving

	// PhaseSaved means a new value was written in this session.
	PhaseSaved

	// PhaseDeleted means the entity is absent, deleted or never existed.
	PhaseDeleted
)

var phaseNames = [...]string{"UNLOADED", "LOADING", "LOADED", "SAVING", "SAVED", "DELETED"}

// String returns the upper-case phase name.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

func (p Phase) terminal() bool {
	return p == PhaseLoaded || p == PhaseSaved || p == PhaseDeleted
}

// Status is one variant of a Machine. Compare statuses with ==.
type Status struct {
	machine   *Machine
	phase     Phase
	reference bool
	refreshed bool
	name      string
}

// Kind returns the selection kind the status belongs to.
func (s *Status) Kind() selection.Kind { return s.machine.kind }

// Phase returns the lifecycle point.
func (s *Status) Phase() Phase { return s.phase }

// String returns the variant name, for example REFERENCE_SAVED_REFERENCES_REFRESHED.
func (s *Status) String() string { return s.name }

// =============================================================================
// Queries
// =============================================================================

// IsDeleted reports a DELETED variant.
func (s *Status) IsDeleted() bool { return s.phase == PhaseDeleted }

// IsMissingValue reports that no value is available: unloaded, loading or deleted.
func (s *Status) IsMissingValue() bool {
	return s.phase == PhaseUnloaded || s.phase == PhaseLoading || s.phase == PhaseDeleted
}

// IsReference reports the reference-only track.
func (s *Status) IsReference() bool { return s.reference }

// IsReferencesRefreshed reports a _REFERENCES_REFRESHED variant.
func (s *Status) IsReferencesRefreshed() bool { return s.refreshed }

// IsRefreshable reports a terminal variant whose references are not refreshed yet.
func (s *Status) IsRefreshable() bool { return s.phase.terminal() && !s.refreshed }

// IsReferenceRefreshable reports a refreshable variant whose value changed
// (SAVED or DELETED), meaning every dependent must be refreshed as well.
func (s *Status) IsReferenceRefreshable() bool {
	return s.IsRefreshable() && (s.phase == PhaseSaved || s.phase == PhaseDeleted)
}

// IsUnloaded reports an UNLOADED variant.
func (s *Status) IsUnloaded() bool { return s.phase == PhaseUnloaded }

// IsLoading reports a LOADING variant.
func (s *Status) IsLoading() bool { return s.phase == PhaseLoading }

// IsSaving reports a SAVING variant.
func (s *Status) IsSaving() bool { return s.phase == PhaseSaving }

// IsBusy reports LOADING or SAVING: the entry is in the middle of producing a value.
func (s *Status) IsBusy() bool { return s.phase == PhaseLoading || s.phase == PhaseSaving }

// =============================================================================
// Mutators
// =============================================================================

// Loading moves UNLOADED to LOADING. LOADING is returned unchanged.
func (s *Status) Loading() *Status {
	switch s.phase {
	case PhaseUnloaded, PhaseLoading:
		return s.sibling(PhaseLoading, false)
	default:
		panic(s.illegal("loading"))
	}
}

// Loaded moves any variant to LOADED on the same track.
//
// LOADED_REFERENCES_REFRESHED is returned unchanged: reading a value again
// does not invalidate references.
func (s *Status) Loaded() *Status {
	if s.phase == PhaseLoaded {
		return s
	}
	return s.sibling(PhaseLoaded, false)
}

// Saving moves any variant to SAVING on the same track.
func (s *Status) Saving() *Status {
	return s.sibling(PhaseSaving, false)
}

// Saved moves any variant to SAVED on the same track.
//
// A SAVED_REFERENCES_REFRESHED entry returns to SAVED because the new value
// must be propagated again.
func (s *Status) Saved() *Status {
	return s.sibling(PhaseSaved, false)
}

// Deleted moves any variant to DELETED on the same track.
func (s *Status) Deleted() *Status {
	return s.sibling(PhaseDeleted, false)
}

// ReferencesRefreshed maps X to X_REFERENCES_REFRESHED.
//
// Legal only when IsRefreshable; calling it on a refreshed variant is a
// no-op. Any other variant panics.
func (s *Status) ReferencesRefreshed() *Status {
	if s.refreshed {
		return s
	}
	if !s.IsRefreshable() {
		panic(s.illegal("referencesRefreshed"))
	}
	return s.sibling(s.phase, true)
}

// ForceReferencesRefresh maps X_REFERENCES_REFRESHED back to X. Other
// variants are returned unchanged.
func (s *Status) ForceReferencesRefresh() *Status {
	if !s.refreshed {
		return s
	}
	return s.sibling(s.phase, false)
}

// ToNonReference promotes a reference-only variant to its direct sibling at
// the same lifecycle point. Direct variants are returned unchanged.
func (s *Status) ToNonReference() *Status {
	if !s.reference {
		return s
	}
	return s.machine.lookup(s.phase, false, s.refreshed)
}

func (s *Status) sibling(phase Phase, refreshed bool) *Status {
	return s.machine.lookup(phase, s.reference, refreshed)
}

func (s *Status) illegal(op string) *TransitionError {
	return &TransitionError{Kind: s.machine.kind, From: s.name, Operation: op}
}

// TransitionError is the panic value of an illegal status transition.
type TransitionError struct {
	Kind      selection.Kind
	From      string
	Operation string
}

// Error implements error.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal %s status transition: %s on %s", e.Kind, e.Operation, e.From)
}

// =============================================================================
// Machine
// =============================================================================

type variantKey struct {
	phase     Phase
	reference bool
	refreshed bool
}

// Machine holds the singleton statuses of one selection kind.
type Machine struct {
	kind     selection.Kind
	statuses map[variantKey]*Status
}

var machines = map[selection.Kind]*Machine{}

func init() {
	for _, kind := range []selection.Kind{
		selection.KindCell,
		selection.KindColumn,
		selection.KindRow,
		selection.KindLabel,
	} {
		machines[kind] = newMachine(kind)
	}
}

func newMachine(kind selection.Kind) *Machine {
	m := &Machine{kind: kind, statuses: make(map[variantKey]*Status)}
	for _, reference := range []bool{false, true} {
		for p := PhaseUnloaded; p <= PhaseDeleted; p++ {
			m.add(p, reference, false)
			if p.terminal() {
				m.add(p, reference, true)
			}
		}
	}
	return m
}

func (m *Machine) add(phase Phase, reference, refreshed bool) {
	name := phase.String()
	if reference {
		name = "REFERENCE_" + name
	}
	if refreshed {
		name += "_REFERENCES_REFRESHED"
	}
	m.statuses[variantKey{phase, reference, refreshed}] = &Status{
		machine:   m,
		phase:     phase,
		reference: reference,
		refreshed: refreshed,
		name:      name,
	}
}

func (m *Machine) lookup(phase Phase, reference, refreshed bool) *Status {
	s, ok := m.statuses[variantKey{phase, reference, refreshed}]
	if !ok {
		panic(fmt.Sprintf("status: no %s variant phase=%s reference=%t refreshed=%t",
			m.kind, phase, reference, refreshed))
	}
	return s
}

// For returns the machine of a selection kind. Ranges have no machine and
// panic, as does any unknown kind.
func For(kind selection.Kind) *Machine {
	m, ok := machines[kind]
	if !ok {
		panic(fmt.Sprintf("status: no machine for %s", kind))
	}
	return m
}

// Kind returns the selection kind.
func (m *Machine) Kind() selection.Kind { return m.kind }

// Initial returns UNLOADED, or REFERENCE_UNLOADED when reference is true.
func (m *Machine) Initial(reference bool) *Status {
	return m.lookup(PhaseUnloaded, reference, false)
}

// All returns every variant ordered direct track first, then by phase, with
// the refreshed sibling after its base variant.
func (m *Machine) All() []*Status {
	out := make([]*Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.reference != b.reference {
			return !a.reference
		}
		if a.phase != b.phase {
			return a.phase < b.phase
		}
		return !a.refreshed && b.refreshed
	})
	return out
}

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
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianSheets/services/sheets/formula"
	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// saveCell evaluates text as the new content of e, persists the result and
// rewires the cell's references. ref supplies the display text.
func (s *Session) saveCell(ctx context.Context, e *Entry[*model.Cell], ref selection.CellReference, text string) error {
	e.visit(s.pass)
	before := e.state()
	e.Saving()

	node, err := s.opts.Parser.Parse(text)
	if err != nil {
		node = formula.Invalid{Text: text, Err: err}
	}
	result, err := s.opts.Evaluator.Evaluate(ctx, node, resolver{s})
	if err != nil {
		e.restore(before)
		return err
	}
	cell := model.NewCell(ref, text).WithResult(formula.Finite(result))
	e.Saved(cell)
	if err := s.stores.Cells.Save(ctx, cell); err != nil {
		e.restore(before)
		return err
	}

	if _, err := s.stores.References.RemoveReferencesFrom(ctx, ref); err != nil {
		return err
	}
	for _, target := range formula.References(node) {
		if err := s.stores.References.AddReference(ctx, ref, target); err != nil {
			return err
		}
	}
	s.logger.Debug("cell saved",
		slog.String("cell", cell.String()),
		slog.Int("pass", s.pass),
	)

	if err := s.propagate(ctx, ref); err != nil {
		return err
	}
	e.ReferencesRefreshed()
	return nil
}

// propagate marks every dependent of sel for refresh and, when cascading,
// refreshes it before returning.
//
// Before cascading, every transitive dependent is flagged stale so that a
// cell reading a stale cell recomputes it first. Each entry is still
// recomputed at most once per pass, and diamonds see settled values.
func (s *Session) propagate(ctx context.Context, sel selection.Selection) error {
	dependents, err := s.stores.References.ReferencesTo(ctx, sel)
	if err != nil {
		return err
	}
	for _, dep := range dependents {
		switch d := dep.(type) {
		case selection.CellReference:
			s.cells.GetOrCreate(d, s.stores.Cells, s.cells.machine.Initial(true)).ForceReferencesRefresh()
		case selection.LabelName:
			s.labels.GetOrCreate(d, s.stores.Labels, s.labels.machine.Initial(true)).ForceReferencesRefresh()
		}
		if !s.cascading() {
			s.pending[dep.Key()] = dep
		}
	}
	if !s.cascading() {
		return nil
	}
	if err := s.markStale(ctx, dependents); err != nil {
		return err
	}
	for _, dep := range dependents {
		if err := s.refresh(ctx, dep); err != nil {
			return err
		}
	}
	return nil
}

// markStale flags roots and everything that transitively depends on them.
// Entries already flagged or visited in this pass stop the walk.
func (s *Session) markStale(ctx context.Context, roots []selection.Selection) error {
	queue := append([]selection.Selection(nil), roots...)
	for len(queue) > 0 {
		sel := queue[0]
		queue = queue[1:]

		var fresh bool
		switch d := sel.(type) {
		case selection.CellReference:
			fresh = s.cells.GetOrCreate(d, s.stores.Cells, s.cells.machine.Initial(true)).markStale(s.pass)
		case selection.LabelName:
			fresh = s.labels.GetOrCreate(d, s.stores.Labels, s.labels.machine.Initial(true)).markStale(s.pass)
		}
		if !fresh {
			continue
		}
		next, err := s.stores.References.ReferencesTo(ctx, sel)
		if err != nil {
			return err
		}
		queue = append(queue, next...)
	}
	return nil
}

func (s *Session) cascading() bool {
	return s.opts.Mode == ModeImmediate || s.committing
}

// refresh recomputes one dependent unless it was already visited in this
// pass.
func (s *Session) refresh(ctx context.Context, dep selection.Selection) error {
	switch d := dep.(type) {
	case selection.CellReference:
		return s.refreshCell(ctx, d)
	case selection.LabelName:
		return s.refreshLabel(ctx, d)
	}
	return nil
}

func (s *Session) refreshCell(ctx context.Context, ref selection.CellReference) error {
	e := s.cells.GetOrCreate(ref, s.stores.Cells, s.cells.machine.Initial(true))
	if e.visited(s.pass) || e.Status().IsBusy() {
		return nil
	}
	cell, ok, err := e.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		// A missing dependent has no formula to recompute.
		e.visit(s.pass)
		if e.Status().IsRefreshable() {
			e.ReferencesRefreshed()
		}
		return nil
	}
	recordRefresh(ctx, selection.KindCell)
	return s.saveCell(ctx, e, cell.Reference, cell.Formula.Text)
}

// refreshLabel passes a change of one of the label's target cells on to the
// cells that read the label. The mapping itself is unchanged, so the label
// is not reported in the delta.
func (s *Session) refreshLabel(ctx context.Context, name selection.LabelName) error {
	e := s.labels.GetOrCreate(name, s.stores.Labels, s.labels.machine.Initial(true))
	if !e.relay(s.pass) {
		return nil
	}
	if _, _, err := e.Load(ctx); err != nil {
		return err
	}
	if e.Status().IsBusy() {
		return nil
	}
	recordRefresh(ctx, selection.KindLabel)
	if err := s.propagate(ctx, name); err != nil {
		return err
	}
	if e.Status().IsRefreshable() {
		e.ReferencesRefreshed()
	}
	return nil
}

// Commit recomputes every flagged dependent.
//
// Description:
//
//	Starts a new pass and refreshes flagged selections in canonical order,
//	cascading through their dependents. In IMMEDIATE mode nothing is ever
//	flagged and Commit returns at once.
//
// Outputs:
//
//	error - The first store failure. Selections not yet refreshed stay
//	flagged and are retried by the next Commit.
func (s *Session) Commit(ctx context.Context) (err error) {
	if len(s.pending) == 0 {
		return nil
	}
	ctx, span := startCommitSpan(ctx, s.id, len(s.pending))
	defer span.End()
	start := time.Now()

	s.beginPass()
	s.committing = true
	defer func() {
		s.committing = false
		recordCommit(ctx, time.Since(start), err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	pending := s.Pending()
	if err := s.markStale(ctx, pending); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, sel := range pending {
		if err := s.refresh(ctx, sel); err != nil {
			return fmt.Errorf("commit %s: %w", sel, err)
		}
		delete(s.pending, sel.Key())
	}
	s.logger.Debug("commit complete", slog.Int("pass", s.pass))
	return nil
}

// =============================================================================
// Resolver
// =============================================================================

// resolver reads cells and labels through the session, so every read is
// tracked and cached.
type resolver struct {
	s *Session
}

// ResolveCell implements formula.Resolver.
func (r resolver) ResolveCell(ctx context.Context, ref selection.CellReference) (any, error) {
	e := r.s.cells.GetOrCreate(ref, r.s.stores.Cells, r.s.cells.machine.Initial(true))
	if e.Status().IsBusy() {
		recordCycle(ctx)
		return formula.Cycle(ref), nil
	}
	if e.isStale(r.s.pass) {
		if err := r.s.refreshCell(ctx, ref); err != nil {
			return nil, err
		}
	}
	cell, ok, err := e.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return formula.MissingCell(ref), nil
	}
	return cell.Result(), nil
}

// ResolveLabel implements formula.Resolver.
func (r resolver) ResolveLabel(ctx context.Context, name selection.LabelName) (selection.Selection, bool, error) {
	e := r.s.labels.GetOrCreate(name, r.s.stores.Labels, r.s.labels.machine.Initial(true))
	mapping, ok, err := e.Load(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return mapping.Target, true, nil
}

func sortSelections(sels []selection.Selection) {
	sort.Slice(sels, func(i, j int) bool { return selection.Compare(sels[i], sels[j]) < 0 })
}

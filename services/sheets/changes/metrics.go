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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// Package-level tracer and meter for change tracking.
var (
	tracer = otel.Tracer("aleutian.sheets.changes")
	meter  = otel.Meter("aleutian.sheets.changes")
)

// Prometheus metrics.
var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheets_sessions_total",
		Help: "Change tracking sessions created, by mode",
	}, []string{"mode"})

	refreshedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheets_dependents_refreshed_total",
		Help: "Dependents recomputed by propagation, by selection kind",
	}, []string{"kind"})
)

// OpenTelemetry metrics.
var (
	commitLatency metric.Float64Histogram
	commitTotal   metric.Int64Counter
	cycleTotal    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the otel instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		commitLatency, err = meter.Float64Histogram(
			"sheets_commit_duration_seconds",
			metric.WithDescription("Duration of batch commits"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitTotal, err = meter.Int64Counter(
			"sheets_commit_total",
			metric.WithDescription("Total number of batch commits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cycleTotal, err = meter.Int64Counter(
			"sheets_reference_cycles_total",
			metric.WithDescription("Cell reads that hit a cell still being computed"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordSession(mode Mode) {
	sessionsTotal.WithLabelValues(mode.String()).Inc()
}

func recordRefresh(_ context.Context, kind selection.Kind) {
	refreshedTotal.WithLabelValues(kind.String()).Inc()
}

func recordCycle(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cycleTotal.Add(ctx, 1)
}

func recordCommit(ctx context.Context, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	commitLatency.Record(ctx, duration.Seconds(), attrs)
	commitTotal.Add(ctx, 1, attrs)
}

// startCommitSpan creates a span for a batch commit.
func startCommitSpan(ctx context.Context, sessionID string, pending int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Session.Commit",
		trace.WithAttributes(
			attribute.String("sheets.session_id", sessionID),
			attribute.Int("sheets.pending", pending),
		),
	)
}

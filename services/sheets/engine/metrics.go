// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

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
)

var (
	tracer = otel.Tracer("aleutian.sheets.engine")
	meter  = otel.Meter("aleutian.sheets.engine")
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheets_operations_total",
		Help: "Engine operations, by operation and outcome",
	}, []string{"op", "status"})

	deltaEntities = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sheets_delta_entities",
		Help:    "Entities reported per delta, by operation",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"op"})
)

var (
	operationLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		operationLatency, metricsErr = meter.Float64Histogram(
			"sheets_operation_duration_seconds",
			metric.WithDescription("Duration of engine operations, commit included"),
			metric.WithUnit("s"),
		)
	})
	return metricsErr
}

// recordOperation records the outcome of one operation. size is the number
// of entities in the returned delta.
func recordOperation(ctx context.Context, op string, duration time.Duration, size int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	operationsTotal.WithLabelValues(op, status).Inc()
	if err == nil {
		deltaEntities.WithLabelValues(op).Observe(float64(size))
	}
	if initMetrics() != nil {
		return
	}
	operationLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("success", err == nil),
	))
}

func startOperationSpan(ctx context.Context, op, target string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine."+op,
		trace.WithAttributes(
			attribute.String("sheets.op", op),
			attribute.String("sheets.target", target),
		),
	)
}

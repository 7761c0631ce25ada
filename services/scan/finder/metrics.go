// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package finder

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for finder operations.
var (
	tracer = otel.Tracer("aleutian.scan")
	meter  = otel.Meter("aleutian.scan")
)

// OTel instruments.
var (
	buildLatency  metric.Float64Histogram
	buildTotal    metric.Int64Counter
	classesParsed metric.Int64Counter
	queryLatency  metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// Prometheus collectors exported on /metrics.
var (
	notLoadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_classes_not_loaded_total",
		Help: "Classes dropped from query results because they could not be loaded",
	}, []string{"query"})

	linkPhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scan_link_phase_duration_seconds",
		Help:    "Duration of subclass and implementation link phases",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	}, []string{"phase", "mode"})

	linkWaitTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_link_wait_timeouts_total",
		Help: "Queries that proceeded before a link phase finished",
	}, []string{"phase"})
)

// initMetrics initializes the OTel instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"scan_build_duration_seconds",
			metric.WithDescription("Duration of finder construction"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"scan_build_total",
			metric.WithDescription("Total number of finder constructions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		classesParsed, err = meter.Int64Counter(
			"scan_classes_parsed_total",
			metric.WithDescription("Total number of class files decoded into descriptors"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryLatency, err = meter.Float64Histogram(
			"scan_query_duration_seconds",
			metric.WithDescription("Duration of finder queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for a finder construction.
func recordBuildMetrics(ctx context.Context, source string, duration time.Duration, classes int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("success", success),
	)
	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
	if classes > 0 {
		classesParsed.Add(ctx, int64(classes))
	}
}

// recordQueryMetrics records metrics for a finder query.
func recordQueryMetrics(ctx context.Context, query string, duration time.Duration, notLoaded int) {
	if notLoaded > 0 {
		notLoadedTotal.WithLabelValues(query).Add(float64(notLoaded))
	}
	if err := initMetrics(); err != nil {
		return
	}
	queryLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("query", query)),
	)
}

// recordLinkPhase records the duration of a completed link phase.
func recordLinkPhase(phase string, mode LinkMode, duration time.Duration) {
	linkPhaseDuration.WithLabelValues(phase, mode.String()).Observe(duration.Seconds())
}

// recordLinkTimeout counts a query that stopped waiting on a phase.
func recordLinkTimeout(phase string) {
	linkWaitTimeouts.WithLabelValues(phase).Inc()
}

// startBuildSpan creates a span for finder construction.
func startBuildSpan(ctx context.Context, source string, mode LinkMode) (context.Context, trace.Span) {
	return tracer.Start(ctx, "finder.New",
		trace.WithAttributes(
			attribute.String("finder.source", source),
			attribute.String("finder.link_mode", mode.String()),
		),
	)
}

// startQuerySpan creates a span for a finder query.
func startQuerySpan(ctx context.Context, query, target string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "finder."+query,
		trace.WithAttributes(
			attribute.String("finder.query", query),
			attribute.String("finder.target", target),
		),
	)
}

// setQuerySpanResult sets the result attributes on a query span.
func setQuerySpanResult(span trace.Span, results, notLoaded int, err error) {
	span.SetAttributes(
		attribute.Int("finder.results", results),
		attribute.Int("finder.not_loaded", notLoaded),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

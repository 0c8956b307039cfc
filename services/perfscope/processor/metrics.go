// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("perfscope.processor")
	meter  = otel.Meter("perfscope.processor")
)

type parseMetrics struct {
	once            sync.Once
	eventsProcessed metric.Int64Counter
	parseDuration   metric.Float64Histogram
	finalizeLatency metric.Float64Histogram
	parseFailures   metric.Int64Counter
}

// init lazily creates the instruments. Failures degrade observability but
// never the parse.
func (m *parseMetrics) init(logger *slog.Logger) {
	m.once.Do(func() {
		var initErrors []string
		var err error

		m.eventsProcessed, err = meter.Int64Counter("perfscope_events_processed_total",
			metric.WithDescription("Trace events fed through the handler set"),
		)
		if err != nil {
			initErrors = append(initErrors, "events_processed: "+err.Error())
		}

		m.parseDuration, err = meter.Float64Histogram("perfscope_parse_duration_seconds",
			metric.WithDescription("Wall time of a full parse including insights"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "parse_duration: "+err.Error())
		}

		m.finalizeLatency, err = meter.Float64Histogram("perfscope_handler_finalize_seconds",
			metric.WithDescription("Time spent finalizing each handler"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "finalize_latency: "+err.Error())
		}

		m.parseFailures, err = meter.Int64Counter("perfscope_parse_failures_total",
			metric.WithDescription("Parses that ended in ERRORED_WHILE_PARSING"),
		)
		if err != nil {
			initErrors = append(initErrors, "parse_failures: "+err.Error())
		}

		if len(initErrors) > 0 {
			logger.Error("failed to initialize some processor metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

func (m *parseMetrics) recordParse(ctx context.Context, events int, d time.Duration, err error) {
	if m.eventsProcessed != nil {
		m.eventsProcessed.Add(ctx, int64(events))
	}
	if m.parseDuration != nil {
		m.parseDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("success", err == nil)))
	}
	if err != nil && m.parseFailures != nil {
		m.parseFailures.Add(ctx, 1)
	}
}

func (m *parseMetrics) recordFinalize(ctx context.Context, handler string, d time.Duration) {
	if m.finalizeLatency != nil {
		m.finalizeLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("handler", handler)))
	}
}

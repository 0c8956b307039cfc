// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package insights

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("perfscope.insights")
	meter  = otel.Meter("perfscope.insights")
)

var (
	runnerLatency  metric.Float64Histogram
	runnerFailures metric.Int64Counter
	setsComputed   metric.Int64Counter
	lanternSkipped metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runnerLatency, err = meter.Float64Histogram(
			"perfscope_insight_duration_seconds",
			metric.WithDescription("Time spent in one insight runner for one window"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runnerFailures, err = meter.Int64Counter(
			"perfscope_insight_failures_total",
			metric.WithDescription("Insight runners that returned an error"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		setsComputed, err = meter.Int64Counter(
			"perfscope_insight_sets_total",
			metric.WithDescription("Insight sets computed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lanternSkipped, err = meter.Int64Counter(
			"perfscope_lantern_unavailable_total",
			metric.WithDescription("Navigation windows without a lantern simulation"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordRunner(ctx context.Context, name string, d time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("insight", name))
	runnerLatency.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		runnerFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("insight", name),
			attribute.Bool("expected", IsExpected(err)),
		))
	}
}

func recordSet(ctx context.Context, hasNavigation bool) {
	if initMetrics() != nil {
		return
	}
	setsComputed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("navigation", hasNavigation)))
}

func recordLanternSkipped(ctx context.Context, domain bool) {
	if initMetrics() != nil {
		return
	}
	lanternSkipped.Add(ctx, 1, metric.WithAttributes(attribute.Bool("domain_error", domain)))
}

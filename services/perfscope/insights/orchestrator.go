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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/perfscope/services/perfscope/cache"
	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
	"github.com/AleutianAI/perfscope/services/perfscope/lantern"
)

// DefaultSignificanceThreshold is the minimum length of the pre-navigation
// window for it to get its own insight set when navigations exist.
const DefaultSignificanceThreshold = event.Micro(50_000)

// Options configures an Orchestrator.
type Options struct {
	Runners               []Runner
	Logger                *slog.Logger
	Cache                 *cache.Cache
	Lantern               lantern.Settings
	SignificanceThreshold event.Micro
}

// Option mutates Options.
type Option func(*Options)

// WithRunners replaces the default runners.
func WithRunners(runners ...Runner) Option {
	return func(o *Options) { o.Runners = runners }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithCache sets the computed-artifact cache lantern uses.
func WithCache(c *cache.Cache) Option {
	return func(o *Options) { o.Cache = c }
}

// WithLanternSettings sets the simulated network conditions.
func WithLanternSettings(s lantern.Settings) Option {
	return func(o *Options) { o.Lantern = s }
}

// WithSignificanceThreshold sets the pre-navigation window threshold.
func WithSignificanceThreshold(d event.Micro) Option {
	return func(o *Options) { o.SignificanceThreshold = d }
}

// Orchestrator splits a parsed trace into windows and runs every runner on
// each.
//
// Thread Safety:
//
//	Orchestrator holds no per-parse state and is safe for concurrent use.
type Orchestrator struct {
	runners   []Runner
	logger    *slog.Logger
	cache     *cache.Cache
	lantern   lantern.Settings
	threshold event.Micro
}

// NewOrchestrator creates an Orchestrator with the default runners unless
// overridden.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := Options{
		Runners:               DefaultRunners(),
		Lantern:               lantern.DefaultSettings(),
		SignificanceThreshold: DefaultSignificanceThreshold,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Orchestrator{
		runners:   o.Runners,
		logger:    o.Logger,
		cache:     o.Cache,
		lantern:   o.Lantern,
		threshold: o.SignificanceThreshold,
	}
}

// Runners returns the registered runners.
func (o *Orchestrator) Runners() []Runner {
	return append([]Runner(nil), o.runners...)
}

// Compute builds the insight sets for pt.
//
// Description:
//
//	Windows are the pre-navigation period and one per main-frame
//	navigation that has both a frame id and a navigation id. The
//	pre-navigation window is only included when there are no navigations
//	or it is longer than the significance threshold. Windows are computed
//	sequentially. Runner failures are recorded on their results and never
//	abort a window or the computation.
//
// Inputs:
//
//	ctx - For tracing.
//	pt - The parsed trace. Must contain Meta.
//	md - Trace metadata. May be nil. Field metrics inform sorting weights.
//
// Outputs:
//
//	*Insights - One set per window in time order.
//	error - ErrMissingMeta.
func (o *Orchestrator) Compute(ctx context.Context, pt *handlers.ParsedTrace, md *event.Metadata) (*Insights, error) {
	ctx, span := tracer.Start(ctx, "insights.Compute")
	defer span.End()

	meta, ok := handlers.DataOf[*handlers.MetaData](pt, handlers.NameMeta)
	if !ok {
		span.SetStatus(codes.Error, ErrMissingMeta.Error())
		return nil, ErrMissingMeta
	}

	var fm *event.FieldMetrics
	if md != nil {
		fm = md.FieldMetrics
	}
	weights := WeightsFor(fm)

	var navs []handlers.Navigation
	for _, nav := range meta.MainFrameNavigations {
		if nav.FrameID != "" && nav.NavigationID != "" {
			navs = append(navs, nav)
		}
	}

	out := NewInsights()
	bounds := meta.TraceBounds

	preEnd := bounds.Max
	if len(navs) > 0 {
		preEnd = navs[0].Ts
	}
	pre := handlers.NewBounds(bounds.Min, preEnd)
	if len(navs) == 0 || pre.Range > o.threshold {
		sc := &SetContext{
			ID:      NoNavigation,
			URL:     meta.MainFrameURL,
			FrameID: meta.MainFrameID,
			Bounds:  pre,

			closedEnd: len(navs) == 0,
		}
		out.add(o.computeSet(ctx, pt, sc, weights))
	}

	seen := make(map[string]int, len(navs))
	for i := range navs {
		nav := navs[i]
		end := bounds.Max
		if i+1 < len(navs) {
			end = navs[i+1].Ts
		}
		id := nav.NavigationID
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s (%d)", id, n)
			o.logger.Warn("navigation id repeated in trace",
				slog.String("navigation_id", nav.NavigationID),
				slog.String("insight_set", id),
			)
		}
		sc := &SetContext{
			ID:         id,
			URL:        nav.URL,
			FrameID:    nav.FrameID,
			Bounds:     handlers.NewBounds(nav.Ts, end),
			Navigation: &nav,
			Lantern:    o.buildLantern(ctx, pt, nav),

			closedEnd: i == len(navs)-1,
		}
		out.add(o.computeSet(ctx, pt, sc, weights))
	}

	span.SetAttributes(
		attribute.Int("insight_sets", out.Len()),
		attribute.Int("navigations", len(navs)),
	)
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (o *Orchestrator) buildLantern(ctx context.Context, pt *handlers.ParsedTrace, nav handlers.Navigation) *lantern.Context {
	deps := []string{handlers.NameMeta, handlers.NameNetworkRequests, handlers.NamePageLoadMetrics}
	if !pt.HasAll(deps) {
		return nil
	}
	lc, err := lantern.NewContext(ctx, pt, nav, o.lantern, o.cache)
	if err == nil {
		return lc
	}
	domain := lantern.IsDomainError(err)
	recordLanternSkipped(ctx, domain)
	if domain {
		o.logger.Debug("lantern simulation unavailable",
			slog.String("navigation_id", nav.NavigationID),
			slog.String("reason", err.Error()),
		)
	} else {
		o.logger.Error("lantern simulation failed unexpectedly",
			slog.String("navigation_id", nav.NavigationID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (o *Orchestrator) computeSet(ctx context.Context, pt *handlers.ParsedTrace, sc *SetContext, w Weights) *InsightSet {
	ctx, span := tracer.Start(ctx, "insights.Window",
		trace.WithAttributes(
			attribute.String("insight_set", sc.ID),
			attribute.Bool("lantern", sc.Lantern != nil),
		),
	)
	defer span.End()

	set := &InsightSet{
		ID:           sc.ID,
		URL:          sc.URL,
		FrameID:      sc.FrameID,
		NavigationID: sc.NavigationID(),
		Bounds:       sc.Bounds,
		Results:      make(map[string]Result, len(o.runners)),
	}

	var names []string
	for _, r := range o.runners {
		if !pt.HasAll(r.Deps()) {
			o.logger.Debug("skipping insight with missing dependencies",
				slog.String("insight", r.Name()),
				slog.Any("deps", r.Deps()),
			)
			continue
		}
		res := o.run(ctx, r, pt, sc)
		set.Results[r.Name()] = res
		names = append(names, r.Name())
	}

	set.Order = SortByImpact(names, set.Results, currentValues(pt, sc), w)
	recordSet(ctx, sc.Navigation != nil)
	return set
}

func (o *Orchestrator) run(ctx context.Context, r Runner, pt *handlers.ParsedTrace, sc *SetContext) (res Result) {
	ctx, span := tracer.Start(ctx, "insights."+r.Name())
	defer span.End()

	start := time.Now()
	res = Result{Name: r.Name(), FrameID: sc.FrameID, NavigationID: sc.NavigationID()}

	defer func() {
		if p := recover(); p != nil {
			res.Model = nil
			res.Err = &PanicError{Insight: r.Name(), Value: p}
		}
		if res.Err != nil {
			res.Error = res.Err.Error()
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			if IsExpected(res.Err) {
				o.logger.Debug("insight not available",
					slog.String("insight", r.Name()),
					slog.String("insight_set", sc.ID),
					slog.String("reason", res.Err.Error()),
				)
			} else {
				o.logger.Error("insight failed",
					slog.String("insight", r.Name()),
					slog.String("insight_set", sc.ID),
					slog.String("error", res.Err.Error()),
				)
			}
		}
		recordRunner(ctx, r.Name(), time.Since(start), res.Err)
	}()

	model, err := r.Generate(ctx, pt, sc)
	if err != nil {
		res.Err = err
		return res
	}
	if model == nil {
		res.Err = fmt.Errorf("insight %s returned no model", r.Name())
		return res
	}
	res.Model = model
	return res
}

// currentValues reads the window's metric values for impact scoring.
func currentValues(pt *handlers.ParsedTrace, sc *SetContext) MetricValues {
	var v MetricValues
	if nav := sc.Navigation; nav != nil {
		if pl, ok := handlers.DataOf[*handlers.PageLoadData](pt, handlers.NamePageLoadMetrics); ok {
			if m, ok := pl.For(nav.NavigationID); ok && m.LCP != nil {
				v.LCPMs = ms(m.LCP.Value)
			}
		}
		if ls, ok := handlers.DataOf[*handlers.LayoutShiftsData](pt, handlers.NameLayoutShifts); ok {
			v.CLS = ls.CLSByNavigation[nav.NavigationID]
		}
	} else if ls, ok := handlers.DataOf[*handlers.LayoutShiftsData](pt, handlers.NameLayoutShifts); ok {
		v.CLS = ls.CLS
	}
	if ui, ok := handlers.DataOf[*handlers.InteractionsData](pt, handlers.NameUserInteractions); ok {
		if it, ok := pickINP(ui.Interactions, sc); ok {
			v.INPMs = ms(it.Dur)
		}
	}
	return v
}

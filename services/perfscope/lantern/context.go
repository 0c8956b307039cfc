// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lantern estimates how page load metrics would change if network
// requests were removed, by replaying a navigation's request graph on a
// simulated network.
package lantern

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/perfscope/services/perfscope/cache"
	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
)

var tracer = otel.Tracer("perfscope.lantern")

// Metrics are simulated metric values, relative to navigation start.
type Metrics struct {
	FCP event.Micro `json:"fcp"`
	LCP event.Micro `json:"lcp,omitempty"`
}

// Savings are estimated metric reductions. Never negative.
type Savings struct {
	FCP event.Micro `json:"fcp"`
	LCP event.Micro `json:"lcp"`
}

// Context is the simulation state for one navigation.
//
// Thread Safety:
//
//	Context is immutable after NewContext and safe for concurrent use.
type Context struct {
	NavigationID string
	MainDocument handlers.Request
	Graph        *Graph
	Simulated    Metrics

	navStart    event.Micro
	observedFCP event.Micro
	observedLCP event.Micro
	lcpURL      string
	hasLCP      bool
	sim         *Simulator
	cache       *cache.Cache
}

// NewContext builds the simulation context for nav.
//
// Description:
//
//	Collects the navigation's requests, finds its document request, builds
//	the dependency graph and simulates FCP (and LCP when observed). Fails
//	with one of the package's domain errors when any prerequisite is
//	missing.
//
// Inputs:
//
//	ctx - For tracing and cached computations.
//	pt - Parsed trace containing Meta, NetworkRequests and PageLoadMetrics.
//	nav - The navigation.
//	settings - Simulated conditions.
//	c - Computed-artifact cache. May be nil.
//
// Outputs:
//
//	*Context - The context.
//	error - A domain error, or a wrapped unexpected error.
func NewContext(ctx context.Context, pt *handlers.ParsedTrace, nav handlers.Navigation, settings Settings, c *cache.Cache) (*Context, error) {
	ctx, span := tracer.Start(ctx, "lantern.NewContext",
		trace.WithAttributes(attribute.String("navigation_id", nav.NavigationID)),
	)
	defer span.End()

	lc, err := newContext(ctx, pt, nav, settings, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("requests", lc.Graph.Len()),
		attribute.Float64("simulated_fcp_ms", lc.Simulated.FCP.Milli()),
	)
	return lc, nil
}

func newContext(ctx context.Context, pt *handlers.ParsedTrace, nav handlers.Navigation, settings Settings, c *cache.Cache) (*Context, error) {
	meta, ok := handlers.DataOf[*handlers.MetaData](pt, handlers.NameMeta)
	if !ok {
		return nil, fmt.Errorf("lantern: parsed trace lacks %s", handlers.NameMeta)
	}
	if meta.IsOldTrace {
		return nil, ErrTraceTooOld
	}
	network, ok := handlers.DataOf[*handlers.NetworkData](pt, handlers.NameNetworkRequests)
	if !ok {
		return nil, fmt.Errorf("lantern: parsed trace lacks %s", handlers.NameNetworkRequests)
	}
	pageLoad, ok := handlers.DataOf[*handlers.PageLoadData](pt, handlers.NamePageLoadMetrics)
	if !ok {
		return nil, fmt.Errorf("lantern: parsed trace lacks %s", handlers.NamePageLoadMetrics)
	}

	var requests []handlers.Request
	for _, r := range network.Requests {
		if r.NavigationID == nav.NavigationID {
			requests = append(requests, r)
		}
	}
	if len(requests) == 0 {
		return nil, ErrNoNetworkRequests
	}

	doc, ok := findMainDocument(requests, nav)
	if !ok {
		return nil, ErrMissingMainDocument
	}

	metrics, ok := pageLoad.For(nav.NavigationID)
	if !ok || metrics.FCP == nil {
		return nil, fmt.Errorf("%w: FCP for navigation %s", ErrMissingMetric, nav.NavigationID)
	}

	g, err := BuildGraph(requests, doc.ID)
	if err != nil {
		return nil, err
	}

	lc := &Context{
		NavigationID: nav.NavigationID,
		MainDocument: doc,
		Graph:        g,
		navStart:     nav.Ts,
		observedFCP:  metrics.FCP.Ts,
		sim:          NewSimulator(settings),
		cache:        c,
	}
	if metrics.LCP != nil {
		lc.observedLCP = metrics.LCP.Ts
		lc.lcpURL = metrics.LCP.URL
		lc.hasLCP = true
	}

	base, err := lc.simulate(ctx, nil)
	if err != nil {
		return nil, err
	}
	lc.Simulated = base
	return lc, nil
}

func findMainDocument(requests []handlers.Request, nav handlers.Navigation) (handlers.Request, bool) {
	var firstDoc *handlers.Request
	for i := range requests {
		r := &requests[i]
		if r.ResourceType != "Document" {
			continue
		}
		if r.FrameID == nav.FrameID && (r.URL == nav.URL || nav.URL == "") {
			return *r, true
		}
		if firstDoc == nil {
			firstDoc = r
		}
	}
	if firstDoc != nil {
		return *firstDoc, true
	}
	return handlers.Request{}, false
}

// HasLCP reports whether LCP was observed and simulated.
func (lc *Context) HasLCP() bool {
	return lc.hasLCP
}

// Settings returns the simulated conditions.
func (lc *Context) Settings() Settings {
	return lc.sim.Settings()
}

type simulateParams struct {
	NavigationID string
	Exclude      []string
	Settings     Settings
}

// EstimateSavings simulates the navigation without the given requests and
// everything they initiated.
//
// Inputs:
//
//	ctx - For cached computations.
//	exclude - Request ids to remove. The main document cannot be removed
//	and is ignored.
//
// Outputs:
//
//	Savings - Reduction in simulated FCP and LCP.
//	error - ErrUnknownRequest if an id is not in the graph.
func (lc *Context) EstimateSavings(ctx context.Context, exclude []string) (Savings, error) {
	ids := append([]string(nil), exclude...)
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := lc.Graph.Index(id); !ok {
			return Savings{}, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
		}
	}

	without, err := lc.simulate(ctx, ids)
	if err != nil {
		return Savings{}, err
	}
	out := Savings{FCP: positive(lc.Simulated.FCP - without.FCP)}
	if lc.hasLCP {
		out.LCP = positive(lc.Simulated.LCP - without.LCP)
	}
	return out, nil
}

func (lc *Context) simulate(ctx context.Context, exclude []string) (Metrics, error) {
	params := simulateParams{NavigationID: lc.NavigationID, Exclude: exclude, Settings: lc.sim.Settings()}
	compute := func(context.Context) (Metrics, error) {
		return lc.simulateUncached(exclude), nil
	}
	if lc.cache == nil {
		return compute(ctx)
	}
	return cache.Compute(ctx, lc.cache, "lantern.simulate", params, compute)
}

func (lc *Context) simulateUncached(exclude []string) Metrics {
	removed := make(map[int]bool)
	for _, id := range exclude {
		i, ok := lc.Graph.Index(id)
		if !ok || i == lc.Graph.Root {
			continue
		}
		removed[i] = true
		for _, d := range lc.Graph.Descendants(i) {
			removed[d] = true
		}
	}

	out := Metrics{FCP: lc.simulateMetric(lc.observedFCP, "", removed)}
	if lc.hasLCP {
		out.LCP = lc.simulateMetric(lc.observedLCP, lc.lcpURL, removed)
	}
	return out
}

// simulateMetric simulates the requests a paint at metricTs depended on:
// render-blocking requests that started before it and, for LCP, the LCP
// resource, together with their initiators. It then adds the main-thread
// time between the last of them finishing and the metric, scaled by the
// CPU slowdown. The main-thread tail is measured on the unmodified graph
// so removing requests only ever shortens the network part.
func (lc *Context) simulateMetric(metricTs event.Micro, resourceURL string, removed map[int]bool) event.Micro {
	var seeds []int
	for i := range lc.Graph.Nodes {
		r := &lc.Graph.Nodes[i].Request
		if (r.IsRenderBlocking() && r.Start < metricTs) || (resourceURL != "" && r.URL == resourceURL) {
			seeds = append(seeds, i)
		}
	}
	include := lc.Graph.WithAncestors(seeds)

	var lastObservedEnd event.Micro
	for i := range include {
		if end := lc.Graph.Nodes[i].Request.End; end > lastObservedEnd && end <= metricTs {
			lastObservedEnd = end
		}
	}
	for i := range removed {
		delete(include, i)
	}

	sim := lc.sim.Simulate(lc.Graph, include)
	value := sim.Total
	if offset := lc.MainDocument.Start - lc.navStart; offset > 0 {
		value += offset
	}
	if lastObservedEnd > 0 && metricTs > lastObservedEnd {
		value += event.Micro(float64(metricTs-lastObservedEnd) * lc.sim.Settings().CPUSlowdown)
	}
	return value
}

func positive(v event.Micro) event.Micro {
	if v < 0 {
		return 0
	}
	return v
}

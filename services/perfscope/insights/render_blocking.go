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
	"sort"

	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
)

// BlockingRequest is one render-blocking request.
type BlockingRequest struct {
	RequestID  string  `json:"requestId"`
	URL        string  `json:"url"`
	DurationMs float64 `json:"durationMs"`
	SavingsMs  float64 `json:"savingsMs"`
}

// RenderBlockingModel is the RenderBlocking result.
type RenderBlockingModel struct {
	Base
	FCPMs    float64           `json:"fcpMs,omitempty"`
	Requests []BlockingRequest `json:"requests"`

	// Simulated is true when savings came from the lantern simulation
	// rather than the observed timings.
	Simulated bool `json:"simulated"`
}

// RenderBlocking lists render-blocking requests that finished before first
// contentful paint.
type RenderBlocking struct{}

func (RenderBlocking) Name() string { return NameRenderBlocking }

func (RenderBlocking) Deps() []string {
	return []string{handlers.NameMeta, handlers.NameNetworkRequests, handlers.NamePageLoadMetrics}
}

func (RenderBlocking) Generate(ctx context.Context, pt *handlers.ParsedTrace, sc *SetContext) (Model, error) {
	m := &RenderBlockingModel{Base: Base{
		Title:       "Render blocking requests",
		Description: "Requests are blocking the page's initial render. Defer or inline them.",
	}}
	if sc.Navigation == nil {
		return m, nil
	}

	pageLoad, err := dataOf[*handlers.PageLoadData](pt, handlers.NamePageLoadMetrics)
	if err != nil {
		return nil, err
	}
	network, err := dataOf[*handlers.NetworkData](pt, handlers.NameNetworkRequests)
	if err != nil {
		return nil, err
	}
	metrics, ok := pageLoad.For(sc.Navigation.NavigationID)
	if !ok || metrics.FCP == nil {
		return nil, ErrNoFCP
	}
	fcp := metrics.FCP
	m.FCPMs = ms(fcp.Value)

	var blocking []handlers.Request
	for _, r := range network.Requests {
		if r.NavigationID != sc.Navigation.NavigationID || !r.IsRenderBlocking() {
			continue
		}
		if !sc.Contains(r.Start) || r.End > fcp.Ts {
			continue
		}
		blocking = append(blocking, r)
	}
	if len(blocking) == 0 {
		m.Requests = []BlockingRequest{}
		return m, nil
	}

	ids := make([]string, 0, len(blocking))
	for _, r := range blocking {
		ids = append(ids, r.ID)
		m.Requests = append(m.Requests, BlockingRequest{
			RequestID:  r.ID,
			URL:        r.URL,
			DurationMs: ms(r.Duration()),
		})
	}

	if lc := sc.Lantern; lc != nil {
		m.Simulated = true
		for i := range m.Requests {
			s, err := lc.EstimateSavings(ctx, []string{m.Requests[i].RequestID})
			if err != nil {
				return nil, err
			}
			m.Requests[i].SavingsMs = ms(s.FCP)
		}
		total, err := lc.EstimateSavings(ctx, ids)
		if err != nil {
			return nil, err
		}
		m.Savings.FCPMs = ms(total.FCP)
		m.Savings.LCPMs = ms(total.LCP)
	} else {
		// Without a simulation, the most a single request could be holding
		// back FCP is its own duration.
		for i, r := range blocking {
			m.Requests[i].SavingsMs = ms(minMicro(r.End, fcp.Ts) - r.Start)
			m.Savings.FCPMs = max(m.Savings.FCPMs, m.Requests[i].SavingsMs)
		}
		if metrics.LCP != nil {
			m.Savings.LCPMs = m.Savings.FCPMs
		}
	}

	sort.SliceStable(m.Requests, func(i, j int) bool {
		return m.Requests[i].SavingsMs > m.Requests[j].SavingsMs
	})
	m.Failing = true
	return m, nil
}

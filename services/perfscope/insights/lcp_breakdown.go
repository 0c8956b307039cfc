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

	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
)

// LCPPhases split LCP into consecutive parts. Load delay and load duration
// are zero for text LCP, which has no resource.
type LCPPhases struct {
	TTFBMs         float64 `json:"ttfbMs"`
	LoadDelayMs    float64 `json:"loadDelayMs"`
	LoadDurationMs float64 `json:"loadDurationMs"`
	RenderDelayMs  float64 `json:"renderDelayMs"`
}

// LCPBreakdownModel is the LCPBreakdown result.
type LCPBreakdownModel struct {
	Base
	LCPMs        float64    `json:"lcpMs,omitempty"`
	LCPRequestID string     `json:"lcpRequestId,omitempty"`
	LCPURL       string     `json:"lcpUrl,omitempty"`
	Phases       *LCPPhases `json:"phases,omitempty"`
}

// LCPBreakdown attributes LCP time to the document response, the wait
// before the LCP resource was requested, its download and the render that
// followed.
type LCPBreakdown struct{}

func (LCPBreakdown) Name() string { return NameLCPBreakdown }

func (LCPBreakdown) Deps() []string {
	return []string{handlers.NameMeta, handlers.NameNetworkRequests, handlers.NamePageLoadMetrics}
}

func (LCPBreakdown) Generate(_ context.Context, pt *handlers.ParsedTrace, sc *SetContext) (Model, error) {
	m := &LCPBreakdownModel{Base: Base{
		Title:       "LCP breakdown",
		Description: "Each phase of Largest Contentful Paint has its own fixes. Shorten the longest one.",
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
	if !ok || metrics.LCP == nil {
		return nil, ErrNoLCP
	}
	lcp := metrics.LCP
	m.LCPMs = ms(lcp.Value)

	doc, ok := documentRequest(network, sc)
	if !ok {
		return nil, ErrNoDocumentRequest
	}

	navStart := sc.Navigation.Ts
	firstByte := doc.ResponseAt
	if firstByte < navStart {
		firstByte = navStart
	}
	phases := &LCPPhases{TTFBMs: ms(firstByte - navStart)}

	if req, ok := lcpRequest(network, sc, lcp.URL); ok {
		m.LCPRequestID = req.ID
		m.LCPURL = req.URL
		loadStart := maxMicro(req.Start, firstByte)
		loadEnd := maxMicro(req.End, loadStart)
		renderAt := maxMicro(lcp.Ts, loadEnd)
		phases.LoadDelayMs = ms(loadStart - firstByte)
		phases.LoadDurationMs = ms(loadEnd - loadStart)
		phases.RenderDelayMs = ms(renderAt - loadEnd)
	} else {
		phases.RenderDelayMs = nonNegative(ms(lcp.Ts - firstByte))
	}
	m.Phases = phases
	m.Failing = m.LCPMs > lcpCurve.p10
	return m, nil
}

func lcpRequest(network *handlers.NetworkData, sc *SetContext, url string) (handlers.Request, bool) {
	if url == "" {
		return handlers.Request{}, false
	}
	for _, r := range network.Requests {
		if r.URL == url && r.NavigationID == sc.NavigationID() {
			return r, true
		}
	}
	return handlers.Request{}, false
}

func maxMicro(a, b event.Micro) event.Micro {
	if a > b {
		return a
	}
	return b
}

func minMicro(a, b event.Micro) event.Micro {
	if a < b {
		return a
	}
	return b
}

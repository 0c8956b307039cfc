// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
)

// MetricMark is a page load milestone: when it happened and how long after
// its navigation.
type MetricMark struct {
	Ts    event.Micro `json:"ts"`
	Value event.Micro `json:"value"`
}

// LCPCandidate describes the element behind the final LCP candidate.
type LCPCandidate struct {
	MetricMark
	NodeID int64   `json:"nodeId"`
	Size   float64 `json:"size"`
	Type   string  `json:"type"`
	URL    string  `json:"url,omitempty"`
}

// NavigationMetrics groups milestones for one navigation. Nil fields were
// not observed.
type NavigationMetrics struct {
	NavigationID    string        `json:"navigationId"`
	FrameID         string        `json:"frameId"`
	NavigationStart event.Micro   `json:"navigationStart"`
	FP              *MetricMark   `json:"fp,omitempty"`
	FCP             *MetricMark   `json:"fcp,omitempty"`
	LCP             *LCPCandidate `json:"lcp,omitempty"`
	DCL             *MetricMark   `json:"dcl,omitempty"`
	Load            *MetricMark   `json:"load,omitempty"`
}

func (m NavigationMetrics) clone() NavigationMetrics {
	out := m
	out.FP = cloneMark(m.FP)
	out.FCP = cloneMark(m.FCP)
	out.DCL = cloneMark(m.DCL)
	out.Load = cloneMark(m.Load)
	if m.LCP != nil {
		lcp := *m.LCP
		out.LCP = &lcp
	}
	return out
}

func cloneMark(m *MetricMark) *MetricMark {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// PageLoadData is the PageLoadMetrics handler snapshot.
type PageLoadData struct {
	ByNavigation map[string]NavigationMetrics `json:"byNavigation"`
}

// For returns the metrics for navigationID.
func (d *PageLoadData) For(navigationID string) (NavigationMetrics, bool) {
	m, ok := d.ByNavigation[navigationID]
	return m, ok
}

type pageLoadMark struct {
	name         string
	ts           event.Micro
	frameID      string
	navigationID string
	nodeID       int64
	size         float64
	typ          string
	url          string
	index        float64
}

// PageLoadMetrics records FP, FCP, LCP, DCL and Load per main-frame
// navigation.
type PageLoadMetrics struct {
	meta   *Meta
	marks  []pageLoadMark
	result *PageLoadData
}

// NewPageLoadMetrics creates the handler.
func NewPageLoadMetrics(meta *Meta) *PageLoadMetrics {
	p := &PageLoadMetrics{meta: meta}
	p.Reset()
	return p
}

func (p *PageLoadMetrics) Name() string   { return NamePageLoadMetrics }
func (p *PageLoadMetrics) Deps() []string { return []string{NameMeta} }

// Reset clears all state.
func (p *PageLoadMetrics) Reset() {
	p.marks = nil
	p.result = nil
}

// HandleEvent consumes one event.
func (p *PageLoadMetrics) HandleEvent(ev *event.Event) error {
	switch ev.Name {
	case "firstPaint", "firstContentfulPaint", "MarkDOMContent", "MarkLoad",
		"largestContentfulPaint::Candidate", "largestContentfulPaint::Invalidate":
	default:
		return nil
	}

	mark := pageLoadMark{
		name:         ev.Name,
		ts:           ev.Ts,
		frameID:      ev.ArgString("frame"),
		navigationID: ev.ArgString("data", "navigationId"),
	}
	if mark.frameID == "" {
		mark.frameID = ev.ArgString("data", "frame")
	}
	if ev.Name == "largestContentfulPaint::Candidate" {
		if id, ok := ev.ArgFloat("data", "nodeId"); ok {
			mark.nodeID = int64(id)
		}
		mark.size, _ = ev.ArgFloat("data", "size")
		mark.typ = ev.ArgString("data", "type")
		mark.url = ev.ArgString("data", "url")
		mark.index, _ = ev.ArgFloat("data", "candidateIndex")
	}
	p.marks = append(p.marks, mark)
	return nil
}

// Finalize attributes every mark to its navigation.
func (p *PageLoadMetrics) Finalize(_ context.Context) error {
	meta := p.meta.finalized()
	d := &PageLoadData{ByNavigation: make(map[string]NavigationMetrics)}
	lcpIndex := make(map[string]float64)

	for _, mk := range p.marks {
		if meta.MainFrameID != "" && mk.frameID != "" && mk.frameID != meta.MainFrameID {
			continue
		}

		nav, ok := meta.NavigationsByID[mk.navigationID]
		if !ok {
			nav, ok = meta.NavigationBefore(mk.ts)
		}
		if !ok || nav.NavigationID == "" {
			continue
		}

		m, exists := d.ByNavigation[nav.NavigationID]
		if !exists {
			m = NavigationMetrics{
				NavigationID:    nav.NavigationID,
				FrameID:         nav.FrameID,
				NavigationStart: nav.Ts,
			}
		}
		at := MetricMark{Ts: mk.ts, Value: mk.ts - nav.Ts}

		switch mk.name {
		case "firstPaint":
			if m.FP == nil {
				m.FP = &at
			}
		case "firstContentfulPaint":
			if m.FCP == nil {
				m.FCP = &at
			}
		case "MarkDOMContent":
			if m.DCL == nil {
				m.DCL = &at
			}
		case "MarkLoad":
			if m.Load == nil {
				m.Load = &at
			}
		case "largestContentfulPaint::Candidate":
			if prev, seen := lcpIndex[nav.NavigationID]; seen && m.LCP != nil && mk.index < prev {
				break
			}
			lcpIndex[nav.NavigationID] = mk.index
			m.LCP = &LCPCandidate{
				MetricMark: at,
				NodeID:     mk.nodeID,
				Size:       mk.size,
				Type:       mk.typ,
				URL:        mk.url,
			}
		case "largestContentfulPaint::Invalidate":
			m.LCP = nil
		}
		d.ByNavigation[nav.NavigationID] = m
	}

	p.result = d
	return nil
}

// Data returns a *PageLoadData snapshot.
func (p *PageLoadMetrics) Data() any {
	out := &PageLoadData{ByNavigation: make(map[string]NavigationMetrics)}
	if p.result == nil {
		return out
	}
	for k, v := range p.result.ByNavigation {
		out.ByNavigation[k] = v.clone()
	}
	return out
}

func (p *PageLoadMetrics) finalized() *PageLoadData {
	if p.result == nil {
		return &PageLoadData{ByNavigation: map[string]NavigationMetrics{}}
	}
	return p.result
}

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

// Session window limits for grouping layout shifts into clusters.
const (
	ShiftClusterGap    = event.Micro(1_000_000)
	ShiftClusterMaxDur = event.Micro(5_000_000)
)

// LayoutShift is one LayoutShift event without recent input.
type LayoutShift struct {
	Ts            event.Micro `json:"ts"`
	Score         float64     `json:"score"`
	NavigationID  string      `json:"navigationId,omitempty"`
	ImpactedNodes []int64     `json:"impactedNodes,omitempty"`
}

// ShiftCluster is a session window of layout shifts.
type ShiftCluster struct {
	Start        event.Micro `json:"start"`
	End          event.Micro `json:"end"`
	Score        float64     `json:"score"`
	NavigationID string      `json:"navigationId,omitempty"`
	// Shifts are indices into LayoutShiftsData.Shifts.
	Shifts []int `json:"shifts"`
}

// LayoutShiftsData is the LayoutShifts handler snapshot.
type LayoutShiftsData struct {
	Shifts   []LayoutShift  `json:"shifts"`
	Clusters []ShiftCluster `json:"clusters"`

	// CLS is the score of the worst cluster in the whole trace.
	CLS float64 `json:"cls"`

	// WorstClusterIndex indexes Clusters, or is -1 with no shifts.
	WorstClusterIndex int `json:"worstClusterIndex"`

	// CLSByNavigation is the worst cluster score per navigation.
	CLSByNavigation map[string]float64 `json:"clsByNavigation"`
}

func (d *LayoutShiftsData) clone() *LayoutShiftsData {
	out := *d
	out.Shifts = make([]LayoutShift, len(d.Shifts))
	for i, s := range d.Shifts {
		s.ImpactedNodes = append([]int64(nil), s.ImpactedNodes...)
		out.Shifts[i] = s
	}
	out.Clusters = make([]ShiftCluster, len(d.Clusters))
	for i, c := range d.Clusters {
		c.Shifts = append([]int(nil), c.Shifts...)
		out.Clusters[i] = c
	}
	out.CLSByNavigation = make(map[string]float64, len(d.CLSByNavigation))
	for k, v := range d.CLSByNavigation {
		out.CLSByNavigation[k] = v
	}
	return &out
}

// LayoutShifts scores layout instability using session windows: a cluster
// ends after a one second gap, after five seconds, or at a navigation.
type LayoutShifts struct {
	meta   *Meta
	shifts []LayoutShift
	frames []string
	result *LayoutShiftsData
}

// NewLayoutShifts creates the handler.
func NewLayoutShifts(meta *Meta) *LayoutShifts {
	l := &LayoutShifts{meta: meta}
	l.Reset()
	return l
}

func (l *LayoutShifts) Name() string   { return NameLayoutShifts }
func (l *LayoutShifts) Deps() []string { return []string{NameMeta} }

// Reset clears all state.
func (l *LayoutShifts) Reset() {
	l.shifts = nil
	l.frames = nil
	l.result = nil
}

// HandleEvent consumes one event.
func (l *LayoutShifts) HandleEvent(ev *event.Event) error {
	if ev.Name != "LayoutShift" {
		return nil
	}
	if ev.ArgBool("data", "had_recent_input") {
		return nil
	}

	score, ok := ev.ArgFloat("data", "weighted_score_delta")
	if !ok {
		score, _ = ev.ArgFloat("data", "score")
	}

	var nodes []int64
	for _, raw := range event.AsSlice(ev.Arg("data", "impacted_nodes")) {
		if id, ok := event.AsFloat(event.AsMap(raw)["node_id"]); ok {
			nodes = append(nodes, int64(id))
		}
	}

	l.shifts = append(l.shifts, LayoutShift{Ts: ev.Ts, Score: score, ImpactedNodes: nodes})
	l.frames = append(l.frames, ev.ArgString("frame"))
	return nil
}

// Finalize builds clusters.
func (l *LayoutShifts) Finalize(_ context.Context) error {
	meta := l.meta.finalized()
	d := &LayoutShiftsData{
		WorstClusterIndex: -1,
		CLSByNavigation:   make(map[string]float64),
	}

	for i, s := range l.shifts {
		if meta.MainFrameID != "" && l.frames[i] != "" && l.frames[i] != meta.MainFrameID {
			continue
		}
		if nav, ok := meta.NavigationBefore(s.Ts); ok {
			s.NavigationID = nav.NavigationID
		}
		d.Shifts = append(d.Shifts, s)
	}

	var cur *ShiftCluster
	flush := func() {
		if cur == nil {
			return
		}
		d.Clusters = append(d.Clusters, *cur)
		idx := len(d.Clusters) - 1
		if d.WorstClusterIndex < 0 || cur.Score > d.CLS {
			d.CLS = cur.Score
			d.WorstClusterIndex = idx
		}
		if cur.Score > d.CLSByNavigation[cur.NavigationID] {
			d.CLSByNavigation[cur.NavigationID] = cur.Score
		}
		cur = nil
	}

	for i, s := range d.Shifts {
		if cur != nil {
			newWindow := s.Ts-cur.End > ShiftClusterGap ||
				s.Ts-cur.Start > ShiftClusterMaxDur ||
				s.NavigationID != cur.NavigationID
			if newWindow {
				flush()
			}
		}
		if cur == nil {
			cur = &ShiftCluster{Start: s.Ts, NavigationID: s.NavigationID}
		}
		cur.End = s.Ts
		cur.Score += s.Score
		cur.Shifts = append(cur.Shifts, i)
	}
	flush()

	l.result = d
	return nil
}

// Data returns a *LayoutShiftsData snapshot.
func (l *LayoutShifts) Data() any {
	if l.result == nil {
		return (&LayoutShiftsData{WorstClusterIndex: -1}).clone()
	}
	return l.result.clone()
}

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

// maxCulprits is how many shifts of the worst cluster are reported.
const maxCulprits = 3

// CLSCulpritsModel is the CLSCulprits result.
type CLSCulpritsModel struct {
	Base
	CLS          float64                 `json:"cls"`
	WorstCluster *handlers.ShiftCluster  `json:"worstCluster,omitempty"`
	TopShifts    []handlers.LayoutShift  `json:"topShifts"`
	Clusters     []handlers.ShiftCluster `json:"clusters"`
}

// CLSCulprits reports the worst layout shift cluster in the window and its
// largest shifts. Fixing them brings CLS down to the next worst cluster.
type CLSCulprits struct{}

func (CLSCulprits) Name() string { return NameCLSCulprits }

func (CLSCulprits) Deps() []string {
	return []string{handlers.NameMeta, handlers.NameLayoutShifts}
}

func (CLSCulprits) Generate(_ context.Context, pt *handlers.ParsedTrace, sc *SetContext) (Model, error) {
	shifts, err := dataOf[*handlers.LayoutShiftsData](pt, handlers.NameLayoutShifts)
	if err != nil {
		return nil, err
	}
	m := &CLSCulpritsModel{
		Base: Base{
			Title:       "Layout shift culprits",
			Description: "Layout shifts occur when elements move without user interaction. Reserve space for late content.",
		},
		TopShifts: []handlers.LayoutShift{},
		Clusters:  []handlers.ShiftCluster{},
	}

	worst, second := -1, 0.0
	for _, c := range shifts.Clusters {
		if !clusterInWindow(c, sc) {
			continue
		}
		m.Clusters = append(m.Clusters, c)
		i := len(m.Clusters) - 1
		switch {
		case worst < 0 || c.Score > m.Clusters[worst].Score:
			if worst >= 0 {
				second = m.Clusters[worst].Score
			}
			worst = i
		case c.Score > second:
			second = c.Score
		}
	}
	if worst < 0 {
		return m, nil
	}

	wc := m.Clusters[worst]
	wc.Shifts = append([]int(nil), wc.Shifts...)
	m.WorstCluster = &wc
	m.CLS = wc.Score

	for _, idx := range wc.Shifts {
		if idx >= 0 && idx < len(shifts.Shifts) {
			m.TopShifts = append(m.TopShifts, shifts.Shifts[idx])
		}
	}
	sort.SliceStable(m.TopShifts, func(i, j int) bool { return m.TopShifts[i].Score > m.TopShifts[j].Score })
	if len(m.TopShifts) > maxCulprits {
		m.TopShifts = m.TopShifts[:maxCulprits]
	}

	m.Savings.CLS = nonNegative(wc.Score - second)
	m.Failing = m.CLS > clsCurve.p10
	return m, nil
}

func clusterInWindow(c handlers.ShiftCluster, sc *SetContext) bool {
	if nav := sc.Navigation; nav != nil {
		return c.NavigationID == nav.NavigationID
	}
	return c.NavigationID == "" && sc.Contains(c.Start)
}

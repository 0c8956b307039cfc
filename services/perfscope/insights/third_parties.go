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

// ThirdPartySummary totals one third-party origin's cost.
type ThirdPartySummary struct {
	Origin           string  `json:"origin"`
	Requests         int     `json:"requests"`
	TransferSize     int64   `json:"transferSize"`
	MainThreadTimeMs float64 `json:"mainThreadTimeMs"`
}

// ThirdPartiesModel is the ThirdParties result.
type ThirdPartiesModel struct {
	Base
	FirstPartyOrigin string              `json:"firstPartyOrigin"`
	ThirdParties     []ThirdPartySummary `json:"thirdParties"`
}

// ThirdParties totals transfer size and main-thread time per origin other
// than the page's own.
type ThirdParties struct{}

func (ThirdParties) Name() string { return NameThirdParties }

func (ThirdParties) Deps() []string {
	return []string{handlers.NameMeta, handlers.NameNetworkRequests, handlers.NameTasks}
}

func (ThirdParties) Generate(_ context.Context, pt *handlers.ParsedTrace, sc *SetContext) (Model, error) {
	network, err := dataOf[*handlers.NetworkData](pt, handlers.NameNetworkRequests)
	if err != nil {
		return nil, err
	}
	tasks, err := dataOf[*handlers.TasksData](pt, handlers.NameTasks)
	if err != nil {
		return nil, err
	}

	first := handlers.OriginOf(sc.URL)
	m := &ThirdPartiesModel{
		Base: Base{
			Title:       "Third parties",
			Description: "Third party code can significantly impact load performance. Defer or remove what is not needed.",
		},
		FirstPartyOrigin: first,
		ThirdParties:     []ThirdPartySummary{},
	}

	byOrigin := make(map[string]*ThirdPartySummary)
	get := func(origin string) *ThirdPartySummary {
		s, ok := byOrigin[origin]
		if !ok {
			s = &ThirdPartySummary{Origin: origin}
			byOrigin[origin] = s
		}
		return s
	}

	for _, r := range network.Requests {
		if !sc.Contains(r.Start) || r.Origin == "" || r.Origin == first {
			continue
		}
		s := get(r.Origin)
		s.Requests++
		s.TransferSize += r.EncodedDataLength
	}
	for _, t := range tasks.MainThreadTasks {
		origin := handlers.OriginOf(t.URL)
		if !sc.Contains(t.Ts) || origin == "" || origin == first {
			continue
		}
		get(origin).MainThreadTimeMs += ms(t.Dur)
	}

	for _, s := range byOrigin {
		m.ThirdParties = append(m.ThirdParties, *s)
	}
	sort.Slice(m.ThirdParties, func(i, j int) bool {
		a, b := m.ThirdParties[i], m.ThirdParties[j]
		if a.MainThreadTimeMs != b.MainThreadTimeMs {
			return a.MainThreadTimeMs > b.MainThreadTimeMs
		}
		if a.TransferSize != b.TransferSize {
			return a.TransferSize > b.TransferSize
		}
		return a.Origin < b.Origin
	})
	m.Failing = len(m.ThirdParties) > 0
	return m, nil
}

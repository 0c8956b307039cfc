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
	"fmt"
	"sort"

	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
)

// DefaultRunners returns one instance of every built-in runner.
func DefaultRunners() []Runner {
	return []Runner{
		LCPBreakdown{},
		RenderBlocking{},
		DocumentLatency{},
		CLSCulprits{},
		INPBreakdown{},
		ThirdParties{},
		LongTasks{},
	}
}

// dataOf is handlers.DataOf with an error for the runner to return.
func dataOf[T any](pt *handlers.ParsedTrace, name string) (T, error) {
	v, ok := handlers.DataOf[T](pt, name)
	if !ok {
		return v, fmt.Errorf("%w: %s", ErrMissingData, name)
	}
	return v, nil
}

// documentRequest finds the document request of the window's navigation.
func documentRequest(network *handlers.NetworkData, sc *SetContext) (handlers.Request, bool) {
	nav := sc.Navigation
	if nav == nil {
		return handlers.Request{}, false
	}
	var fallback *handlers.Request
	for i := range network.Requests {
		r := &network.Requests[i]
		if r.ResourceType != "Document" || r.NavigationID != nav.NavigationID {
			continue
		}
		if r.FrameID == nav.FrameID && (r.URL == nav.URL || nav.URL == "") {
			return *r, true
		}
		if fallback == nil {
			fallback = r
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return handlers.Request{}, false
}

// pickINP applies the INP percentile rule to the interactions inside the
// window.
func pickINP(all []handlers.Interaction, sc *SetContext) (handlers.Interaction, bool) {
	var in []handlers.Interaction
	for _, it := range all {
		if sc.Contains(it.Ts) {
			in = append(in, it)
		}
	}
	if len(in) == 0 {
		return handlers.Interaction{}, false
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].Dur > in[j].Dur })
	pick := len(in) / 50
	if pick > len(in)-1 {
		pick = len(in) - 1
	}
	return in[pick], true
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

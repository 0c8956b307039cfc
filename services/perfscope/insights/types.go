// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package insights runs the second analysis pass: for each navigation
// window of a parsed trace it runs every applicable insight runner and
// orders the results by estimated user impact.
package insights

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
	"github.com/AleutianAI/perfscope/services/perfscope/lantern"
)

// NoNavigation is the id of the insight set covering the time before the
// first navigation, or the whole trace when there are none.
const NoNavigation = "NO_NAVIGATION"

// Insight names.
const (
	NameLCPBreakdown    = "LCPBreakdown"
	NameRenderBlocking  = "RenderBlocking"
	NameDocumentLatency = "DocumentLatency"
	NameCLSCulprits     = "CLSCulprits"
	NameINPBreakdown    = "INPBreakdown"
	NameThirdParties    = "ThirdParties"
	NameLongTasks       = "LongTasks"
)

// MetricSavings estimates how much each metric would improve if the
// insight's advice were followed. Zero means no estimate.
type MetricSavings struct {
	FCPMs float64 `json:"fcpMs,omitempty"`
	LCPMs float64 `json:"lcpMs,omitempty"`
	INPMs float64 `json:"inpMs,omitempty"`
	CLS   float64 `json:"cls,omitempty"`
}

// IsZero reports whether no savings were estimated.
func (m MetricSavings) IsZero() bool {
	return m == MetricSavings{}
}

// Base is embedded by every insight model.
type Base struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Savings     MetricSavings `json:"metricSavings"`

	// Failing is true when the insight found something worth fixing.
	Failing bool `json:"failing"`
}

// InsightBase returns b. It lets Base satisfy Model when embedded.
func (b *Base) InsightBase() *Base {
	return b
}

// Model is the output of one insight runner.
type Model interface {
	InsightBase() *Base
}

// SetContext describes the time window an insight set covers.
type SetContext struct {
	// ID is the navigation id, or NoNavigation.
	ID      string
	URL     string
	FrameID string
	Bounds  handlers.Bounds

	// Navigation is nil for the NoNavigation window.
	Navigation *handlers.Navigation

	// Lantern is nil when no simulation could be built.
	Lantern *lantern.Context

	// closedEnd includes Bounds.Max in the window. Only the last window
	// is closed; earlier ones end where the next navigation starts.
	closedEnd bool
}

// Contains reports whether ts falls inside the window.
func (sc *SetContext) Contains(ts event.Micro) bool {
	if ts < sc.Bounds.Min {
		return false
	}
	if sc.closedEnd {
		return ts <= sc.Bounds.Max
	}
	return ts < sc.Bounds.Max
}

// NavigationID returns the navigation id, or "" for the NoNavigation window.
func (sc *SetContext) NavigationID() string {
	if sc.Navigation == nil {
		return ""
	}
	return sc.Navigation.NavigationID
}

// Runner computes one insight for one window.
//
// Description:
//
//	Runners are stateless and reused across parses. Generate is only called
//	when every name in Deps has a snapshot in the parsed trace.
type Runner interface {
	Name() string
	Deps() []string
	Generate(ctx context.Context, pt *handlers.ParsedTrace, sc *SetContext) (Model, error)
}

// Result is either a Model or the error the runner failed with.
type Result struct {
	Name         string `json:"name"`
	Model        Model  `json:"model,omitempty"`
	Err          error  `json:"-"`
	Error        string `json:"error,omitempty"`
	FrameID      string `json:"frameId"`
	NavigationID string `json:"navigationId,omitempty"`
}

// OK reports whether the runner succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// InsightSet holds the results for one window.
type InsightSet struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	FrameID      string            `json:"frameId"`
	NavigationID string            `json:"navigationId,omitempty"`
	Bounds       handlers.Bounds   `json:"bounds"`
	Results      map[string]Result `json:"results"`

	// Order lists result names by estimated impact, most impactful first.
	Order []string `json:"order"`
}

// Ordered returns the results in Order.
func (s *InsightSet) Ordered() []Result {
	out := make([]Result, 0, len(s.Order))
	for _, name := range s.Order {
		out = append(out, s.Results[name])
	}
	return out
}

// Insights is the ordered collection of insight sets for one trace.
type Insights struct {
	ids  []string
	sets map[string]*InsightSet
}

// NewInsights creates an empty collection.
func NewInsights() *Insights {
	return &Insights{sets: make(map[string]*InsightSet)}
}

func (in *Insights) add(set *InsightSet) {
	if _, ok := in.sets[set.ID]; !ok {
		in.ids = append(in.ids, set.ID)
	}
	in.sets[set.ID] = set
}

// Get returns the set with id.
func (in *Insights) Get(id string) (*InsightSet, bool) {
	if in == nil {
		return nil, false
	}
	s, ok := in.sets[id]
	return s, ok
}

// IDs returns set ids in window order.
func (in *Insights) IDs() []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in.ids...)
}

// Sets returns the sets in window order.
func (in *Insights) Sets() []*InsightSet {
	if in == nil {
		return nil
	}
	out := make([]*InsightSet, 0, len(in.ids))
	for _, id := range in.ids {
		out = append(out, in.sets[id])
	}
	return out
}

// Len returns the number of sets.
func (in *Insights) Len() int {
	if in == nil {
		return 0
	}
	return len(in.ids)
}

// MarshalJSON encodes the sets as an array in window order.
func (in *Insights) MarshalJSON() ([]byte, error) {
	return json.Marshal(in.Sets())
}

func ms(v event.Micro) float64 {
	return v.Milli()
}

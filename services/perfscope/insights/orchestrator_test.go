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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/perfscope/services/perfscope/cache"
	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
)

type stubModel struct {
	Base
}

type stubRunner struct {
	name string
	deps []string
	fn   func(sc *SetContext) (Model, error)
}

func (s stubRunner) Name() string   { return s.name }
func (s stubRunner) Deps() []string { return s.deps }
func (s stubRunner) Generate(_ context.Context, _ *handlers.ParsedTrace, sc *SetContext) (Model, error) {
	if s.fn == nil {
		return &stubModel{}, nil
	}
	return s.fn(sc)
}

func nav(id string, ts event.Micro) handlers.Navigation {
	return handlers.Navigation{FrameID: "F", NavigationID: id, Ts: ts, URL: "https://example.com/" + id}
}

func metaTrace(bounds handlers.Bounds, navs ...handlers.Navigation) *handlers.ParsedTrace {
	byID := make(map[string]handlers.Navigation)
	for _, n := range navs {
		byID[n.NavigationID] = n
	}
	pt := handlers.NewParsedTrace()
	pt.Set(handlers.NameMeta, &handlers.MetaData{
		TraceBounds:          bounds,
		MainFrameID:          "F",
		MainFrameURL:         "https://example.com/",
		Navigations:          navs,
		MainFrameNavigations: navs,
		NavigationsByID:      byID,
	})
	return pt
}

func okRunner(name string) stubRunner {
	return stubRunner{name: name, deps: []string{handlers.NameMeta}}
}

func TestCompute_Windowing(t *testing.T) {
	ctx := context.Background()
	o := NewOrchestrator(WithRunners(okRunner("A")))
	bounds := handlers.NewBounds(0, 1_000_000)

	t.Run("significant pre-navigation window", func(t *testing.T) {
		pt := metaTrace(bounds, nav("N1", 100_000), nav("N2", 500_000))
		in, err := o.Compute(ctx, pt, nil)
		require.NoError(t, err)
		require.Equal(t, []string{NoNavigation, "N1", "N2"}, in.IDs())

		pre, _ := in.Get(NoNavigation)
		assert.Equal(t, handlers.NewBounds(0, 100_000), pre.Bounds)
		assert.Empty(t, pre.NavigationID)

		n1, _ := in.Get("N1")
		assert.Equal(t, handlers.NewBounds(100_000, 500_000), n1.Bounds)
		assert.Equal(t, "N1", n1.NavigationID)
		assert.Equal(t, "https://example.com/N1", n1.URL)

		n2, _ := in.Get("N2")
		assert.Equal(t, handlers.NewBounds(500_000, 1_000_000), n2.Bounds)
	})

	t.Run("negligible pre-navigation window", func(t *testing.T) {
		pt := metaTrace(bounds, nav("N1", 30_000), nav("N2", 500_000))
		in, err := o.Compute(ctx, pt, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"N1", "N2"}, in.IDs())
	})

	t.Run("no navigations", func(t *testing.T) {
		pt := metaTrace(bounds)
		in, err := o.Compute(ctx, pt, nil)
		require.NoError(t, err)
		require.Equal(t, 1, in.Len())
		set, ok := in.Get(NoNavigation)
		require.True(t, ok)
		assert.Equal(t, bounds, set.Bounds)
	})

	t.Run("repeated navigation id keeps both windows", func(t *testing.T) {
		pt := metaTrace(bounds, nav("N1", 100_000), nav("N1", 400_000))
		in, err := o.Compute(ctx, pt, nil)
		require.NoError(t, err)
		require.Equal(t, []string{NoNavigation, "N1", "N1 (2)"}, in.IDs())

		first, _ := in.Get("N1")
		assert.Equal(t, handlers.NewBounds(100_000, 400_000), first.Bounds)
		second, _ := in.Get("N1 (2)")
		assert.Equal(t, handlers.NewBounds(400_000, 1_000_000), second.Bounds)
		assert.Equal(t, "N1", second.NavigationID)
	})

	t.Run("navigations without ids do not qualify", func(t *testing.T) {
		bad := nav("", 100_000)
		noFrame := nav("N3", 200_000)
		noFrame.FrameID = ""
		pt := metaTrace(bounds, bad, noFrame)
		in, err := o.Compute(ctx, pt, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{NoNavigation}, in.IDs())
	})

	t.Run("configurable threshold", func(t *testing.T) {
		strict := NewOrchestrator(WithRunners(okRunner("A")), WithSignificanceThreshold(200_000))
		pt := metaTrace(bounds, nav("N1", 100_000))
		in, err := strict.Compute(ctx, pt, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"N1"}, in.IDs())
	})
}

func TestCompute_MissingMeta(t *testing.T) {
	_, err := NewOrchestrator().Compute(context.Background(), handlers.NewParsedTrace(), nil)
	assert.ErrorIs(t, err, ErrMissingMeta)
}

func TestCompute_RunnerIsolation(t *testing.T) {
	boom := errors.New("boom")
	o := NewOrchestrator(WithRunners(
		okRunner("Good"),
		stubRunner{name: "Bad", deps: []string{handlers.NameMeta}, fn: func(*SetContext) (Model, error) { return nil, boom }},
		stubRunner{name: "Panics", deps: []string{handlers.NameMeta}, fn: func(*SetContext) (Model, error) { panic("bug") }},
		stubRunner{name: "Nil", deps: []string{handlers.NameMeta}, fn: func(*SetContext) (Model, error) { return nil, nil }},
		stubRunner{name: "Skipped", deps: []string{handlers.NameMeta, "Unregistered"}},
	))
	pt := metaTrace(handlers.NewBounds(0, 1_000_000), nav("N1", 100_000))

	in, err := o.Compute(context.Background(), pt, nil)
	require.NoError(t, err)
	require.Equal(t, 2, in.Len())

	for _, set := range in.Sets() {
		assert.NotContains(t, set.Results, "Skipped")
		assert.Len(t, set.Order, 4)

		good := set.Results["Good"]
		assert.True(t, good.OK())
		assert.NotNil(t, good.Model)
		assert.Equal(t, "F", good.FrameID)
		assert.Equal(t, set.NavigationID, good.NavigationID)

		bad := set.Results["Bad"]
		assert.ErrorIs(t, bad.Err, boom)
		assert.Equal(t, "boom", bad.Error)
		assert.Nil(t, bad.Model)

		var pe *PanicError
		require.ErrorAs(t, set.Results["Panics"].Err, &pe)
		assert.Equal(t, "Panics", pe.Insight)

		assert.Error(t, set.Results["Nil"].Err)
	}
}

func TestCompute_LanternFailureIsSwallowed(t *testing.T) {
	pt := metaTrace(handlers.NewBounds(1, 3_000_000), nav("N1", 1_000_000))
	pt.Set(handlers.NameNetworkRequests, &handlers.NetworkData{ByID: map[string]int{}, ByOrigin: map[string][]int{}})
	pt.Set(handlers.NamePageLoadMetrics, &handlers.PageLoadData{ByNavigation: map[string]handlers.NavigationMetrics{
		"N1": {NavigationID: "N1", FCP: &handlers.MetricMark{Ts: 1_500_000, Value: 500_000}},
	}})

	var seen *SetContext
	o := NewOrchestrator(WithRunners(
		RenderBlocking{},
		stubRunner{name: "Probe", deps: []string{handlers.NameMeta}, fn: func(sc *SetContext) (Model, error) {
			if sc.Navigation != nil {
				seen = sc
			}
			return &stubModel{}, nil
		}},
	))

	in, err := o.Compute(context.Background(), pt, nil)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Nil(t, seen.Lantern, "no network requests means no simulation")

	set, _ := in.Get("N1")
	rb := set.Results[NameRenderBlocking]
	require.True(t, rb.OK())
	model := rb.Model.(*RenderBlockingModel)
	assert.False(t, model.Simulated)
	assert.Empty(t, model.Requests)
}

func TestCompute_LanternSavings(t *testing.T) {
	pt := fullTrace()
	o := NewOrchestrator(WithRunners(RenderBlocking{}), WithCache(cache.New()))

	in, err := o.Compute(context.Background(), pt, nil)
	require.NoError(t, err)
	set, ok := in.Get(testNavID)
	require.True(t, ok)

	model := set.Results[NameRenderBlocking].Model.(*RenderBlockingModel)
	assert.True(t, model.Simulated)
	require.Len(t, model.Requests, 1)
	assert.Equal(t, "css", model.Requests[0].RequestID)
	assert.Positive(t, model.Requests[0].SavingsMs)
	assert.Positive(t, model.Savings.FCPMs)
}

func TestCompute_DefaultRunnersOnFullTrace(t *testing.T) {
	in, err := NewOrchestrator().Compute(context.Background(), fullTrace(), nil)
	require.NoError(t, err)

	set, ok := in.Get(testNavID)
	require.True(t, ok)
	assert.Len(t, set.Results, len(DefaultRunners()))
	for name, r := range set.Results {
		assert.True(t, r.OK(), "%s: %v", name, r.Err)
	}
	assert.ElementsMatch(t, []string{
		NameLCPBreakdown, NameRenderBlocking, NameDocumentLatency,
		NameCLSCulprits, NameINPBreakdown, NameThirdParties, NameLongTasks,
	}, set.Order)
}

func TestInsights_JSON(t *testing.T) {
	pt := metaTrace(handlers.NewBounds(0, 1_000_000))
	in, err := NewOrchestrator(WithRunners(okRunner("A"))).Compute(context.Background(), pt, nil)
	require.NoError(t, err)

	b, err := in.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"id":"NO_NAVIGATION"`)
	assert.Contains(t, string(b), `"order":["A"]`)
}

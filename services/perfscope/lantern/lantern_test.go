// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lantern

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/perfscope/services/perfscope/cache"
	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
)

const (
	navID   = "NAV-1"
	frameID = "FRAME-1"
	docURL  = "https://example.com/"
)

func req(id, url, origin, initiator string, start, end event.Micro, bytes int64) handlers.Request {
	return handlers.Request{
		ID:                id,
		URL:               url,
		Origin:            origin,
		FrameID:           frameID,
		NavigationID:      navID,
		InitiatorURL:      initiator,
		Start:             start,
		End:               end,
		EncodedDataLength: bytes,
		ResourceType:      "Stylesheet",
		RenderBlocking:    handlers.RenderBlocking,
	}
}

func docRequest() handlers.Request {
	r := req("doc", docURL, "https://example.com", "", 1_000_000, 1_300_000, 0)
	r.ResourceType = "Document"
	r.RenderBlocking = ""
	return r
}

func testSettings() Settings {
	return Settings{RTTMs: 100, ThroughputKbps: 8000, MaxConcurrent: 6, CPUSlowdown: 1}
}

func testTrace(requests []handlers.Request, fcp *handlers.MetricMark) *handlers.ParsedTrace {
	nav := handlers.Navigation{FrameID: frameID, NavigationID: navID, Ts: 1_000_000, URL: docURL}
	pt := handlers.NewParsedTrace()
	pt.Set(handlers.NameMeta, &handlers.MetaData{
		MainFrameID:          frameID,
		Navigations:          []handlers.Navigation{nav},
		MainFrameNavigations: []handlers.Navigation{nav},
		NavigationsByID:      map[string]handlers.Navigation{navID: nav},
	})
	network := &handlers.NetworkData{ByID: map[string]int{}, ByOrigin: map[string][]int{}}
	for i, r := range requests {
		network.Requests = append(network.Requests, r)
		network.ByID[r.ID] = i
	}
	pt.Set(handlers.NameNetworkRequests, network)
	pt.Set(handlers.NamePageLoadMetrics, &handlers.PageLoadData{
		ByNavigation: map[string]handlers.NavigationMetrics{
			navID: {NavigationID: navID, FrameID: frameID, NavigationStart: nav.Ts, FCP: fcp},
		},
	})
	return pt
}

func testNav() handlers.Navigation {
	return handlers.Navigation{FrameID: frameID, NavigationID: navID, Ts: 1_000_000, URL: docURL}
}

func TestBuildGraph(t *testing.T) {
	requests := []handlers.Request{
		req("img", "https://cdn.example/a.png", "https://cdn.example", "https://example.com/app.js", 1_400_000, 1_500_000, 0),
		docRequest(),
		req("js", "https://example.com/app.js", "https://example.com", docURL, 1_310_000, 1_350_000, 0),
		req("orphan", "https://other.example/x", "https://other.example", "https://unknown.example/", 1_320_000, 1_330_000, 0),
	}

	g, err := BuildGraph(requests, "doc")
	require.NoError(t, err)
	require.Equal(t, 4, g.Len())

	root := g.Nodes[g.Root]
	assert.Equal(t, "doc", root.Request.ID)
	assert.Equal(t, -1, root.Parent)

	js, _ := g.Index("js")
	img, _ := g.Index("img")
	orphan, _ := g.Index("orphan")
	assert.Equal(t, js, g.Nodes[img].Parent, "initiator URL picks the parent")
	assert.Equal(t, g.Root, g.Nodes[orphan].Parent, "unknown initiator falls back to the document")
	assert.ElementsMatch(t, []int{js, img, orphan}, g.Descendants(g.Root))
	assert.Equal(t, []int{img}, g.Descendants(js))
}

func TestBuildGraph_Errors(t *testing.T) {
	_, err := BuildGraph(nil, "doc")
	assert.ErrorIs(t, err, ErrNoNetworkRequests)

	_, err = BuildGraph([]handlers.Request{docRequest()}, "missing")
	assert.ErrorIs(t, err, ErrMissingMainDocument)
}

func TestSimulator_ConnectionReuse(t *testing.T) {
	requests := []handlers.Request{
		docRequest(),
		req("same", "https://example.com/a.css", "https://example.com", docURL, 1_310_000, 1_400_000, 0),
		req("other", "https://cdn.example/b.css", "https://cdn.example", docURL, 1_320_000, 1_400_000, 0),
	}
	g, err := BuildGraph(requests, "doc")
	require.NoError(t, err)

	sim := NewSimulator(testSettings()).Simulate(g, nil)
	assert.Equal(t, NodeTiming{Start: 0, End: 300_000}, sim.Timings["doc"], "handshake plus request")
	assert.Equal(t, NodeTiming{Start: 300_000, End: 400_000}, sim.Timings["same"], "warm connection")
	assert.Equal(t, NodeTiming{Start: 300_000, End: 600_000}, sim.Timings["other"], "new origin pays the handshake")
	assert.Equal(t, event.Micro(600_000), sim.Total)
}

func TestSimulator_ConcurrencyLimit(t *testing.T) {
	requests := []handlers.Request{
		docRequest(),
		req("a", "https://example.com/a.css", "https://example.com", docURL, 1_310_000, 1_400_000, 0),
		req("b", "https://example.com/b.css", "https://example.com", docURL, 1_320_000, 1_400_000, 0),
	}
	g, err := BuildGraph(requests, "doc")
	require.NoError(t, err)

	settings := testSettings()
	settings.MaxConcurrent = 1
	sim := NewSimulator(settings).Simulate(g, nil)
	assert.Equal(t, event.Micro(400_000), sim.Timings["a"].End)
	assert.Equal(t, NodeTiming{Start: 400_000, End: 500_000}, sim.Timings["b"], "one slot serializes siblings")
}

func TestSimulator_Defaults(t *testing.T) {
	s := NewSimulator(Settings{})
	assert.Equal(t, DefaultSettings().ThroughputKbps, s.Settings().ThroughputKbps)
	assert.Equal(t, DefaultSettings().MaxConcurrent, s.Settings().MaxConcurrent)
	assert.Equal(t, 1.0, s.Settings().CPUSlowdown)
}

func TestNewContext_DomainErrors(t *testing.T) {
	ctx := context.Background()
	fcp := &handlers.MetricMark{Ts: 1_600_000, Value: 600_000}

	t.Run("old trace", func(t *testing.T) {
		pt := testTrace([]handlers.Request{docRequest()}, fcp)
		meta, _ := handlers.DataOf[*handlers.MetaData](pt, handlers.NameMeta)
		meta.IsOldTrace = true
		_, err := NewContext(ctx, pt, testNav(), testSettings(), nil)
		assert.ErrorIs(t, err, ErrTraceTooOld)
		assert.True(t, IsDomainError(err))
	})

	t.Run("no requests", func(t *testing.T) {
		_, err := NewContext(ctx, testTrace(nil, fcp), testNav(), testSettings(), nil)
		assert.ErrorIs(t, err, ErrNoNetworkRequests)
	})

	t.Run("no document", func(t *testing.T) {
		css := req("css", "https://example.com/a.css", "https://example.com", docURL, 1_310_000, 1_400_000, 0)
		_, err := NewContext(ctx, testTrace([]handlers.Request{css}, fcp), testNav(), testSettings(), nil)
		assert.ErrorIs(t, err, ErrMissingMainDocument)
	})

	t.Run("no fcp", func(t *testing.T) {
		_, err := NewContext(ctx, testTrace([]handlers.Request{docRequest()}, nil), testNav(), testSettings(), nil)
		assert.ErrorIs(t, err, ErrMissingMetric)
		assert.True(t, IsDomainError(err))
	})

	t.Run("missing handler data is unexpected", func(t *testing.T) {
		_, err := NewContext(ctx, handlers.NewParsedTrace(), testNav(), testSettings(), nil)
		require.Error(t, err)
		assert.False(t, IsDomainError(err))
	})
}

func TestContext_NonBlockingRequestsDoNotDelayFCP(t *testing.T) {
	ctx := context.Background()
	img := req("img", "https://example.com/a.png", "https://example.com", docURL, 1_310_000, 1_500_000, 10_000)
	img.RenderBlocking = handlers.RenderNonBlocking
	pt := testTrace([]handlers.Request{docRequest(), img}, &handlers.MetricMark{Ts: 1_600_000, Value: 600_000})

	lc, err := NewContext(ctx, pt, testNav(), testSettings(), nil)
	require.NoError(t, err)
	// Only the document is simulated; 300ms of main-thread time follows it.
	assert.Equal(t, event.Micro(600_000), lc.Simulated.FCP)

	savings, err := lc.EstimateSavings(ctx, []string{"img"})
	require.NoError(t, err)
	assert.Zero(t, savings.FCP)
}

func TestContext_EstimateSavings(t *testing.T) {
	ctx := context.Background()
	requests := []handlers.Request{
		docRequest(),
		req("css", "https://example.com/a.css", "https://example.com", docURL, 1_310_000, 1_500_000, 10_000),
	}
	pt := testTrace(requests, &handlers.MetricMark{Ts: 1_600_000, Value: 600_000})
	c := cache.New()

	lc, err := NewContext(ctx, pt, testNav(), testSettings(), c)
	require.NoError(t, err)
	// doc 300ms, css 110ms, then 100ms of main-thread time before FCP.
	assert.Equal(t, event.Micro(510_000), lc.Simulated.FCP)
	assert.False(t, lc.HasLCP())

	savings, err := lc.EstimateSavings(ctx, []string{"css"})
	require.NoError(t, err)
	assert.Equal(t, event.Micro(110_000), savings.FCP)
	assert.Zero(t, savings.LCP)

	computes := c.Stats().Computes
	again, err := lc.EstimateSavings(ctx, []string{"css"})
	require.NoError(t, err)
	assert.Equal(t, savings, again)
	assert.Equal(t, computes, c.Stats().Computes, "repeat estimate is served from cache")

	none, err := lc.EstimateSavings(ctx, []string{"doc"})
	require.NoError(t, err)
	assert.Zero(t, none.FCP, "the document cannot be removed")

	_, err = lc.EstimateSavings(ctx, []string{"nope"})
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestContext_LCPSavings(t *testing.T) {
	ctx := context.Background()
	requests := []handlers.Request{
		docRequest(),
		req("hero", "https://example.com/hero.jpg", "https://example.com", docURL, 1_310_000, 1_700_000, 100_000),
	}
	requests[1].ResourceType = "Image"
	requests[1].RenderBlocking = handlers.RenderNonBlocking
	pt := testTrace(requests, &handlers.MetricMark{Ts: 1_305_000, Value: 305_000})
	pl, _ := handlers.DataOf[*handlers.PageLoadData](pt, handlers.NamePageLoadMetrics)
	m := pl.ByNavigation[navID]
	m.LCP = &handlers.LCPCandidate{
		MetricMark: handlers.MetricMark{Ts: 1_800_000, Value: 800_000},
		URL:        "https://example.com/hero.jpg",
	}
	pl.ByNavigation[navID] = m

	lc, err := NewContext(ctx, pt, testNav(), testSettings(), nil)
	require.NoError(t, err)
	require.True(t, lc.HasLCP())

	savings, err := lc.EstimateSavings(ctx, []string{"hero"})
	require.NoError(t, err)
	assert.Zero(t, savings.FCP, "hero started after FCP")
	// 100ms round trip plus 100KB at 8000kbps.
	assert.Equal(t, event.Micro(200_000), savings.LCP)
}

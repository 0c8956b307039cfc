// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
	"github.com/AleutianAI/perfscope/services/perfscope/notify"
	"github.com/AleutianAI/perfscope/services/perfscope/processor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testPid   = 10
	testTid   = 1
	testFrame = "FRAME-MAIN"
)

// pageTrace returns n events: a renderer preamble, one navigation to url
// and main-thread tasks.
func pageTrace(n int, url string) []event.Event {
	events := []event.Event{
		{Name: "thread_name", Ph: event.PhaseMetadata, Pid: testPid, Tid: testTid,
			Args: map[string]any{"name": "CrRendererMain"}},
		{Name: "TracingStartedInBrowser", Ph: event.PhaseInstant, Ts: 1_000, Pid: 1, Tid: 1,
			Args: map[string]any{"data": map[string]any{
				"frames": []any{
					map[string]any{"frame": testFrame, "url": url, "processId": float64(testPid)},
				},
			}}},
		{Name: "navigationStart", Cat: "blink.user_timing", Ph: event.PhaseMark, Ts: 20_000,
			Pid: testPid, Tid: testTid,
			Args: map[string]any{
				"frame": testFrame,
				"data": map[string]any{
					"navigationId":       "NAV-1",
					"documentLoaderURL":  url,
					"isLoadingMainFrame": true,
				},
			}},
	}
	for ts := event.Micro(30_000); len(events) < n; ts += 100 {
		events = append(events, event.Event{
			Name: "RunTask", Ph: event.PhaseComplete, Ts: ts, Dur: 50, Pid: testPid, Tid: testTid,
		})
	}
	return events[:n]
}

type recorder struct {
	mu       sync.Mutex
	progress []notify.Progress
	done     []notify.Notification
}

func record(t *testing.T, m *Model) *recorder {
	t.Helper()
	r := &recorder{}
	pid := m.Notifications().Subscribe(notify.KindProgress, func(n notify.Notification) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.progress = append(r.progress, *n.Progress)
	})
	did := m.Notifications().Subscribe(notify.KindDone, func(n notify.Notification) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.done = append(r.done, n)
	})
	t.Cleanup(func() {
		m.Notifications().Unsubscribe(pid)
		m.Notifications().Unsubscribe(did)
	})
	return r
}

func TestModel_ParseLargeTrace(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	rec := record(t, m)

	idx, err := m.Parse(context.Background(), pageTrace(120_000, "https://example.com/"), ParseConfig{IsFreshRecording: true})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 1, m.Size())

	var indices []int
	var complete int
	for _, p := range rec.progress {
		switch p.Phase {
		case notify.PhaseHandleEvents:
			indices = append(indices, p.Index)
			assert.Equal(t, 120_000, p.Total)
		case notify.PhaseComplete:
			complete++
		}
	}
	assert.Equal(t, []int{50_000, 100_000}, indices)
	assert.Equal(t, 1, complete)

	require.Len(t, rec.done, 1)
	assert.Equal(t, 0, rec.done[0].SessionIndex)
	assert.NoError(t, rec.done[0].Err)

	pt := m.ParsedTrace(0)
	require.NotNil(t, pt)
	assert.True(t, pt.HasAll([]string{handlers.NameMeta, handlers.NameTasks}))
	require.NotNil(t, m.Insights(0))
	assert.Equal(t, []string{"NAV-1"}, m.Insights(0).IDs())
	assert.Len(t, m.RawTraceEvents(-1), 120_000)
}

func TestModel_DisplayNames(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	for _, url := range []string{"https://example.com/", "https://example.com/other", "https://shop.test/", ""} {
		_, err := m.Parse(ctx, pageTrace(10, url), ParseConfig{})
		require.NoError(t, err)
	}
	_, err = m.Parse(ctx, []event.Event{{Name: "RunTask", Ph: event.PhaseComplete, Ts: 5, Dur: 1}}, ParseConfig{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://example.com",
		"https://example.com (2)",
		"https://shop.test",
		"Trace 1",
		"Trace 2",
	}, m.Names())

	require.NoError(t, m.DeleteTraceByIndex(1))
	assert.Equal(t, []string{"https://example.com", "https://shop.test", "Trace 1", "Trace 2"}, m.Names())
	assert.Equal(t, 4, m.Size())

	s, ok := m.Session(1)
	require.True(t, ok)
	assert.Equal(t, "https://shop.test", s.Name, "sessions and names stay aligned")

	_, err = m.Parse(ctx, pageTrace(10, "https://example.com/"), ParseConfig{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com (3)", m.Names()[4], "counters survive deletion")

	assert.ErrorIs(t, m.DeleteTraceByIndex(9), ErrSessionNotFound)
	assert.ErrorIs(t, m.DeleteTraceByIndex(-1), ErrSessionNotFound)
}

// failingMeta stands in for Meta and fails during finalize when asked.
type failingMeta struct {
	fail  bool
	count int
}

func (h *failingMeta) Name() string   { return handlers.NameMeta }
func (h *failingMeta) Deps() []string { return nil }
func (h *failingMeta) Reset()         { h.count = 0 }
func (h *failingMeta) Data() any      { return h.count }

func (h *failingMeta) HandleEvent(*event.Event) error {
	h.count++
	return nil
}

func (h *failingMeta) Finalize(context.Context) error {
	if h.fail {
		return errors.New("finalize exploded")
	}
	return nil
}

func TestModel_FailedParseIsNotPublished(t *testing.T) {
	meta := &failingMeta{}
	set, err := handlers.NewSet(meta)
	require.NoError(t, err)
	m, err := New(WithHandlers(set))
	require.NoError(t, err)
	rec := record(t, m)
	ctx := context.Background()

	_, err = m.Parse(ctx, pageTrace(5, ""), ParseConfig{IsCPUProfile: true})
	require.NoError(t, err)
	before, _ := m.Session(0)

	meta.fail = true
	idx, err := m.Parse(ctx, pageTrace(5, ""), ParseConfig{IsCPUProfile: true})
	var he *processor.HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, processor.PhaseFinalize, he.Phase)
	assert.Equal(t, -1, idx)

	assert.Equal(t, 1, m.Size())
	after, _ := m.Session(0)
	assert.Same(t, before, after)

	require.Len(t, rec.done, 2)
	assert.Equal(t, -1, rec.done[1].SessionIndex)
	assert.ErrorIs(t, rec.done[1].Err, err)

	meta.fail = false
	idx, err = m.Parse(ctx, pageTrace(5, ""), ParseConfig{IsCPUProfile: true})
	require.NoError(t, err, "processor is reset after a failure")
	assert.Equal(t, 1, idx)
	assert.Nil(t, m.Insights(idx), "CPU profiles have no insights")
}

// gate blocks the first event until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gate) Name() string   { return "Gate" }
func (g *gate) Deps() []string { return nil }
func (g *gate) Reset()         {}
func (g *gate) Data() any      { return nil }
func (g *gate) HandleEvent(*event.Event) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return nil
}

func TestModel_ConcurrentParseIsRejected(t *testing.T) {
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	set, err := handlers.NewSet(&failingMeta{}, g)
	require.NoError(t, err)
	m, err := New(WithHandlers(set))
	require.NoError(t, err)
	rec := record(t, m)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := m.Parse(ctx, pageTrace(3, ""), ParseConfig{IsCPUProfile: true})
		done <- err
	}()
	<-g.entered

	_, err = m.Parse(ctx, pageTrace(3, ""), ParseConfig{IsCPUProfile: true})
	assert.ErrorIs(t, err, processor.ErrNotIdle)

	close(g.release)
	require.NoError(t, <-done, "the running parse is not disturbed")
	assert.Equal(t, 1, m.Size())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.done, 2)
}

func TestModel_Metadata(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	md := &event.Metadata{Source: "DevTools", CPUThrottling: 4}
	_, err = m.Parse(ctx, pageTrace(10, "https://example.com/"), ParseConfig{Metadata: md})
	require.NoError(t, err)

	md.Source = "changed"
	assert.Equal(t, "DevTools", m.Metadata(0).Source, "input metadata is copied")

	got := m.Metadata(-1)
	got.Source = "also changed"
	assert.Equal(t, "DevTools", m.Metadata(0).Source, "readers get a copy")

	require.NoError(t, m.OverrideMetadata(-1, func(cur *event.Metadata) *event.Metadata {
		cur.FieldMetrics = &event.FieldMetrics{LCPMs: 3000}
		return cur
	}))
	assert.Equal(t, 3000.0, m.Metadata(0).FieldMetrics.LCPMs)
	assert.Equal(t, 4.0, m.Metadata(0).CPUThrottling)

	assert.ErrorIs(t, m.OverrideMetadata(3, func(cur *event.Metadata) *event.Metadata { return cur }), ErrSessionNotFound)
}

func TestModel_OverrideMetadataLeavesPublishedSessionsAlone(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	_, err = m.Parse(context.Background(), pageTrace(10, "https://example.com/"),
		ParseConfig{Metadata: &event.Metadata{Source: "DevTools"}})
	require.NoError(t, err)

	before, ok := m.Session(0)
	require.True(t, ok)

	var wg sync.WaitGroup
	for n := 0; n < 4; n++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				if s, ok := m.Session(0); ok {
					_ = s.Metadata.Source
				}
			}
		}()
		go func() {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				assert.NoError(t, m.OverrideMetadata(0, func(cur *event.Metadata) *event.Metadata {
					cur.Source = "override"
					return cur
				}))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, "DevTools", before.Metadata.Source, "an earlier session value is not mutated")
	after, ok := m.Session(0)
	require.True(t, ok)
	assert.Equal(t, "override", after.Metadata.Source)
	assert.Equal(t, before.ID, after.ID)
	assert.Same(t, before.ParsedTrace, after.ParsedTrace)
}

func TestModel_OutOfRange(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	assert.Equal(t, 0, m.Size())
	assert.Nil(t, m.ParsedTrace(-1))
	assert.Nil(t, m.Insights(0))
	assert.Nil(t, m.RawTraceEvents(2))
	assert.Nil(t, m.Metadata(-1))
}

type memPersister struct {
	saved []*Session
	err   error
}

func (p *memPersister) Save(_ context.Context, s *Session) error {
	if p.err != nil {
		return p.err
	}
	p.saved = append(p.saved, s)
	return nil
}

func TestModel_Persister(t *testing.T) {
	p := &memPersister{}
	m, err := New(WithPersister(p))
	require.NoError(t, err)

	_, err = m.Parse(context.Background(), pageTrace(10, "https://example.com/"), ParseConfig{})
	require.NoError(t, err)
	require.Len(t, p.saved, 1)
	s, _ := m.Session(0)
	assert.Same(t, s, p.saved[0])
	assert.NotEmpty(t, s.ID)

	p.err = errors.New("disk full")
	_, err = m.Parse(context.Background(), pageTrace(10, "https://example.com/"), ParseConfig{})
	assert.NoError(t, err, "persistence failures are logged only")
	assert.Equal(t, 2, m.Size())
}

func TestModel_UserConfig(t *testing.T) {
	m, err := New(WithUserConfig(handlers.UserConfig{LongTaskThresholdMs: 0.01}))
	require.NoError(t, err)

	_, err = m.Parse(context.Background(), pageTrace(10, "https://example.com/"), ParseConfig{})
	require.NoError(t, err)

	tasks, ok := handlers.DataOf[*handlers.TasksData](m.ParsedTrace(0), handlers.NameTasks)
	require.True(t, ok)
	assert.Len(t, tasks.LongTasks, 7, "every 50us task exceeds 10us")
}

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
	"math"
	"sort"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
)

// Bounds is an inclusive time range on the trace clock.
type Bounds struct {
	Min   event.Micro `json:"min"`
	Max   event.Micro `json:"max"`
	Range event.Micro `json:"range"`
}

// NewBounds builds Bounds from min and max.
func NewBounds(min, max event.Micro) Bounds {
	return Bounds{Min: min, Max: max, Range: max - min}
}

// Contains reports whether ts lies within [Min, Max].
func (b Bounds) Contains(ts event.Micro) bool {
	return ts >= b.Min && ts <= b.Max
}

// Navigation is a navigationStart event for a frame.
type Navigation struct {
	FrameID      string      `json:"frameId"`
	NavigationID string      `json:"navigationId"`
	Ts           event.Micro `json:"ts"`
	URL          string      `json:"url"`
	Pid          int64       `json:"pid"`
}

// ThreadRef identifies a thread.
type ThreadRef struct {
	Pid int64 `json:"pid"`
	Tid int64 `json:"tid"`
}

// MetaData is the Meta handler snapshot.
type MetaData struct {
	TraceBounds          Bounds                `json:"traceBounds"`
	BrowserProcessID     int64                 `json:"browserProcessId"`
	MainFrameID          string                `json:"mainFrameId"`
	MainFrameURL         string                `json:"mainFrameUrl"`
	MainProcessID        int64                 `json:"mainProcessId"`
	MainThread           ThreadRef             `json:"mainThread"`
	HasMainThread        bool                  `json:"hasMainThread"`
	RendererMainThreads  map[int64]int64       `json:"rendererMainThreads"`
	Navigations          []Navigation          `json:"navigations"`
	MainFrameNavigations []Navigation          `json:"mainFrameNavigations"`
	NavigationsByID      map[string]Navigation `json:"navigationsById"`
	IsOldTrace           bool                  `json:"isOldTrace"`
}

// NavigationBefore returns the latest main-frame navigation that started at
// or before ts.
func (d *MetaData) NavigationBefore(ts event.Micro) (Navigation, bool) {
	idx := sort.Search(len(d.MainFrameNavigations), func(i int) bool {
		return d.MainFrameNavigations[i].Ts > ts
	})
	if idx == 0 {
		return Navigation{}, false
	}
	return d.MainFrameNavigations[idx-1], true
}

// IsMainThread reports whether pid/tid is the renderer main thread of the
// main frame. With no identified main thread every thread qualifies.
func (d *MetaData) IsMainThread(pid, tid int64) bool {
	if !d.HasMainThread {
		return true
	}
	return d.MainThread.Pid == pid && d.MainThread.Tid == tid
}

func (d *MetaData) clone() *MetaData {
	out := *d
	out.RendererMainThreads = make(map[int64]int64, len(d.RendererMainThreads))
	for k, v := range d.RendererMainThreads {
		out.RendererMainThreads[k] = v
	}
	out.Navigations = append([]Navigation(nil), d.Navigations...)
	out.MainFrameNavigations = append([]Navigation(nil), d.MainFrameNavigations...)
	out.NavigationsByID = make(map[string]Navigation, len(d.NavigationsByID))
	for k, v := range d.NavigationsByID {
		out.NavigationsByID[k] = v
	}
	return &out
}

// Meta derives trace-wide facts every other handler relies on: bounds, the
// main frame and its renderer thread, and navigations.
type Meta struct {
	min, max event.Micro

	browserPid      int64
	mainFrameID     string
	mainFrameURL    string
	mainProcessID   int64
	rendererThreads map[int64]int64
	navigations     []Navigation

	result *MetaData
}

// NewMeta creates the Meta handler.
func NewMeta() *Meta {
	m := &Meta{}
	m.Reset()
	return m
}

func (m *Meta) Name() string   { return NameMeta }
func (m *Meta) Deps() []string { return nil }

// Reset clears all state.
func (m *Meta) Reset() {
	m.min = event.Micro(math.Inf(1))
	m.max = event.Micro(math.Inf(-1))
	m.browserPid = 0
	m.mainFrameID = ""
	m.mainFrameURL = ""
	m.mainProcessID = 0
	m.rendererThreads = make(map[int64]int64)
	m.navigations = nil
	m.result = nil
}

// HandleEvent consumes one event.
func (m *Meta) HandleEvent(ev *event.Event) error {
	if ev.Ts != 0 {
		if ev.Ts < m.min {
			m.min = ev.Ts
		}
		if end := ev.End(); end > m.max {
			m.max = end
		}
	}

	switch ev.Name {
	case "thread_name":
		switch ev.ArgString("name") {
		case "CrRendererMain":
			if _, ok := m.rendererThreads[ev.Pid]; !ok {
				m.rendererThreads[ev.Pid] = ev.Tid
			}
		case "CrBrowserMain":
			m.browserPid = ev.Pid
		}

	case "TracingStartedInBrowser":
		m.browserPid = ev.Pid
		for _, raw := range event.AsSlice(ev.Arg("data", "frames")) {
			frame := event.AsMap(raw)
			if frame == nil || event.AsString(frame["parent"]) != "" {
				continue
			}
			m.mainFrameID = event.AsString(frame["frame"])
			m.mainFrameURL = event.AsString(frame["url"])
			if pid, ok := event.AsFloat(frame["processId"]); ok {
				m.mainProcessID = int64(pid)
			}
		}

	case "TracingStartedInPage":
		if m.mainFrameID == "" {
			m.mainFrameID = ev.ArgString("data", "page")
			m.mainProcessID = ev.Pid
		}

	case "FrameCommittedInBrowser":
		frame := ev.ArgString("data", "frame")
		if ev.ArgString("data", "parent") != "" {
			return nil
		}
		if m.mainFrameID == "" {
			m.mainFrameID = frame
		}
		if frame == m.mainFrameID {
			if url := ev.ArgString("data", "url"); url != "" {
				m.mainFrameURL = url
			}
			if pid, ok := ev.ArgFloat("data", "processId"); ok {
				m.mainProcessID = int64(pid)
			}
		}

	case "navigationStart":
		url := ev.ArgString("data", "documentLoaderURL")
		if url == "" || url == "about:blank" || !ev.ArgBool("data", "isLoadingMainFrame") {
			return nil
		}
		m.navigations = append(m.navigations, Navigation{
			FrameID:      ev.ArgString("frame"),
			NavigationID: ev.ArgString("data", "navigationId"),
			Ts:           ev.Ts,
			URL:          url,
			Pid:          ev.Pid,
		})
	}
	return nil
}

// Finalize resolves the main thread and main-frame navigations.
func (m *Meta) Finalize(_ context.Context) error {
	d := &MetaData{
		BrowserProcessID:    m.browserPid,
		MainFrameID:         m.mainFrameID,
		MainFrameURL:        m.mainFrameURL,
		MainProcessID:       m.mainProcessID,
		RendererMainThreads: m.rendererThreads,
		NavigationsByID:     make(map[string]Navigation),
	}
	if !math.IsInf(float64(m.min), 1) {
		d.TraceBounds = NewBounds(m.min, m.max)
	}

	if tid, ok := m.rendererThreads[m.mainProcessID]; ok {
		d.MainThread = ThreadRef{Pid: m.mainProcessID, Tid: tid}
		d.HasMainThread = true
	} else if len(m.rendererThreads) > 0 {
		pids := make([]int64, 0, len(m.rendererThreads))
		for pid := range m.rendererThreads {
			pids = append(pids, pid)
		}
		sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
		d.MainThread = ThreadRef{Pid: pids[0], Tid: m.rendererThreads[pids[0]]}
		d.HasMainThread = true
	}

	navs := append([]Navigation(nil), m.navigations...)
	sort.SliceStable(navs, func(i, j int) bool { return navs[i].Ts < navs[j].Ts })
	d.Navigations = navs

	withID := 0
	for _, nav := range navs {
		if nav.NavigationID != "" {
			d.NavigationsByID[nav.NavigationID] = nav
		}
		if d.MainFrameID != "" && nav.FrameID != d.MainFrameID {
			continue
		}
		d.MainFrameNavigations = append(d.MainFrameNavigations, nav)
		if nav.NavigationID != "" {
			withID++
		}
	}
	d.IsOldTrace = len(d.MainFrameNavigations) > 0 && withID == 0

	if d.MainFrameURL == "" && len(d.MainFrameNavigations) > 0 {
		d.MainFrameURL = d.MainFrameNavigations[0].URL
	}

	m.result = d
	return nil
}

// Data returns a *MetaData snapshot.
func (m *Meta) Data() any {
	if m.result == nil {
		return (&MetaData{}).clone()
	}
	return m.result.clone()
}

// finalized returns the internal result for same-package dependents. Callers
// must not modify it.
func (m *Meta) finalized() *MetaData {
	if m.result == nil {
		return &MetaData{}
	}
	return m.result
}

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
	"sort"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
)

// Settings are the simulated network and CPU conditions.
type Settings struct {
	// RTTMs is the round trip time to every origin.
	RTTMs float64 `yaml:"rtt_ms" json:"rttMs" validate:"gte=0"`

	// ThroughputKbps is the downlink throughput.
	ThroughputKbps float64 `yaml:"throughput_kbps" json:"throughputKbps" validate:"gt=0"`

	// MaxConcurrent bounds in-flight requests.
	MaxConcurrent int `yaml:"max_concurrent_requests" json:"maxConcurrent" validate:"gte=1"`

	// CPUSlowdown scales main-thread time between the last request and the
	// metric.
	CPUSlowdown float64 `yaml:"cpu_slowdown" json:"cpuSlowdown" validate:"gte=1"`
}

// DefaultSettings approximates a slow 4G mobile connection.
func DefaultSettings() Settings {
	return Settings{
		RTTMs:          150,
		ThroughputKbps: 1638.4,
		MaxConcurrent:  10,
		CPUSlowdown:    1,
	}
}

// NodeTiming is the simulated start and end of one request.
type NodeTiming struct {
	Start event.Micro `json:"start"`
	End   event.Micro `json:"end"`
}

// Simulation is the result of one Simulate call. Times are relative to the
// simulated start of the root request.
type Simulation struct {
	Timings map[string]NodeTiming `json:"timings"`
	Total   event.Micro           `json:"total"`
}

// Simulator replays a Graph under Settings.
type Simulator struct {
	settings Settings
}

// NewSimulator creates a Simulator. Zero fields in settings take their
// default values.
func NewSimulator(settings Settings) *Simulator {
	def := DefaultSettings()
	if settings.ThroughputKbps <= 0 {
		settings.ThroughputKbps = def.ThroughputKbps
	}
	if settings.MaxConcurrent <= 0 {
		settings.MaxConcurrent = def.MaxConcurrent
	}
	if settings.CPUSlowdown < 1 {
		settings.CPUSlowdown = def.CPUSlowdown
	}
	if settings.RTTMs < 0 {
		settings.RTTMs = 0
	}
	return &Simulator{settings: settings}
}

// Settings returns the effective settings.
func (s *Simulator) Settings() Settings {
	return s.settings
}

// Simulate schedules the nodes in include on the simulated network.
//
// Description:
//
//	A node becomes ready when its parent finishes. Ready nodes are started
//	in order of readiness, then original start time, on the earliest free
//	connection slot. The first request to an origin pays a connection
//	handshake of two round trips; every request pays one round trip, the
//	observed server response time, and its transfer size over the
//	throughput.
//
// Inputs:
//
//	g - The graph.
//	include - Node indices to simulate. Nil simulates every node. Nodes
//	whose parent is not included are skipped.
func (s *Simulator) Simulate(g *Graph, include map[int]bool) Simulation {
	sim := Simulation{Timings: make(map[string]NodeTiming)}
	if g == nil || len(g.Nodes) == 0 {
		return sim
	}
	included := func(i int) bool { return include == nil || include[i] }
	if !included(g.Root) {
		return sim
	}

	type ready struct {
		node int
		at   event.Micro
	}
	rtt := event.FromMilli(s.settings.RTTMs)
	slots := make([]event.Micro, s.settings.MaxConcurrent)
	connected := make(map[string]bool)
	queue := []ready{{node: g.Root}}

	for len(queue) > 0 {
		sort.SliceStable(queue, func(i, j int) bool {
			if queue[i].at != queue[j].at {
				return queue[i].at < queue[j].at
			}
			return g.Nodes[queue[i].node].Request.Start < g.Nodes[queue[j].node].Request.Start
		})
		next := queue[0]
		queue = queue[1:]

		slot := 0
		for i := range slots {
			if slots[i] < slots[slot] {
				slot = i
			}
		}
		start := next.at
		if slots[slot] > start {
			start = slots[slot]
		}

		n := &g.Nodes[next.node]
		cost := s.requestCost(n, rtt, connected)
		end := start + cost
		slots[slot] = end
		sim.Timings[n.Request.ID] = NodeTiming{Start: start, End: end}
		if end > sim.Total {
			sim.Total = end
		}

		for _, c := range n.Children {
			if included(c) {
				queue = append(queue, ready{node: c, at: end})
			}
		}
	}
	return sim
}

func (s *Simulator) requestCost(n *Node, rtt event.Micro, connected map[string]bool) event.Micro {
	cost := rtt
	origin := n.Request.Origin
	if !connected[origin] {
		connected[origin] = true
		cost += 2 * rtt
	}
	cost += n.Request.ServerResponseTime()

	size := n.Request.EncodedDataLength
	if size <= 0 {
		size = n.Request.DecodedBodyLength
	}
	if size > 0 {
		// bytes * 8 bits / kbps yields milliseconds.
		cost += event.FromMilli(float64(size) * 8 / s.settings.ThroughputKbps)
	}
	return cost
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package perfscope

import (
	"time"

	"github.com/AleutianAI/perfscope/services/perfscope/insights"
	"github.com/AleutianAI/perfscope/services/perfscope/notify"
)

// TraceSummary describes one parsed session.
type TraceSummary struct {
	// Index is the session's position in the model.
	Index int `json:"index"`

	// ID is the session's stable id, also used by the session store.
	ID string `json:"id"`

	// Name is the display name, derived from the main frame origin.
	Name string `json:"name"`

	ParsedAt   time.Time `json:"parsed_at"`
	EventCount int       `json:"event_count"`

	// InsightSets lists insight set ids in window order.
	InsightSets []string `json:"insight_sets"`
}

// ParseTraceResponse is the response for POST /v1/perfscope/traces.
type ParseTraceResponse struct {
	Trace TraceSummary `json:"trace"`

	// DurationMs is how long decoding and parsing took.
	DurationMs int64 `json:"duration_ms"`
}

// ListTracesResponse is the response for GET /v1/perfscope/traces.
type ListTracesResponse struct {
	Traces []TraceSummary `json:"traces"`
}

// InsightsResponse is the response for GET /v1/perfscope/traces/:index/insights.
type InsightsResponse struct {
	Trace TraceSummary       `json:"trace"`
	Sets  *insights.Insights `json:"sets"`
}

// HealthResponse is the response for GET /v1/perfscope/health.
type HealthResponse struct {
	// Status is always "healthy" while the server runs.
	Status string `json:"status"`

	Version string `json:"version"`

	// TraceCount is the number of sessions held in memory.
	TraceCount int `json:"trace_count"`
}

// ErrorResponse is returned for failed requests.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// ProgressKindSubscribed is the first frame on the progress websocket, sent
// once the connection receives notifications.
const ProgressKindSubscribed = "subscribed"

// ProgressMessage is one frame on GET /v1/perfscope/progress.
type ProgressMessage struct {
	// Kind is "subscribed", "progress" or "done".
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// Progress is set for "progress" frames.
	Progress *notify.Progress `json:"progress,omitempty"`

	// SessionIndex is set for "done" frames: the new session's index, or -1
	// when the parse failed.
	SessionIndex *int `json:"session_index,omitempty"`

	// Error is the parse failure for "done" frames.
	Error string `json:"error,omitempty"`
}

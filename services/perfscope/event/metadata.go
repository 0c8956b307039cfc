// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package event

import "time"

// Metadata describes where a trace came from. It travels with a session and
// can be replaced after parsing with Model.OverrideMetadata.
type Metadata struct {
	// Source is a free-form label such as "DevTools" or a file path.
	Source string `json:"source,omitempty"`

	// StartTime is the wall-clock time the recording began.
	StartTime time.Time `json:"startTime,omitempty"`

	// HostDPR is the device pixel ratio of the recording host.
	HostDPR float64 `json:"hostDPR,omitempty"`

	// CPUThrottling is the CPU slowdown factor applied while recording.
	CPUThrottling float64 `json:"cpuThrottling,omitempty"`

	// NetworkThrottling names the network condition preset.
	NetworkThrottling string `json:"networkThrottling,omitempty"`

	// FieldMetrics are real-user metric values for the page, when known.
	FieldMetrics *FieldMetrics `json:"fieldMetrics,omitempty"`

	// Extra holds metadata keys this package does not model.
	Extra map[string]any `json:"extra,omitempty"`
}

// FieldMetrics holds 75th percentile real-user values. A zero value means
// the metric is unknown.
type FieldMetrics struct {
	LCPMs float64 `json:"lcpMs,omitempty"`
	INPMs float64 `json:"inpMs,omitempty"`
	CLS   float64 `json:"cls,omitempty"`
}

// Clone returns a copy that shares no maps or pointers with m.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	if m.FieldMetrics != nil {
		fm := *m.FieldMetrics
		out.FieldMetrics = &fm
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

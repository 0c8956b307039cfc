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

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// CPUProfileEventName is the synthetic event that carries a decoded CPU
// profile in args.data.cpuProfile.
const CPUProfileEventName = "CpuProfile"

// File is a decoded trace file.
type File struct {
	Events       []Event
	Metadata     Metadata
	IsCPUProfile bool
}

type traceObject struct {
	TraceEvents []Event         `json:"traceEvents"`
	Metadata    json.RawMessage `json:"metadata"`
	Nodes       json.RawMessage `json:"nodes"`
	Samples     json.RawMessage `json:"samples"`
	StartTime   float64         `json:"startTime"`
}

// Decode reads a trace in any of the formats DevTools saves:
//
//   - a bare JSON array of events, possibly missing its closing bracket
//     when the recording was cut short
//   - an object with "traceEvents" and optional "metadata"
//   - a CPU profile object with "nodes" and "samples"
func Decode(r io.Reader) (*File, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrEmptyTrace
	}

	switch raw[0] {
	case '[':
		events, err := decodeArray(raw)
		if err != nil {
			return nil, err
		}
		return &File{Events: events}, nil
	case '{':
		return decodeObject(raw)
	default:
		return nil, fmt.Errorf("%w: unexpected leading byte %q", ErrInvalidTrace, raw[0])
	}
}

func decodeArray(raw []byte) ([]Event, error) {
	var events []Event
	err := json.Unmarshal(raw, &events)
	if err == nil {
		return events, nil
	}
	if raw[len(raw)-1] == ']' {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrace, err)
	}

	// Truncated recordings end with a trailing comma and no bracket.
	fixed := bytes.TrimRight(raw, ", \n\r\t")
	fixed = append(fixed, ']')
	if err2 := json.Unmarshal(fixed, &events); err2 != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrace, err)
	}
	return events, nil
}

func decodeObject(raw []byte) (*File, error) {
	var obj traceObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrace, err)
	}

	if obj.TraceEvents == nil && len(obj.Nodes) > 0 && len(obj.Samples) > 0 {
		var profile map[string]any
		if err := json.Unmarshal(raw, &profile); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTrace, err)
		}
		return &File{
			Events: []Event{{
				Name: CPUProfileEventName,
				Cat:  "disabled-by-default-devtools.timeline",
				Ph:   PhaseInstant,
				Ts:   Micro(obj.StartTime),
				Args: map[string]any{"data": map[string]any{"cpuProfile": profile}},
			}},
			IsCPUProfile: true,
		}, nil
	}

	if obj.TraceEvents == nil {
		return nil, fmt.Errorf("%w: object has no traceEvents", ErrInvalidTrace)
	}

	f := &File{Events: obj.TraceEvents}
	if len(obj.Metadata) > 0 {
		// Metadata is advisory; a malformed block never fails the load.
		_ = json.Unmarshal(obj.Metadata, &f.Metadata)
	}
	return f, nil
}

// LoadFile decodes the trace at path.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	file, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return file, nil
}

// Encode writes events and metadata in the {"traceEvents": ...} form that
// Decode reads back.
func Encode(w io.Writer, events []Event, md *Metadata) error {
	out := struct {
		TraceEvents []Event   `json:"traceEvents"`
		Metadata    *Metadata `json:"metadata,omitempty"`
	}{TraceEvents: events, Metadata: md}
	if out.TraceEvents == nil {
		out.TraceEvents = []Event{}
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	return nil
}

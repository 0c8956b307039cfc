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
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Phase is the single-character trace event phase code ("ph").
type Phase string

const (
	PhaseBegin          Phase = "B"
	PhaseEnd            Phase = "E"
	PhaseComplete       Phase = "X"
	PhaseInstant        Phase = "I"
	PhaseInstantLegacy  Phase = "i"
	PhaseAsyncBegin     Phase = "b"
	PhaseAsyncEnd       Phase = "e"
	PhaseAsyncInstant   Phase = "n"
	PhaseMetadata       Phase = "M"
	PhaseMark           Phase = "R"
	PhaseSample         Phase = "P"
	PhaseObjectSnapshot Phase = "O"
)

// Micro is a timestamp or duration in microseconds, the unit of the trace
// clock.
type Micro float64

// Milli converts to milliseconds.
func (m Micro) Milli() float64 {
	return float64(m) / 1000
}

// FromMilli converts milliseconds to Micro.
func FromMilli(ms float64) Micro {
	return Micro(ms * 1000)
}

// FromSeconds converts seconds to Micro.
func FromSeconds(s float64) Micro {
	return Micro(s * 1_000_000)
}

// ID is a trace event id. Producers emit ids as either JSON strings or
// numbers; both decode to the same string form.
type ID string

// UnmarshalJSON accepts string and numeric ids.
func (id *ID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	s := string(b)
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("%w: id %s", ErrInvalidTrace, s)
	}
	*id = ID(s)
	return nil
}

// Event is one record of a Chrome trace. Events are treated as immutable
// once decoded; handlers receive pointers into the input slice and must not
// modify them.
type Event struct {
	Name string         `json:"name"`
	Cat  string         `json:"cat,omitempty"`
	Ph   Phase          `json:"ph"`
	Ts   Micro          `json:"ts"`
	Dur  Micro          `json:"dur,omitempty"`
	Pid  int64          `json:"pid"`
	Tid  int64          `json:"tid"`
	ID   ID             `json:"id,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// End returns Ts + Dur.
func (e *Event) End() Micro {
	return e.Ts + e.Dur
}

// HasCategory reports whether cat is one of the event's comma separated
// categories.
func (e *Event) HasCategory(cat string) bool {
	for _, c := range e.Categories() {
		if c == cat {
			return true
		}
	}
	return false
}

// Categories splits the category string.
func (e *Event) Categories() []string {
	if e.Cat == "" {
		return nil
	}
	parts := strings.Split(e.Cat, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Data returns args.data, or nil.
func (e *Event) Data() map[string]any {
	m, _ := e.Args["data"].(map[string]any)
	return m
}

// Arg walks args along path and returns the value found, or nil.
func (e *Event) Arg(path ...string) any {
	var cur any = e.Args
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// ArgString returns the string at path. Numbers are formatted.
func (e *Event) ArgString(path ...string) string {
	return AsString(e.Arg(path...))
}

// ArgFloat returns the number at path.
func (e *Event) ArgFloat(path ...string) (float64, bool) {
	return AsFloat(e.Arg(path...))
}

// ArgBool returns the bool at path, false if absent.
func (e *Event) ArgBool(path ...string) bool {
	b, _ := e.Arg(path...).(bool)
	return b
}

// AsString converts a decoded JSON value to a string.
func AsString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

// AsFloat converts a decoded JSON value to a float64.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AsMap converts a decoded JSON value to an object.
func AsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// AsSlice converts a decoded JSON value to an array.
func AsSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

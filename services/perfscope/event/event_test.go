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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_ArgAccessors(t *testing.T) {
	ev := Event{
		Name: "navigationStart",
		Cat:  "blink.user_timing, loading",
		Args: map[string]any{
			"frame": "F1",
			"data": map[string]any{
				"navigationId":       "N1",
				"isLoadingMainFrame": true,
				"size":               float64(42),
			},
		},
	}

	assert.Equal(t, "F1", ev.ArgString("frame"))
	assert.Equal(t, "N1", ev.ArgString("data", "navigationId"))
	assert.True(t, ev.ArgBool("data", "isLoadingMainFrame"))
	assert.False(t, ev.ArgBool("data", "missing"))

	size, ok := ev.ArgFloat("data", "size")
	require.True(t, ok)
	assert.Equal(t, 42.0, size)

	_, ok = ev.ArgFloat("data", "navigationId", "deeper")
	assert.False(t, ok)

	assert.Equal(t, "N1", ev.Data()["navigationId"])
	assert.True(t, ev.HasCategory("loading"))
	assert.False(t, ev.HasCategory("devtools.timeline"))
	assert.Equal(t, []string{"blink.user_timing", "loading"}, ev.Categories())
}

func TestEvent_EndAndUnits(t *testing.T) {
	ev := Event{Ts: 1000, Dur: 500}
	assert.Equal(t, Micro(1500), ev.End())
	assert.Equal(t, 1.5, ev.End().Milli())
	assert.Equal(t, Micro(50_000), FromMilli(50))
	assert.Equal(t, Micro(2_000_000), FromSeconds(2))
}

func TestAsString(t *testing.T) {
	assert.Equal(t, "abc", AsString("abc"))
	assert.Equal(t, "12", AsString(float64(12)))
	assert.Equal(t, "1.5", AsString(1.5))
	assert.Equal(t, "", AsString(nil))
	assert.Equal(t, "", AsString(true))
}

func TestDecode_Array(t *testing.T) {
	in := `[
		{"name":"RunTask","cat":"devtools.timeline","ph":"X","ts":100,"dur":20,"pid":1,"tid":2},
		{"name":"ResourceSendRequest","ph":"I","ts":150,"pid":1,"tid":2,"id":"0x1f"},
		{"name":"EventTiming","ph":"b","ts":160,"pid":1,"tid":2,"id":12}
	]`
	f, err := Decode(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, f.Events, 3)
	assert.False(t, f.IsCPUProfile)

	assert.Equal(t, "RunTask", f.Events[0].Name)
	assert.Equal(t, PhaseComplete, f.Events[0].Ph)
	assert.Equal(t, Micro(20), f.Events[0].Dur)
	assert.Equal(t, ID("0x1f"), f.Events[1].ID)
	assert.Equal(t, ID("12"), f.Events[2].ID)
}

func TestDecode_TruncatedArray(t *testing.T) {
	in := `[{"name":"a","ph":"I","ts":1},{"name":"b","ph":"I","ts":2},
`
	f, err := Decode(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, f.Events, 2)
	assert.Equal(t, "b", f.Events[1].Name)
}

func TestDecode_ObjectWithMetadata(t *testing.T) {
	in := `{
		"traceEvents":[{"name":"a","ph":"I","ts":1}],
		"metadata":{"source":"DevTools","hostDPR":2,"fieldMetrics":{"lcpMs":3100}}
	}`
	f, err := Decode(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, f.Events, 1)
	assert.Equal(t, "DevTools", f.Metadata.Source)
	assert.Equal(t, 2.0, f.Metadata.HostDPR)
	require.NotNil(t, f.Metadata.FieldMetrics)
	assert.Equal(t, 3100.0, f.Metadata.FieldMetrics.LCPMs)
}

func TestDecode_CPUProfile(t *testing.T) {
	in := `{"nodes":[{"id":1}],"samples":[1,1],"startTime":5000,"endTime":9000}`
	f, err := Decode(strings.NewReader(in))
	require.NoError(t, err)
	assert.True(t, f.IsCPUProfile)
	require.Len(t, f.Events, 1)
	assert.Equal(t, CPUProfileEventName, f.Events[0].Name)
	assert.Equal(t, Micro(5000), f.Events[0].Ts)
	assert.NotNil(t, f.Events[0].Arg("data", "cpuProfile"))
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"empty", "   ", ErrEmptyTrace},
		{"scalar", "42", ErrInvalidTrace},
		{"object without events", `{"foo":1}`, ErrInvalidTrace},
		{"broken array", `[{"name":]`, ErrInvalidTrace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.in))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	events := []Event{
		{Name: "a", Ph: PhaseInstant, Ts: 10, Args: map[string]any{"frame": "F"}},
		{Name: "b", Ph: PhaseComplete, Ts: 20, Dur: 5},
	}
	md := &Metadata{Source: "test"}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, events, md))

	f, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, f.Events, 2)
	assert.Equal(t, "F", f.Events[0].ArgString("frame"))
	assert.Equal(t, "test", f.Metadata.Source)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"a","ph":"I","ts":1}]`), 0o600))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Events, 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestMetadata_Clone(t *testing.T) {
	md := &Metadata{
		Source:       "x",
		FieldMetrics: &FieldMetrics{LCPMs: 1},
		Extra:        map[string]any{"k": "v"},
	}
	c := md.Clone()
	c.FieldMetrics.LCPMs = 2
	c.Extra["k"] = "changed"

	assert.Equal(t, 1.0, md.FieldMetrics.LCPMs)
	assert.Equal(t, "v", md.Extra["k"])
	assert.Nil(t, (*Metadata)(nil).Clone())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/perfscope/pkg/ux"
	"github.com/AleutianAI/perfscope/services/perfscope/config"
	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/insights"
)

// writeConfig writes a config that keeps logs and sessions under a temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	for _, k := range []string{config.EnvStoragePath, config.EnvLogLevel, config.EnvServerAddress, config.EnvChunkSize} {
		t.Setenv(k, "")
	}
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "perfscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
storage:
  path: %s
  sync_writes: false
logging:
  level: error
  dir: %s
`, filepath.Join(dir, "sessions"), filepath.Join(dir, "logs"))), 0644))
	return path
}

func writeTrace(t *testing.T, url string) string {
	t.Helper()
	events := []event.Event{
		{Name: "thread_name", Ph: event.PhaseMetadata, Pid: 10, Tid: 1,
			Args: map[string]any{"name": "CrRendererMain"}},
		{Name: "TracingStartedInBrowser", Ph: event.PhaseInstant, Ts: 1_000, Pid: 1, Tid: 1,
			Args: map[string]any{"data": map[string]any{
				"frames": []any{map[string]any{"frame": "F", "url": url, "processId": float64(10)}},
			}}},
	}
	for i := 0; i < 10; i++ {
		events = append(events, event.Event{
			Name: "RunTask", Ph: event.PhaseComplete, Ts: event.Micro(10_000 + i*1_000), Dur: 400, Pid: 10, Tid: 1,
		})
	}
	path := filepath.Join(t.TempDir(), "trace.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, event.Encode(f, events, nil))
	require.NoError(t, f.Close())
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_ParseSaveAndSessions(t *testing.T) {
	cfgPath := writeConfig(t)
	trace := writeTrace(t, "https://example.com/")

	out, err := run(t, "parse", trace, "--save", "--config", cfgPath, "--personality", "machine")
	require.NoError(t, err, out)
	assert.Contains(t, out, "NO_NAVIGATION")
	assert.Contains(t, out, ": LongTasks\t")

	out, err = run(t, "sessions", "list", "--config", cfgPath, "--personality", "machine")
	require.NoError(t, err, out)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	fields := strings.Split(lines[0], "\t")
	require.GreaterOrEqual(t, len(fields), 2)
	id := fields[0]
	assert.Equal(t, "https://example.com", fields[1])

	out, err = run(t, "sessions", "show", id, "--config", cfgPath, "--personality", "machine")
	require.NoError(t, err, out)
	assert.Contains(t, out, ": LongTasks\t")

	out, err = run(t, "sessions", "delete", id, "--config", cfgPath, "--personality", "machine")
	require.NoError(t, err, out)
	assert.Contains(t, out, "OK: Deleted session "+id)

	out, err = run(t, "sessions", "list", "--config", cfgPath, "--personality", "machine")
	require.NoError(t, err)
	assert.Equal(t, "No saved sessions\n", out)
}

func TestCLI_ParseJSON(t *testing.T) {
	cfgPath := writeConfig(t)
	out, err := run(t, "parse", writeTrace(t, ""), "--json", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"name": "Trace 1"`)
	assert.Contains(t, out, `"NO_NAVIGATION"`)
}

func TestCLI_ParseFailureIsReported(t *testing.T) {
	cfgPath := writeConfig(t)
	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("<html>"), 0644))

	out, err := run(t, "parse", bad, writeTrace(t, ""), "--config", cfgPath, "--personality", "machine")
	assert.ErrorContains(t, err, "1 of 2 traces failed to parse")
	assert.Contains(t, out, "ERROR: ")
	assert.Contains(t, out, ": LongTasks\t")
}

func TestSavings(t *testing.T) {
	assert.Empty(t, savings(insights.MetricSavings{}))
	assert.Equal(t, "LCP -340 ms, CLS -0.12", savings(insights.MetricSavings{LCPMs: 340, CLS: 0.12}))
}

func TestPrintReport_StoredMatchesLive(t *testing.T) {
	raw := []byte(`[{"id":"NAV-1","url":"https://example.com/","order":["LongTasks","LCPBreakdown"],
		"results":{
			"LCPBreakdown":{"name":"LCPBreakdown","error":"no LCP event"},
			"LongTasks":{"name":"LongTasks","model":{"title":"Long tasks","failing":true,"metricSavings":{"inpMs":120}}}
		}}]`)
	sets, err := storedSets(raw)
	require.NoError(t, err)

	var out bytes.Buffer
	p := ux.NewPrinter(&out, &out, ux.PersonalityMachine)
	printReport(p, reportHeader{ID: "x", Name: "n", ParsedAt: time.Now()}, sets)
	assert.Equal(t,
		"NAV-1  https://example.com/: LongTasks\tfail\tINP -120 ms\n"+
			"NAV-1  https://example.com/: LCPBreakdown\terror\tno LCP event\n",
		out.String())
}

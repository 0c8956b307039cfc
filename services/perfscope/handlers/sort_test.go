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
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHandler is a Handler with configurable dependencies.
type stubHandler struct {
	name string
	deps []string
}

func (s *stubHandler) Name() string                   { return s.name }
func (s *stubHandler) Deps() []string                 { return s.deps }
func (s *stubHandler) Reset()                         {}
func (s *stubHandler) HandleEvent(*event.Event) error { return nil }
func (s *stubHandler) Data() any                      { return s.name }

func stub(name string, deps ...string) Handler {
	return &stubHandler{name: name, deps: deps}
}

func sortedNames(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func assertTopological(t *testing.T, set *Set, entries []Entry) {
	t.Helper()
	pos := make(map[string]int, len(entries))
	for i, e := range entries {
		pos[e.Name] = i
	}
	require.Len(t, entries, set.Len())
	for _, e := range entries {
		for _, dep := range e.Handler.Deps() {
			depPos, ok := pos[dep]
			if !ok {
				continue
			}
			assert.Less(t, depPos, pos[e.Name], "%s must come after its dependency %s", e.Name, dep)
		}
	}
}

func TestSort_OrdersDependenciesFirst(t *testing.T) {
	set, err := NewSet(
		stub("Insights", "Network", "Meta"),
		stub("Network", "Meta"),
		stub("Meta"),
		stub("Screenshots"),
	)
	require.NoError(t, err)

	entries, err := Sort(set)
	require.NoError(t, err)
	assert.Equal(t, []string{"Meta", "Network", "Insights", "Screenshots"}, sortedNames(entries))
	assertTopological(t, set, entries)
}

func TestSort_IgnoresUnknownDependencies(t *testing.T) {
	set, err := NewSet(stub("A", "Missing"), stub("B", "A"))
	require.NoError(t, err)

	entries, err := Sort(set)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, sortedNames(entries))
}

func TestSort_EmptySet(t *testing.T) {
	set, err := NewSet()
	require.NoError(t, err)

	entries, err := Sort(set)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSort_DetectsCycle(t *testing.T) {
	tests := []struct {
		name     string
		handlers []Handler
		wantPath []string
	}{
		{
			name:     "self loop",
			handlers: []Handler{stub("A", "A")},
			wantPath: []string{"A", "A"},
		},
		{
			name:     "two nodes",
			handlers: []Handler{stub("A", "B"), stub("B", "A")},
			wantPath: []string{"A", "B", "A"},
		},
		{
			name:     "three nodes behind a prefix",
			handlers: []Handler{stub("Root", "A"), stub("A", "B"), stub("B", "C"), stub("C", "A")},
			wantPath: []string{"Root", "A", "B", "C", "A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := NewSet(tt.handlers...)
			require.NoError(t, err)

			_, err = Sort(set)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCycleDetected))

			var cycleErr *CycleError
			require.ErrorAs(t, err, &cycleErr)
			assert.Equal(t, tt.wantPath, cycleErr.Path)
			for _, name := range tt.wantPath {
				assert.Contains(t, err.Error(), name)
			}
		})
	}
}

func TestCycleError_Message(t *testing.T) {
	err := NewCycleError([]string{"A", "B", "A"})
	assert.Equal(t, "dependency cycle in trace event handlers: A->B->A", err.Error())
}

func TestSort_RandomAcyclicGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		n := 2 + rng.Intn(12)
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("H%02d", i)
		}

		// Edges only point from higher to lower index, so the graph is acyclic.
		hs := make([]Handler, n)
		for i := range names {
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					deps = append(deps, names[j])
				}
			}
			hs[i] = stub(names[i], deps...)
		}
		rng.Shuffle(len(hs), func(i, j int) { hs[i], hs[j] = hs[j], hs[i] })

		set, err := NewSet(hs...)
		require.NoError(t, err)
		entries, err := Sort(set)
		require.NoError(t, err)
		assertTopological(t, set, entries)
	}
}

func TestNewSet_Errors(t *testing.T) {
	_, err := NewSet(stub("A"), stub("A"))
	assert.ErrorIs(t, err, ErrDuplicateHandler)

	_, err = NewSet(stub("A"), nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestSet_Accessors(t *testing.T) {
	set, err := NewSet(stub("B"), stub("A"))
	require.NoError(t, err)

	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []string{"B", "A"}, set.Names())

	h, ok := set.Get("A")
	require.True(t, ok)
	assert.Equal(t, "A", h.Name())

	_, ok = set.Get("C")
	assert.False(t, ok)
}

func TestDefault_SortsWithMetaFirst(t *testing.T) {
	set := Default()
	entries, err := Sort(set)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, NameMeta, entries[0].Name)
	assertTopological(t, set, entries)
}

func TestParsedTrace(t *testing.T) {
	pt := NewParsedTrace()
	pt.Set("Meta", &MetaData{MainFrameID: "F"})
	pt.Set("Other", 42)

	assert.True(t, pt.Has("Meta"))
	assert.False(t, pt.Has("Missing"))
	assert.True(t, pt.HasAll([]string{"Meta", "Other"}))
	assert.False(t, pt.HasAll([]string{"Meta", "Missing"}))
	assert.Equal(t, []string{"Meta", "Other"}, pt.Names())

	md, ok := DataOf[*MetaData](pt, "Meta")
	require.True(t, ok)
	assert.Equal(t, "F", md.MainFrameID)

	_, ok = DataOf[*MetaData](pt, "Other")
	assert.False(t, ok, "wrong type must not convert")

	without := pt.Without("Other")
	assert.Equal(t, []string{"Meta"}, without.Names())
	assert.True(t, pt.Has("Other"), "Without must not modify the receiver")

	var nilPT *ParsedTrace
	assert.False(t, nilPT.Has("Meta"))
	assert.Nil(t, nilPT.Names())
}

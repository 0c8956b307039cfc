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

// ParsedTrace maps handler names to the snapshots they produced in one
// parse. It is assembled once by the processor and read-only afterwards.
type ParsedTrace struct {
	names []string
	data  map[string]any
}

// NewParsedTrace creates an empty ParsedTrace.
func NewParsedTrace() *ParsedTrace {
	return &ParsedTrace{data: make(map[string]any)}
}

// Set stores a snapshot. Intended for the processor and tests.
func (p *ParsedTrace) Set(name string, snapshot any) {
	if _, ok := p.data[name]; !ok {
		p.names = append(p.names, name)
	}
	p.data[name] = snapshot
}

// Get returns the snapshot for name.
func (p *ParsedTrace) Get(name string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.data[name]
	return v, ok
}

// Has reports whether name produced a snapshot.
func (p *ParsedTrace) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

// HasAll reports whether every name produced a snapshot.
func (p *ParsedTrace) HasAll(names []string) bool {
	for _, n := range names {
		if !p.Has(n) {
			return false
		}
	}
	return true
}

// Names returns handler names in the order snapshots were stored.
func (p *ParsedTrace) Names() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Without returns a copy of p lacking the named snapshot.
func (p *ParsedTrace) Without(name string) *ParsedTrace {
	out := NewParsedTrace()
	for _, n := range p.names {
		if n != name {
			out.Set(n, p.data[n])
		}
	}
	return out
}

// DataOf returns the snapshot stored under name as T.
func DataOf[T any](p *ParsedTrace, name string) (T, bool) {
	var zero T
	v, ok := p.Get(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

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

import "fmt"

// Set is a registry of handlers keyed by name. Iteration follows
// registration order, which makes Sort deterministic.
type Set struct {
	names  []string
	byName map[string]Handler
}

// NewSet registers handlers in the given order.
//
// Outputs:
//
//	*Set - The registry.
//	error - ErrNilHandler or ErrDuplicateHandler.
func NewSet(hs ...Handler) (*Set, error) {
	s := &Set{byName: make(map[string]Handler, len(hs))}
	for _, h := range hs {
		if h == nil {
			return nil, ErrNilHandler
		}
		name := h.Name()
		if _, ok := s.byName[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHandler, name)
		}
		s.names = append(s.names, name)
		s.byName[name] = h
	}
	return s, nil
}

// Get returns the handler registered under name.
func (s *Set) Get(name string) (Handler, bool) {
	h, ok := s.byName[name]
	return h, ok
}

// Names returns handler names in registration order.
func (s *Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of handlers.
func (s *Set) Len() int {
	return len(s.names)
}

// Default builds the standard handler set with its dependencies wired.
func Default() *Set {
	meta := NewMeta()
	set, err := NewSet(
		meta,
		NewNetworkRequests(meta),
		NewPageLoadMetrics(meta),
		NewLayoutShifts(meta),
		NewUserInteractions(),
		NewTasks(meta),
	)
	if err != nil {
		// Names are constants; a failure here is a programming error.
		panic(err)
	}
	return set
}

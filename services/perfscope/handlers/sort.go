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

// Entry is one position in a dependency-sorted handler sequence.
type Entry struct {
	Name    string
	Handler Handler
}

// Sort orders handlers so that every handler appears after all of its
// registered dependencies.
//
// Description:
//
//	Depth-first visit in registration order. A handler already placed is
//	skipped. Reaching a handler that is still on the visiting stack is a
//	cycle and fails with *CycleError. Dependencies that are not registered
//	in the set are ignored.
//
// Inputs:
//
//	set - The handlers to order. Must not be nil.
//
// Outputs:
//
//	[]Entry - Handlers in dependency order.
//	error - *CycleError if the dependency graph has a cycle.
func Sort(set *Set) ([]Entry, error) {
	sorted := make([]Entry, 0, set.Len())
	placed := make(map[string]bool, set.Len())
	onStack := make(map[string]bool)
	stack := make([]string, 0, set.Len())

	var visit func(name string) error
	visit = func(name string) error {
		if placed[name] {
			return nil
		}
		if onStack[name] {
			path := make([]string, 0, len(stack)+1)
			path = append(path, stack...)
			path = append(path, name)
			return NewCycleError(path)
		}

		h := set.byName[name]
		onStack[name] = true
		stack = append(stack, name)

		for _, dep := range h.Deps() {
			if _, ok := set.byName[dep]; !ok {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		onStack[name] = false
		placed[name] = true
		sorted = append(sorted, Entry{Name: name, Handler: h})
		return nil
	}

	for _, name := range set.names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

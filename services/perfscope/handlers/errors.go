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
	"strings"
)

// Sentinel errors for the handlers package.
var (
	// ErrNilHandler is returned when a nil handler is registered.
	ErrNilHandler = errors.New("handler must not be nil")

	// ErrDuplicateHandler is returned when two handlers share a name.
	ErrDuplicateHandler = errors.New("handler with this name already exists")

	// ErrCycleDetected is matched by every *CycleError.
	ErrCycleDetected = errors.New("dependency cycle in trace event handlers")
)

// CycleError reports the visiting path at the moment a cycle was found. The
// last element repeats an earlier one.
type CycleError struct {
	Path []string
}

// Error returns the cycle rendered as "A->B->A".
func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycleDetected, strings.Join(e.Path, "->"))
}

// Is lets errors.Is match ErrCycleDetected.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// NewCycleError creates a CycleError.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package processor

import (
	"errors"
	"fmt"
)

var (
	// ErrNotIdle is returned by Parse when the processor is not IDLE.
	ErrNotIdle = errors.New("trace processor can't start parsing when not idle")

	// ErrResetWhileParsing is returned by Reset during a parse.
	ErrResetWhileParsing = errors.New("trace processor can't reset while parsing")

	// ErrMissingDependency is returned when a handler depends on a handler
	// that is not registered.
	ErrMissingDependency = errors.New("handler dependency not registered")

	// ErrMissingMeta is returned when the handler set lacks the Meta handler.
	ErrMissingMeta = errors.New("handler set must include the Meta handler")

	// ErrNilHandlerSet is returned by New for a nil set.
	ErrNilHandlerSet = errors.New("handler set must not be nil")
)

// Handler lifecycle phases reported in HandlerError.
const (
	PhaseInitialize  = "initialize"
	PhaseHandleEvent = "handle_event"
	PhaseFinalize    = "finalize"
	PhaseSnapshot    = "snapshot"
)

// HandlerError wraps an error returned by a handler during a parse.
type HandlerError struct {
	Handler string
	Phase   string

	// EventIndex is the index of the failing event for PhaseHandleEvent,
	// otherwise -1.
	EventIndex int

	Err error
}

func (e *HandlerError) Error() string {
	if e.EventIndex >= 0 {
		return fmt.Sprintf("handler %s failed in %s at event %d: %v", e.Handler, e.Phase, e.EventIndex, e.Err)
	}
	return fmt.Sprintf("handler %s failed in %s: %v", e.Handler, e.Phase, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError wraps a panic recovered from a handler or the insights pass.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

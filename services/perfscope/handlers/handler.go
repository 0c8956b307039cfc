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
	"context"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
)

// Names of the built-in handlers. They double as ParsedTrace keys.
const (
	NameMeta             = "Meta"
	NameNetworkRequests  = "NetworkRequests"
	NamePageLoadMetrics  = "PageLoadMetrics"
	NameLayoutShifts     = "LayoutShifts"
	NameUserInteractions = "UserInteractions"
	NameTasks            = "Tasks"
)

// Handler consumes trace events one at a time and exposes a snapshot of
// what it derived.
//
// Description:
//
//	A Handler is a long-lived instance reused across parses. The processor
//	calls Reset before every parse, then HandleEvent for each event in input
//	order, then Data once all handlers have finalized. Handlers that need
//	another handler's output name it in Deps; the processor guarantees the
//	dependency sees every event first and finalizes first.
//
// Thread Safety:
//
//	Handlers are driven from a single goroutine and need no locking.
type Handler interface {
	// Name returns the unique handler name.
	Name() string

	// Deps returns the names of handlers whose output this one reads.
	Deps() []string

	// Reset discards all state from a previous parse.
	Reset()

	// HandleEvent consumes one event. A non-nil error aborts the parse.
	HandleEvent(ev *event.Event) error

	// Data returns a snapshot of the handler's output. The snapshot must not
	// share slices or maps with the handler's internal state, so that
	// Reset and later parses cannot change it.
	Data() any
}

// Initializer is implemented by handlers that need setup before the first
// event.
type Initializer interface {
	Initialize(isFreshSession bool) error
}

// Finalizer is implemented by handlers that post-process after the last
// event.
type Finalizer interface {
	Finalize(ctx context.Context) error
}

// UserConfig carries user-tunable handler settings.
type UserConfig struct {
	// LongTaskThresholdMs is the duration above which a main-thread task is
	// considered long. Zero means the default of 50ms.
	LongTaskThresholdMs float64 `yaml:"long_task_threshold_ms" json:"longTaskThresholdMs"`
}

// UserConfigurable is implemented by handlers that accept UserConfig.
type UserConfigurable interface {
	HandleUserConfig(cfg UserConfig)
}

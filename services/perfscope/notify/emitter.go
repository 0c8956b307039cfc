// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify delivers parse progress and completion notifications to
// listeners.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind names a notification stream.
type Kind string

const (
	// KindProgress is emitted periodically while a parse runs.
	KindProgress Kind = "progress"

	// KindDone is emitted once per parse, after success or failure.
	KindDone Kind = "done"
)

// Phase identifies which part of a parse a progress notification covers.
type Phase string

const (
	// PhaseHandleEvents is reported every chunk of events.
	PhaseHandleEvents Phase = "handle_events"

	// PhaseComplete is reported once, after handlers and insights finish.
	PhaseComplete Phase = "complete"
)

// Progress describes how far a parse has come.
type Progress struct {
	Phase   Phase   `json:"phase"`
	Index   int     `json:"index"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// Notification is delivered to listeners.
type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// Progress is set for KindProgress.
	Progress *Progress `json:"progress,omitempty"`

	// SessionIndex is set for KindDone: the index of the published session,
	// or -1 when the parse failed.
	SessionIndex int `json:"sessionIndex"`

	// Err is set for KindDone when the parse failed.
	Err error `json:"-"`
}

// Listener receives notifications. It runs synchronously on the emitting
// goroutine, so a slow listener delays the parse.
type Listener func(n Notification)

type subscription struct {
	id       string
	kind     Kind
	listener Listener
	removed  atomic.Bool
}

// Emitter is an ordered observer list.
//
// Description:
//
//	Listeners are invoked in subscription order. Emit iterates over a copy of
//	the list, so subscribing or unsubscribing from inside a listener never
//	causes another listener to be skipped or called twice. A listener that
//	is unsubscribed before its turn in the current delivery is not called.
//	A panicking listener is logged and does not affect the others.
//
// Thread Safety:
//
//	Emitter is safe for concurrent use.
type Emitter struct {
	mu     sync.RWMutex
	subs   []*subscription
	logger *slog.Logger
}

// NewEmitter creates an Emitter. A nil logger uses slog.Default().
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{logger: logger}
}

// Subscribe registers listener for kind and returns its id.
func (e *Emitter) Subscribe(kind Kind, listener Listener) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &subscription{
		id:       uuid.NewString(),
		kind:     kind,
		listener: listener,
	}
	e.subs = append(e.subs, sub)
	return sub.id
}

// Unsubscribe removes the listener with id. It reports whether one was
// found.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, sub := range e.subs {
		if sub.id == id {
			sub.removed.Store(true)
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of active subscriptions.
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Emit delivers n to every listener subscribed to n.Kind.
func (e *Emitter) Emit(n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	e.mu.RLock()
	subs := make([]*subscription, len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, sub := range subs {
		if sub.kind != n.Kind || sub.removed.Load() {
			continue
		}
		e.safeInvoke(sub, n)
	}
}

// EmitProgress is shorthand for a KindProgress notification.
func (e *Emitter) EmitProgress(p Progress) {
	e.Emit(Notification{Kind: KindProgress, Progress: &p})
}

// EmitDone is shorthand for a KindDone notification.
func (e *Emitter) EmitDone(sessionIndex int, err error) {
	e.Emit(Notification{Kind: KindDone, SessionIndex: sessionIndex, Err: err})
}

func (e *Emitter) safeInvoke(sub *subscription, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("notification listener panicked",
				"kind", n.Kind,
				"subscription_id", sub.id,
				"panic", r,
			)
		}
	}()
	sub.listener(n)
}

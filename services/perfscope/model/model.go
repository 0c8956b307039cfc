// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model is the top-level facade: it parses traces into sessions and
// keeps them addressable by index.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/perfscope/services/perfscope/cache"
	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
	"github.com/AleutianAI/perfscope/services/perfscope/insights"
	"github.com/AleutianAI/perfscope/services/perfscope/notify"
	"github.com/AleutianAI/perfscope/services/perfscope/processor"
)

// ErrSessionNotFound is returned for an index with no session.
var ErrSessionNotFound = errors.New("session not found")

// ParseConfig describes the trace passed to Parse.
type ParseConfig struct {
	// IsFreshRecording is true when the trace was just recorded rather than
	// loaded from a file.
	IsFreshRecording bool `json:"isFreshRecording"`

	// IsCPUProfile marks a CPU-only profile. Insights are skipped.
	IsCPUProfile bool `json:"isCpuProfile"`

	// Metadata travels with the session. May be nil.
	Metadata *event.Metadata `json:"metadata,omitempty"`
}

// Session is one successfully parsed trace. A published Session is never
// modified; OverrideMetadata publishes a copy in its place.
type Session struct {
	ID          string
	Name        string
	ParsedAt    time.Time
	RawEvents   []event.Event
	Metadata    *event.Metadata
	ParsedTrace *handlers.ParsedTrace

	// Insights is nil for CPU profiles.
	Insights *insights.Insights
}

// Persister receives every published session.
type Persister interface {
	Save(ctx context.Context, s *Session) error
}

// Options configures a Model.
type Options struct {
	Handlers     *handlers.Set
	Logger       *slog.Logger
	Cache        *cache.Cache
	Orchestrator *insights.Orchestrator
	ChunkSize    int
	UserConfig   *handlers.UserConfig
	Persister    Persister
}

// Option mutates Options.
type Option func(*Options)

// WithHandlers replaces the default handler set.
func WithHandlers(set *handlers.Set) Option {
	return func(o *Options) { o.Handlers = set }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithCache sets the computed-artifact cache.
func WithCache(c *cache.Cache) Option {
	return func(o *Options) { o.Cache = c }
}

// WithOrchestrator sets the insight orchestrator.
func WithOrchestrator(orch *insights.Orchestrator) Option {
	return func(o *Options) { o.Orchestrator = orch }
}

// WithChunkSize sets how many events are handled between progress
// notifications.
func WithChunkSize(n int) Option {
	return func(o *Options) { o.ChunkSize = n }
}

// WithUserConfig applies handler user configuration.
func WithUserConfig(cfg handlers.UserConfig) Option {
	return func(o *Options) { o.UserConfig = &cfg }
}

// WithPersister saves every published session. Save failures are logged
// and do not fail the parse.
func WithPersister(p Persister) Option {
	return func(o *Options) { o.Persister = p }
}

// Model owns the parsed sessions.
//
// Description:
//
//	Parse drives the processor and appends a Session only when handlers and
//	insights both succeed. Listeners subscribed through Notifications
//	receive progress while a parse runs and exactly one done notification
//	per Parse call, including failed ones.
//
// Thread Safety:
//
//	Readers are safe for concurrent use with each other and with Parse.
//	Parse calls are serialized by the processor: a second concurrent Parse
//	fails with processor.ErrNotIdle.
type Model struct {
	mu       sync.RWMutex
	sessions []*Session
	names    []string

	originCounts map[string]int
	traceCounter int

	proc      *processor.Processor
	emitter   *notify.Emitter
	logger    *slog.Logger
	persister Persister
}

// New creates a Model.
//
// Outputs:
//
//	*Model - The model, with no sessions.
//	error - Handler set validation errors from processor.New.
func New(opts ...Option) (*Model, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Handlers == nil {
		o.Handlers = handlers.Default()
	}

	m := &Model{
		originCounts: make(map[string]int),
		emitter:      notify.NewEmitter(o.Logger),
		logger:       o.Logger,
		persister:    o.Persister,
	}

	procOpts := []processor.Option{
		processor.WithLogger(o.Logger),
		processor.WithProgress(m.emitter.EmitProgress),
	}
	if o.ChunkSize > 0 {
		procOpts = append(procOpts, processor.WithChunkSize(o.ChunkSize))
	}
	if o.Cache != nil {
		procOpts = append(procOpts, processor.WithCache(o.Cache))
	}
	if o.Orchestrator != nil {
		procOpts = append(procOpts, processor.WithOrchestrator(o.Orchestrator))
	}

	proc, err := processor.New(o.Handlers, procOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}
	if o.UserConfig != nil {
		proc.SetUserConfig(*o.UserConfig)
	}
	m.proc = proc
	return m, nil
}

// Notifications returns the emitter listeners subscribe to.
func (m *Model) Notifications() *notify.Emitter {
	return m.emitter
}

// Parse parses events into a new session.
//
// Inputs:
//
//	ctx - For tracing, logging and persistence.
//	events - The trace events. Retained by the session; callers must not
//	modify them afterwards.
//	cfg - Parse configuration.
//
// Outputs:
//
//	int - Index of the new session, or -1 on failure.
//	error - The processor or insights error. The session list is unchanged.
func (m *Model) Parse(ctx context.Context, events []event.Event, cfg ParseConfig) (index int, err error) {
	index = -1
	defer func() {
		m.emitter.EmitDone(index, err)
	}()

	err = m.proc.Parse(ctx, events, processor.ParseOptions{
		IsFreshRecording: cfg.IsFreshRecording,
		IsCPUProfile:     cfg.IsCPUProfile,
		Metadata:         cfg.Metadata,
	})
	if errors.Is(err, processor.ErrNotIdle) {
		return index, err
	}
	// The processor only holds the last parse; the session keeps its own
	// references, so it is reset as soon as they are taken.
	defer func() {
		if rerr := m.proc.Reset(); rerr != nil {
			m.logger.Warn("failed to reset processor", slog.String("error", rerr.Error()))
		}
	}()
	if err != nil {
		return index, err
	}

	s := &Session{
		ID:          uuid.NewString(),
		ParsedAt:    time.Now().UTC(),
		RawEvents:   events,
		Metadata:    cfg.Metadata.Clone(),
		ParsedTrace: m.proc.ParsedTrace(),
		Insights:    m.proc.Insights(),
	}

	m.mu.Lock()
	s.Name = m.nextName(s.ParsedTrace)
	m.sessions = append(m.sessions, s)
	m.names = append(m.names, s.Name)
	index = len(m.sessions) - 1
	m.mu.Unlock()

	m.logger.Info("trace session published",
		slog.Int("index", index),
		slog.String("session_id", s.ID),
		slog.String("name", s.Name),
		slog.Int("events", len(events)),
	)

	if m.persister != nil {
		if perr := m.persister.Save(ctx, s); perr != nil {
			m.logger.Error("failed to persist session",
				slog.String("session_id", s.ID),
				slog.String("error", perr.Error()),
			)
		}
	}
	return index, nil
}

// nextName derives the display name. Callers hold mu.
func (m *Model) nextName(pt *handlers.ParsedTrace) string {
	var origin string
	if meta, ok := handlers.DataOf[*handlers.MetaData](pt, handlers.NameMeta); ok {
		origin = handlers.OriginOf(meta.MainFrameURL)
	}
	if origin == "" {
		m.traceCounter++
		return fmt.Sprintf("Trace %d", m.traceCounter)
	}
	m.originCounts[origin]++
	if n := m.originCounts[origin]; n > 1 {
		return fmt.Sprintf("%s (%d)", origin, n)
	}
	return origin
}

// resolve maps a possibly negative index to a slice index. Callers hold mu.
func (m *Model) resolve(i int) (int, bool) {
	if i < 0 {
		i = len(m.sessions) - 1
	}
	if i < 0 || i >= len(m.sessions) {
		return 0, false
	}
	return i, true
}

// Session returns session i. A negative index selects the latest session.
func (m *Model) Session(i int) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.resolve(i)
	if !ok {
		return nil, false
	}
	return m.sessions[idx], true
}

// ParsedTrace returns the handler output of session i, or nil.
func (m *Model) ParsedTrace(i int) *handlers.ParsedTrace {
	if s, ok := m.Session(i); ok {
		return s.ParsedTrace
	}
	return nil
}

// Insights returns the insights of session i, or nil.
func (m *Model) Insights(i int) *insights.Insights {
	if s, ok := m.Session(i); ok {
		return s.Insights
	}
	return nil
}

// RawTraceEvents returns the events of session i, or nil. The slice is
// shared and must not be modified.
func (m *Model) RawTraceEvents(i int) []event.Event {
	if s, ok := m.Session(i); ok {
		return s.RawEvents
	}
	return nil
}

// Metadata returns a copy of the metadata of session i, or nil.
func (m *Model) Metadata(i int) *event.Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.resolve(i)
	if !ok {
		return nil
	}
	return m.sessions[idx].Metadata.Clone()
}

// OverrideMetadata replaces the metadata of session i with the result of
// fn, which receives a copy of the current metadata (possibly nil). Sessions
// returned by earlier Session calls keep the old metadata.
func (m *Model) OverrideMetadata(i int, fn func(md *event.Metadata) *event.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.resolve(i)
	if !ok {
		return fmt.Errorf("%w: index %d", ErrSessionNotFound, i)
	}
	next := *m.sessions[idx]
	next.Metadata = fn(next.Metadata.Clone())
	m.sessions[idx] = &next
	return nil
}

// Size returns the number of sessions.
func (m *Model) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Names returns the display names in session order.
func (m *Model) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.names...)
}

// DeleteTraceByIndex removes session i and its display name.
func (m *Model) DeleteTraceByIndex(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.sessions) {
		return fmt.Errorf("%w: index %d", ErrSessionNotFound, i)
	}
	m.sessions = append(m.sessions[:i:i], m.sessions[i+1:]...)
	m.names = append(m.names[:i:i], m.names[i+1:]...)
	return nil
}

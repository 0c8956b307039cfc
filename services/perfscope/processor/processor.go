// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package processor runs a handler set over a trace and then computes
// insights over the handlers' output.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/perfscope/services/perfscope/cache"
	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
	"github.com/AleutianAI/perfscope/services/perfscope/insights"
	"github.com/AleutianAI/perfscope/services/perfscope/notify"
)

// DefaultChunkSize is how many events are handled between progress
// notifications.
const DefaultChunkSize = 50_000

// State is the processor lifecycle state.
type State int

const (
	StateIdle State = iota
	StateParsing
	StateFinishedParsing
	StateErroredWhileParsing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateParsing:
		return "PARSING"
	case StateFinishedParsing:
		return "FINISHED_PARSING"
	case StateErroredWhileParsing:
		return "ERRORED_WHILE_PARSING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseOptions describes the trace being parsed.
type ParseOptions struct {
	// IsFreshRecording is passed to handlers' Initialize.
	IsFreshRecording bool

	// IsCPUProfile skips insights.
	IsCPUProfile bool

	// Metadata informs insight sorting. May be nil.
	Metadata *event.Metadata
}

// ProgressFunc receives progress while a parse runs. It is called on the
// parsing goroutine.
type ProgressFunc func(p notify.Progress)

// Options configures a Processor.
type Options struct {
	ChunkSize    int
	Logger       *slog.Logger
	Orchestrator *insights.Orchestrator
	Cache        *cache.Cache
	Progress     ProgressFunc
}

// Option mutates Options.
type Option func(*Options)

// WithChunkSize sets the number of events between progress notifications.
// Values below 1 keep the default.
func WithChunkSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.ChunkSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithOrchestrator sets the insight orchestrator. Without one, a default
// orchestrator sharing the processor's cache is created.
func WithOrchestrator(orch *insights.Orchestrator) Option {
	return func(o *Options) { o.Orchestrator = orch }
}

// WithCache sets the computed-artifact cache. It is reset at the start of
// every parse.
func WithCache(c *cache.Cache) Option {
	return func(o *Options) { o.Cache = c }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Options) { o.Progress = fn }
}

// Processor drives one parse at a time through a handler set.
//
// Description:
//
//	Parse resets every handler, initializes them in dependency order, feeds
//	each event to every handler in that order, finalizes them and builds a
//	ParsedTrace from their snapshots. Insights are then computed over the
//	ParsedTrace. Any handler error aborts the parse and no ParsedTrace is
//	published.
//
// Thread Safety:
//
//	Safe for concurrent use. A Parse started while another is running
//	fails with ErrNotIdle.
type Processor struct {
	mu          sync.Mutex
	state       State
	parsedTrace *handlers.ParsedTrace
	insights    *insights.Insights

	set       *handlers.Set
	sorted    []handlers.Entry
	chunkSize int
	logger    *slog.Logger
	orch      *insights.Orchestrator
	cache     *cache.Cache
	progress  ProgressFunc
	metrics   parseMetrics
}

// New creates a Processor for set.
//
// Inputs:
//
//	set - The handlers. Must include the Meta handler and every declared
//	dependency.
//	opts - Options.
//
// Outputs:
//
//	*Processor - The processor, IDLE.
//	error - ErrNilHandlerSet, ErrMissingMeta, ErrMissingDependency or a
//	*handlers.CycleError.
func New(set *handlers.Set, opts ...Option) (*Processor, error) {
	if set == nil {
		return nil, ErrNilHandlerSet
	}
	if _, ok := set.Get(handlers.NameMeta); !ok {
		return nil, ErrMissingMeta
	}
	for _, name := range set.Names() {
		h, _ := set.Get(name)
		for _, dep := range h.Deps() {
			if _, ok := set.Get(dep); !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrMissingDependency, name, dep)
			}
		}
	}
	sorted, err := handlers.Sort(set)
	if err != nil {
		return nil, err
	}

	o := Options{ChunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Cache == nil {
		o.Cache = cache.New()
	}
	if o.Orchestrator == nil {
		o.Orchestrator = insights.NewOrchestrator(
			insights.WithLogger(o.Logger),
			insights.WithCache(o.Cache),
		)
	}

	p := &Processor{
		set:       set,
		sorted:    sorted,
		chunkSize: o.ChunkSize,
		logger:    o.Logger,
		orch:      o.Orchestrator,
		cache:     o.Cache,
		progress:  o.Progress,
	}
	p.metrics.init(p.logger)
	return p, nil
}

// State returns the current state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Handlers returns the handler names in execution order.
func (p *Processor) Handlers() []string {
	out := make([]string, len(p.sorted))
	for i, e := range p.sorted {
		out[i] = e.Name
	}
	return out
}

// ParsedTrace returns the handler output of the last parse, or nil unless
// the processor is FINISHED_PARSING.
func (p *Processor) ParsedTrace() *handlers.ParsedTrace {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateFinishedParsing {
		return nil
	}
	return p.parsedTrace
}

// Insights returns the insights of the last parse, or nil unless the
// processor is FINISHED_PARSING. Nil for CPU profiles.
func (p *Processor) Insights() *insights.Insights {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateFinishedParsing {
		return nil
	}
	return p.insights
}

// SetUserConfig forwards cfg to every handler that accepts user
// configuration. It takes effect from the next parse.
func (p *Processor) SetUserConfig(cfg handlers.UserConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.sorted {
		if uc, ok := e.Handler.(handlers.UserConfigurable); ok {
			uc.HandleUserConfig(cfg)
		}
	}
}

// Reset discards the last parse's output and returns to IDLE.
//
// Outputs:
//
//	error - ErrResetWhileParsing during a parse.
func (p *Processor) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateParsing {
		return ErrResetWhileParsing
	}
	for _, e := range p.sorted {
		e.Handler.Reset()
	}
	p.parsedTrace = nil
	p.insights = nil
	p.state = StateIdle
	return nil
}

// Parse processes events.
//
// Description:
//
//	Runs on the caller's goroutine, yielding every chunk of events and
//	between handler finalizations. ctx carries tracing only; a parse is
//	not cancellable once started.
//
// Inputs:
//
//	ctx - For tracing and logging.
//	events - The trace events, in input order. Not modified.
//	po - Parse options.
//
// Outputs:
//
//	error - ErrNotIdle, or a *HandlerError or insights error that left the
//	processor ERRORED_WHILE_PARSING.
func (p *Processor) Parse(ctx context.Context, events []event.Event, po ParseOptions) error {
	p.mu.Lock()
	if p.state != StateIdle {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrNotIdle, state)
	}
	p.state = StateParsing
	p.mu.Unlock()

	ctx, span := tracer.Start(ctx, "processor.Parse",
		trace.WithAttributes(
			attribute.Int("events", len(events)),
			attribute.Int("handlers", len(p.sorted)),
			attribute.Bool("cpu_profile", po.IsCPUProfile),
		),
	)
	defer span.End()

	start := time.Now()
	pt, ins, err := p.run(ctx, events, po)
	p.metrics.recordParse(ctx, len(events), time.Since(start), err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.state = StateErroredWhileParsing
		p.logger.Error("trace parse failed",
			slog.Int("events", len(events)),
			slog.String("error", err.Error()),
		)
		return err
	}
	p.parsedTrace = pt
	p.insights = ins
	p.state = StateFinishedParsing
	p.logger.Debug("trace parsed",
		slog.Int("events", len(events)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// position tracks where a parse is so a recovered panic can be attributed.
type position struct {
	handler string
	phase   string
	index   int
}

func (p *Processor) run(ctx context.Context, events []event.Event, po ParseOptions) (pt *handlers.ParsedTrace, ins *insights.Insights, err error) {
	at := &position{index: -1}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		pt, ins = nil, nil
		perr := &PanicError{Value: r, Stack: debug.Stack()}
		if at.handler == "" {
			err = fmt.Errorf("computing insights: %w", perr)
			return
		}
		err = &HandlerError{Handler: at.handler, Phase: at.phase, EventIndex: at.index, Err: perr}
	}()

	p.cache.Reset()

	at.phase = PhaseInitialize
	for _, e := range p.sorted {
		at.handler = e.Name
		e.Handler.Reset()
	}
	for _, e := range p.sorted {
		init, ok := e.Handler.(handlers.Initializer)
		if !ok {
			continue
		}
		at.handler = e.Name
		if err := init.Initialize(po.IsFreshRecording); err != nil {
			return nil, nil, &HandlerError{Handler: e.Name, Phase: PhaseInitialize, EventIndex: -1, Err: err}
		}
	}

	if err := p.handleEvents(events, at); err != nil {
		return nil, nil, err
	}
	at.index = -1
	if err := p.finalize(ctx, at); err != nil {
		return nil, nil, err
	}

	at.phase = PhaseSnapshot
	pt = handlers.NewParsedTrace()
	for _, e := range p.sorted {
		at.handler = e.Name
		pt.Set(e.Name, e.Handler.Data())
	}
	at.handler = ""

	if !po.IsCPUProfile {
		ins, err = p.orch.Compute(ctx, pt, po.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("computing insights: %w", err)
		}
	}

	p.emit(notify.Progress{Phase: notify.PhaseComplete, Index: len(events), Total: len(events), Percent: 1})
	return pt, ins, nil
}

func (p *Processor) handleEvents(events []event.Event, at *position) error {
	total := len(events)
	at.phase = PhaseHandleEvent
	for i := range events {
		at.index = i
		if i%p.chunkSize == 0 && i > 0 {
			p.emit(notify.Progress{
				Phase:   notify.PhaseHandleEvents,
				Index:   i,
				Total:   total,
				Percent: float64(i) / float64(total),
			})
			runtime.Gosched()
		}
		ev := &events[i]
		for _, e := range p.sorted {
			at.handler = e.Name
			if err := e.Handler.HandleEvent(ev); err != nil {
				return &HandlerError{Handler: e.Name, Phase: PhaseHandleEvent, EventIndex: i, Err: err}
			}
		}
	}
	return nil
}

func (p *Processor) finalize(ctx context.Context, at *position) error {
	at.phase = PhaseFinalize
	for _, e := range p.sorted {
		fin, ok := e.Handler.(handlers.Finalizer)
		if !ok {
			continue
		}
		at.handler = e.Name
		hctx, span := tracer.Start(ctx, "processor.Finalize",
			trace.WithAttributes(attribute.String("handler", e.Name)),
		)
		start := time.Now()
		err := fin.Finalize(hctx)
		p.metrics.recordFinalize(hctx, e.Name, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return &HandlerError{Handler: e.Name, Phase: PhaseFinalize, EventIndex: -1, Err: err}
		}
		span.End()
		runtime.Gosched()
	}
	return nil
}

func (p *Processor) emit(pr notify.Progress) {
	if p.progress != nil {
		p.progress(pr)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package watch parses trace files as they appear in a directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must go without writes before it is
// handed off. Browsers write large traces in many chunks.
const DefaultDebounce = 500 * time.Millisecond

// DefaultPattern matches the files handed off.
const DefaultPattern = "*.json"

// ErrNotDirectory is returned by New when dir is not a directory.
var ErrNotDirectory = errors.New("watch target is not a directory")

// Handler receives the path of a settled trace file.
type Handler func(ctx context.Context, path string)

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period after the last write. Default: 500ms.
	Debounce time.Duration

	// Pattern is a filepath.Match pattern applied to base names.
	// Default: "*.json".
	Pattern string

	Logger *slog.Logger
}

// Option configures a Watcher.
type Option func(*Options)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(o *Options) { o.Debounce = d }
}

// WithPattern sets the file name pattern.
func WithPattern(p string) Option {
	return func(o *Options) { o.Pattern = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Watcher hands newly written trace files in one directory to a Handler.
//
// Description:
//
//	Create and write events are collected per path. Once no event has
//	arrived for the debounce period, every pending path that still exists
//	is passed to the handler in name order. Subdirectories are not watched.
//
// Thread Safety:
//
//	Run must be called once. The handler is called from Run's goroutine,
//	one file at a time.
type Watcher struct {
	dir     string
	fsw     *fsnotify.Watcher
	handler Handler
	opts    Options
	logger  *slog.Logger
}

// New creates a watcher for dir. Call Run to start it.
func New(dir string, handler Handler, opts ...Option) (*Watcher, error) {
	o := Options{Debounce: DefaultDebounce, Pattern: DefaultPattern}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if _, err := filepath.Match(o.Pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", o.Pattern, err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:     dir,
		fsw:     fsw,
		handler: handler,
		opts:    o,
		logger:  o.Logger.With(slog.String("component", "watch"), slog.String("dir", dir)),
	}, nil
}

// Run watches until ctx is cancelled. Pending files are dropped on exit.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	w.logger.Info("watching for traces", slog.String("pattern", w.opts.Pattern))
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(w.opts.Debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			w.flush(ctx, pending)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	ok, _ := filepath.Match(w.opts.Pattern, filepath.Base(ev.Name))
	return ok
}

func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
		delete(pending, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if ctx.Err() != nil {
			return
		}
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		w.logger.Debug("trace settled", slog.String("path", p), slog.Int64("bytes", info.Size()))
		w.handler(ctx, p)
	}
}

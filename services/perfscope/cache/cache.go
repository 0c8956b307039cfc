// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache memoizes derived computations ("computed artifacts") for
// the duration of one parse.
//
// Entries are keyed by a structural hash of the computation name and its
// parameters, so two requests with equal inputs share a result regardless
// of pointer identity. The processor calls Reset at the start of every
// parse; nothing survives from one trace to the next.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxEntries bounds the number of cached results.
const DefaultMaxEntries = 256

// ErrUnhashableParams is returned when params cannot be hashed.
var ErrUnhashableParams = errors.New("cache params are not hashable")

// Key is a structural hash of a computation name and its parameters.
type Key uint64

// KeyOf hashes name and params.
func KeyOf(name string, params any) (Key, error) {
	h, err := hashstructure.Hash(struct {
		Name   string
		Params any
	}{name, params}, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnhashableParams, err)
	}
	return Key(h), nil
}

// ComputeFunc produces the value for a cache miss.
type ComputeFunc func(ctx context.Context) (any, error)

type entry struct {
	key     Key
	name    string
	value   any
	err     error
	builtAt time.Time
	elem    *list.Element
}

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds the cache; least recently used entries are evicted.
	MaxEntries int

	// CacheErrors stores failed computations so the same failing request
	// is not recomputed within one parse.
	CacheErrors bool
}

// Option mutates Options.
type Option func(*Options)

// WithMaxEntries sets the entry bound.
func WithMaxEntries(n int) Option {
	return func(o *Options) { o.MaxEntries = n }
}

// WithCacheErrors toggles error caching.
func WithCacheErrors(enabled bool) Option {
	return func(o *Options) { o.CacheErrors = enabled }
}

// Stats reports cache activity since the last Reset.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Computes  int64 `json:"computes"`
	Errors    int64 `json:"errors"`
}

// Cache is an LRU-bounded memo table with per-key request coalescing.
//
// Thread Safety:
//
//	Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	lru     *list.List
	flight  singleflight.Group
	options Options

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	computes  atomic.Int64
	errors    atomic.Int64
}

// New creates a Cache.
func New(opts ...Option) *Cache {
	options := Options{MaxEntries: DefaultMaxEntries, CacheErrors: true}
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxEntries <= 0 {
		options.MaxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries: make(map[Key]*entry),
		lru:     list.New(),
		options: options,
	}
}

// GetOrCompute returns the cached result for (name, params) or computes it.
//
// Description:
//
//	Concurrent misses for the same key run compute once. With CacheErrors
//	enabled a failed computation is remembered and its error returned on
//	later calls until Reset.
//
// Inputs:
//
//	ctx - Passed to compute and used for metrics.
//	name - Computation name, e.g. "lantern.simulate".
//	params - Hashable inputs that fully determine the result.
//	compute - Called on a miss.
//
// Outputs:
//
//	any - The computed value.
//	error - The computation's error or ErrUnhashableParams.
func (c *Cache) GetOrCompute(ctx context.Context, name string, params any, compute ComputeFunc) (any, error) {
	key, err := KeyOf(name, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if e, ok := c.lookup(key); ok {
		c.hits.Add(1)
		recordCacheHit(ctx, name)
		recordGetLatency(ctx, time.Since(start), true)
		return e.value, e.err
	}
	c.misses.Add(1)
	recordCacheMiss(ctx, name)

	v, err, _ := c.flight.Do(strconv.FormatUint(uint64(key), 16), func() (any, error) {
		if e, ok := c.lookup(key); ok {
			return e.value, e.err
		}
		c.computes.Add(1)
		value, err := compute(ctx)
		if err != nil {
			c.errors.Add(1)
			if !c.options.CacheErrors {
				return nil, err
			}
		}
		c.store(&entry{key: key, name: name, value: value, err: err, builtAt: time.Now()})
		return value, err
	})
	recordGetLatency(ctx, time.Since(start), false)
	return v, err
}

// Compute is a typed wrapper around GetOrCompute.
func Compute[T any](ctx context.Context, c *Cache, name string, params any, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.GetOrCompute(ctx, name, params, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache %s: cached value has type %T", name, v)
	}
	return t, nil
}

func (c *Cache) lookup(key Key) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	return e, true
}

func (c *Cache) store(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[e.key]; ok {
		return
	}
	for len(c.entries) >= c.options.MaxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		victim := oldest.Value.(*entry)
		c.lru.Remove(oldest)
		delete(c.entries, victim.key)
		c.evictions.Add(1)
		recordCacheEviction(context.Background(), victim.name)
	}
	e.elem = c.lru.PushFront(e)
	c.entries[e.key] = e
}

// Reset drops every entry and zeroes the statistics.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Key]*entry)
	c.lru.Init()
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.computes.Store(0)
	c.errors.Store(0)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a copy of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Computes:  c.computes.Load(),
		Errors:    c.errors.Load(),
	}
}

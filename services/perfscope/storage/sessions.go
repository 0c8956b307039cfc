// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists parsed sessions so they survive the process.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
	"github.com/AleutianAI/perfscope/services/perfscope/model"
	pbadger "github.com/AleutianAI/perfscope/services/perfscope/storage/badger"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found in store")

	// ErrInvalidSession is returned by Save for a session without an id.
	ErrInvalidSession = errors.New("session must have an id")
)

const (
	prefixSummary  = "session/summary/"
	prefixEvents   = "session/events/"
	prefixInsights = "session/insights/"
)

// Summary describes a stored session without its payload.
type Summary struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	CreatedAt    time.Time       `json:"createdAt"`
	EventCount   int             `json:"eventCount"`
	MainFrameURL string          `json:"mainFrameUrl,omitempty"`
	InsightSets  []string        `json:"insightSets,omitempty"`
	Metadata     *event.Metadata `json:"metadata,omitempty"`

	// CompressedBytes is the size of the stored event payload.
	CompressedBytes int `json:"compressedBytes"`
}

// Record is a stored session with its payload.
type Record struct {
	Summary

	Events []event.Event `json:"events"`

	// Insights is the JSON form of the session's insights, or nil for CPU
	// profiles.
	Insights json.RawMessage `json:"insights,omitempty"`
}

// SessionStore keeps sessions in BadgerDB. Raw events are stored as
// zstd-compressed JSON; summaries and insights as plain JSON under their
// own keys so listing never decompresses events.
//
// Thread Safety:
//
//	Safe for concurrent use.
type SessionStore struct {
	db     *pbadger.DB
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *slog.Logger
}

// NewSessionStore creates a store over db. The caller keeps ownership of
// db; Close releases only the compressor.
func NewSessionStore(db *pbadger.DB, logger *slog.Logger) (*SessionStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &SessionStore{db: db, enc: enc, dec: dec, logger: logger}, nil
}

// Close releases the compressor.
func (s *SessionStore) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

// Save stores sess. It implements model.Persister.
func (s *SessionStore) Save(ctx context.Context, sess *model.Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidSession
	}

	sum := Summary{
		ID:         sess.ID,
		Name:       sess.Name,
		CreatedAt:  sess.ParsedAt,
		EventCount: len(sess.RawEvents),
		Metadata:   sess.Metadata,
	}
	if meta, ok := handlers.DataOf[*handlers.MetaData](sess.ParsedTrace, handlers.NameMeta); ok {
		sum.MainFrameURL = meta.MainFrameURL
	}
	if sess.Insights != nil {
		sum.InsightSets = sess.Insights.IDs()
	}

	raw, err := json.Marshal(sess.RawEvents)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	compressed := s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))
	sum.CompressedBytes = len(compressed)

	var insightsJSON []byte
	if sess.Insights != nil {
		insightsJSON, err = json.Marshal(sess.Insights)
		if err != nil {
			return fmt.Errorf("encode insights: %w", err)
		}
	}

	summaryJSON, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixSummary+sess.ID), summaryJSON); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixEvents+sess.ID), compressed); err != nil {
			return err
		}
		if insightsJSON != nil {
			return txn.Set([]byte(prefixInsights+sess.ID), insightsJSON)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session %s: %w", sess.ID, err)
	}

	s.logger.Debug("session stored",
		slog.String("session_id", sess.ID),
		slog.Int("events", len(sess.RawEvents)),
		slog.Int("raw_bytes", len(raw)),
		slog.Int("compressed_bytes", len(compressed)),
	)
	return nil
}

// Get loads the session with id.
func (s *SessionStore) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		if err := readSummary(txn, id, &rec.Summary); err != nil {
			return err
		}

		item, err := txn.Get([]byte(prefixEvents + id))
		if err != nil {
			return fmt.Errorf("read events: %w", err)
		}
		err = item.Value(func(val []byte) error {
			raw, err := s.dec.DecodeAll(val, nil)
			if err != nil {
				return fmt.Errorf("decompress events: %w", err)
			}
			return json.Unmarshal(raw, &rec.Events)
		})
		if err != nil {
			return err
		}

		item, err = txn.Get([]byte(prefixInsights + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read insights: %w", err)
		}
		rec.Insights, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns every stored summary, oldest first.
func (s *SessionStore) List(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixSummary)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var sum Summary
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sum)
			})
			if err != nil {
				return fmt.Errorf("decode summary %s: %w", it.Item().Key(), err)
			}
			out = append(out, sum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes the session with id.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixSummary + id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		for _, prefix := range []string{prefixSummary, prefixEvents, prefixInsights} {
			if err := txn.Delete([]byte(prefix + id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func readSummary(txn *badger.Txn, id string, sum *Summary) error {
	item, err := txn.Get([]byte(prefixSummary + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, sum)
	})
}

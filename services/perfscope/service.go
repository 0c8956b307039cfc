// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package perfscope exposes the trace model over HTTP and to the CLI.
package perfscope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/insights"
	"github.com/AleutianAI/perfscope/services/perfscope/model"
)

// ServiceVersion is the perfscope service version.
const ServiceVersion = "0.1.0"

// ErrNilModel is returned by NewService without a model.
var ErrNilModel = errors.New("model must not be nil")

// Service loads traces into a model.
//
// Thread Safety: Safe for concurrent use. Parses are serialized by the
// model; a second parse while one is running fails with
// processor.ErrNotIdle.
type Service struct {
	model  *model.Model
	logger *slog.Logger
}

// NewService wraps m. A nil logger uses slog.Default.
func NewService(m *model.Model, logger *slog.Logger) (*Service, error) {
	if m == nil {
		return nil, ErrNilModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{model: m, logger: logger.With(slog.String("component", "service"))}, nil
}

// Model returns the underlying model.
func (s *Service) Model() *model.Model {
	return s.model
}

// ParseReader decodes a trace from r and parses it into a new session.
//
// Inputs:
//
//	ctx - Passed to the model.
//	r - A trace in any format event.Decode accepts.
//	source - Recorded in the session metadata when the trace has none.
//
// Outputs:
//
//	int - Index of the new session.
//	error - A decode error wrapping event.ErrInvalidTrace or
//	event.ErrEmptyTrace, or the model's parse error.
func (s *Service) ParseReader(ctx context.Context, r io.Reader, source string) (int, error) {
	file, err := event.Decode(r)
	if err != nil {
		return -1, err
	}
	return s.parseFile(ctx, file, source)
}

// ParseFile loads and parses the trace at path.
func (s *Service) ParseFile(ctx context.Context, path string) (int, error) {
	file, err := event.LoadFile(path)
	if err != nil {
		return -1, err
	}
	return s.parseFile(ctx, file, path)
}

func (s *Service) parseFile(ctx context.Context, file *event.File, source string) (int, error) {
	md := file.Metadata
	if md.Source == "" {
		md.Source = source
	}

	start := time.Now()
	idx, err := s.model.Parse(ctx, file.Events, model.ParseConfig{
		IsCPUProfile: file.IsCPUProfile,
		Metadata:     &md,
	})
	if err != nil {
		return -1, fmt.Errorf("parse %s: %w", source, err)
	}
	s.logger.Info("trace parsed",
		slog.String("source", source),
		slog.Int("index", idx),
		slog.Int("events", len(file.Events)),
		slog.Duration("duration", time.Since(start)),
	)
	return idx, nil
}

// Traces summarizes every session in index order.
func (s *Service) Traces() []TraceSummary {
	out := make([]TraceSummary, 0, s.model.Size())
	for i := 0; i < s.model.Size(); i++ {
		sess, ok := s.model.Session(i)
		if !ok {
			break
		}
		out = append(out, summarize(i, sess))
	}
	return out
}

// Insights returns the insights of session i. Negative i means the latest.
func (s *Service) Insights(i int) (*model.Session, *insights.Insights, error) {
	sess, ok := s.model.Session(i)
	if !ok {
		return nil, nil, model.ErrSessionNotFound
	}
	return sess, sess.Insights, nil
}

// Delete removes session i.
func (s *Service) Delete(i int) error {
	return s.model.DeleteTraceByIndex(i)
}

func summarize(i int, sess *model.Session) TraceSummary {
	return TraceSummary{
		Index:       i,
		ID:          sess.ID,
		Name:        sess.Name,
		ParsedAt:    sess.ParsedAt,
		EventCount:  len(sess.RawEvents),
		InsightSets: sess.Insights.IDs(),
	}
}

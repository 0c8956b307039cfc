// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package perfscope

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/model"
	"github.com/AleutianAI/perfscope/services/perfscope/processor"
)

// DefaultMaxUploadBytes bounds trace uploads when no limit is configured.
const DefaultMaxUploadBytes = 512 << 20

// Handlers contains the HTTP handlers for perfscope.
type Handlers struct {
	svc            *Service
	maxUploadBytes int64

	// uploads limits POST /traces. Nil means unlimited.
	uploads *rate.Limiter
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc, maxUploadBytes: DefaultMaxUploadBytes}
}

// WithMaxUploadBytes bounds POST /traces bodies. Values below 1 are ignored.
func (h *Handlers) WithMaxUploadBytes(n int64) *Handlers {
	if n > 0 {
		h.maxUploadBytes = n
	}
	return h
}

// WithUploadRate limits trace uploads to perMinute with the given burst.
// A rate of zero or less removes the limit.
func (h *Handlers) WithUploadRate(perMinute float64, burst int) *Handlers {
	if perMinute <= 0 {
		h.uploads = nil
		return h
	}
	if burst < 1 {
		burst = 1
	}
	h.uploads = rate.NewLimiter(rate.Limit(perMinute/60), burst)
	return h
}

// HandleParseTrace handles POST /v1/perfscope/traces.
//
// Description:
//
//	Decodes the request body as a trace (event array, traceEvents object
//	or CPU profile), parses it and computes insights. Only one parse runs
//	at a time.
//
// Request Body:
//
//	Raw trace JSON. The optional "source" query parameter labels the
//	session metadata.
//
// Response:
//
//	201 Created: ParseTraceResponse
//	400 Bad Request: Body is not a trace
//	409 Conflict: Another parse is running
//	413 Request Entity Too Large: Body exceeds the upload limit
//	429 Too Many Requests: Upload rate exceeded
//	500 Internal Server Error: Parse failed
func (h *Handlers) HandleParseTrace(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleParseTrace")

	if h.uploads != nil && !h.uploads.Allow() {
		logger.Warn("Upload rate exceeded")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "Too many trace uploads, retry later",
			Code:  "RATE_LIMITED",
		})
		return
	}

	source := c.DefaultQuery("source", "upload")
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	start := time.Now()
	idx, err := h.svc.ParseReader(c.Request.Context(), body, source)
	if err != nil {
		status, code := http.StatusInternalServerError, "PARSE_FAILED"
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			status, code = http.StatusRequestEntityTooLarge, "TRACE_TOO_LARGE"
		case errors.Is(err, event.ErrInvalidTrace), errors.Is(err, event.ErrEmptyTrace):
			status, code = http.StatusBadRequest, "INVALID_TRACE"
		case errors.Is(err, processor.ErrNotIdle):
			status, code = http.StatusConflict, "PARSE_IN_PROGRESS"
		}
		logger.Warn("Trace parse failed", "error", err, "code", code)
		c.JSON(status, ErrorResponse{
			Error:   "Trace could not be parsed",
			Code:    code,
			Details: err.Error(),
		})
		return
	}

	sess, ok := h.svc.Model().Session(idx)
	if !ok {
		// Deleted between parse and response.
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Trace not found", Code: "NOT_FOUND"})
		return
	}

	logger.Info("Trace parsed", "index", idx, "name", sess.Name)
	c.JSON(http.StatusCreated, ParseTraceResponse{
		Trace:      summarize(idx, sess),
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// HandleListTraces handles GET /v1/perfscope/traces.
//
// Response:
//
//	200 OK: ListTracesResponse
func (h *Handlers) HandleListTraces(c *gin.Context) {
	c.JSON(http.StatusOK, ListTracesResponse{Traces: h.svc.Traces()})
}

// HandleGetInsights handles GET /v1/perfscope/traces/:index/insights.
//
// Response:
//
//	200 OK: InsightsResponse
//	400 Bad Request: Index is not a non-negative integer
//	404 Not Found: No session at index
func (h *Handlers) HandleGetInsights(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetInsights")

	idx, ok := indexParam(c, logger)
	if !ok {
		return
	}

	sess, in, err := h.svc.Insights(idx)
	if err != nil {
		logger.Info("Trace not found", "index", idx)
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Trace not found", Code: "NOT_FOUND"})
		return
	}

	c.JSON(http.StatusOK, InsightsResponse{Trace: summarize(idx, sess), Sets: in})
}

// HandleDeleteTrace handles DELETE /v1/perfscope/traces/:index.
//
// Description:
//
//	Removes the session at index. Later sessions shift down by one.
//
// Response:
//
//	204 No Content: Deleted
//	400 Bad Request: Index is not a non-negative integer
//	404 Not Found: No session at index
func (h *Handlers) HandleDeleteTrace(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteTrace")

	idx, ok := indexParam(c, logger)
	if !ok {
		return
	}

	if err := h.svc.Delete(idx); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Trace not found", Code: "NOT_FOUND"})
			return
		}
		logger.Error("Failed to delete trace", "index", idx, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to delete trace", Code: "DELETE_FAILED"})
		return
	}

	logger.Info("Trace deleted", "index", idx)
	c.Status(http.StatusNoContent)
}

// HandleHealth handles GET /v1/perfscope/health.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    ServiceVersion,
		TraceCount: h.svc.Model().Size(),
	})
}

func indexParam(c *gin.Context, logger *slog.Logger) (int, bool) {
	raw := c.Param("index")
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 {
		logger.Warn("Invalid trace index", "index", raw)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Trace index must be a non-negative integer",
			Code:  "INVALID_INDEX",
		})
		return 0, false
	}
	return idx, true
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

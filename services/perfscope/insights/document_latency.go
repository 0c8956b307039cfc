// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package insights

import (
	"context"
	"strings"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
)

const (
	// slowServerResponse is the server response time above which the
	// document is flagged.
	slowServerResponse = event.Micro(600_000)

	// targetServerResponse is the response time savings are measured
	// against.
	targetServerResponse = event.Micro(100_000)

	// compressionRatio is the assumed size of a compressed text response
	// relative to the uncompressed one.
	compressionRatio = 0.3
)

// DocumentChecks are the individual document request checks.
type DocumentChecks struct {
	NoRedirects          bool `json:"noRedirects"`
	ServerResponseIsFast bool `json:"serverResponseIsFast"`
	UsesCompression      bool `json:"usesCompression"`
}

// DocumentLatencyModel is the DocumentLatency result.
type DocumentLatencyModel struct {
	Base
	DocumentRequestID      string          `json:"documentRequestId,omitempty"`
	Checks                 *DocumentChecks `json:"checks,omitempty"`
	RedirectDurationMs     float64         `json:"redirectDurationMs"`
	ServerResponseTimeMs   float64         `json:"serverResponseTimeMs"`
	UncompressedBytes      int64           `json:"uncompressedBytes,omitempty"`
	EstimatedByteSavings   int64           `json:"estimatedByteSavings,omitempty"`
	EstimatedCompressionMs float64         `json:"estimatedCompressionMs,omitempty"`
}

// DocumentLatency checks the navigation's document request for redirects,
// slow server response and missing text compression.
type DocumentLatency struct{}

func (DocumentLatency) Name() string { return NameDocumentLatency }

func (DocumentLatency) Deps() []string {
	return []string{handlers.NameMeta, handlers.NameNetworkRequests}
}

func (DocumentLatency) Generate(_ context.Context, pt *handlers.ParsedTrace, sc *SetContext) (Model, error) {
	m := &DocumentLatencyModel{Base: Base{
		Title:       "Document request latency",
		Description: "The first network request is the most important. Avoid redirects, respond quickly and compress text.",
	}}
	if sc.Navigation == nil {
		return m, nil
	}

	network, err := dataOf[*handlers.NetworkData](pt, handlers.NameNetworkRequests)
	if err != nil {
		return nil, err
	}
	doc, ok := documentRequest(network, sc)
	if !ok {
		return nil, ErrNoDocumentRequest
	}
	m.DocumentRequestID = doc.ID

	var redirect event.Micro
	if len(doc.Redirects) > 0 {
		finalStart := doc.SendStart
		if finalStart == 0 {
			finalStart = doc.Start
		}
		redirect = finalStart - doc.Redirects[0].Start
		if redirect < 0 {
			redirect = 0
		}
	}
	m.RedirectDurationMs = ms(redirect)

	srt := doc.ServerResponseTime()
	m.ServerResponseTimeMs = ms(srt)
	var serverSavings event.Micro
	if srt > slowServerResponse {
		serverSavings = srt - targetServerResponse
	}

	compressed := doc.ContentEncoding != "" || !isText(doc.MimeType)
	if !compressed {
		size := doc.DecodedBodyLength
		if size == 0 {
			size = doc.EncodedDataLength
		}
		m.UncompressedBytes = size
		m.EstimatedByteSavings = int64(float64(size) * (1 - compressionRatio))
		if lc := sc.Lantern; lc != nil {
			m.EstimatedCompressionMs = float64(m.EstimatedByteSavings) * 8 / lc.Settings().ThroughputKbps
		}
	}

	m.Checks = &DocumentChecks{
		NoRedirects:          len(doc.Redirects) == 0,
		ServerResponseIsFast: srt <= slowServerResponse,
		UsesCompression:      compressed,
	}
	total := ms(redirect+serverSavings) + m.EstimatedCompressionMs
	m.Savings = MetricSavings{FCPMs: total, LCPMs: total}
	m.Failing = !m.Checks.NoRedirects || !m.Checks.ServerResponseIsFast || !m.Checks.UsesCompression
	return m, nil
}

func isText(mime string) bool {
	mime = strings.ToLower(mime)
	return strings.HasPrefix(mime, "text/") ||
		strings.Contains(mime, "javascript") ||
		strings.Contains(mime, "json") ||
		strings.Contains(mime, "xml")
}

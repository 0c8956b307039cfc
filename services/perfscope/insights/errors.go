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
	"errors"
	"fmt"

	"github.com/AleutianAI/perfscope/services/perfscope/lantern"
)

var (
	// ErrMissingMeta is returned when the parsed trace has no Meta snapshot.
	ErrMissingMeta = errors.New("parsed trace has no Meta data")

	// ErrNoFCP is returned when a navigation never painted content.
	ErrNoFCP = errors.New("no first contentful paint event")

	// ErrNoLCP is returned when a navigation has no LCP candidate.
	ErrNoLCP = errors.New("no largest contentful paint event")

	// ErrNoDocumentRequest is returned when the navigation's document
	// request is not in the trace.
	ErrNoDocumentRequest = errors.New("could not find main document request")

	// ErrMissingData is returned when a declared dependency's snapshot has
	// an unexpected type.
	ErrMissingData = errors.New("handler data missing")
)

// expected is the allow-list of errors that are a normal outcome for some
// traces. They are stored on the result without error-level logging.
var expected = []error{
	ErrNoFCP,
	ErrNoLCP,
	ErrNoDocumentRequest,
	lantern.ErrTraceTooOld,
	lantern.ErrNoNetworkRequests,
	lantern.ErrMissingMainDocument,
	lantern.ErrMissingMetric,
}

// IsExpected reports whether err is on the allow-list.
func IsExpected(err error) bool {
	for _, e := range expected {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// PanicError wraps a panic recovered from a runner.
type PanicError struct {
	Insight string
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("insight %s panicked: %v", e.Insight, e.Value)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lantern

import "errors"

// Domain errors. Building a Context for a navigation is allowed to fail
// with any of these; callers treat them as "no simulation available".
var (
	// ErrTraceTooOld is returned for traces without navigation ids.
	ErrTraceTooOld = errors.New("trace is too old")

	// ErrNoNetworkRequests is returned when the navigation has no requests.
	ErrNoNetworkRequests = errors.New("no network requests found in trace")

	// ErrMissingMainDocument is returned when the navigation's document
	// request cannot be found.
	ErrMissingMainDocument = errors.New("could not find main document request")

	// ErrMissingMetric is returned when a metric the simulation is anchored
	// on was never observed.
	ErrMissingMetric = errors.New("required metric was not observed")

	// ErrUnknownRequest is returned when a savings estimate names a request
	// that is not in the graph.
	ErrUnknownRequest = errors.New("request not in network graph")
)

// IsDomainError reports whether err is one of the expected lantern
// failures.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrTraceTooOld) ||
		errors.Is(err, ErrNoNetworkRequests) ||
		errors.Is(err, ErrMissingMainDocument) ||
		errors.Is(err, ErrMissingMetric)
}

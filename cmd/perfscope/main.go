// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Command perfscope parses performance traces and reports insights.
//
// Usage:
//
//	perfscope parse trace.json
//	perfscope parse trace.json --save
//	perfscope sessions list
//	perfscope serve
//	perfscope watch ~/Downloads
//
// Configuration is read from ~/.perfscope/perfscope.yaml, created with
// defaults on first run. See services/perfscope/config for the keys and
// their environment overrides.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

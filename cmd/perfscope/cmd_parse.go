// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/perfscope/pkg/ux"
	"github.com/AleutianAI/perfscope/services/perfscope/notify"
)

func newParseCmd(flags *rootFlags) *cobra.Command {
	var (
		save   bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "parse <trace.json>...",
		Short: "Parse traces and print their insights",
		Long: `Parse one or more trace files (event arrays, {"traceEvents": ...}
objects or CPU profiles) and print the insights for each navigation.
With --save the sessions are kept in the session store.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags, appOptions{persist: save})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			p := flags.printer(cmd)
			return runParse(ctx, a, p, args, asJSON)
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Save parsed sessions to the session store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print insights as JSON")
	return cmd
}

func runParse(ctx context.Context, a *app, p *ux.Printer, paths []string, asJSON bool) error {
	if !asJSON {
		id := a.model.Notifications().Subscribe(notify.KindProgress, func(n notify.Notification) {
			if n.Progress != nil {
				p.Progress("parsing", n.Progress.Percent)
			}
		})
		defer a.model.Notifications().Unsubscribe(id)
	}

	var failed int
	for _, path := range paths {
		idx, err := a.svc.ParseFile(ctx, path)
		if err != nil {
			failed++
			p.Error(err.Error())
			continue
		}
		sess, ok := a.model.Session(idx)
		if !ok {
			continue
		}
		if asJSON {
			if err := writeJSON(p.Out(), sess); err != nil {
				return err
			}
			continue
		}
		printSession(p, sess)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d traces failed to parse", failed, len(paths))
	}
	return nil
}

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

	"github.com/AleutianAI/perfscope/services/perfscope/watch"
)

func newWatchCmd(flags *rootFlags) *cobra.Command {
	var (
		save    bool
		pattern string
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Parse every trace saved into a directory",
		Long: `Watch a directory (for example the browser's download folder) and
parse every new trace file once it has finished writing. Runs until
interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags, appOptions{persist: save})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			p := flags.printer(cmd)
			w, err := watch.New(args[0], func(ctx context.Context, path string) {
				idx, err := a.svc.ParseFile(ctx, path)
				if err != nil {
					p.Error(err.Error())
					return
				}
				if sess, ok := a.model.Session(idx); ok {
					printSession(p, sess)
				}
			}, watch.WithPattern(pattern), watch.WithLogger(a.logger))
			if err != nil {
				return err
			}

			p.Info(fmt.Sprintf("Watching %s for %s (Ctrl+C to stop)", args[0], pattern))
			return w.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Save parsed sessions to the session store")
	cmd.Flags().StringVar(&pattern, "pattern", watch.DefaultPattern, "File name pattern to parse")
	return cmd
}

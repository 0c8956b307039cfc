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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/perfscope/pkg/ux"
	"github.com/AleutianAI/perfscope/services/perfscope/storage"
)

func newSessionsCmd(flags *rootFlags) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved trace sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved sessions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, store *storage.SessionStore, p *ux.Printer) error {
				return runSessionsList(ctx, store, p)
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved session's insights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, store *storage.SessionStore, p *ux.Printer) error {
				rec, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printRecord(p, rec)
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, store *storage.SessionStore, p *ux.Printer) error {
				if err := store.Delete(ctx, args[0]); err != nil {
					return err
				}
				p.Success(fmt.Sprintf("Deleted session %s", args[0]))
				return nil
			})
		},
	}

	sessionsCmd.AddCommand(listCmd, showCmd, deleteCmd)
	return sessionsCmd
}

func withStore(cmd *cobra.Command, flags *rootFlags, fn func(context.Context, *storage.SessionStore, *ux.Printer) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, flags, appOptions{store: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()
	return fn(ctx, a.store, flags.printer(cmd))
}

func runSessionsList(ctx context.Context, store *storage.SessionStore, p *ux.Printer) error {
	list, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		p.Info("No saved sessions")
		return nil
	}
	p.Title("Saved sessions")
	for _, s := range list {
		p.Row(s.ID, s.Name, s.CreatedAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(s.EventCount)+" events", strconv.Itoa(len(s.InsightSets))+" sets")
	}
	return nil
}

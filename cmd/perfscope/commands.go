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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/perfscope/pkg/ux"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath  string
	logLevel    string
	personality string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "perfscope",
		Short: "Parse performance traces and report what slowed the page down",
		Long: `perfscope reads Chrome DevTools performance traces, runs a
handler pass over every event and an insights pass per navigation,
and reports the findings ordered by estimated impact.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to perfscope.yaml (default ~/.perfscope/perfscope.yaml)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.personality, "personality", "", "Output style: full, minimal or machine (default: detected)")

	rootCmd.AddCommand(
		newParseCmd(flags),
		newSessionsCmd(flags),
		newServeCmd(flags),
		newWatchCmd(flags),
	)
	return rootCmd
}

// printer returns the output printer for cmd, honoring --personality.
func (f *rootFlags) printer(cmd *cobra.Command) *ux.Printer {
	level := ux.DetectPersonality(os.Stdout)
	if f.personality != "" {
		level = ux.ParsePersonalityLevel(f.personality)
	}
	return ux.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), level)
}

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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/perfscope/services/perfscope"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		addr  string
		save  bool
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the trace API over HTTP",
		Long: `Serve the perfscope API:

  POST   /v1/perfscope/traces               parse a trace (raw JSON body)
  GET    /v1/perfscope/traces               list parsed traces
  GET    /v1/perfscope/traces/:index/insights
  DELETE /v1/perfscope/traces/:index
  GET    /v1/perfscope/health
  GET    /metrics                           Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags, appOptions{persist: save, metrics: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			if addr == "" {
				addr = a.cfg.Server.Address
			}
			if debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			handlers := perfscope.NewHandlers(a.svc).
				WithMaxUploadBytes(a.cfg.Server.MaxUploadBytes).
				WithUploadRate(a.cfg.Server.UploadsPerMinute, a.cfg.Server.UploadBurst)
			router := perfscope.NewRouter(handlers, a.cfg.Telemetry.ServiceName)
			return serve(ctx, a.logger, addr, router)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&save, "save", false, "Save parsed sessions to the session store")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable gin debug mode")
	return cmd
}

// serve runs handler on addr until ctx is cancelled, then drains
// in-flight requests.
func serve(ctx context.Context, logger *slog.Logger, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting perfscope server", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down perfscope server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-errCh
	return nil
}

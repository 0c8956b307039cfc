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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/perfscope/services/perfscope/telemetry"
)

// RegisterRoutes registers all perfscope routes with the router.
//
// Description:
//
//	Registers all /v1/perfscope/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST   /v1/perfscope/traces - Parse a trace
//	GET    /v1/perfscope/traces - List parsed traces
//	GET    /v1/perfscope/traces/:index/insights - Insights for one trace
//	DELETE /v1/perfscope/traces/:index - Delete a trace
//	GET    /v1/perfscope/health - Health check
//	GET    /v1/perfscope/progress - Websocket of parse progress
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	ps := rg.Group("/perfscope")
	{
		ps.POST("/traces", handlers.HandleParseTrace)
		ps.GET("/traces", handlers.HandleListTraces)
		ps.GET("/traces/:index/insights", handlers.HandleGetInsights)
		ps.DELETE("/traces/:index", handlers.HandleDeleteTrace)
		ps.GET("/health", handlers.HandleHealth)
		ps.GET("/progress", handlers.HandleProgress)
	}
}

// NewRouter builds the engine served by perfscope serve: recovery, OTel
// request spans, /metrics when Prometheus export is active and the /v1
// API.
func NewRouter(handlers *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	} else {
		router.GET("/metrics", func(c *gin.Context) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "Prometheus metrics are not enabled",
				Code:  "METRICS_DISABLED",
			})
		})
	}

	RegisterRoutes(router.Group("/v1"), handlers)
	return router
}

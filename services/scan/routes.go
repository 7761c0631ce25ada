// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scan

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers all scan routes with the router.
//
// Description:
//
//	Registers all /v1/scan/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Core Endpoints:
//
//	POST   /v1/scan/init - Build a finder for an archive
//	GET    /v1/scan/finders - List cached finders
//	DELETE /v1/scan/finders/:id - Evict a finder
//
// Query Endpoints:
//
//	GET /v1/scan/annotated/:kind - classes, methods, constructors, fields, parameters, packages
//	GET /v1/scan/meta/:kind - classes, methods, constructors, fields
//	GET /v1/scan/subclasses - Transitive subclasses of a class
//	GET /v1/scan/implementations - Implementations of an interface
//	GET /v1/scan/package - Classes in a package
//
// Snapshot Endpoints:
//
//	POST /v1/scan/snapshot - Save the newest or given finder
//	GET  /v1/scan/snapshots - List snapshots
//	GET  /v1/scan/snapshots/diff - Compare two snapshots
//
// Health Endpoints:
//
//	GET /v1/scan/health - Health check
//
// Example:
//
//	service := scan.NewService(scan.DefaultServiceConfig(), nil)
//	handlers := scan.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	scan.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	scan := rg.Group("/scan")
	{
		// Finder lifecycle
		scan.POST("/init", handlers.HandleInit)
		scan.GET("/finders", handlers.HandleListFinders)
		scan.DELETE("/finders/:id", handlers.HandleInvalidate)

		// Annotation queries
		scan.GET("/annotated/:kind", handlers.HandleAnnotated)
		scan.GET("/meta/:kind", handlers.HandleMetaAnnotated)

		// Hierarchy queries
		scan.GET("/subclasses", handlers.HandleSubclasses)
		scan.GET("/implementations", handlers.HandleImplementations)
		scan.GET("/package", handlers.HandlePackage)

		// Snapshot persistence
		scan.POST("/snapshot", handlers.HandleSaveSnapshot)
		scan.GET("/snapshots", handlers.HandleListSnapshots)
		scan.GET("/snapshots/diff", handlers.HandleDiffSnapshots)

		// Health checks
		scan.GET("/health", handlers.HandleHealth)
	}
}

// RegisterMetrics exposes the Prometheus registry at /metrics.
func RegisterMetrics(r gin.IRoutes) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

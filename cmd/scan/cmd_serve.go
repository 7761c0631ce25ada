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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/AleutianScan/services/scan"
	"github.com/AleutianAI/AleutianScan/services/scan/snapshot"
	"github.com/AleutianAI/AleutianScan/services/scan/storage/badger"
)

const shutdownTimeout = 10 * time.Second

func runServeCommand(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Trace context propagation for incoming requests
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	db, err := openSnapshotDB(serveSnapshotDir, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	snapshots, err := snapshot.NewManager(db.DB, logger)
	if err != nil {
		return fmt.Errorf("creating snapshot manager: %w", err)
	}

	cfg := scan.DefaultServiceConfig()
	cfg.AllowedRoots = serveAllowed
	cfg.Logger = logger
	svc := scan.NewService(cfg, snapshots)
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if serveWatch {
		w, err := scan.NewWatcher(svc, &scan.WatcherOptions{Logger: logger})
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		defer w.Stop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-scan"))
	if serveDebug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	scan.RegisterRoutes(v1, scan.NewHandlers(svc))
	scan.RegisterMetrics(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", servePort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("scan service listening",
			slog.String("addr", srv.Addr),
			slog.Bool("watch", serveWatch),
			slog.Bool("persistent_snapshots", !db.InMemory()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", slog.String("error", err.Error()))
	}
	return nil
}

// openSnapshotDB opens the snapshot store at dir, or in memory when dir
// is empty.
func openSnapshotDB(dir string, logger *slog.Logger) (*badger.DB, error) {
	cfg := badger.InMemoryConfig()
	if dir != "" {
		cfg = badger.DefaultConfig(os.ExpandEnv(dir))
	}
	cfg.Logger = logger
	db, err := badger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	return db, nil
}

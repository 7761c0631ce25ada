// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command scan indexes JVM class archives and answers annotation and
// hierarchy queries from the command line or over HTTP.
//
// Usage:
//
//	scan index ./build/classes
//	scan query app.jar --annotation javax.inject.Named --kind classes --meta
//	scan subclasses app.jar com.acme.Base
//	scan serve --port 8080 --watch --snapshot-dir ~/.aleutian/scan/snapshots
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianScan/services/scan/archive"
	"github.com/AleutianAI/AleutianScan/services/scan/config"
	"github.com/AleutianAI/AleutianScan/services/scan/finder"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs a text handler on w at the named level as the
// default slog logger.
func setupLogging(w io.Writer, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// loadConfig reads --config when given, otherwise scan.config.yaml next to
// archivePath, then applies --link-mode.
func loadConfig(archivePath string) (config.ScanConfig, error) {
	var (
		cfg config.ScanConfig
		err error
	)
	if configPath != "" {
		data, readErr := os.ReadFile(configPath)
		if readErr != nil {
			return cfg, fmt.Errorf("reading config: %w", readErr)
		}
		cfg, err = config.Parse(data)
	} else {
		cfg, err = config.Load(archivePath)
	}
	if err != nil {
		return cfg, err
	}
	if linkMode != "" {
		cfg.LinkMode = linkMode
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// openFinder opens the archive at path and scans it.
//
// The caller must close both the finder and the archive.
func openFinder(ctx context.Context, path string, extra ...finder.Option) (*finder.Finder, archive.ClosableArchive, config.ScanConfig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, config.ScanConfig{}, err
	}
	cfg, err := loadConfig(abs)
	if err != nil {
		return nil, nil, cfg, err
	}
	arc, err := archive.Open(abs, cfg.ArchiveOptions()...)
	if err != nil {
		return nil, nil, cfg, err
	}
	opts := append(cfg.FinderOptions(slog.Default()), extra...)
	f, err := finder.New(ctx, arc, opts...)
	if err != nil {
		arc.Close()
		return nil, nil, cfg, err
	}
	return f, arc, cfg, nil
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

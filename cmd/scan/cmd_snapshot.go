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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScan/services/scan/snapshot"
	"github.com/AleutianAI/AleutianScan/services/scan/storage/badger"
)

// resolveSnapshotDir picks --dir, then the config's snapshot_dir, then
// ~/.aleutian/scan/snapshots.
func resolveSnapshotDir(configured string) (string, error) {
	if snapshotDir != "" {
		return snapshotDir, nil
	}
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "scan", "snapshots"), nil
}

func openSnapshotManager(configured string) (*badger.DB, *snapshot.Manager, error) {
	dir, err := resolveSnapshotDir(configured)
	if err != nil {
		return nil, nil, err
	}
	db, err := openSnapshotDB(dir, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	mgr, err := snapshot.NewManager(db.DB, slog.Default())
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, mgr, nil
}

func runSnapshotSave(cmd *cobra.Command, args []string) error {
	abs, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	f, arc, cfg, err := openFinder(cmd.Context(), abs)
	if err != nil {
		return err
	}
	defer arc.Close()
	defer f.Close()

	db, mgr, err := openSnapshotManager(cfg.SnapshotDir)
	if err != nil {
		return err
	}
	defer db.Close()

	meta, err := mgr.Save(cmd.Context(), abs, f, snapshotLabel)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), meta)
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	var archivePath, configured string
	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		archivePath = abs
		cfg, err := loadConfig(abs)
		if err != nil {
			return err
		}
		configured = cfg.SnapshotDir
	}

	db, mgr, err := openSnapshotManager(configured)
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := mgr.List(cmd.Context(), archivePath, snapshotLimit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*snapshot.Metadata{}
	}
	return writeJSON(cmd.OutOrStdout(), list)
}

func runSnapshotDiff(cmd *cobra.Command, args []string) error {
	db, mgr, err := openSnapshotManager("")
	if err != nil {
		return err
	}
	defer db.Close()

	diff, err := mgr.Diff(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), diff)
}

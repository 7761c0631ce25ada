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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScan/services/scan"
)

var (
	// Global flags
	configPath string
	logLevel   string
	linkMode   string

	rootCmd = &cobra.Command{
		Use:   "scan",
		Short: "Index JVM archives by annotation and type hierarchy",
		Long: `Scan reads class files from a directory or jar without loading them,
indexes their annotations and inheritance, and answers finder queries.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd.ErrOrStderr(), logLevel)
		},
	}

	indexCmd = &cobra.Command{
		Use:   "index [archive]",
		Short: "Scan an archive and print index statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  runIndexCommand,
	}
	eagerLink bool

	queryCmd = &cobra.Command{
		Use:   "query [archive]",
		Short: "Find elements carrying an annotation",
		Long: `Runs one annotation query. --kind selects classes, methods, constructors,
fields, parameters, or packages. --meta follows meta-annotations.`,
		Args: cobra.ExactArgs(1),
		RunE: runQueryCommand,
	}
	queryAnnotation string
	queryKind       string
	queryMeta       bool

	subclassesCmd = &cobra.Command{
		Use:   "subclasses [archive] [class]",
		Short: "List the transitive subclasses of a class",
		Args:  cobra.ExactArgs(2),
		RunE:  runHierarchyCommand(scan.KindSubclasses),
	}

	implementationsCmd = &cobra.Command{
		Use:   "implementations [archive] [interface]",
		Short: "List the concrete implementations of an interface",
		Args:  cobra.ExactArgs(2),
		RunE:  runHierarchyCommand(scan.KindImplementations),
	}

	packageCmd = &cobra.Command{
		Use:   "package [archive] [package]",
		Short: "List the classes in a package",
		Args:  cobra.ExactArgs(2),
		RunE:  runPackageCommand,
	}
	packageRecursive bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the scan HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServeCommand,
	}
	servePort        int
	serveDebug       bool
	serveWatch       bool
	serveSnapshotDir string
	serveAllowed     []string

	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Save and list persisted finder snapshots",
	}
	snapshotSaveCmd = &cobra.Command{
		Use:   "save [archive]",
		Short: "Scan an archive and persist its index",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotSave,
	}
	snapshotListCmd = &cobra.Command{
		Use:   "list [archive]",
		Short: "List snapshots, optionally for one archive",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSnapshotList,
	}
	snapshotDiffCmd = &cobra.Command{
		Use:   "diff [base-id] [target-id]",
		Short: "Compare two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE:  runSnapshotDiff,
	}
	snapshotDir   string
	snapshotLabel string
	snapshotLimit int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to scan.config.yaml (default: next to the archive)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&linkMode, "link-mode", "", "Override link mode: sync, pool, deferred")

	indexCmd.Flags().BoolVar(&eagerLink, "eager-link", false, "Link subclasses and implementations before printing stats")

	queryCmd.Flags().StringVarP(&queryAnnotation, "annotation", "a", "", "Binary name of the annotation (required)")
	queryCmd.Flags().StringVarP(&queryKind, "kind", "k", scan.KindClasses, "classes, methods, constructors, fields, parameters, packages")
	queryCmd.Flags().BoolVar(&queryMeta, "meta", false, "Follow meta-annotations")
	_ = queryCmd.MarkFlagRequired("annotation")

	packageCmd.Flags().BoolVarP(&packageRecursive, "recursive", "r", false, "Include subpackages")

	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable gin debug mode and request logging")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Evict cached finders when their archives change")
	serveCmd.Flags().StringVar(&serveSnapshotDir, "snapshot-dir", "", "Persist snapshots here (default: in-memory)")
	serveCmd.Flags().StringSliceVar(&serveAllowed, "allowed-root", nil, "Restrict archive paths to these prefixes")

	snapshotCmd.PersistentFlags().StringVar(&snapshotDir, "dir", "", "Snapshot directory (default: snapshot_dir or ~/.aleutian/scan/snapshots)")
	snapshotSaveCmd.Flags().StringVar(&snapshotLabel, "label", "", "Human-readable label")
	snapshotListCmd.Flags().IntVar(&snapshotLimit, "limit", 100, "Maximum snapshots to list")

	snapshotCmd.AddCommand(snapshotSaveCmd, snapshotListCmd, snapshotDiffCmd)
	rootCmd.AddCommand(indexCmd, queryCmd, subclassesCmd, implementationsCmd, packageCmd, serveCmd, snapshotCmd)
}

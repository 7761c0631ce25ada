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
	"github.com/AleutianAI/AleutianScan/services/scan/finder"
)

// indexOutput is printed by the index command.
type indexOutput struct {
	ArchivePath      string       `json:"archive_path"`
	Stats            finder.Stats `json:"stats"`
	ClassesNotLoaded []string     `json:"classes_not_loaded"`
}

func runIndexCommand(cmd *cobra.Command, args []string) error {
	var extra []finder.Option
	if eagerLink {
		extra = append(extra, finder.WithEagerLink(true))
	}
	f, arc, _, err := openFinder(cmd.Context(), args[0], extra...)
	if err != nil {
		return err
	}
	defer arc.Close()
	defer f.Close()

	notLoaded := f.ScanMissing()
	if notLoaded == nil {
		notLoaded = []string{}
	}
	return writeJSON(cmd.OutOrStdout(), indexOutput{
		ArchivePath:      args[0],
		Stats:            f.Stats(),
		ClassesNotLoaded: notLoaded,
	})
}

func runQueryCommand(cmd *cobra.Command, args []string) error {
	return runOneQuery(cmd, args[0], scan.Query{
		Kind:   queryKind,
		Meta:   queryMeta,
		Target: queryAnnotation,
	})
}

func runHierarchyCommand(kind string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return runOneQuery(cmd, args[0], scan.Query{Kind: kind, Target: args[1]})
	}
}

func runPackageCommand(cmd *cobra.Command, args []string) error {
	return runOneQuery(cmd, args[0], scan.Query{
		Kind:      scan.KindPackage,
		Target:    args[1],
		Recursive: packageRecursive,
	})
}

// runOneQuery scans path, runs q, and prints the response.
func runOneQuery(cmd *cobra.Command, path string, q scan.Query) error {
	f, arc, _, err := openFinder(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer arc.Close()
	defer f.Close()

	resp, err := scan.RunQuery(cmd.Context(), f, q)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), resp)
}

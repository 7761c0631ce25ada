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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScan/services/scan"
	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
	"github.com/AleutianAI/AleutianScan/services/scan/classfile/classfiletest"
	"github.com/AleutianAI/AleutianScan/services/scan/snapshot"
)

const component = "com.acme.Component"

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "classes")
	builders := []*classfiletest.Builder{
		classfiletest.NewAnnotation(component),
		classfiletest.NewInterface("com.acme.Service"),
		classfiletest.NewClass("com.acme.Base"),
		classfiletest.NewClass("com.acme.Impl").
			Super("com.acme.Base").
			Implements("com.acme.Service").
			Annotate(component),
	}
	for _, b := range builders {
		data := b.Bytes()
		cf, err := classfile.ParseBytes(data)
		require.NoError(t, err)
		path := filepath.Join(dir, filepath.FromSlash(classfile.InternalName(cf.Name))+".class")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, data, 0o600))
	}
	return dir
}

func resetFlags() {
	configPath, logLevel, linkMode = "", "error", ""
	eagerLink = false
	queryAnnotation, queryKind, queryMeta = "", scan.KindClasses, false
	packageRecursive = false
	snapshotDir, snapshotLabel, snapshotLimit = "", "", 100
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSetupLogging(t *testing.T) {
	assert.NoError(t, setupLogging(io.Discard, "DEBUG"))
	assert.NoError(t, setupLogging(io.Discard, "warn"))
	assert.Error(t, setupLogging(io.Discard, "loud"))
}

func TestIndexCommand(t *testing.T) {
	dir := writeFixture(t)

	out, err := execute(t, "index", dir, "--eager-link")
	require.NoError(t, err)

	var got indexOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 4, got.Stats.Classes)
	assert.True(t, got.Stats.SubclassesLinked)
	assert.Empty(t, got.ClassesNotLoaded)
}

func TestQueryCommand(t *testing.T) {
	dir := writeFixture(t)

	out, err := execute(t, "query", dir, "--annotation", component)
	require.NoError(t, err)
	var resp scan.QueryResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "com.acme.Impl", resp.Classes[0].Name)
	assert.Contains(t, out, `"classes_not_loaded": []`)

	_, err = execute(t, "query", dir, "--annotation", component, "--kind", "widgets")
	assert.ErrorIs(t, err, scan.ErrUnsupportedQuery)

	_, err = execute(t, "query", dir)
	assert.Error(t, err, "--annotation is required")
}

func TestHierarchyCommands(t *testing.T) {
	dir := writeFixture(t)

	tests := []struct {
		name string
		args []string
	}{
		{"subclasses", []string{"subclasses", dir, "com.acme.Base"}},
		{"implementations", []string{"implementations", dir, "com.acme.Service"}},
		{"package", []string{"package", dir, "com.acme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			var resp scan.QueryResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			require.NotEmpty(t, resp.Classes)
			if tt.name != "package" {
				assert.Equal(t, "com.acme.Impl", resp.Classes[0].Name)
			}
		})
	}
}

func TestLinkModeOverride(t *testing.T) {
	dir := writeFixture(t)

	_, err := execute(t, "index", dir, "--link-mode", "pool")
	require.NoError(t, err)

	_, err = execute(t, "index", dir, "--link-mode", "eager")
	assert.Error(t, err)
}

func TestExplicitConfigFile(t *testing.T) {
	dir := writeFixture(t)
	cfgFile := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("exclude: [\"**/Base\"]\n"), 0o600))

	out, err := execute(t, "index", dir, "--config", cfgFile)
	require.NoError(t, err)
	var got indexOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 3, got.Stats.Classes)
}

func TestSnapshotCommands(t *testing.T) {
	dir := writeFixture(t)
	store := t.TempDir()

	out, err := execute(t, "snapshot", "save", dir, "--dir", store, "--label", "ci")
	require.NoError(t, err)
	var meta snapshot.Metadata
	require.NoError(t, json.Unmarshal([]byte(out), &meta))
	assert.Equal(t, "ci", meta.Label)
	assert.Equal(t, dir, meta.ArchivePath)
	assert.Equal(t, 4, meta.ClassCount)

	out, err = execute(t, "snapshot", "list", dir, "--dir", store)
	require.NoError(t, err)
	var list []*snapshot.Metadata
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, meta.SnapshotID, list[0].SnapshotID)

	out, err = execute(t, "snapshot", "diff", meta.SnapshotID, meta.SnapshotID, "--dir", store)
	require.NoError(t, err)
	var diff snapshot.Diff
	require.NoError(t, json.Unmarshal([]byte(out), &diff))
	assert.Zero(t, diff.Summary.TotalChanges)

	_, err = execute(t, "snapshot", "diff", "nope", meta.SnapshotID, "--dir", store)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)

	out, err = execute(t, "snapshot", "list", "--dir", t.TempDir())
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

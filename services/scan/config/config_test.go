// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScan/services/scan/archive"
	"github.com/AleutianAI/AleutianScan/services/scan/finder"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o600))
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ScanConfig{}, cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, ScanConfig{}, cfg)
}

func TestLoad_FullFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
platform_prefixes: ["java.", "kotlin."]
link_mode: pool
workers: 4
link_timeout: 30s
runtime_check: false
include: ["com/acme/**"]
exclude: ["**/*Test"]
generated_marker: "$Gen"
meta_type_suffix: Stereotype
snapshot_dir: /var/lib/scan
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"java.", "kotlin."}, cfg.PlatformPrefixes)
	assert.Equal(t, "pool", cfg.LinkMode)
	assert.Equal(t, 4, cfg.Workers)
	require.NotNil(t, cfg.RuntimeCheck)
	assert.False(t, *cfg.RuntimeCheck)
	assert.Equal(t, "/var/lib/scan", cfg.SnapshotDir)

	var fo finder.Options = finder.DefaultOptions()
	for _, opt := range cfg.FinderOptions(nil) {
		opt(&fo)
	}
	assert.Equal(t, finder.LinkModePool, fo.LinkMode)
	assert.Equal(t, 4, fo.Workers)
	assert.Equal(t, "30s", fo.LinkTimeout.String())
	assert.False(t, fo.RuntimeCheck)
	assert.Equal(t, "$Gen", fo.GeneratedMarker)
	assert.Equal(t, "Stereotype", fo.MetaTypeSuffix)
	assert.Equal(t, finder.DefaultMetaRootSuffix, fo.MetaRootSuffix)

	ao := archive.DefaultOptions()
	for _, opt := range cfg.ArchiveOptions() {
		opt(&ao)
	}
	assert.Equal(t, []string{"com/acme/**"}, ao.Filter.Include)
	assert.Equal(t, []string{"**/*Test"}, ao.Filter.Exclude)
	assert.Equal(t, []string{"java.", "kotlin."}, ao.PlatformPrefixes)
}

func TestLoad_JarPathUsesDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "link_mode: deferred\n")
	jar := filepath.Join(dir, "app.jar")
	require.NoError(t, os.WriteFile(jar, []byte("PK"), 0o600))

	cfg, err := Load(jar)
	require.NoError(t, err)
	assert.Equal(t, "deferred", cfg.LinkMode)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "link_mode: [unclosed"},
		{"unknown link mode", "link_mode: eager"},
		{"negative workers", "workers: -1"},
		{"bad timeout", "link_timeout: soon"},
		{"zero timeout", "link_timeout: 0s"},
		{"empty prefix", `platform_prefixes: ["java.", ""]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte("workers: -1"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFinderOptions_Defaults(t *testing.T) {
	fo := finder.DefaultOptions()
	for _, opt := range (ScanConfig{}).FinderOptions(nil) {
		opt(&fo)
	}
	assert.Equal(t, finder.DefaultOptions().LinkMode, fo.LinkMode)
	assert.True(t, fo.RuntimeCheck)
	assert.Equal(t, finder.DefaultGeneratedMarker, fo.GeneratedMarker)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads scan.config.yaml, the per-project overrides for
// archive filtering and finder behavior.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianScan/services/scan/archive"
	"github.com/AleutianAI/AleutianScan/services/scan/finder"
)

// FileName is the config file looked up in a project root.
const FileName = "scan.config.yaml"

// ErrInvalidConfig is returned when the file parses but fails validation.
var ErrInvalidConfig = errors.New("invalid scan config")

// ScanConfig holds user-provided overrides for scanning a project.
//
// Description:
//
//	Loaded from <projectRoot>/scan.config.yaml. All fields are optional.
//	A missing config file is not an error and yields the defaults.
//
// Thread Safety: Safe for concurrent reads after construction.
type ScanConfig struct {
	// PlatformPrefixes replaces the platform name prefixes.
	// Example: ["java.", "javax.", "kotlin."]
	PlatformPrefixes []string `yaml:"platform_prefixes" validate:"omitempty,dive,required"`

	// LinkMode is one of sync, pool, deferred.
	LinkMode string `yaml:"link_mode" validate:"omitempty,oneof=sync pool deferred"`

	// Workers bounds the pool in pool mode. Zero means GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0,lte=1024"`

	// LinkTimeout bounds how long queries wait for linking, e.g. "30s".
	LinkTimeout string `yaml:"link_timeout"`

	// RuntimeCheck toggles the runtime double-check. Nil keeps the default.
	RuntimeCheck *bool `yaml:"runtime_check"`

	// EagerLink links both phases during construction.
	EagerLink bool `yaml:"eager_link"`

	// Include and Exclude are doublestar globs over binary names.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	GeneratedMarker string `yaml:"generated_marker"`
	MetaTypeSuffix  string `yaml:"meta_type_suffix"`
	MetaRootSuffix  string `yaml:"meta_root_suffix"`

	// SnapshotDir is where snapshots are persisted. Empty keeps them in memory.
	SnapshotDir string `yaml:"snapshot_dir"`
}

var validate = validator.New()

// Load reads scan.config.yaml from projectRoot.
//
// Description:
//
//	If projectRoot is empty or the file does not exist, returns the zero
//	config with no error. Returns an error only when the file exists but
//	cannot be read, parsed, or validated.
//
// Inputs:
//
//	projectRoot - Directory holding the config. May be empty. For a jar
//	              path, the jar's directory is searched.
//
// Outputs:
//
//	ScanConfig - The parsed config.
//	error - Non-nil if the file is unreadable, has invalid YAML, or fails
//	        validation (wrapping ErrInvalidConfig).
//
// Thread Safety: Safe for concurrent use (stateless function).
func Load(projectRoot string) (ScanConfig, error) {
	if projectRoot == "" {
		return ScanConfig{}, nil
	}
	if st, err := os.Stat(projectRoot); err == nil && !st.IsDir() {
		projectRoot = filepath.Dir(projectRoot)
	}

	data, err := os.ReadFile(filepath.Join(projectRoot, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return ScanConfig{}, nil
		}
		return ScanConfig{}, fmt.Errorf("reading %s: %w", FileName, err)
	}
	return Parse(data)
}

// Parse decodes and validates config bytes.
func Parse(data []byte) (ScanConfig, error) {
	var cfg ScanConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ScanConfig{}, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return ScanConfig{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c ScanConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.LinkTimeout != "" {
		d, err := time.ParseDuration(c.LinkTimeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: link_timeout %q", ErrInvalidConfig, c.LinkTimeout)
		}
	}
	if err := (archive.Filter{Include: c.Include, Exclude: c.Exclude}).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ArchiveOptions converts the config to archive options.
func (c ScanConfig) ArchiveOptions() []archive.Option {
	var opts []archive.Option
	if len(c.Include) > 0 {
		opts = append(opts, archive.WithInclude(c.Include...))
	}
	if len(c.Exclude) > 0 {
		opts = append(opts, archive.WithExclude(c.Exclude...))
	}
	if len(c.PlatformPrefixes) > 0 {
		opts = append(opts, archive.WithPlatformPrefixes(c.PlatformPrefixes...))
	}
	return opts
}

// FinderOptions converts the config to finder options. Unset fields keep
// the finder defaults. Call Validate first; invalid values are skipped.
func (c ScanConfig) FinderOptions(logger *slog.Logger) []finder.Option {
	var opts []finder.Option
	if logger != nil {
		opts = append(opts, finder.WithLogger(logger))
	}
	if mode, err := finder.ParseLinkMode(c.LinkMode); err == nil {
		opts = append(opts, finder.WithLinkMode(mode))
	}
	if c.Workers > 0 {
		opts = append(opts, finder.WithWorkers(c.Workers))
	}
	if d, err := time.ParseDuration(c.LinkTimeout); err == nil && d > 0 {
		opts = append(opts, finder.WithLinkTimeout(d))
	}
	if c.RuntimeCheck != nil {
		opts = append(opts, finder.WithRuntimeCheck(*c.RuntimeCheck))
	}
	if c.EagerLink {
		opts = append(opts, finder.WithEagerLink(true))
	}
	if len(c.PlatformPrefixes) > 0 {
		opts = append(opts, finder.WithPlatformPrefixes(c.PlatformPrefixes...))
	}
	if c.GeneratedMarker != "" {
		opts = append(opts, finder.WithGeneratedMarker(c.GeneratedMarker))
	}
	if c.MetaTypeSuffix != "" || c.MetaRootSuffix != "" {
		metaType, metaRoot := finder.DefaultMetaTypeSuffix, finder.DefaultMetaRootSuffix
		if c.MetaTypeSuffix != "" {
			metaType = c.MetaTypeSuffix
		}
		if c.MetaRootSuffix != "" {
			metaRoot = c.MetaRootSuffix
		}
		opts = append(opts, finder.WithMetaSuffixes(metaType, metaRoot))
	}
	return opts
}

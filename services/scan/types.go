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
	"github.com/AleutianAI/AleutianScan/services/scan/finder"
	"github.com/AleutianAI/AleutianScan/services/scan/snapshot"
)

// InitRequest is the request for POST /v1/scan/init.
type InitRequest struct {
	// ArchivePath is the absolute path to a class directory or jar.
	// Required.
	ArchivePath string `json:"archive_path" binding:"required"`

	// Libraries are extra archives consulted for supertypes only.
	Libraries []string `json:"libraries"`

	// LinkMode overrides scan.config.yaml. One of sync, pool, deferred.
	LinkMode string `json:"link_mode" binding:"omitempty,oneof=sync pool deferred"`

	// RuntimeCheck overrides scan.config.yaml when set.
	RuntimeCheck *bool `json:"runtime_check"`

	// Include and Exclude are appended to the configured globs.
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`

	// SnapshotID restores from a saved snapshot instead of scanning.
	// "latest" selects the newest snapshot of ArchivePath.
	SnapshotID string `json:"snapshot_id"`
}

// InitResponse is the response for POST /v1/scan/init.
type InitResponse struct {
	// FinderID is the unique identifier for this finder.
	FinderID string `json:"finder_id"`

	// IsRefresh indicates if this replaced an existing finder.
	IsRefresh bool `json:"is_refresh"`

	// Fingerprint is the archive content fingerprint at build time.
	Fingerprint string `json:"fingerprint"`

	// RestoredFrom is the snapshot ID when the finder came from a snapshot.
	RestoredFrom string `json:"restored_from,omitempty"`

	Stats finder.Stats `json:"stats"`

	// ClassesNotLoaded lists names that could not be read during the scan.
	ClassesNotLoaded []string `json:"classes_not_loaded"`

	BuildTimeMs int64 `json:"build_time_ms"`
}

// FinderSummary describes one cached finder.
type FinderSummary struct {
	FinderID     string       `json:"finder_id"`
	ArchivePath  string       `json:"archive_path"`
	Fingerprint  string       `json:"fingerprint"`
	BuiltAtMilli int64        `json:"built_at_milli"`
	Stats        finder.Stats `json:"stats"`
}

// ListFindersResponse is the response for GET /v1/scan/finders.
type ListFindersResponse struct {
	Finders []FinderSummary `json:"finders"`
}

// ClassResult is a class in a query response.
type ClassResult struct {
	Name        string   `json:"name"`
	Superclass  string   `json:"superclass,omitempty"`
	Interfaces  []string `json:"interfaces,omitempty"`
	Annotations []string `json:"annotations,omitempty"`
	Interface   bool     `json:"interface,omitempty"`
	Annotation  bool     `json:"annotation,omitempty"`
}

// MethodResult is a method or constructor in a query response.
type MethodResult struct {
	Class       string   `json:"class"`
	Name        string   `json:"name"`
	Descriptor  string   `json:"descriptor"`
	Parameters  []string `json:"parameters,omitempty"`
	Annotations []string `json:"annotations,omitempty"`
	Constructor bool     `json:"constructor,omitempty"`
}

// FieldResult is a field in a query response.
type FieldResult struct {
	Class       string   `json:"class"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Annotations []string `json:"annotations,omitempty"`
}

// ParameterResult is a method parameter in a query response.
type ParameterResult struct {
	Class       string   `json:"class"`
	Method      string   `json:"method"`
	Descriptor  string   `json:"descriptor"`
	Index       int      `json:"index"`
	Type        string   `json:"type"`
	Annotations []string `json:"annotations,omitempty"`
}

// PackageResult is an annotated package in a query response.
type PackageResult struct {
	Name        string   `json:"name"`
	Annotations []string `json:"annotations,omitempty"`
}

// QueryResponse is the response for every finder query endpoint.
//
// Exactly one of the result slices is populated, matching Kind.
// ClassesNotLoaded is always present, empty when every class resolved.
type QueryResponse struct {
	FinderID string `json:"finder_id,omitempty"`
	Kind     string `json:"kind"`
	Meta     bool   `json:"meta,omitempty"`
	Target   string `json:"target"`
	Count    int    `json:"count"`

	Classes    []ClassResult     `json:"classes,omitempty"`
	Methods    []MethodResult    `json:"methods,omitempty"`
	Fields     []FieldResult     `json:"fields,omitempty"`
	Parameters []ParameterResult `json:"parameters,omitempty"`
	Packages   []PackageResult   `json:"packages,omitempty"`

	ClassesNotLoaded []string `json:"classes_not_loaded"`
}

// SaveSnapshotRequest is the request for POST /v1/scan/snapshot.
type SaveSnapshotRequest struct {
	// FinderID selects the finder. Empty selects the newest.
	FinderID string `json:"finder_id"`

	// Label is an optional human-readable tag.
	Label string `json:"label" binding:"max=128"`
}

// ListSnapshotsResponse is the response for GET /v1/scan/snapshots.
type ListSnapshotsResponse struct {
	Snapshots []*snapshot.Metadata `json:"snapshots"`
	Count     int                  `json:"count"`
}

// InvalidateResponse is the response for DELETE /v1/scan/finders/:id.
type InvalidateResponse struct {
	FinderID string `json:"finder_id"`
	Removed  bool   `json:"removed"`
}

// HealthResponse is the response for GET /v1/scan/health.
type HealthResponse struct {
	// Status is "healthy" or "degraded".
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`

	FinderCount int  `json:"finder_count"`
	Snapshots   bool `json:"snapshots"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

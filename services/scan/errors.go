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

import "errors"

// Sentinel errors for the scan service.
var (
	// ErrFinderNotInitialized indicates no finder has been built for the archive.
	ErrFinderNotInitialized = errors.New("finder not initialized")

	// ErrFinderExpired indicates the cached finder outlived its TTL.
	ErrFinderExpired = errors.New("finder expired")

	// ErrFinderClosed indicates the finder was evicted while a request held it.
	ErrFinderClosed = errors.New("finder closed")

	// ErrRelativePath indicates the archive path was a relative path.
	ErrRelativePath = errors.New("archive path must be absolute path")

	// ErrPathTraversal indicates path contains .. traversal sequences or
	// lies outside the allowed roots.
	ErrPathTraversal = errors.New("path contains traversal sequences")

	// ErrInitInProgress indicates another init is already running for this archive.
	ErrInitInProgress = errors.New("initialization in progress")

	// ErrSnapshotsDisabled indicates no snapshot manager is configured.
	ErrSnapshotsDisabled = errors.New("snapshot persistence not configured")

	// ErrUnsupportedQuery indicates an unknown query kind or an invalid
	// kind and meta combination.
	ErrUnsupportedQuery = errors.New("unsupported query")

	// ErrMissingTarget indicates the query target name was empty.
	ErrMissingTarget = errors.New("query target is required")
)

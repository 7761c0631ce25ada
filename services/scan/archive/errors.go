// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive provides sources of JVM class files and a runtime view
// of the classes they define.
//
// An Archive yields the binary names it contains, opens the raw bytecode
// for a name, and loads a name into a *Class. Loading mirrors JVM
// linkage: the superclass and every interface must also load, otherwise
// the class fails with ErrClassNotFound. The runtime view carries only
// RUNTIME-retention annotations, so it can disagree with the bytecode
// index for CLASS-retention annotations.
//
// Concrete archives cover in-memory name lists (MemoryArchive), class
// directories (DirArchive), jar and zip files (JarArchive), and a primary
// archive backed by libraries (CompositeArchive).
//
// # Thread Safety
//
// Every archive in this package is safe for concurrent use.
package archive

import (
	"errors"
	"fmt"
)

// Sentinel errors for archive operations.
var (
	// ErrClassNotFound is returned when an archive has no bytecode for a
	// name, or when a class cannot be loaded because a supertype is missing.
	ErrClassNotFound = errors.New("class not found")

	// ErrCircularity is returned when a class is its own supertype.
	ErrCircularity = errors.New("class circularity")

	// ErrInvalidPattern is returned when an include or exclude glob is malformed.
	ErrInvalidPattern = errors.New("invalid glob pattern")

	// ErrUnsupportedArchive is returned by Open for paths that are neither
	// a directory nor a jar or zip file.
	ErrUnsupportedArchive = errors.New("unsupported archive")
)

// LoadError reports a class that could not be loaded.
type LoadError struct {
	// Name is the binary name that was being loaded.
	Name string

	// Err is the cause. It may itself be a *LoadError for a supertype.
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

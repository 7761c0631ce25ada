// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package finder answers annotation and type-hierarchy questions about the
// classes in an archive.
//
// A Finder is built in two phases. Construction lists every class in the
// archive, decodes it into a descriptor and files each annotation usage in
// the annotation index. A resolution pass then reads the definitions of the
// annotation types themselves so meta-annotations can be recognized.
// Subclass and implementation edges are linked later, either inline on the
// first query (LinkModeSync), on a bounded worker pool (LinkModePool) or on
// a single background goroutine (LinkModeDeferred).
//
// # Runtime Double-Check
//
// Descriptor-level matches are confirmed against the runtime view returned
// by the archive's class loader. A class whose runtime view cannot be
// produced is dropped from the result and its name is recorded in the
// not-loaded list returned by ClassesNotLoaded. The list is cleared at the
// start of every query.
//
// # Thread Safety
//
// A Finder is safe for concurrent queries once New returns. The
// not-loaded list is shared, so concurrent queries overwrite each other's
// diagnostics; callers that need exact diagnostics serialize queries.
package finder

import (
	"errors"
	"fmt"
)

// Sentinel errors for finder construction and parsing.
var (
	// ErrNilArchive is returned when New is called without an archive.
	ErrNilArchive = errors.New("archive must not be nil")

	// ErrStoreNotConcurrent is returned when a concurrent link mode is
	// combined with a store that is not safe for concurrent use.
	ErrStoreNotConcurrent = errors.New("link mode requires a concurrent store")

	// ErrBytecodeUnavailable indicates the archive could not supply the
	// bytes of a class. It is never fatal; the class is recorded as not
	// loaded.
	ErrBytecodeUnavailable = errors.New("bytecode unavailable")

	// ErrNameMismatch indicates a class file declares a different name
	// than the archive entry it was read from.
	ErrNameMismatch = errors.New("class file name does not match entry")
)

// ParseError reports a class whose bytes were fetched but could not be
// decoded. It is fatal during construction.
type ParseError struct {
	// Name is the binary name of the archive entry.
	Name string

	// Err is the decode failure.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Name, e.Err)
}

// Unwrap returns the decode failure.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classfile decodes the structural parts of JVM class files.
//
// The decoder reads the constant pool, the class header (this/super/
// interfaces), declared fields and methods, and the four annotation
// attributes (RuntimeVisible/RuntimeInvisible Annotations and their
// parameter variants). Code, stack maps, and every other attribute are
// skipped by length. Nothing is linked, verified, or executed.
//
// # Names
//
// All class names returned by this package are binary names with dots
// (com.acme.Outer$Inner), converted from the internal slash form used in
// the class file. Member descriptors are returned verbatim.
//
// # Thread Safety
//
// Parse and ParseBytes are stateless and safe for concurrent use. A
// returned *ClassFile is immutable by convention.
package classfile

import (
	"errors"
	"fmt"
)

// Sentinel errors for class-file decoding.
var (
	// ErrInvalidMagic is returned when the input does not start with 0xCAFEBABE.
	ErrInvalidMagic = errors.New("invalid class file magic")

	// ErrTruncated is returned when the input ends before a structure is complete.
	ErrTruncated = errors.New("truncated class file")

	// ErrInvalidConstant is returned when a constant pool entry has an
	// unknown tag or an index points at an entry of the wrong kind.
	ErrInvalidConstant = errors.New("invalid constant pool entry")

	// ErrInvalidDescriptor is returned when a field or method descriptor
	// does not follow the JVM descriptor grammar.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrTooLarge is returned when the input exceeds MaxClassFileSize.
	ErrTooLarge = errors.New("class file too large")
)

// DecodeError records where in the input decoding failed.
type DecodeError struct {
	// Offset is the byte offset at which the failing structure started.
	Offset int

	// Section names the structure being decoded ("constant_pool", "method", ...).
	Section string

	// Err is the underlying error, usually one of the sentinels above.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("classfile: %s at offset %d: %v", e.Section, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

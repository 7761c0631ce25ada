// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// CompositeArchive lists the names of a primary archive and resolves
// bytecode from the primary first, then from each library in order.
// Libraries act as the classpath the primary was compiled against.
type CompositeArchive struct {
	primary   Archive
	libraries []Archive
	loader    *Loader
}

// NewComposite creates a composite over primary and libraries.
//
// Inputs:
//
//	primary - The archive whose names are listed. Must not be nil.
//	libraries - Archives consulted for bytecode only.
//	prefixes - Platform prefixes for the composite loader; nil selects
//	           DefaultPlatformPrefixes.
func NewComposite(primary Archive, prefixes []string, libraries ...Archive) *CompositeArchive {
	a := &CompositeArchive{primary: primary, libraries: libraries}
	a.loader = NewLoader(a.Bytecode, prefixes)
	return a
}

// ClassNames implements Archive.
func (a *CompositeArchive) ClassNames(ctx context.Context) ([]string, error) {
	return a.primary.ClassNames(ctx)
}

// Bytecode implements Archive.
func (a *CompositeArchive) Bytecode(name string) (io.ReadCloser, error) {
	rc, err := a.primary.Bytecode(name)
	if err == nil || !errors.Is(err, ErrClassNotFound) {
		return rc, err
	}
	for _, lib := range a.libraries {
		rc, err := lib.Bytecode(name)
		if err == nil || !errors.Is(err, ErrClassNotFound) {
			return rc, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
}

// LoadClass implements Archive.
func (a *CompositeArchive) LoadClass(name string) (*Class, error) {
	return a.loader.Load(name)
}

// Close closes every member that implements io.Closer and joins the errors.
func (a *CompositeArchive) Close() error {
	var errs []error
	for _, member := range append([]Archive{a.primary}, a.libraries...) {
		if c, ok := member.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

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
	"archive/zip"
	"context"
	"fmt"
	"io"
)

// JarArchive serves class files from a jar, war, or zip file.
//
// Thread Safety:
//
//	Safe for concurrent use until Close. Each Bytecode call opens its
//	own entry reader.
type JarArchive struct {
	path    string
	zr      *zip.ReadCloser
	entries map[string]*zip.File
	names   []string
	filter  Filter
	loader  *Loader
}

// OpenJar opens the zip file at path and indexes its class entries.
//
// Outputs:
//
//	*JarArchive - The archive. Caller must Close it.
//	error - Non-nil if the file cannot be opened as a zip or a filter is malformed.
func OpenJar(path string, opts ...Option) (*JarArchive, error) {
	options, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening jar %s: %w", path, err)
	}

	a := &JarArchive{
		path:    path,
		zr:      zr,
		entries: make(map[string]*zip.File),
		filter:  options.Filter,
	}
	for _, f := range zr.File {
		name, ok := classNameFromPath(f.Name)
		if !ok {
			continue
		}
		if _, dup := a.entries[name]; dup {
			continue
		}
		a.entries[name] = f
		a.names = append(a.names, name)
	}
	a.loader = NewLoader(a.Bytecode, options.PlatformPrefixes)
	return a, nil
}

// Path returns the file this archive was opened from.
func (a *JarArchive) Path() string {
	return a.path
}

// ClassNames implements Archive. Names follow zip directory order.
func (a *JarArchive) ClassNames(ctx context.Context) ([]string, error) {
	return listChecked(ctx, a.names, a.filter)
}

// Bytecode implements Archive.
func (a *JarArchive) Bytecode(name string) (io.ReadCloser, error) {
	f, ok := a.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s in %s: %w", f.Name, a.path, err)
	}
	return rc, nil
}

// LoadClass implements Archive.
func (a *JarArchive) LoadClass(name string) (*Class, error) {
	return a.loader.Load(name)
}

// Close releases the underlying zip file.
func (a *JarArchive) Close() error {
	return a.zr.Close()
}

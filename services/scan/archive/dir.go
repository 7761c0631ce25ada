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
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
)

// DirArchive serves class files from a directory tree laid out by package,
// as produced by javac -d.
type DirArchive struct {
	root   string
	filter Filter
	loader *Loader
}

// OpenDir creates an archive rooted at dir.
//
// Outputs:
//
//	*DirArchive - The archive. Close is a no-op.
//	error - Non-nil if dir is not a directory or a filter is malformed.
func OpenDir(dir string, opts ...Option) (*DirArchive, error) {
	options, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrUnsupportedArchive, abs)
	}

	a := &DirArchive{root: abs, filter: options.Filter}
	a.loader = NewLoader(a.Bytecode, options.PlatformPrefixes)
	return a, nil
}

// Root returns the absolute directory this archive serves.
func (a *DirArchive) Root() string {
	return a.root
}

// ClassNames implements Archive. Names are sorted.
func (a *DirArchive) ClassNames(ctx context.Context) ([]string, error) {
	var names []string
	count := 0
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		count++
		if count%nameCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.root, path)
		if err != nil {
			return err
		}
		if name, ok := classNameFromPath(filepath.ToSlash(rel)); ok {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", a.root, err)
	}
	sort.Strings(names)
	return listChecked(ctx, names, a.filter)
}

// Bytecode implements Archive.
func (a *DirArchive) Bytecode(name string) (io.ReadCloser, error) {
	path := filepath.Join(a.root, filepath.FromSlash(classfile.InternalName(name))+".class")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

// LoadClass implements Archive.
func (a *DirArchive) LoadClass(name string) (*Class, error) {
	return a.loader.Load(name)
}

// Close implements io.Closer. It is a no-op.
func (a *DirArchive) Close() error {
	return nil
}

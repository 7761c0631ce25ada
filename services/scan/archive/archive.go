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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// nameCheckInterval is how often ClassNames checks for context cancellation.
const nameCheckInterval = 1000

// Archive is a source of class files.
type Archive interface {
	// ClassNames returns the binary names listed by the archive, in a
	// stable order. Each call starts a fresh listing.
	ClassNames(ctx context.Context) ([]string, error)

	// Bytecode opens the class file for name. The caller must close it.
	// Returns an error wrapping ErrClassNotFound when name is absent.
	Bytecode(name string) (io.ReadCloser, error)

	// LoadClass returns the linked runtime view of name.
	LoadClass(name string) (*Class, error)
}

// ClosableArchive is an Archive holding resources that must be released.
type ClosableArchive interface {
	Archive
	io.Closer
}

// Options configures the archives in this package.
type Options struct {
	// Filter restricts which names ClassNames lists.
	Filter Filter

	// PlatformPrefixes are the names the loader stubs when absent.
	// Default: DefaultPlatformPrefixes.
	PlatformPrefixes []string
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		PlatformPrefixes: DefaultPlatformPrefixes,
	}
}

// Option is a functional option for configuring archives.
type Option func(*Options)

// WithInclude appends include globs.
func WithInclude(patterns ...string) Option {
	return func(o *Options) {
		o.Filter.Include = append(o.Filter.Include, patterns...)
	}
}

// WithExclude appends exclude globs.
func WithExclude(patterns ...string) Option {
	return func(o *Options) {
		o.Filter.Exclude = append(o.Filter.Exclude, patterns...)
	}
}

// WithPlatformPrefixes replaces the platform prefixes.
func WithPlatformPrefixes(prefixes ...string) Option {
	return func(o *Options) {
		o.PlatformPrefixes = prefixes
	}
}

func buildOptions(opts []Option) (Options, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if err := options.Filter.Validate(); err != nil {
		return Options{}, err
	}
	return options, nil
}

// Open returns an archive for a class directory or a jar/zip file.
//
// Description:
//
//	Directories are scanned for .class files; files ending in .jar, .war,
//	or .zip are opened as zip archives.
//
// Outputs:
//
//	ClosableArchive - The archive. Caller must Close it.
//	error - ErrUnsupportedArchive for other paths, ErrInvalidPattern for
//	        bad filters, or the underlying I/O error.
func Open(path string, opts ...Option) (ClosableArchive, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat archive %s: %w", path, err)
	}
	if info.IsDir() {
		return OpenDir(path, opts...)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jar", ".war", ".zip":
		return OpenJar(path, opts...)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedArchive, path)
}

// classNameFromPath converts a slash-separated entry path ending in
// .class to a binary name. Returns false for non-class entries and for
// module-info.
func classNameFromPath(path string) (string, bool) {
	if !strings.HasSuffix(path, ".class") {
		return "", false
	}
	internal := strings.TrimSuffix(path, ".class")
	if internal == "module-info" || strings.HasSuffix(internal, "/module-info") {
		return "", false
	}
	if strings.HasPrefix(internal, "META-INF/") {
		return "", false
	}
	return strings.ReplaceAll(internal, "/", "."), true
}

// listChecked filters names, checking ctx every nameCheckInterval entries.
func listChecked(ctx context.Context, names []string, f Filter) ([]string, error) {
	out := make([]string, 0, len(names))
	for i, n := range names {
		if i%nameCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if f.Allows(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

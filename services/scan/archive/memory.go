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
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryArchive is an explicit list of class names with in-memory bytecode.
//
// Description:
//
//	Names are listed in the order they were first added. A name may be
//	listed without bytecode (AddName), which models an archive entry whose
//	stream cannot be opened. Bytecode may also be registered without
//	listing the name (PutHidden), which models a library class reachable
//	only through loading.
//
// Thread Safety:
//
//	Safe for concurrent use. Add all entries before the first LoadClass;
//	the loader caches misses.
type MemoryArchive struct {
	mu      sync.RWMutex
	names   []string
	listed  map[string]bool
	classes map[string][]byte
	filter  Filter
	loader  *Loader
}

// NewMemoryArchive creates an empty archive.
//
// Options that fail validation are ignored; use archive.Filter.Validate
// beforehand when patterns come from user input.
func NewMemoryArchive(opts ...Option) *MemoryArchive {
	options, err := buildOptions(opts)
	if err != nil {
		options = DefaultOptions()
	}
	a := &MemoryArchive{
		listed:  make(map[string]bool),
		classes: make(map[string][]byte),
		filter:  options.Filter,
	}
	a.loader = NewLoader(a.Bytecode, options.PlatformPrefixes)
	return a
}

// Put lists name and stores its bytecode.
func (a *MemoryArchive) Put(name string, data []byte) *MemoryArchive {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listLocked(name)
	a.classes[name] = data
	return a
}

// PutHidden stores bytecode for name without listing it.
func (a *MemoryArchive) PutHidden(name string, data []byte) *MemoryArchive {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.classes[name] = data
	return a
}

// AddName lists name without bytecode.
func (a *MemoryArchive) AddName(name string) *MemoryArchive {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listLocked(name)
	return a
}

// listLocked appends name once. Caller must hold a.mu.
func (a *MemoryArchive) listLocked(name string) {
	if !a.listed[name] {
		a.listed[name] = true
		a.names = append(a.names, name)
	}
}

// ClassNames implements Archive.
func (a *MemoryArchive) ClassNames(ctx context.Context) ([]string, error) {
	a.mu.RLock()
	names := make([]string, len(a.names))
	copy(names, a.names)
	a.mu.RUnlock()
	return listChecked(ctx, names, a.filter)
}

// Bytecode implements Archive.
func (a *MemoryArchive) Bytecode(name string) (io.ReadCloser, error) {
	a.mu.RLock()
	data, ok := a.classes[name]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// LoadClass implements Archive.
func (a *MemoryArchive) LoadClass(name string) (*Class, error) {
	return a.loader.Load(name)
}

// Close implements io.Closer. It is a no-op.
func (a *MemoryArchive) Close() error {
	return nil
}

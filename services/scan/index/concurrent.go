// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"sync"

	"github.com/AleutianAI/AleutianScan/services/scan/info"
)

// concurrentStore guards an arenaStore with a read-write mutex.
//
// Thread Safety:
//
//	Safe for concurrent use. Writes (Put*, Add*) take the exclusive lock;
//	reads take the shared lock.
type concurrentStore struct {
	mu    sync.RWMutex
	arena *arenaStore
}

// NewConcurrentStore returns a Store that is safe for concurrent use.
//
// Description:
//
//	Required by the pool and deferred link modes, where linking tasks
//	write edges and out-of-band descriptors while queries read.
//
// Example:
//
//	store := index.NewConcurrentStore()
//	f, err := finder.New(ctx, arc, finder.WithStore(store), finder.WithLinkMode(finder.LinkModePool))
func NewConcurrentStore() Store {
	return &concurrentStore{arena: newArena()}
}

func (s *concurrentStore) Class(name string) (*info.ClassInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arena.Class(name)
}

func (s *concurrentStore) PutClass(ci *info.ClassInfo) (*info.ClassInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arena.PutClass(ci)
}

func (s *concurrentStore) Classes() []*info.ClassInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arena.Classes()
}

func (s *concurrentStore) ClassCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arena.ClassCount()
}

func (s *concurrentStore) AddAnnotated(annotation string, target info.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arena.AddAnnotated(annotation, target)
}

func (s *concurrentStore) Annotated(annotation string) []info.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arena.Annotated(annotation)
}

func (s *concurrentStore) AnnotationTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arena.AnnotationTypes()
}

func (s *concurrentStore) PutPackage(pkg *info.PackageInfo) (*info.PackageInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arena.PutPackage(pkg)
}

func (s *concurrentStore) Packages() []*info.PackageInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arena.Packages()
}

func (s *concurrentStore) AddSubclass(parent, child string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arena.AddSubclass(parent, child)
}

func (s *concurrentStore) Subclasses(parent string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arena.Subclasses(parent)
}

func (s *concurrentStore) AddImplementor(iface, impl string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arena.AddImplementor(iface, impl)
}

func (s *concurrentStore) Implementors(iface string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arena.Implementors(iface)
}

func (s *concurrentStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arena.Stats()
}

// IsConcurrent reports whether s is safe for concurrent use.
func IsConcurrent(s Store) bool {
	_, ok := s.(*concurrentStore)
	return ok
}

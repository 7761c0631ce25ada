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
	"github.com/AleutianAI/AleutianScan/services/scan/info"
)

// arenaStore is the unsynchronized Store.
//
// Thread Safety:
//
//	NOT safe for concurrent use. Owned by one goroutine or externally
//	synchronized (see concurrentStore).
type arenaStore struct {
	byName    map[string]*info.ClassInfo
	order     []*info.ClassInfo
	annotated map[string][]info.Info
	annOrder  []string
	annTotal  int
	packages  map[string]*info.PackageInfo
	pkgOrder  []*info.PackageInfo
	subs      edgeSet
	impls     edgeSet
}

// NewArenaStore returns a Store backed by plain maps.
//
// Description:
//
//	Use for finders that build and query on a single goroutine. The
//	finder selects this store for the synchronous link mode.
//
// Thread Safety:
//
//	NOT safe for concurrent use.
func NewArenaStore() Store {
	return newArena()
}

func newArena() *arenaStore {
	return &arenaStore{
		byName:    make(map[string]*info.ClassInfo),
		annotated: make(map[string][]info.Info),
		packages:  make(map[string]*info.PackageInfo),
		subs:      newEdgeSet(),
		impls:     newEdgeSet(),
	}
}

func (s *arenaStore) Class(name string) (*info.ClassInfo, bool) {
	ci, ok := s.byName[name]
	return ci, ok
}

func (s *arenaStore) PutClass(ci *info.ClassInfo) (*info.ClassInfo, bool) {
	if existing, ok := s.byName[ci.Name]; ok {
		return existing, false
	}
	s.byName[ci.Name] = ci
	s.order = append(s.order, ci)
	return ci, true
}

func (s *arenaStore) Classes() []*info.ClassInfo {
	out := make([]*info.ClassInfo, len(s.order))
	copy(out, s.order)
	return out
}

func (s *arenaStore) ClassCount() int {
	return len(s.order)
}

func (s *arenaStore) AddAnnotated(annotation string, target info.Info) {
	if _, ok := s.annotated[annotation]; !ok {
		s.annOrder = append(s.annOrder, annotation)
	}
	s.annotated[annotation] = append(s.annotated[annotation], target)
	s.annTotal++
}

func (s *arenaStore) Annotated(annotation string) []info.Info {
	src := s.annotated[annotation]
	if len(src) == 0 {
		return nil
	}
	out := make([]info.Info, len(src))
	copy(out, src)
	return out
}

func (s *arenaStore) AnnotationTypes() []string {
	out := make([]string, len(s.annOrder))
	copy(out, s.annOrder)
	return out
}

func (s *arenaStore) PutPackage(pkg *info.PackageInfo) (*info.PackageInfo, bool) {
	if existing, ok := s.packages[pkg.Name]; ok {
		return existing, false
	}
	s.packages[pkg.Name] = pkg
	s.pkgOrder = append(s.pkgOrder, pkg)
	return pkg, true
}

func (s *arenaStore) Packages() []*info.PackageInfo {
	out := make([]*info.PackageInfo, len(s.pkgOrder))
	copy(out, s.pkgOrder)
	return out
}

func (s *arenaStore) AddSubclass(parent, child string) bool {
	return s.subs.add(parent, child)
}

func (s *arenaStore) Subclasses(parent string) []string {
	return s.subs.get(parent)
}

func (s *arenaStore) AddImplementor(iface, impl string) bool {
	return s.impls.add(iface, impl)
}

func (s *arenaStore) Implementors(iface string) []string {
	return s.impls.get(iface)
}

func (s *arenaStore) Stats() Stats {
	return Stats{
		Classes:           len(s.order),
		AnnotationTypes:   len(s.annOrder),
		AnnotatedElements: s.annTotal,
		Packages:          len(s.pkgOrder),
		SubclassEdges:     s.subs.total,
		ImplementorEdges:  s.impls.total,
	}
}

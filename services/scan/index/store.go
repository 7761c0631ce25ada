// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index stores the descriptor graph built by the finder.
//
// A Store holds three things: the class map (name → *info.ClassInfo,
// insertion-ordered), the annotation index (annotation type → annotated
// descriptors, insertion-ordered), and the link edges (parent → subclass
// names, interface → implementor names). Edges are name-based and
// idempotent, so re-running a linking pass never duplicates them.
//
// # Implementations
//
// NewArenaStore returns plain maps for single-goroutine construction and
// querying. NewConcurrentStore wraps the same maps in a sync.RWMutex for
// finders whose linking passes run on worker goroutines.
//
// # Ownership Model
//
// The store owns its descriptors. Slices returned by accessors are
// copies; the descriptors they point at are shared and must not be
// mutated.
package index

import (
	"github.com/AleutianAI/AleutianScan/services/scan/info"
)

// Store is the descriptor graph storage used by the finder.
type Store interface {
	// Class returns the descriptor for a binary name.
	Class(name string) (*info.ClassInfo, bool)

	// PutClass stores ci unless its name is already present. It returns
	// the stored descriptor and true when ci was inserted, or the
	// existing descriptor and false otherwise.
	PutClass(ci *info.ClassInfo) (*info.ClassInfo, bool)

	// Classes returns every descriptor in insertion order.
	Classes() []*info.ClassInfo

	// ClassCount returns the number of stored descriptors.
	ClassCount() int

	// AddAnnotated appends target to the bucket for annotation.
	AddAnnotated(annotation string, target info.Info)

	// Annotated returns the bucket for annotation in insertion order.
	Annotated(annotation string) []info.Info

	// AnnotationTypes returns every annotation type with a bucket, in
	// first-seen order.
	AnnotationTypes() []string

	// PutPackage stores pkg unless its name is already present.
	PutPackage(pkg *info.PackageInfo) (*info.PackageInfo, bool)

	// Packages returns package descriptors in insertion order.
	Packages() []*info.PackageInfo

	// AddSubclass records child as a direct subclass of parent. Returns
	// false when the edge already existed.
	AddSubclass(parent, child string) bool

	// Subclasses returns the direct subclasses of parent in registration order.
	Subclasses(parent string) []string

	// AddImplementor records impl as directly implementing (or, for an
	// interface, extending) iface. Returns false when the edge already existed.
	AddImplementor(iface, impl string) bool

	// Implementors returns direct implementors of iface in registration order.
	Implementors(iface string) []string

	// Stats returns counts for diagnostics.
	Stats() Stats
}

// Stats contains counts describing a Store.
type Stats struct {
	Classes           int `json:"classes"`
	AnnotationTypes   int `json:"annotation_types"`
	AnnotatedElements int `json:"annotated_elements"`
	Packages          int `json:"packages"`
	SubclassEdges     int `json:"subclass_edges"`
	ImplementorEdges  int `json:"implementor_edges"`
}

// edgeSet is an insertion-ordered set of names per key.
type edgeSet struct {
	order map[string][]string
	seen  map[string]map[string]bool
	total int
}

func newEdgeSet() edgeSet {
	return edgeSet{
		order: make(map[string][]string),
		seen:  make(map[string]map[string]bool),
	}
}

func (e *edgeSet) add(from, to string) bool {
	set := e.seen[from]
	if set == nil {
		set = make(map[string]bool)
		e.seen[from] = set
	}
	if set[to] {
		return false
	}
	set[to] = true
	e.order[from] = append(e.order[from], to)
	e.total++
	return true
}

func (e *edgeSet) get(from string) []string {
	src := e.order[from]
	if len(src) == 0 {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

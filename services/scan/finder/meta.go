// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package finder

import (
	"strings"

	"github.com/AleutianAI/AleutianScan/services/scan/info"
)

const (
	objectName     = "java.lang.Object"
	annotationName = "java.lang.annotation.Annotation"
)

// isAnnotationShape reports whether ci has the header every annotation
// interface compiles to: superclass Object and exactly one interface,
// java.lang.annotation.Annotation.
func isAnnotationShape(ci *info.ClassInfo) bool {
	return ci.SuperName == objectName &&
		len(ci.Interfaces) == 1 &&
		ci.Interfaces[0] == annotationName
}

// isSelfAnnotated reports whether ci is an annotation named simpleName (in
// any package) that carries itself.
func isSelfAnnotated(ci *info.ClassInfo, simpleName string) bool {
	if !isAnnotationShape(ci) {
		return false
	}
	if ci.Name != simpleName && !strings.HasSuffix(ci.Name, "."+simpleName) {
		return false
	}
	return ci.HasAnnotation(ci.Name)
}

// isMetaRoot reports whether ci is a meta-annotation marker: an annotation
// whose presence on another annotation makes that annotation a
// meta-annotation.
//
// ci qualifies when it is the canonical Metatype, a self-annotated
// Metatype declared elsewhere, or an annotation carrying the canonical
// Metaroot or a self-annotated Metaroot. A self-annotated Metaroot is
// never itself a meta root.
func (f *Finder) isMetaRoot(ci *info.ClassInfo) bool {
	if !isAnnotationShape(ci) {
		return false
	}
	if ci.Name == f.opts.MetaTypeName {
		return true
	}
	if isSelfAnnotated(ci, f.opts.MetaTypeSuffix) {
		return true
	}
	if isSelfAnnotated(ci, f.opts.MetaRootSuffix) {
		return false
	}
	for _, a := range ci.Annotations {
		if a.Type == f.opts.MetaRootName {
			return true
		}
		ann, ok := f.annotationType(a.Type)
		if !ok {
			continue
		}
		if isSelfAnnotated(ann, f.opts.MetaRootSuffix) {
			return true
		}
	}
	return false
}

// metaAnnotationName returns the annotation whose usages ci stands in
// for, or "" when ci is not a meta-annotation.
//
// An annotation carrying a meta root stands in for itself. A generated
// holder named Base+marker stands in for Base.
func (f *Finder) metaAnnotationName(ci *info.ClassInfo) string {
	if marker := f.opts.GeneratedMarker; marker != "" && strings.HasSuffix(ci.Name, marker) {
		base := strings.TrimSuffix(ci.Name, marker)
		if _, err := f.parse(base); err == nil {
			return base
		}
		return ""
	}
	if !isAnnotationShape(ci) {
		return ""
	}
	for _, a := range ci.Annotations {
		if a.Type == f.opts.MetaTypeName {
			return ci.Name
		}
		root, ok := f.annotationType(a.Type)
		if !ok {
			continue
		}
		if f.isMetaRoot(root) {
			return ci.Name
		}
	}
	return ""
}

// annotationType returns the descriptor for an annotation type, decoding
// it on demand. Platform types that were not resolved during construction
// are not retried. Other failures are recorded as not loaded.
func (f *Finder) annotationType(name string) (*info.ClassInfo, bool) {
	if ci, ok := f.store.Class(name); ok {
		return ci, true
	}
	if f.isPlatform(name) {
		return nil, false
	}
	ci, err := f.parse(name)
	if err != nil {
		f.recordNotLoaded(name)
		return nil, false
	}
	return ci, true
}

// walkMeta visits every bucket entry for root and, transitively, for each
// meta-annotation found in those buckets. Each annotation is expanded at
// most once, so self-annotated and cyclic meta chains terminate.
func (f *Finder) walkMeta(root string, visit func(annotation string, target info.Info)) {
	seen := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		ann := queue[0]
		queue = queue[1:]
		for _, target := range f.store.Annotated(ann) {
			if ci, ok := target.(*info.ClassInfo); ok {
				if meta := f.metaAnnotationName(ci); meta != "" && !seen[meta] {
					seen[meta] = true
					queue = append(queue, meta)
				}
			}
			visit(ann, target)
		}
	}
}

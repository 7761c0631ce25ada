// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package info

import (
	"strings"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
)

// IsPackageInfo reports whether name is a package-info holder class.
func IsPackageInfo(name string) bool {
	return name == PackageInfoSuffix || strings.HasSuffix(name, "."+PackageInfoSuffix)
}

// NewClassInfo builds the descriptor tree for a decoded class file.
//
// Description:
//
//	Copies header data, creates one MethodInfo per declared method except
//	static initializers, one FieldInfo per field, and one ParameterInfo
//	per parameter position that carries annotations. Every annotation
//	usage becomes an AnnotationInfo pointing at its target.
//
// Inputs:
//
//	cf - The decoded class file. Must not be nil. Retained as Source.
//
// Outputs:
//
//	*ClassInfo - The descriptor. Its runtime handle is unresolved.
func NewClassInfo(cf *classfile.ClassFile) *ClassInfo {
	ci := &ClassInfo{
		Name:       cf.Name,
		SuperName:  cf.SuperName,
		Interfaces: append([]string(nil), cf.Interfaces...),
		Access:     cf.Access,
		Package:    classfile.PackageName(cf.Name),
		Source:     cf,
	}
	ci.Annotations = usages(cf.Annotations, ci)

	for _, f := range cf.Fields {
		fi := &FieldInfo{Declaring: ci, Name: f.Name, Descriptor: f.Descriptor, Access: f.Access}
		fi.Annotations = usages(f.Annotations, fi)
		ci.Fields = append(ci.Fields, fi)
	}

	for _, m := range cf.Methods {
		if m.Name == classfile.StaticInitializerName {
			continue
		}
		mi := &MethodInfo{Declaring: ci, Name: m.Name, Descriptor: m.Descriptor, Access: m.Access}
		mi.Annotations = usages(m.Annotations, mi)
		for idx, anns := range m.ParameterAnnotations {
			if len(anns) == 0 {
				continue
			}
			pi := &ParameterInfo{Method: mi, Index: idx}
			pi.Annotations = usages(anns, pi)
			mi.Parameters = append(mi.Parameters, pi)
		}
		ci.Methods = append(ci.Methods, mi)
	}

	return ci
}

// NewPackageInfo wraps a package-info holder as a package descriptor.
// The annotation usages are re-targeted at the package.
func NewPackageInfo(holder *ClassInfo) *PackageInfo {
	pkg := &PackageInfo{Name: holder.Package, Holder: holder}
	for _, a := range holder.Annotations {
		pkg.Annotations = append(pkg.Annotations, &AnnotationInfo{Type: a.Type, Visible: a.Visible, Target: pkg})
	}
	return pkg
}

func usages(anns []classfile.Annotation, target Info) []*AnnotationInfo {
	if len(anns) == 0 {
		return nil
	}
	out := make([]*AnnotationInfo, len(anns))
	for i, a := range anns {
		out[i] = &AnnotationInfo{Type: a.Type, Visible: a.Visible, Target: target}
	}
	return out
}

// Walk calls fn for every annotation usage declared anywhere in ci: on
// the class, its fields, its methods, and their parameters.
func Walk(ci *ClassInfo, fn func(*AnnotationInfo)) {
	for _, a := range ci.Annotations {
		fn(a)
	}
	for _, f := range ci.Fields {
		for _, a := range f.Annotations {
			fn(a)
		}
	}
	for _, m := range ci.Methods {
		for _, a := range m.Annotations {
			fn(a)
		}
		for _, p := range m.Parameters {
			for _, a := range p.Annotations {
				fn(a)
			}
		}
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package info defines the bytecode-derived descriptor model.
//
// Descriptors are built from decoded class files without loading them.
// The model is a closed set of kinds: ClassInfo, MethodInfo (constructors
// included, named "<init>"), FieldInfo, ParameterInfo, AnnotationInfo, and
// PackageInfo. All implement Info; the unexported marker method keeps the
// set closed to this package.
//
// # Ownership Model
//
// A ClassInfo owns its members. Members point back at their declaring
// class. Graph edges between classes (superclass, interfaces, subclasses)
// are held as names, never as pointers, and are resolved through an
// index store.
//
// Every descriptor except AnnotationInfo has a memoized runtime handle.
// The first Resolve call loads it; the result, success or failure, is
// kept for the descriptor's lifetime.
//
// # Thread Safety
//
// Descriptors are immutable after construction apart from their
// memoized handles, which are safe for concurrent use.
package info

import (
	"errors"
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianScan/services/scan/archive"
	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
)

// ErrMemberNotFound is returned when a loaded class has no runtime
// member matching a descriptor.
var ErrMemberNotFound = errors.New("member not found in loaded class")

// Kind discriminates descriptor variants.
type Kind int

const (
	KindClass Kind = iota + 1
	KindMethod
	KindField
	KindParameter
	KindAnnotation
	KindPackage
)

// String returns the lowercase variant name.
func (k Kind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindMethod:
		return "method"
	case KindField:
		return "field"
	case KindParameter:
		return "parameter"
	case KindAnnotation:
		return "annotation"
	case KindPackage:
		return "package"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// PackageInfoSuffix is the simple name of package annotation holders.
const PackageInfoSuffix = "package-info"

// Info is implemented by every descriptor kind.
type Info interface {
	// Kind returns the variant.
	Kind() Kind

	// Key returns an identity string unique within one index.
	Key() string

	// Usages returns the annotation usages declared on the element.
	Usages() []*AnnotationInfo

	isInfo()
}

// Loader resolves a binary class name to its runtime view.
type Loader func(name string) (*archive.Class, error)

// ClassInfo describes one class, interface, enum, or annotation type.
type ClassInfo struct {
	Name        string
	SuperName   string
	Interfaces  []string
	Access      classfile.AccessFlags
	Package     string
	Annotations []*AnnotationInfo
	Methods     []*MethodInfo
	Fields      []*FieldInfo

	// Source is the decoded class file the descriptor was built from.
	Source *classfile.ClassFile

	resolved Lazy[*archive.Class]
}

// MethodInfo describes a method or constructor.
type MethodInfo struct {
	Declaring   *ClassInfo
	Name        string
	Descriptor  string
	Access      classfile.AccessFlags
	Annotations []*AnnotationInfo
	Parameters  []*ParameterInfo

	resolved Lazy[*archive.Method]
}

// FieldInfo describes a field.
type FieldInfo struct {
	Declaring   *ClassInfo
	Name        string
	Descriptor  string
	Access      classfile.AccessFlags
	Annotations []*AnnotationInfo

	resolved Lazy[*archive.Field]
}

// ParameterInfo describes one annotated formal parameter.
type ParameterInfo struct {
	Method      *MethodInfo
	Index       int
	Annotations []*AnnotationInfo

	resolved Lazy[*archive.Parameter]
}

// AnnotationInfo records that Target carries an annotation of Type.
type AnnotationInfo struct {
	// Type is the binary name of the annotation interface.
	Type string

	// Visible is true for RUNTIME retention.
	Visible bool

	// Target is the annotated descriptor.
	Target Info
}

// PackageInfo describes the annotations declared in a package-info class.
type PackageInfo struct {
	Name        string
	Annotations []*AnnotationInfo

	// Holder is the package-info class the annotations were read from.
	Holder *ClassInfo
}

func (*ClassInfo) isInfo()      {}
func (*MethodInfo) isInfo()     {}
func (*FieldInfo) isInfo()      {}
func (*ParameterInfo) isInfo()  {}
func (*AnnotationInfo) isInfo() {}
func (*PackageInfo) isInfo()    {}

func (*ClassInfo) Kind() Kind      { return KindClass }
func (*MethodInfo) Kind() Kind     { return KindMethod }
func (*FieldInfo) Kind() Kind      { return KindField }
func (*ParameterInfo) Kind() Kind  { return KindParameter }
func (*AnnotationInfo) Kind() Kind { return KindAnnotation }
func (*PackageInfo) Kind() Kind    { return KindPackage }

func (c *ClassInfo) Key() string { return c.Name }

func (m *MethodInfo) Key() string { return m.Declaring.Name + "#" + m.Name + m.Descriptor }

func (f *FieldInfo) Key() string { return f.Declaring.Name + "." + f.Name }

func (p *ParameterInfo) Key() string { return fmt.Sprintf("%s@%d", p.Method.Key(), p.Index) }

func (a *AnnotationInfo) Key() string { return a.Target.Key() + "@" + a.Type }

func (p *PackageInfo) Key() string { return p.Name + "." + PackageInfoSuffix }

func (c *ClassInfo) Usages() []*AnnotationInfo      { return c.Annotations }
func (m *MethodInfo) Usages() []*AnnotationInfo     { return m.Annotations }
func (f *FieldInfo) Usages() []*AnnotationInfo      { return f.Annotations }
func (p *ParameterInfo) Usages() []*AnnotationInfo  { return p.Annotations }
func (a *AnnotationInfo) Usages() []*AnnotationInfo { return nil }
func (p *PackageInfo) Usages() []*AnnotationInfo    { return p.Annotations }

// IsInterface reports whether the class is an interface or annotation type.
func (c *ClassInfo) IsInterface() bool { return c.Access.IsInterface() }

// IsAnnotation reports whether the class is an annotation type.
func (c *ClassInfo) IsAnnotation() bool { return c.Access.IsAnnotation() }

// SimpleName returns the name after the last dot.
func (c *ClassInfo) SimpleName() string { return classfile.SimpleName(c.Name) }

// HasAnnotation reports whether the class itself carries type, at any retention.
func (c *ClassInfo) HasAnnotation(annotation string) bool {
	return slices.ContainsFunc(c.Annotations, func(a *AnnotationInfo) bool { return a.Type == annotation })
}

// Constructors returns the methods named "<init>".
func (c *ClassInfo) Constructors() []*MethodInfo {
	var out []*MethodInfo
	for _, m := range c.Methods {
		if m.IsConstructor() {
			out = append(out, m)
		}
	}
	return out
}

// IsConstructor reports whether the method is an instance initializer.
func (m *MethodInfo) IsConstructor() bool { return m.Name == classfile.ConstructorName }

// Resolve returns the memoized runtime class, loading it with load on
// first use.
func (c *ClassInfo) Resolve(load Loader) (*archive.Class, error) {
	return c.resolved.Get(func() (*archive.Class, error) {
		return load(c.Name)
	})
}

// LoadFailed reports whether a previous Resolve failed.
func (c *ClassInfo) LoadFailed() bool {
	return c.resolved.Failed()
}

// Resolve returns the memoized runtime method.
func (m *MethodInfo) Resolve(load Loader) (*archive.Method, error) {
	return m.resolved.Get(func() (*archive.Method, error) {
		cls, err := m.Declaring.Resolve(load)
		if err != nil {
			return nil, err
		}
		rm := cls.Method(m.Name, m.Descriptor)
		if rm == nil {
			return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, m.Key())
		}
		return rm, nil
	})
}

// Resolve returns the memoized runtime field.
func (f *FieldInfo) Resolve(load Loader) (*archive.Field, error) {
	return f.resolved.Get(func() (*archive.Field, error) {
		cls, err := f.Declaring.Resolve(load)
		if err != nil {
			return nil, err
		}
		rf := cls.Field(f.Name)
		if rf == nil {
			return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, f.Key())
		}
		return rf, nil
	})
}

// Resolve returns the memoized runtime parameter.
func (p *ParameterInfo) Resolve(load Loader) (*archive.Parameter, error) {
	return p.resolved.Get(func() (*archive.Parameter, error) {
		rm, err := p.Method.Resolve(load)
		if err != nil {
			return nil, err
		}
		params := rm.Parameters()
		if p.Index >= len(params) {
			return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, p.Key())
		}
		return params[p.Index], nil
	})
}

// Resolve returns the runtime view of the package-info holder.
func (p *PackageInfo) Resolve(load Loader) (*archive.Class, error) {
	return p.Holder.Resolve(load)
}

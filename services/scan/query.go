// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scan

import (
	"context"
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianScan/services/scan/archive"
	"github.com/AleutianAI/AleutianScan/services/scan/finder"
	"github.com/AleutianAI/AleutianScan/services/scan/info"
)

// Query kinds accepted by RunQuery.
const (
	KindClasses         = "classes"
	KindMethods         = "methods"
	KindConstructors    = "constructors"
	KindFields          = "fields"
	KindParameters      = "parameters"
	KindPackages        = "packages"
	KindSubclasses      = "subclasses"
	KindImplementations = "implementations"
	KindPackage         = "package"
)

// Query selects one finder operation.
type Query struct {
	// Kind is one of the Kind* constants.
	Kind string

	// Meta selects the meta-annotated variant. Valid for classes,
	// methods, constructors, and fields.
	Meta bool

	// Target is the annotation, class, interface, or package name.
	Target string

	// Recursive includes subpackages for KindPackage.
	Recursive bool
}

// RunQuery executes q against f and converts the results.
//
// Description:
//
//	Dispatches to the matching Finder method. ClassesNotLoaded is read
//	right after the query returns, so it reflects this query unless
//	another query on the same finder started in between.
//
// Outputs:
//
//	*QueryResponse - The results with classes_not_loaded populated.
//	error - ErrMissingTarget, ErrUnsupportedQuery, or the finder error.
//
// Thread Safety: Safe for concurrent use.
func RunQuery(ctx context.Context, f *finder.Finder, q Query) (*QueryResponse, error) {
	if q.Target == "" {
		return nil, ErrMissingTarget
	}
	resp := &QueryResponse{Kind: q.Kind, Meta: q.Meta, Target: q.Target}

	var err error
	switch {
	case q.Kind == KindClasses && q.Meta:
		var classes []*archive.Class
		classes, err = f.FindMetaAnnotatedClasses(ctx, q.Target)
		resp.Classes = classResults(classes)
	case q.Kind == KindClasses:
		var classes []*archive.Class
		classes, err = f.FindAnnotatedClasses(ctx, q.Target)
		resp.Classes = classResults(classes)
	case q.Kind == KindMethods:
		var methods []*archive.Method
		if q.Meta {
			methods, err = f.FindMetaAnnotatedMethods(ctx, q.Target)
		} else {
			methods, err = f.FindAnnotatedMethods(ctx, q.Target)
		}
		resp.Methods = methodResults(methods)
	case q.Kind == KindConstructors:
		var methods []*archive.Method
		if q.Meta {
			methods, err = f.FindMetaAnnotatedConstructors(ctx, q.Target)
		} else {
			methods, err = f.FindAnnotatedConstructors(ctx, q.Target)
		}
		resp.Methods = methodResults(methods)
	case q.Kind == KindFields:
		var fields []*archive.Field
		if q.Meta {
			fields, err = f.FindMetaAnnotatedFields(ctx, q.Target)
		} else {
			fields, err = f.FindAnnotatedFields(ctx, q.Target)
		}
		resp.Fields = fieldResults(fields)
	case q.Meta:
		return nil, fmt.Errorf("%w: meta %s", ErrUnsupportedQuery, q.Kind)
	case q.Kind == KindParameters:
		var params []*archive.Parameter
		params, err = f.FindAnnotatedMethodParameters(ctx, q.Target)
		resp.Parameters = parameterResults(params)
	case q.Kind == KindPackages:
		var pkgs []*info.PackageInfo
		pkgs, err = f.FindAnnotatedPackages(ctx, q.Target)
		resp.Packages = packageResults(pkgs)
	case q.Kind == KindSubclasses:
		var classes []*archive.Class
		classes, err = f.FindSubclasses(ctx, q.Target)
		resp.Classes = classResults(classes)
	case q.Kind == KindImplementations:
		var classes []*archive.Class
		classes, err = f.FindImplementations(ctx, q.Target)
		resp.Classes = classResults(classes)
	case q.Kind == KindPackage:
		var classes []*archive.Class
		classes, err = f.FindClassesInPackage(ctx, q.Target, q.Recursive)
		resp.Classes = classResults(classes)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedQuery, q.Kind)
	}
	if err != nil {
		return nil, err
	}

	resp.Count = len(resp.Classes) + len(resp.Methods) + len(resp.Fields) +
		len(resp.Parameters) + len(resp.Packages)
	resp.ClassesNotLoaded = f.ClassesNotLoaded()
	if resp.ClassesNotLoaded == nil {
		resp.ClassesNotLoaded = []string{}
	}
	return resp, nil
}

func classResults(classes []*archive.Class) []ClassResult {
	out := make([]ClassResult, 0, len(classes))
	for _, c := range classes {
		r := ClassResult{
			Name:        c.Name,
			Annotations: slices.Clone(c.Annotations),
			Interface:   c.IsInterface(),
			Annotation:  c.IsAnnotation(),
		}
		if c.Superclass != nil {
			r.Superclass = c.Superclass.Name
		}
		for _, iface := range c.Interfaces {
			r.Interfaces = append(r.Interfaces, iface.Name)
		}
		out = append(out, r)
	}
	return out
}

func methodResults(methods []*archive.Method) []MethodResult {
	out := make([]MethodResult, 0, len(methods))
	for _, m := range methods {
		out = append(out, MethodResult{
			Class:       m.Declaring.Name,
			Name:        m.Name,
			Descriptor:  m.Descriptor,
			Parameters:  slices.Clone(m.ParameterTypes),
			Annotations: slices.Clone(m.Annotations),
			Constructor: m.IsConstructor(),
		})
	}
	return out
}

func fieldResults(fields []*archive.Field) []FieldResult {
	out := make([]FieldResult, 0, len(fields))
	for _, f := range fields {
		out = append(out, FieldResult{
			Class:       f.Declaring.Name,
			Name:        f.Name,
			Type:        f.Type,
			Annotations: slices.Clone(f.Annotations),
		})
	}
	return out
}

func parameterResults(params []*archive.Parameter) []ParameterResult {
	out := make([]ParameterResult, 0, len(params))
	for _, p := range params {
		out = append(out, ParameterResult{
			Class:       p.Method.Declaring.Name,
			Method:      p.Method.Name,
			Descriptor:  p.Method.Descriptor,
			Index:       p.Index,
			Type:        p.Type,
			Annotations: slices.Clone(p.Annotations),
		})
	}
	return out
}

func packageResults(pkgs []*info.PackageInfo) []PackageResult {
	out := make([]PackageResult, 0, len(pkgs))
	for _, p := range pkgs {
		r := PackageResult{Name: p.Name}
		for _, a := range p.Annotations {
			r.Annotations = append(r.Annotations, a.Type)
		}
		out = append(out, r)
	}
	return out
}

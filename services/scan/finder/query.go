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
	"context"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianScan/services/scan/archive"
	"github.com/AleutianAI/AleutianScan/services/scan/info"
)

// query tracks one query's span and timing.
type query struct {
	f     *Finder
	name  string
	span  trace.Span
	start time.Time
}

// begin clears the not-loaded list and opens a span.
func (f *Finder) begin(ctx context.Context, name, target string) (context.Context, *query) {
	f.beginQuery()
	ctx, span := startQuerySpan(ctx, name, target)
	return ctx, &query{f: f, name: name, span: span, start: time.Now()}
}

func (q *query) end(ctx context.Context, results int, err error) {
	notLoaded := q.f.notLoadedCount()
	setQuerySpanResult(q.span, results, notLoaded, err)
	recordQueryMetrics(ctx, q.name, time.Since(q.start), notLoaded)
	q.span.End()
}

func hasUsage(anns []*info.AnnotationInfo, annotation string) bool {
	return slices.ContainsFunc(anns, func(a *info.AnnotationInfo) bool { return a.Type == annotation })
}

func methodKey(m *archive.Method) string {
	return m.Declaring.Name + "#" + m.Name + m.Descriptor
}

// resolveClass returns the runtime view of ci, recording a failure.
func (f *Finder) resolveClass(ci *info.ClassInfo) (*archive.Class, bool) {
	cls, err := ci.Resolve(f.load)
	if err != nil {
		f.recordNotLoaded(ci.Name)
		return nil, false
	}
	return cls, true
}

// FindAnnotatedClasses returns the classes carrying annotation.
//
// Description:
//
//	Reads the annotation bucket, keeps class entries and loads each one.
//	Classes that fail to load are recorded in ClassesNotLoaded. With the
//	runtime check enabled, classes whose runtime view lacks the annotation
//	(for example because its retention is not runtime) are dropped.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - annotation: Binary name of the annotation type.
//
// Outputs:
//   - []*archive.Class: Matches in index order.
//   - error: ctx.Err() only.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindAnnotatedClasses(ctx context.Context, annotation string) ([]*archive.Class, error) {
	ctx, q := f.begin(ctx, "FindAnnotatedClasses", annotation)
	var out []*archive.Class
	var err error
	defer func() { q.end(ctx, len(out), err) }()

	for i, target := range f.store.Annotated(annotation) {
		if i%ctxCheckInterval == 0 {
			if err = ctx.Err(); err != nil {
				return nil, err
			}
		}
		ci, ok := target.(*info.ClassInfo)
		if !ok {
			continue
		}
		cls, ok := f.resolveClass(ci)
		if !ok {
			continue
		}
		if f.opts.RuntimeCheck && !cls.IsAnnotationPresent(annotation) {
			continue
		}
		out = append(out, cls)
	}
	return out, nil
}

// annotatedMethods returns the methods (or constructors) of decl carrying
// annotation. The second result is false when decl could not be loaded.
func (f *Finder) annotatedMethods(decl *info.ClassInfo, annotation string, ctors bool) ([]*archive.Method, bool) {
	cls, ok := f.resolveClass(decl)
	if !ok {
		return nil, false
	}
	var out []*archive.Method
	if f.opts.RuntimeCheck {
		src := cls.Methods
		if ctors {
			src = cls.Constructors
		}
		for _, m := range src {
			if m.IsAnnotationPresent(annotation) {
				out = append(out, m)
			}
		}
		return out, true
	}
	for _, mi := range decl.Methods {
		if mi.IsConstructor() != ctors || !hasUsage(mi.Annotations, annotation) {
			continue
		}
		if rm, err := mi.Resolve(f.load); err == nil {
			out = append(out, rm)
		}
	}
	return out, true
}

// annotatedFields returns the fields of decl carrying annotation.
func (f *Finder) annotatedFields(decl *info.ClassInfo, annotation string) ([]*archive.Field, bool) {
	cls, ok := f.resolveClass(decl)
	if !ok {
		return nil, false
	}
	var out []*archive.Field
	if f.opts.RuntimeCheck {
		for _, fld := range cls.Fields {
			if fld.IsAnnotationPresent(annotation) {
				out = append(out, fld)
			}
		}
		return out, true
	}
	for _, fi := range decl.Fields {
		if !hasUsage(fi.Annotations, annotation) {
			continue
		}
		if rf, err := fi.Resolve(f.load); err == nil {
			out = append(out, rf)
		}
	}
	return out, true
}

// annotatedParameters returns the parameters of every method and
// constructor of decl carrying annotation.
func (f *Finder) annotatedParameters(decl *info.ClassInfo, annotation string) ([]*archive.Parameter, bool) {
	cls, ok := f.resolveClass(decl)
	if !ok {
		return nil, false
	}
	var out []*archive.Parameter
	if f.opts.RuntimeCheck {
		for _, m := range slices.Concat(cls.Constructors, cls.Methods) {
			for _, p := range m.Parameters() {
				if p.IsAnnotationPresent(annotation) {
					out = append(out, p)
				}
			}
		}
		return out, true
	}
	for _, mi := range decl.Methods {
		for _, pi := range mi.Parameters {
			if !hasUsage(pi.Annotations, annotation) {
				continue
			}
			if rp, err := pi.Resolve(f.load); err == nil {
				out = append(out, rp)
			}
		}
	}
	return out, true
}

// declaringClasses collects the distinct declaring classes of bucket
// entries accepted by pick, in bucket order.
func declaringClasses(targets []info.Info, pick func(info.Info) *info.ClassInfo) []*info.ClassInfo {
	seen := make(map[string]bool)
	var out []*info.ClassInfo
	for _, t := range targets {
		decl := pick(t)
		if decl == nil || seen[decl.Name] {
			continue
		}
		seen[decl.Name] = true
		out = append(out, decl)
	}
	return out
}

func methodDeclaring(ctors bool) func(info.Info) *info.ClassInfo {
	return func(t info.Info) *info.ClassInfo {
		mi, ok := t.(*info.MethodInfo)
		if !ok || mi.IsConstructor() != ctors {
			return nil
		}
		return mi.Declaring
	}
}

func fieldDeclaring(t info.Info) *info.ClassInfo {
	if fi, ok := t.(*info.FieldInfo); ok {
		return fi.Declaring
	}
	return nil
}

func parameterDeclaring(t info.Info) *info.ClassInfo {
	if pi, ok := t.(*info.ParameterInfo); ok {
		return pi.Method.Declaring
	}
	return nil
}

// FindAnnotatedMethods returns the non-constructor methods carrying
// annotation.
//
// Description:
//
//	Each declaring class is loaded once; its declared methods are then
//	filtered by the annotation. Declaring classes that fail to load are
//	recorded in ClassesNotLoaded.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindAnnotatedMethods(ctx context.Context, annotation string) ([]*archive.Method, error) {
	return f.findMethods(ctx, "FindAnnotatedMethods", annotation, false)
}

// FindAnnotatedConstructors returns the constructors carrying annotation.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindAnnotatedConstructors(ctx context.Context, annotation string) ([]*archive.Method, error) {
	return f.findMethods(ctx, "FindAnnotatedConstructors", annotation, true)
}

func (f *Finder) findMethods(ctx context.Context, name, annotation string, ctors bool) ([]*archive.Method, error) {
	ctx, q := f.begin(ctx, name, annotation)
	var out []*archive.Method
	var err error
	defer func() { q.end(ctx, len(out), err) }()

	for i, decl := range declaringClasses(f.store.Annotated(annotation), methodDeclaring(ctors)) {
		if i%ctxCheckInterval == 0 {
			if err = ctx.Err(); err != nil {
				return nil, err
			}
		}
		methods, _ := f.annotatedMethods(decl, annotation, ctors)
		out = append(out, methods...)
	}
	return out, nil
}

// FindAnnotatedFields returns the fields carrying annotation.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindAnnotatedFields(ctx context.Context, annotation string) ([]*archive.Field, error) {
	ctx, q := f.begin(ctx, "FindAnnotatedFields", annotation)
	var out []*archive.Field
	var err error
	defer func() { q.end(ctx, len(out), err) }()

	for i, decl := range declaringClasses(f.store.Annotated(annotation), fieldDeclaring) {
		if i%ctxCheckInterval == 0 {
			if err = ctx.Err(); err != nil {
				return nil, err
			}
		}
		fields, _ := f.annotatedFields(decl, annotation)
		out = append(out, fields...)
	}
	return out, nil
}

// FindAnnotatedMethodParameters returns the method and constructor
// parameters carrying annotation.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindAnnotatedMethodParameters(ctx context.Context, annotation string) ([]*archive.Parameter, error) {
	ctx, q := f.begin(ctx, "FindAnnotatedMethodParameters", annotation)
	var out []*archive.Parameter
	var err error
	defer func() { q.end(ctx, len(out), err) }()

	for i, decl := range declaringClasses(f.store.Annotated(annotation), parameterDeclaring) {
		if i%ctxCheckInterval == 0 {
			if err = ctx.Err(); err != nil {
				return nil, err
			}
		}
		params, _ := f.annotatedParameters(decl, annotation)
		out = append(out, params...)
	}
	return out, nil
}

// FindAnnotatedPackages returns the packages whose package-info carries
// annotation.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindAnnotatedPackages(ctx context.Context, annotation string) ([]*info.PackageInfo, error) {
	ctx, q := f.begin(ctx, "FindAnnotatedPackages", annotation)
	var out []*info.PackageInfo
	var err error
	defer func() { q.end(ctx, len(out), err) }()

	for _, target := range f.store.Annotated(annotation) {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		pkg, ok := target.(*info.PackageInfo)
		if !ok {
			continue
		}
		cls, ok := f.resolveClass(pkg.Holder)
		if !ok {
			continue
		}
		if f.opts.RuntimeCheck && !cls.IsAnnotationPresent(annotation) {
			continue
		}
		out = append(out, pkg)
	}
	return out, nil
}

// FindMetaAnnotatedClasses returns the classes carrying annotation
// directly or through a meta-annotation.
//
// Description:
//
//	A class in the annotation's bucket that is itself a meta-annotation
//	is expanded: the classes carrying it are included too, recursively.
//	Each annotation is expanded once, so self-annotated meta-annotations
//	terminate. Matches are confirmed against the runtime view of the
//	annotation being expanded.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindMetaAnnotatedClasses(ctx context.Context, annotation string) ([]*archive.Class, error) {
	ctx, q := f.begin(ctx, "FindMetaAnnotatedClasses", annotation)
	var out []*archive.Class
	var err error
	defer func() { q.end(ctx, len(out), err) }()

	seen := make(map[string]bool)
	f.walkMeta(annotation, func(ann string, target info.Info) {
		ci, ok := target.(*info.ClassInfo)
		if !ok || seen[ci.Name] {
			return
		}
		cls, ok := f.resolveClass(ci)
		if !ok {
			return
		}
		if f.opts.RuntimeCheck && !cls.IsAnnotationPresent(ann) {
			return
		}
		seen[ci.Name] = true
		out = append(out, cls)
	})
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FindMetaAnnotatedMethods returns the non-constructor methods carrying
// annotation directly or through a meta-annotation.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindMetaAnnotatedMethods(ctx context.Context, annotation string) ([]*archive.Method, error) {
	return f.findMetaMethods(ctx, "FindMetaAnnotatedMethods", annotation, false)
}

// FindMetaAnnotatedConstructors returns the constructors carrying
// annotation directly or through a meta-annotation.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindMetaAnnotatedConstructors(ctx context.Context, annotation string) ([]*archive.Method, error) {
	return f.findMetaMethods(ctx, "FindMetaAnnotatedConstructors", annotation, true)
}

func (f *Finder) findMetaMethods(ctx context.Context, name, annotation string, ctors bool) ([]*archive.Method, error) {
	ctx, q := f.begin(ctx, name, annotation)
	var out []*archive.Method
	var err error
	defer func() { q.end(ctx, len(out), err) }()

	visited := make(map[string]bool)
	seen := make(map[string]bool)
	pick := methodDeclaring(ctors)
	f.walkMeta(annotation, func(ann string, target info.Info) {
		decl := pick(target)
		if decl == nil || visited[ann+"|"+decl.Name] {
			return
		}
		visited[ann+"|"+decl.Name] = true
		methods, _ := f.annotatedMethods(decl, ann, ctors)
		for _, m := range methods {
			if key := methodKey(m); !seen[key] {
				seen[key] = true
				out = append(out, m)
			}
		}
	})
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FindMetaAnnotatedFields returns the fields carrying annotation directly
// or through a meta-annotation.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindMetaAnnotatedFields(ctx context.Context, annotation string) ([]*archive.Field, error) {
	ctx, q := f.begin(ctx, "FindMetaAnnotatedFields", annotation)
	var out []*archive.Field
	var err error
	defer func() { q.end(ctx, len(out), err) }()

	visited := make(map[string]bool)
	seen := make(map[string]bool)
	f.walkMeta(annotation, func(ann string, target info.Info) {
		decl := fieldDeclaring(target)
		if decl == nil || visited[ann+"|"+decl.Name] {
			return
		}
		visited[ann+"|"+decl.Name] = true
		fields, _ := f.annotatedFields(decl, ann)
		for _, fld := range fields {
			if key := fld.Declaring.Name + "." + fld.Name; !seen[key] {
				seen[key] = true
				out = append(out, fld)
			}
		}
	})
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FindSubclasses returns every transitive subclass of name.
//
// Description:
//
//	Enables and waits for the subclass link phase, then walks the subclass
//	edges depth-first in registration order. Each subclass is loaded and
//	kept when the runtime view of name is assignable from it. A subclass
//	that fails to load is recorded and its descendants are not visited.
//	An unknown name yields no results.
//	A cancelled ctx or link timeout is not an error: the walk uses the
//	edges linked so far.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindSubclasses(ctx context.Context, name string) ([]*archive.Class, error) {
	ctx, q := f.begin(ctx, "FindSubclasses", name)
	var out []*archive.Class
	var err error
	defer func() { q.end(ctx, len(out), err) }()

	f.EnableFindSubclasses()
	f.linker.await(ctx, f.linker.subclasses)

	ci, ok := f.store.Class(name)
	if !ok {
		return nil, nil
	}
	target, ok := f.resolveClass(ci)
	if !ok {
		return nil, nil
	}
	out = f.collectSubclasses(target, make(map[string]bool), nil)
	return out, nil
}

// collectSubclasses appends the subclasses of root, pre-order, to out.
func (f *Finder) collectSubclasses(root *archive.Class, seen map[string]bool, out []*archive.Class) []*archive.Class {
	stack := reversed(f.store.Subclasses(root.Name))
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[name] {
			continue
		}
		seen[name] = true

		sci, ok := f.store.Class(name)
		if !ok {
			continue
		}
		cls, ok := f.resolveClass(sci)
		if !ok {
			continue
		}
		if root.IsAssignableFrom(cls) {
			out = append(out, cls)
		}
		stack = append(stack, reversed(f.store.Subclasses(name))...)
	}
	return out
}

func reversed(names []string) []string {
	slices.Reverse(names)
	return names
}

// FindImplementations returns the concrete classes implementing the
// interface name, directly, through a sub-interface, or by extending an
// implementor.
//
// Description:
//
//	Enables and waits for both link phases. Collects the direct
//	implementors of name and of every sub-interface reachable through
//	implementor edges, loads each concrete implementor and keeps it when
//	assignable to name, then adds its subclasses. Interfaces are never
//	included. A name that resolves to a non-interface yields no results.
//	Cancellation returns the partial result without an error.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindImplementations(ctx context.Context, name string) ([]*archive.Class, error) {
	ctx, q := f.begin(ctx, "FindImplementations", name)
	var out []*archive.Class
	var err error
	defer func() { q.end(ctx, len(out), err) }()

	f.EnableFindImplementations()
	f.linker.await(ctx, f.linker.subclasses)
	f.linker.await(ctx, f.linker.implementations)

	if ci, ok := f.store.Class(name); ok && !ci.IsInterface() {
		return nil, nil
	}
	target, loadErr := f.load(name)
	if loadErr != nil {
		f.recordNotLoaded(name)
		return nil, nil
	}

	var candidates []*info.ClassInfo
	seenIface := map[string]bool{name: true}
	queue := []string{name}
	seenImpl := make(map[string]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, implName := range f.store.Implementors(cur) {
			impl, ok := f.store.Class(implName)
			if !ok {
				continue
			}
			if impl.IsInterface() {
				if !impl.IsAnnotation() && !seenIface[implName] {
					seenIface[implName] = true
					queue = append(queue, implName)
				}
				continue
			}
			if !seenImpl[implName] {
				seenImpl[implName] = true
				candidates = append(candidates, impl)
			}
		}
	}

	seen := make(map[string]bool)
	for i, ci := range candidates {
		// Interrupted hierarchy queries return what they have so far.
		if i%ctxCheckInterval == 0 && ctx.Err() != nil {
			break
		}
		if seen[ci.Name] {
			continue
		}
		cls, ok := f.resolveClass(ci)
		if !ok {
			continue
		}
		if !target.IsAssignableFrom(cls) {
			continue
		}
		seen[ci.Name] = true
		out = append(out, cls)
		out = f.collectSubclasses(cls, seen, out)
	}
	return out, nil
}

// FindClassesInPackage returns the classes declared in pkg, or in pkg and
// its sub-packages when recursive is set. package-info holders are
// excluded.
//
// Thread Safety: Safe for concurrent use over a concurrent store.
func (f *Finder) FindClassesInPackage(ctx context.Context, pkg string, recursive bool) ([]*archive.Class, error) {
	ctx, q := f.begin(ctx, "FindClassesInPackage", pkg)
	var out []*archive.Class
	var err error
	defer func() { q.end(ctx, len(out), err) }()

	prefix := pkg + "."
	for i, ci := range f.store.Classes() {
		if i%ctxCheckInterval == 0 {
			if err = ctx.Err(); err != nil {
				return nil, err
			}
		}
		if info.IsPackageInfo(ci.Name) {
			continue
		}
		if ci.Package != pkg && !(recursive && strings.HasPrefix(ci.Package, prefix)) {
			continue
		}
		if cls, ok := f.resolveClass(ci); ok {
			out = append(out, cls)
		}
	}
	return out, nil
}

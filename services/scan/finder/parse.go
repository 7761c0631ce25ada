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
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
	"github.com/AleutianAI/AleutianScan/services/scan/info"
)

// parse returns the descriptor for name, producing and registering it on
// first use.
//
// Concurrent callers for the same name share one decode. A name that is
// already stored is returned without touching the source.
func (f *Finder) parse(name string) (*info.ClassInfo, error) {
	if ci, ok := f.store.Class(name); ok {
		return ci, nil
	}
	v, err, _ := f.group.Do(name, func() (any, error) {
		if ci, ok := f.store.Class(name); ok {
			return ci, nil
		}
		ci, err := f.source(name)
		if err != nil {
			return nil, err
		}
		return f.register(ci), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*info.ClassInfo), nil
}

// readFromArchive decodes name from the archive's bytes.
func (f *Finder) readFromArchive(name string) (*info.ClassInfo, error) {
	rc, err := f.arc.Bytecode(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBytecodeUnavailable, name, err)
	}
	defer rc.Close()

	cf, err := classfile.Parse(rc)
	if err != nil {
		return nil, &ParseError{Name: name, Err: err}
	}
	if cf.Name != name {
		return nil, &ParseError{Name: name, Err: fmt.Errorf("%w: declares %s", ErrNameMismatch, cf.Name)}
	}
	return info.NewClassInfo(cf), nil
}

// register stores ci and indexes its annotation usages. Usages are only
// indexed when ci wins the insert, so a class is never indexed twice.
func (f *Finder) register(ci *info.ClassInfo) *info.ClassInfo {
	stored, inserted := f.store.PutClass(ci)
	if !inserted {
		return stored
	}

	if info.IsPackageInfo(ci.Name) {
		pkg, ok := f.store.PutPackage(info.NewPackageInfo(ci))
		if ok {
			for _, a := range pkg.Annotations {
				f.store.AddAnnotated(a.Type, pkg)
			}
		}
		return stored
	}

	info.Walk(ci, func(a *info.AnnotationInfo) {
		f.store.AddAnnotated(a.Type, a.Target)
	})
	return stored
}

// resolveAnnotations decodes the definitions of every annotation type with
// a bucket, repeating until no new types appear, then records which of
// them are meta-annotation markers.
func (f *Finder) resolveAnnotations(ctx context.Context) error {
	seen := make(map[string]bool)
	for {
		var pending []string
		for _, name := range f.store.AnnotationTypes() {
			if !seen[name] {
				pending = append(pending, name)
			}
		}
		if len(pending) == 0 {
			break
		}
		for i, name := range pending {
			if i%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			seen[name] = true
			if _, err := f.parse(name); err != nil {
				level := slog.LevelDebug
				var pe *ParseError
				if errors.As(err, &pe) {
					level = slog.LevelWarn
				}
				f.logger.Log(ctx, level, "annotation type unresolved",
					slog.String("annotation", name),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	f.metaRoots = f.metaRoots[:0]
	for _, ci := range f.store.Classes() {
		if f.isMetaRoot(ci) {
			f.metaRoots = append(f.metaRoots, ci.Name)
		}
	}
	return nil
}

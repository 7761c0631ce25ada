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
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianScan/services/scan/archive"
	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
	"github.com/AleutianAI/AleutianScan/services/scan/index"
	"github.com/AleutianAI/AleutianScan/services/scan/info"
)

// ctxCheckInterval is how many classes are processed between context checks.
const ctxCheckInterval = 256

// sourceFunc produces the descriptor for a class that is not yet stored.
type sourceFunc func(name string) (*info.ClassInfo, error)

// Finder is the query façade over one archive's descriptor graph.
//
// Thread Safety:
//
//	Queries parse and link lazily, so they write the store. Concurrent
//	queries are safe only over a concurrent store: LinkModePool and
//	LinkModeDeferred always use one, LinkModeSync needs
//	WithStore(index.NewConcurrentStore()). The default sync arena store
//	is single-goroutine. Construction is single-goroutine.
type Finder struct {
	arc    archive.Archive
	store  index.Store
	opts   Options
	logger *slog.Logger
	source sourceFunc
	load   info.Loader
	group  singleflight.Group
	linker *linker

	// Fixed after construction.
	scanMissing []string
	metaRoots   []string

	diagMu    sync.Mutex
	notLoaded []string
}

// Stats describes a Finder.
type Stats struct {
	index.Stats
	LinkMode              string `json:"link_mode"`
	ConcurrentStore       bool   `json:"concurrent_store"`
	ScanMissing           int    `json:"scan_missing"`
	MetaRoots             int    `json:"meta_roots"`
	SubclassesLinked      bool   `json:"subclasses_linked"`
	ImplementationsLinked bool   `json:"implementations_linked"`
}

// New scans every class in arc and builds the annotation index.
//
// Description:
//
//	Lists the archive, decodes each class into a descriptor and files its
//	annotation usages. Classes whose bytes cannot be fetched are recorded
//	as not loaded and skipped. A resolution pass then decodes the
//	annotation types used by the scanned classes so meta-annotations can
//	be recognized. Linking is deferred to the first hierarchy query unless
//	WithEagerLink is set.
//
// Inputs:
//   - ctx: Context for cancellation. Checked every 256 classes.
//   - arc: The archive to scan. Must not be nil.
//   - opts: Functional options.
//
// Outputs:
//   - *Finder: The built finder. Call Close when done.
//   - error: ErrNilArchive, an option error, a listing error, a
//     *ParseError for malformed class bytes, or ctx.Err().
//
// Example:
//
//	arc, _ := archive.Open("app.jar")
//	f, err := finder.New(ctx, arc, finder.WithLinkMode(finder.LinkModePool))
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//	classes, _ := f.FindAnnotatedClasses(ctx, "com.acme.Component")
func New(ctx context.Context, arc archive.Archive, opts ...Option) (*Finder, error) {
	if arc == nil {
		return nil, ErrNilArchive
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	ctx, span := startBuildSpan(ctx, "archive", o.LinkMode)
	defer span.End()
	start := time.Now()

	f := newFinder(arc, o)
	f.source = f.readFromArchive

	names, err := arc.ClassNames(ctx)
	if err != nil {
		span.RecordError(err)
		recordBuildMetrics(ctx, "archive", time.Since(start), 0, false)
		return nil, fmt.Errorf("listing classes: %w", err)
	}
	if err := f.build(ctx, names); err != nil {
		span.RecordError(err)
		recordBuildMetrics(ctx, "archive", time.Since(start), f.store.ClassCount(), false)
		f.Close()
		return nil, err
	}

	recordBuildMetrics(ctx, "archive", time.Since(start), f.store.ClassCount(), true)
	f.logger.Info("finder built",
		slog.Int("listed", len(names)),
		slog.Int("classes", f.store.ClassCount()),
		slog.Int("missing", len(f.scanMissing)),
		slog.String("link_mode", o.LinkMode.String()),
		slog.Duration("duration", time.Since(start)),
	)
	return f, nil
}

// NewFromClassFiles builds a Finder from already decoded class files.
//
// Description:
//
//	Used to restore a finder from a snapshot without reading class bytes.
//	The class files take the place of the archive listing. arc is still
//	required to produce runtime views and to decode classes the files do
//	not cover.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - arc: The archive the files were originally read from. Must not be nil.
//   - files: Decoded class files in scan order.
//   - opts: Functional options.
//
// Outputs:
//   - *Finder: The built finder.
//   - error: Non-nil on option errors or cancellation.
func NewFromClassFiles(ctx context.Context, arc archive.Archive, files []*classfile.ClassFile, opts ...Option) (*Finder, error) {
	if arc == nil {
		return nil, ErrNilArchive
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	ctx, span := startBuildSpan(ctx, "class_files", o.LinkMode)
	defer span.End()
	start := time.Now()

	byName := make(map[string]*classfile.ClassFile, len(files))
	names := make([]string, 0, len(files))
	for _, cf := range files {
		if _, dup := byName[cf.Name]; dup {
			continue
		}
		byName[cf.Name] = cf
		names = append(names, cf.Name)
	}

	f := newFinder(arc, o)
	f.source = func(name string) (*info.ClassInfo, error) {
		if cf, ok := byName[name]; ok {
			return info.NewClassInfo(cf), nil
		}
		return f.readFromArchive(name)
	}

	if err := f.build(ctx, names); err != nil {
		span.RecordError(err)
		recordBuildMetrics(ctx, "class_files", time.Since(start), f.store.ClassCount(), false)
		f.Close()
		return nil, err
	}
	recordBuildMetrics(ctx, "class_files", time.Since(start), f.store.ClassCount(), true)
	f.logger.Info("finder restored",
		slog.Int("class_files", len(files)),
		slog.Int("classes", f.store.ClassCount()),
	)
	return f, nil
}

func newFinder(arc archive.Archive, o Options) *Finder {
	f := &Finder{
		arc:    arc,
		store:  o.Store,
		opts:   o,
		logger: o.Logger.With(slog.String("component", "finder")),
		load:   arc.LoadClass,
	}
	f.linker = newLinker(f)
	return f
}

// build runs the scan and resolution passes, then eager linking if set.
func (f *Finder) build(ctx context.Context, names []string) error {
	if err := f.scan(ctx, names); err != nil {
		return err
	}
	if err := f.resolveAnnotations(ctx); err != nil {
		return err
	}
	if f.opts.EagerLink {
		f.EnableFindImplementations()
	}
	return nil
}

// scan parses each listed class. Fetch failures are recorded; malformed
// bytes abort the scan.
func (f *Finder) scan(ctx context.Context, names []string) error {
	for i, name := range names {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if _, err := f.parse(name); err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				return err
			}
			f.scanMissing = append(f.scanMissing, name)
			f.recordNotLoaded(name)
			f.logger.Debug("class bytecode unavailable",
				slog.String("class", name),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Close stops background linking and waits for it to exit.
//
// Thread Safety: Safe to call more than once.
func (f *Finder) Close() {
	f.linker.close()
}

// Archive returns the archive the finder reads from.
func (f *Finder) Archive() archive.Archive {
	return f.arc
}

// Options returns the effective options.
func (f *Finder) Options() Options {
	return f.opts
}

// ClassesNotLoaded returns the classes the most recent query could not
// load. The list is cleared at the start of every query.
//
// Outputs:
//   - []string: A copy of the list, in the order failures were seen.
//
// Thread Safety: Safe for concurrent use.
func (f *Finder) ClassesNotLoaded() []string {
	f.diagMu.Lock()
	defer f.diagMu.Unlock()
	return slices.Clone(f.notLoaded)
}

// ScanMissing returns the listed classes whose bytes could not be fetched
// during construction.
func (f *Finder) ScanMissing() []string {
	return slices.Clone(f.scanMissing)
}

// MetaRoots returns the annotation types recognized as meta-annotation
// markers by the resolution pass.
func (f *Finder) MetaRoots() []string {
	return slices.Clone(f.metaRoots)
}

// ClassInfo returns the descriptor for name.
func (f *Finder) ClassInfo(name string) (*info.ClassInfo, bool) {
	return f.store.Class(name)
}

// ClassNames returns the names of every stored descriptor in insertion
// order. Descriptors parsed after construction are included.
func (f *Finder) ClassNames() []string {
	classes := f.store.Classes()
	out := make([]string, len(classes))
	for i, ci := range classes {
		out[i] = ci.Name
	}
	return out
}

// AnnotatedClassNames returns the names of classes that carry at least one
// class-level annotation.
func (f *Finder) AnnotatedClassNames() []string {
	var out []string
	for _, ci := range f.store.Classes() {
		if len(ci.Annotations) > 0 && !info.IsPackageInfo(ci.Name) {
			out = append(out, ci.Name)
		}
	}
	return out
}

// IsAnnotationPresent reports whether any indexed element carries the
// annotation, at any retention.
func (f *Finder) IsAnnotationPresent(annotation string) bool {
	return len(f.store.Annotated(annotation)) > 0
}

// Stats returns counts describing the finder.
func (f *Finder) Stats() Stats {
	return Stats{
		Stats:                 f.store.Stats(),
		LinkMode:              f.opts.LinkMode.String(),
		ConcurrentStore:       index.IsConcurrent(f.store),
		ScanMissing:           len(f.scanMissing),
		MetaRoots:             len(f.metaRoots),
		SubclassesLinked:      f.linker.subclasses.isDone(),
		ImplementationsLinked: f.linker.implementations.isDone(),
	}
}

// beginQuery clears the not-loaded list.
func (f *Finder) beginQuery() {
	f.diagMu.Lock()
	f.notLoaded = nil
	f.diagMu.Unlock()
}

// recordNotLoaded appends name to the not-loaded list once.
func (f *Finder) recordNotLoaded(name string) {
	f.diagMu.Lock()
	defer f.diagMu.Unlock()
	if !slices.Contains(f.notLoaded, name) {
		f.notLoaded = append(f.notLoaded, name)
	}
}

func (f *Finder) notLoadedCount() int {
	f.diagMu.Lock()
	defer f.diagMu.Unlock()
	return len(f.notLoaded)
}

func (f *Finder) isPlatform(name string) bool {
	return archive.IsPlatform(name, f.opts.PlatformPrefixes)
}

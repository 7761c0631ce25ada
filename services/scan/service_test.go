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
	"archive/zip"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
	"github.com/AleutianAI/AleutianScan/services/scan/classfile/classfiletest"
	"github.com/AleutianAI/AleutianScan/services/scan/finder"
	"github.com/AleutianAI/AleutianScan/services/scan/snapshot"
)

const (
	component = "com.acme.Component"
	handler   = "com.acme.Handler"
)

var quietLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// fixture is Base <- Impl implements Service, Impl carries @Component and
// a @Handler method, Orphan extends a class missing from the archive.
func fixture() []*classfiletest.Builder {
	return []*classfiletest.Builder{
		classfiletest.NewAnnotation(component),
		classfiletest.NewAnnotation(handler),
		classfiletest.NewInterface("com.acme.Service"),
		classfiletest.NewClass("com.acme.Base"),
		classfiletest.NewClass("com.acme.Impl").
			Super("com.acme.Base").
			Implements("com.acme.Service").
			Annotate(component).
			Method("run", "()V").Annotate(handler).Done(),
		classfiletest.NewClass("com.acme.Orphan").Super("com.acme.Gone").Annotate(component),
	}
}

// writeClassDir writes builders under dir in javac -d layout.
func writeClassDir(t *testing.T, dir string, builders ...*classfiletest.Builder) {
	t.Helper()
	for _, b := range builders {
		data := b.Bytes()
		cf, err := classfile.ParseBytes(data)
		require.NoError(t, err)
		path := filepath.Join(dir, filepath.FromSlash(classfile.InternalName(cf.Name))+".class")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, data, 0o600))
	}
}

// writeJar writes builders into a jar at path.
func writeJar(t *testing.T, path string, builders ...*classfiletest.Builder) {
	t.Helper()
	file, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(file)
	for _, b := range builders {
		data := b.Bytes()
		cf, err := classfile.ParseBytes(data)
		require.NoError(t, err)
		w, err := zw.Create(classfile.InternalName(cf.Name) + ".class")
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, file.Close())
}

func newClassDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "classes")
	writeClassDir(t, dir, fixture()...)
	return dir
}

func newTestService(t *testing.T, snapshots *snapshot.Manager) *Service {
	t.Helper()
	cfg := DefaultServiceConfig()
	cfg.Logger = quietLogger
	svc := NewService(cfg, snapshots)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func newSnapshotManager(t *testing.T) *snapshot.Manager {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mgr, err := snapshot.NewManager(db, quietLogger)
	require.NoError(t, err)
	return mgr
}

func TestService_Init(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	dir := newClassDir(t)

	resp, err := svc.Init(ctx, InitRequest{ArchivePath: dir})
	require.NoError(t, err)
	assert.Len(t, resp.FinderID, 16)
	assert.False(t, resp.IsRefresh)
	assert.Len(t, resp.Fingerprint, 16)
	assert.Equal(t, 6, resp.Stats.Classes)
	assert.NotNil(t, resp.ClassesNotLoaded)
	assert.Equal(t, 1, svc.FinderCount())

	again, err := svc.Init(ctx, InitRequest{ArchivePath: dir, LinkMode: "pool"})
	require.NoError(t, err)
	assert.True(t, again.IsRefresh)
	assert.Equal(t, resp.FinderID, again.FinderID)
	assert.Equal(t, "pool", again.Stats.LinkMode)
	assert.Equal(t, 1, svc.FinderCount())
}

func TestService_InitValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	_, err := svc.Init(ctx, InitRequest{ArchivePath: "relative/classes"})
	assert.ErrorIs(t, err, ErrRelativePath)

	_, err = svc.Init(ctx, InitRequest{ArchivePath: "/tmp/../etc"})
	assert.ErrorIs(t, err, ErrPathTraversal)

	dir := newClassDir(t)
	_, err = svc.Init(ctx, InitRequest{ArchivePath: dir, SnapshotID: "latest"})
	assert.ErrorIs(t, err, ErrSnapshotsDisabled)

	restricted := NewService(ServiceConfig{AllowedRoots: []string{"/nonexistent/root"}, Logger: quietLogger}, nil)
	_, err = restricted.Init(ctx, InitRequest{ArchivePath: dir})
	assert.ErrorIs(t, err, ErrPathTraversal)
}

func TestService_InitHonorsConfigFile(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	dir := newClassDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.config.yaml"),
		[]byte("link_mode: deferred\nexclude: [\"**/Orphan\"]\n"), 0o600))

	resp, err := svc.Init(ctx, InitRequest{ArchivePath: dir})
	require.NoError(t, err)
	assert.Equal(t, "deferred", resp.Stats.LinkMode)
	assert.Equal(t, 5, resp.Stats.Classes)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.config.yaml"), []byte("workers: -3\n"), 0o600))
	_, err = svc.Init(ctx, InitRequest{ArchivePath: dir})
	assert.Error(t, err)
}

func TestService_JarWithLibrary(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	tmp := t.TempDir()

	lib := filepath.Join(tmp, "lib.jar")
	writeJar(t, lib, classfiletest.NewClass("com.lib.Parent"))
	app := filepath.Join(tmp, "app.jar")
	writeJar(t, app, classfiletest.NewClass("com.acme.Child").Super("com.lib.Parent"))

	resp, err := svc.Init(ctx, InitRequest{ArchivePath: app, Libraries: []string{lib}})
	require.NoError(t, err)

	cached, err := svc.GetFinder(resp.FinderID)
	require.NoError(t, err)
	var result *QueryResponse
	require.NoError(t, cached.Use(func(f *finder.Finder) error {
		var qErr error
		result, qErr = RunQuery(ctx, f, Query{Kind: KindSubclasses, Target: "com.lib.Parent"})
		return qErr
	}))
	require.Len(t, result.Classes, 1)
	assert.Equal(t, "com.acme.Child", result.Classes[0].Name)
	assert.Equal(t, "com.lib.Parent", result.Classes[0].Superclass)
}

// TestService_ConcurrentQueries is meant for go test -race. Sync mode
// links lazily, parsing library parents while other requests read.
func TestService_ConcurrentQueries(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	tmp := t.TempDir()

	lib := filepath.Join(tmp, "lib.jar")
	writeJar(t, lib,
		classfiletest.NewClass("com.lib.Parent").Implements("com.acme.Service"),
		classfiletest.NewClass("com.lib.Middle").Super("com.lib.Parent"),
	)
	app := filepath.Join(tmp, "app.jar")
	writeJar(t, app,
		classfiletest.NewInterface("com.acme.Service"),
		classfiletest.NewClass("com.acme.Child").Super("com.lib.Parent"),
		classfiletest.NewClass("com.acme.Leaf").Super("com.lib.Middle"),
	)

	resp, err := svc.Init(ctx, InitRequest{ArchivePath: app, Libraries: []string{lib}, LinkMode: "sync"})
	require.NoError(t, err)
	assert.Equal(t, "sync", resp.Stats.LinkMode)
	assert.True(t, resp.Stats.ConcurrentStore)

	cached, err := svc.GetFinder(resp.FinderID)
	require.NoError(t, err)

	queries := []Query{
		{Kind: KindSubclasses, Target: "com.lib.Parent"},
		{Kind: KindImplementations, Target: "com.acme.Service"},
		{Kind: KindPackage, Target: "com.acme"},
	}
	want := []int{3, 4, 3}
	var wg sync.WaitGroup
	for i := range 9 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := queries[i%len(queries)]
			assert.NoError(t, cached.Use(func(f *finder.Finder) error {
				res, qErr := RunQuery(ctx, f, q)
				if qErr == nil {
					assert.Equal(t, want[i%len(queries)], res.Count, q.Kind)
				}
				return qErr
			}))
		}()
	}
	wg.Wait()
}

func TestService_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultServiceConfig()
	cfg.MaxCachedFinders = 1
	cfg.Logger = quietLogger
	svc := NewService(cfg, nil)
	defer svc.Close()

	tick := int64(0)
	svc.now = func() time.Time {
		tick++
		return time.UnixMilli(1_700_000_000_000 + tick)
	}

	first, err := svc.Init(ctx, InitRequest{ArchivePath: newClassDir(t)})
	require.NoError(t, err)
	firstCached, err := svc.GetFinder(first.FinderID)
	require.NoError(t, err)

	second, err := svc.Init(ctx, InitRequest{ArchivePath: newClassDir(t)})
	require.NoError(t, err)

	_, err = svc.GetFinder(first.FinderID)
	assert.ErrorIs(t, err, ErrFinderNotInitialized)
	_, err = svc.GetFinder(second.FinderID)
	assert.NoError(t, err)

	err = firstCached.Use(func(*finder.Finder) error { return nil })
	assert.ErrorIs(t, err, ErrFinderClosed)
}

func TestService_TTL(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultServiceConfig()
	cfg.FinderTTL = time.Minute
	cfg.Logger = quietLogger
	svc := NewService(cfg, nil)
	defer svc.Close()

	now := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time { return now }

	resp, err := svc.Init(ctx, InitRequest{ArchivePath: newClassDir(t)})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = svc.GetFinder(resp.FinderID)
	assert.ErrorIs(t, err, ErrFinderExpired)
}

func TestService_InvalidateChanged(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	dir := newClassDir(t)

	resp, err := svc.Init(ctx, InitRequest{ArchivePath: dir})
	require.NoError(t, err)

	unrelated := filepath.Join(t.TempDir(), "x.class")
	assert.Empty(t, svc.InvalidateChanged(ctx, []string{unrelated}))

	// Touching a path without changing content keeps the finder.
	assert.Empty(t, svc.InvalidateChanged(ctx, []string{filepath.Join(dir, "com")}))

	writeClassDir(t, dir, classfiletest.NewClass("com.acme.Added"))
	evicted := svc.InvalidateChanged(ctx, []string{filepath.Join(dir, "com", "acme", "Added.class")})
	assert.Equal(t, []string{resp.FinderID}, evicted)
	assert.Equal(t, 0, svc.FinderCount())
}

func TestService_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newSnapshotManager(t))
	dir := newClassDir(t)

	_, err := svc.SaveSnapshot(ctx, "", "")
	assert.ErrorIs(t, err, ErrFinderNotInitialized)

	resp, err := svc.Init(ctx, InitRequest{ArchivePath: dir})
	require.NoError(t, err)

	meta, err := svc.SaveSnapshot(ctx, resp.FinderID, "v1")
	require.NoError(t, err)
	assert.Equal(t, 6, meta.ClassCount)

	list, err := svc.ListSnapshots(ctx, dir, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, meta.SnapshotID, list[0].SnapshotID)

	restored, err := svc.Init(ctx, InitRequest{ArchivePath: dir, SnapshotID: "latest"})
	require.NoError(t, err)
	assert.Equal(t, meta.SnapshotID, restored.RestoredFrom)
	assert.True(t, restored.IsRefresh)
	assert.Equal(t, 6, restored.Stats.Classes)
}

func TestFingerprint(t *testing.T) {
	ctx := context.Background()
	dir := newClassDir(t)

	a, err := Fingerprint(ctx, dir)
	require.NoError(t, err)
	b, err := Fingerprint(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	writeClassDir(t, dir, classfiletest.NewClass("com.acme.Added"))
	c, err := Fingerprint(ctx, dir)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	jar := filepath.Join(t.TempDir(), "app.jar")
	writeJar(t, jar, fixture()...)
	j1, err := Fingerprint(ctx, jar)
	require.NoError(t, err)
	writeJar(t, jar, classfiletest.NewClass("com.acme.Other"))
	j2, err := Fingerprint(ctx, jar)
	require.NoError(t, err)
	assert.NotEqual(t, j1, j2)

	_, err = Fingerprint(ctx, filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRunQuery(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	resp, err := svc.Init(ctx, InitRequest{ArchivePath: newClassDir(t)})
	require.NoError(t, err)
	cached, err := svc.GetFinder(resp.FinderID)
	require.NoError(t, err)
	f := cached.Finder

	classes, err := RunQuery(ctx, f, Query{Kind: KindClasses, Target: component})
	require.NoError(t, err)
	require.Len(t, classes.Classes, 1)
	assert.Equal(t, "com.acme.Impl", classes.Classes[0].Name)
	assert.Equal(t, []string{"com.acme.Service"}, classes.Classes[0].Interfaces)
	assert.Equal(t, []string{"com.acme.Orphan"}, classes.ClassesNotLoaded)

	methods, err := RunQuery(ctx, f, Query{Kind: KindMethods, Target: handler})
	require.NoError(t, err)
	require.Len(t, methods.Methods, 1)
	assert.Equal(t, "run", methods.Methods[0].Name)
	assert.Equal(t, "com.acme.Impl", methods.Methods[0].Class)
	assert.Empty(t, methods.ClassesNotLoaded, "diagnostics reset per query")
	assert.NotNil(t, methods.ClassesNotLoaded)

	impls, err := RunQuery(ctx, f, Query{Kind: KindImplementations, Target: "com.acme.Service"})
	require.NoError(t, err)
	assert.Equal(t, 1, impls.Count)

	pkg, err := RunQuery(ctx, f, Query{Kind: KindPackage, Target: "com.acme"})
	require.NoError(t, err)
	assert.Positive(t, pkg.Count)

	_, err = RunQuery(ctx, f, Query{Kind: KindPackages, Meta: true, Target: component})
	assert.ErrorIs(t, err, ErrUnsupportedQuery)
	_, err = RunQuery(ctx, f, Query{Kind: "widgets", Target: component})
	assert.ErrorIs(t, err, ErrUnsupportedQuery)
	_, err = RunQuery(ctx, f, Query{Kind: KindClasses})
	assert.ErrorIs(t, err, ErrMissingTarget)
}

func TestContainsPath(t *testing.T) {
	tests := []struct {
		archive, path string
		want          bool
	}{
		{"/srv/app.jar", "/srv/app.jar", true},
		{"/srv/app.jar", "/srv/other.jar", false},
		{"/srv/classes", "/srv/classes/com/acme/A.class", true},
		{"/srv/classes", "/srv/classes-old/A.class", false},
		{"/srv/classes", "/srv", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, containsPath(tt.archive, tt.path), "%s in %s", tt.path, tt.archive)
	}
}

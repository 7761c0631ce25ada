// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScan/services/scan/archive"
	"github.com/AleutianAI/AleutianScan/services/scan/classfile/classfiletest"
	"github.com/AleutianAI/AleutianScan/services/scan/finder"
)

// newTestDB creates an in-memory BadgerDB for testing.
func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	mgr, err := NewManager(newTestDB(t), logger)
	require.NoError(t, err)
	return mgr
}

func testArchive() *archive.MemoryArchive {
	return archive.NewMemoryArchive().
		Put("com.acme.Base", classfiletest.NewClass("com.acme.Base").Bytes()).
		Put("com.acme.Impl", classfiletest.NewClass("com.acme.Impl").Super("com.acme.Base").Annotate("com.acme.Component").Bytes()).
		Put("com.acme.Component", classfiletest.NewAnnotation("com.acme.Component").Bytes())
}

func testFinder(t *testing.T, arc archive.Archive) *finder.Finder {
	t.Helper()
	f, err := finder.New(context.Background(), arc)
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f
}

func TestNewManager_NilArgs(t *testing.T) {
	_, err := NewManager(nil, slog.Default())
	assert.Error(t, err)
	_, err = NewManager(newTestDB(t), nil)
	assert.Error(t, err)
}

func TestManager_SaveLoadRestore(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	arc := testArchive()
	f := testFinder(t, arc)

	meta, err := mgr.Save(ctx, "/srv/app.jar", f, "nightly")
	require.NoError(t, err)
	assert.Len(t, meta.SnapshotID, 16)
	assert.Equal(t, ArchiveHash("/srv/app.jar"), meta.ArchiveHash)
	assert.Equal(t, 3, meta.ClassCount)
	assert.Equal(t, "nightly", meta.Label)
	assert.Positive(t, meta.CompressedSize)
	assert.NotEmpty(t, meta.ContentHash)

	payload, loadedMeta, err := mgr.Load(ctx, meta.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, meta.ContentHash, loadedMeta.ContentHash)
	require.Len(t, payload.Classes, 3)
	assert.Equal(t, "com.acme.Base", payload.Classes[0].Name)

	restored, err := Restore(ctx, payload, arc)
	require.NoError(t, err)
	defer restored.Close()

	assert.Equal(t, f.ClassNames(), restored.ClassNames())
	classes, err := restored.FindAnnotatedClasses(ctx, "com.acme.Component")
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, "com.acme.Impl", classes[0].Name)

	subs, err := restored.FindSubclasses(ctx, "com.acme.Base")
	require.NoError(t, err)
	require.Len(t, subs, 1)
}

func TestManager_LoadLatestAndList(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	f := testFinder(t, testArchive())

	base := time.UnixMilli(1_700_000_000_000)
	tick := 0
	mgr.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	first, err := mgr.Save(ctx, "/srv/app.jar", f, "first")
	require.NoError(t, err)
	second, err := mgr.Save(ctx, "/srv/app.jar", f, "second")
	require.NoError(t, err)
	_, err = mgr.Save(ctx, "/srv/other.jar", f, "other")
	require.NoError(t, err)

	_, latest, err := mgr.LoadLatest(ctx, "/srv/app.jar")
	require.NoError(t, err)
	assert.Equal(t, second.SnapshotID, latest.SnapshotID)

	list, err := mgr.List(ctx, "/srv/app.jar", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.SnapshotID, list[0].SnapshotID, "newest first")
	assert.Equal(t, first.SnapshotID, list[1].SnapshotID)

	all, err := mgr.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := mgr.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestManager_Delete(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	f := testFinder(t, testArchive())

	meta, err := mgr.Save(ctx, "/srv/app.jar", f, "")
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(ctx, meta.SnapshotID))

	_, _, err = mgr.Load(ctx, meta.SnapshotID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = mgr.LoadLatest(ctx, "/srv/app.jar")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, mgr.Delete(ctx, meta.SnapshotID), ErrNotFound)
}

func TestManager_IntegrityCheck(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	f := testFinder(t, testArchive())

	meta, err := mgr.Save(ctx, "/srv/app.jar", f, "")
	require.NoError(t, err)

	err = mgr.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(dataKey(meta.ArchiveHash, meta.SnapshotID)), []byte("tampered"))
	})
	require.NoError(t, err)

	_, _, err = mgr.Load(ctx, meta.SnapshotID)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestManager_Cancelled(t *testing.T) {
	mgr := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mgr.List(ctx, "", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

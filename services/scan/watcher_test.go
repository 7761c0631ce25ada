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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile/classfiletest"
)

func newTestWatcher(t *testing.T, svc *Service) *Watcher {
	t.Helper()
	w, err := NewWatcher(svc, &WatcherOptions{
		DebounceWindow: 20 * time.Millisecond,
		SyncInterval:   20 * time.Millisecond,
		Logger:         quietLogger,
	})
	require.NoError(t, err)
	return w
}

func TestWatcher_EvictsChangedDirectory(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	svc := newTestService(t, nil)
	dir := newClassDir(t)
	_, err := svc.Init(ctx, InitRequest{ArchivePath: dir})
	require.NoError(t, err)

	w := newTestWatcher(t, svc)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	assert.Equal(t, []string{dir}, w.Watched())

	writeClassDir(t, dir, classfiletest.NewClass("com.acme.Added"))

	assert.Eventually(t, func() bool { return svc.FinderCount() == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(w.Watched()) == 0 },
		2*time.Second, 10*time.Millisecond, "sync drops evicted archives")
}

func TestWatcher_EvictsReplacedJar(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	jar := filepath.Join(t.TempDir(), "app.jar")
	writeJar(t, jar, fixture()...)
	_, err := svc.Init(ctx, InitRequest{ArchivePath: jar})
	require.NoError(t, err)

	w := newTestWatcher(t, svc)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// A sibling file in the same directory does not match the archive.
	writeJar(t, filepath.Join(filepath.Dir(jar), "other.jar"), classfiletest.NewClass("com.acme.X"))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, svc.FinderCount())

	writeJar(t, jar, classfiletest.NewClass("com.acme.Replaced"))
	assert.Eventually(t, func() bool { return svc.FinderCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestWatcher_SyncPicksUpNewFinders(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	w := newTestWatcher(t, svc)
	defer w.Stop()

	require.NoError(t, w.Sync())
	assert.Empty(t, w.Watched())

	dir := newClassDir(t)
	_, err := svc.Init(ctx, InitRequest{ArchivePath: dir})
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	assert.Equal(t, []string{dir}, w.Watched())

	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx), "second start is a no-op")
	w.Stop()
	w.Stop()
}

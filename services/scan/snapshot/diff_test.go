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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
	"github.com/AleutianAI/AleutianScan/services/scan/classfile/classfiletest"
)

func payloadOf(t *testing.T, builders ...*classfiletest.Builder) *Payload {
	t.Helper()
	p := &Payload{SchemaVersion: SchemaVersion, ArchivePath: "/test"}
	for _, b := range builders {
		cf, err := classfile.ParseBytes(b.Bytes())
		require.NoError(t, err)
		p.Classes = append(p.Classes, cf)
	}
	return p
}

func TestDiffPayloads_Identical(t *testing.T) {
	p := payloadOf(t,
		classfiletest.NewClass("com.acme.Base"),
		classfiletest.NewClass("com.acme.Impl").Super("com.acme.Base").Annotate("com.acme.Component"),
	)

	diff, err := DiffPayloads(p, p, "a", "b")
	require.NoError(t, err)
	assert.Empty(t, diff.ClassesAdded)
	assert.Empty(t, diff.ClassesRemoved)
	assert.Empty(t, diff.ClassesModified)
	assert.Zero(t, diff.Summary.TotalChanges)
	assert.Zero(t, diff.Summary.ChangeRatio)
}

func TestDiffPayloads_Changes(t *testing.T) {
	base := payloadOf(t,
		classfiletest.NewClass("com.acme.Base"),
		classfiletest.NewClass("com.acme.Impl").Super("com.acme.Base").Annotate("com.acme.Component"),
		classfiletest.NewClass("com.acme.old.Legacy"),
		classfiletest.NewClass("com.acme.Service").Method("run", "()V").Done(),
	)
	target := payloadOf(t,
		classfiletest.NewClass("com.acme.Base"),
		classfiletest.NewClass("com.acme.Impl").Annotate("com.acme.Singleton"),
		classfiletest.NewClass("com.acme.web.Controller"),
		classfiletest.NewClass("com.acme.Service").Method("run", "()V").Annotate("com.acme.Handler").Done(),
	)

	diff, err := DiffPayloads(base, target, "a", "b")
	require.NoError(t, err)

	assert.Equal(t, []string{"com.acme.web.Controller"}, diff.ClassesAdded)
	assert.Equal(t, []string{"com.acme.old.Legacy"}, diff.ClassesRemoved)
	require.Len(t, diff.ClassesModified, 2)
	assert.Equal(t, "com.acme.Impl", diff.ClassesModified[0].Name)
	assert.ElementsMatch(t, []string{ChangeSuperclass, ChangeAnnotations}, diff.ClassesModified[0].Changes)
	assert.Equal(t, "com.acme.Service", diff.ClassesModified[1].Name)
	assert.Equal(t, []string{ChangeMembers}, diff.ClassesModified[1].Changes)

	assert.Equal(t, []string{"com.acme.Handler", "com.acme.Singleton"}, diff.AnnotationsAdded)
	assert.Equal(t, []string{"com.acme.Component"}, diff.AnnotationsRemoved)

	assert.Equal(t, 4, diff.Summary.TotalChanges)
	assert.Equal(t, 3, diff.Summary.PackagesAffected)
	assert.InDelta(t, 1.0, diff.Summary.ChangeRatio, 1e-9)
}

func TestDiffPayloads_NilInput(t *testing.T) {
	_, err := DiffPayloads(nil, &Payload{}, "", "")
	assert.Error(t, err)
	_, err = DiffPayloads(&Payload{}, nil, "", "")
	assert.Error(t, err)
}

func TestManager_Diff(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	tick := 0
	mgr.now = func() time.Time {
		tick++
		return time.UnixMilli(1_700_000_000_000).Add(time.Duration(tick) * time.Second)
	}

	before := testArchive()
	first, err := mgr.Save(ctx, "/app", testFinder(t, before), "")
	require.NoError(t, err)

	after := testArchive().Put("com.acme.Extra", classfiletest.NewClass("com.acme.Extra").Bytes())
	second, err := mgr.Save(ctx, "/app", testFinder(t, after), "")
	require.NoError(t, err)

	diff, err := mgr.Diff(ctx, first.SnapshotID, second.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.acme.Extra"}, diff.ClassesAdded)
	assert.Empty(t, diff.ClassesRemoved)

	_, err = mgr.Diff(ctx, "missing", second.SnapshotID)
	assert.ErrorIs(t, err, ErrNotFound)
}

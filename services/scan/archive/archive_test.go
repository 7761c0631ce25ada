// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScan/services/scan/classfile/classfiletest"
)

func sampleClasses() map[string][]byte {
	return map[string][]byte{
		"com.acme.A": classfiletest.NewClass("com.acme.A").Bytes(),
		"com.acme.B": classfiletest.NewClass("com.acme.B").Super("com.acme.A").
			Annotate("com.acme.X").AnnotateInvisible("com.acme.Y").Bytes(),
		"com.acme.I": classfiletest.NewInterface("com.acme.I").Bytes(),
		"com.acme.C": classfiletest.NewClass("com.acme.C").Implements("com.acme.I").Bytes(),
	}
}

func newSampleArchive() *MemoryArchive {
	a := NewMemoryArchive()
	classes := sampleClasses()
	for _, name := range []string{"com.acme.A", "com.acme.B", "com.acme.I", "com.acme.C"} {
		a.Put(name, classes[name])
	}
	return a
}

func TestMemoryArchive_ClassNamesInOrder(t *testing.T) {
	a := newSampleArchive()
	a.AddName("com.acme.Missing")
	a.PutHidden("com.acme.Hidden", classfiletest.NewClass("com.acme.Hidden").Bytes())

	names, err := a.ClassNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.acme.A", "com.acme.B", "com.acme.I", "com.acme.C", "com.acme.Missing"}, names)

	_, err = a.Bytecode("com.acme.Missing")
	assert.ErrorIs(t, err, ErrClassNotFound)

	rc, err := a.Bytecode("com.acme.Hidden")
	require.NoError(t, err)
	rc.Close()
}

func TestMemoryArchive_ClassNamesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newSampleArchive().ClassNames(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoader_LinksSupertypes(t *testing.T) {
	a := newSampleArchive()

	b, err := a.LoadClass("com.acme.B")
	require.NoError(t, err)
	require.NotNil(t, b.Superclass)
	assert.Equal(t, "com.acme.A", b.Superclass.Name)
	require.NotNil(t, b.Superclass.Superclass)
	assert.True(t, b.Superclass.Superclass.Platform)
	assert.Equal(t, "java.lang.Object", b.Superclass.Superclass.Name)

	again, err := a.LoadClass("com.acme.B")
	require.NoError(t, err)
	assert.Same(t, b, again)

	aClass, err := a.LoadClass("com.acme.A")
	require.NoError(t, err)
	assert.Same(t, b.Superclass, aClass)
	assert.True(t, aClass.IsAssignableFrom(b))
	assert.False(t, b.IsAssignableFrom(aClass))

	c, err := a.LoadClass("com.acme.C")
	require.NoError(t, err)
	i, err := a.LoadClass("com.acme.I")
	require.NoError(t, err)
	assert.True(t, i.IsInterface())
	assert.True(t, i.IsAssignableFrom(c))
}

func TestLoader_OnlyRuntimeVisibleAnnotations(t *testing.T) {
	b, err := newSampleArchive().LoadClass("com.acme.B")
	require.NoError(t, err)
	assert.True(t, b.IsAnnotationPresent("com.acme.X"))
	assert.False(t, b.IsAnnotationPresent("com.acme.Y"))
}

func TestLoader_MissingSupertypeFails(t *testing.T) {
	a := NewMemoryArchive()
	a.Put("com.acme.Orphan", classfiletest.NewClass("com.acme.Orphan").Super("com.acme.Gone").Bytes())
	a.Put("com.acme.Impl", classfiletest.NewClass("com.acme.Impl").Implements("com.acme.GoneIface").Bytes())

	_, err := a.LoadClass("com.acme.Orphan")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClassNotFound)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "com.acme.Orphan", le.Name)

	// The failure is cached.
	_, again := a.LoadClass("com.acme.Orphan")
	assert.Equal(t, err, again)

	_, err = a.LoadClass("com.acme.Impl")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestLoader_PlatformStubOnlyForPlatformNames(t *testing.T) {
	a := NewMemoryArchive()

	obj, err := a.LoadClass("java.lang.Object")
	require.NoError(t, err)
	assert.True(t, obj.Platform)

	_, err = a.LoadClass("org.example.Nope")
	assert.ErrorIs(t, err, ErrClassNotFound)

	custom := NewMemoryArchive(WithPlatformPrefixes("org.example."))
	stub, err := custom.LoadClass("org.example.Nope")
	require.NoError(t, err)
	assert.True(t, stub.Platform)
}

func TestLoader_Circularity(t *testing.T) {
	a := NewMemoryArchive()
	a.Put("com.acme.P", classfiletest.NewClass("com.acme.P").Super("com.acme.Q").Bytes())
	a.Put("com.acme.Q", classfiletest.NewClass("com.acme.Q").Super("com.acme.P").Bytes())

	_, err := a.LoadClass("com.acme.P")
	assert.ErrorIs(t, err, ErrCircularity)
}

func TestLoader_MembersAndParameters(t *testing.T) {
	b := classfiletest.NewClass("com.acme.Svc")
	b.Field("repo", "Lcom/acme/Repo;").Annotate("com.acme.Inject")
	b.Constructor("(Ljava/lang/String;)V").Annotate("com.acme.Inject").AnnotateParam(0, "com.acme.Named")
	b.Method("handle", "(IJ)V").AnnotateInvisible("com.acme.Trace")
	b.Method("<clinit>", "()V")

	a := NewMemoryArchive().Put("com.acme.Svc", b.Bytes())
	c, err := a.LoadClass("com.acme.Svc")
	require.NoError(t, err)

	require.Len(t, c.Fields, 1)
	assert.Equal(t, "com.acme.Repo", c.Fields[0].Type)
	assert.True(t, c.Field("repo").IsAnnotationPresent("com.acme.Inject"))

	require.Len(t, c.Constructors, 1)
	require.Len(t, c.Methods, 1)
	ctor := c.Method("<init>", "(Ljava/lang/String;)V")
	require.NotNil(t, ctor)
	assert.True(t, ctor.IsConstructor())
	params := ctor.Parameters()
	require.Len(t, params, 1)
	assert.Equal(t, "java.lang.String", params[0].Type)
	assert.True(t, params[0].IsAnnotationPresent("com.acme.Named"))

	handle := c.Method("handle", "(IJ)V")
	require.NotNil(t, handle)
	assert.Equal(t, []string{"int", "long"}, handle.ParameterTypes)
	assert.False(t, handle.IsAnnotationPresent("com.acme.Trace"))
}

func TestFilter(t *testing.T) {
	f := Filter{Include: []string{"com/acme/**"}, Exclude: []string{"**/*Test"}}
	require.NoError(t, f.Validate())

	assert.True(t, f.Allows("com.acme.A"))
	assert.True(t, f.Allows("com.acme.sub.B"))
	assert.False(t, f.Allows("com.acme.ATest"))
	assert.False(t, f.Allows("org.other.C"))

	assert.True(t, Filter{}.Allows("anything.Goes"))

	bad := Filter{Include: []string{"com/[acme"}}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPattern)
}

func TestMemoryArchive_FilterKeepsLoading(t *testing.T) {
	a := NewMemoryArchive(WithExclude("com/acme/A"))
	classes := sampleClasses()
	a.Put("com.acme.A", classes["com.acme.A"])
	a.Put("com.acme.B", classes["com.acme.B"])

	names, err := a.ClassNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.acme.B"}, names)

	b, err := a.LoadClass("com.acme.B")
	require.NoError(t, err)
	assert.Equal(t, "com.acme.A", b.Superclass.Name)
}

func writeClassDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range sampleClasses() {
		path := filepath.Join(dir, filepath.FromSlash(internalPath(name)))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module-info.class"), []byte{0}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0o644))
	return dir
}

func internalPath(name string) string {
	out := []byte(name)
	for i, c := range out {
		if c == '.' {
			out[i] = '/'
		}
	}
	return string(out) + ".class"
}

func TestDirArchive(t *testing.T) {
	dir := writeClassDir(t)

	a, err := Open(dir)
	require.NoError(t, err)
	defer a.Close()

	names, err := a.ClassNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.acme.A", "com.acme.B", "com.acme.C", "com.acme.I"}, names)

	b, err := a.LoadClass("com.acme.B")
	require.NoError(t, err)
	assert.Equal(t, "com.acme.A", b.Superclass.Name)

	_, err = a.Bytecode("com.acme.Nope")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func writeJar(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.jar")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	classes := sampleClasses()
	for _, name := range []string{"com.acme.A", "com.acme.B", "com.acme.I", "com.acme.C"} {
		w, err := zw.Create(internalPath(name))
		require.NoError(t, err)
		_, err = w.Write(classes[name])
		require.NoError(t, err)
	}
	w, err := zw.Create("META-INF/MANIFEST.MF")
	require.NoError(t, err)
	_, err = io.WriteString(w, "Manifest-Version: 1.0\n")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestJarArchive(t *testing.T) {
	path := writeJar(t)

	a, err := Open(path, WithInclude("com/acme/*"))
	require.NoError(t, err)
	defer a.Close()

	names, err := a.ClassNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.acme.A", "com.acme.B", "com.acme.I", "com.acme.C"}, names)

	c, err := a.LoadClass("com.acme.C")
	require.NoError(t, err)
	require.Len(t, c.Interfaces, 1)
	assert.Equal(t, "com.acme.I", c.Interfaces[0].Name)
}

func TestOpen_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrUnsupportedArchive)

	_, err = OpenDir(t.TempDir(), WithInclude("[bad"))
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestCompositeArchive(t *testing.T) {
	classes := sampleClasses()
	lib := NewMemoryArchive().Put("com.acme.A", classes["com.acme.A"])
	app := NewMemoryArchive().Put("com.acme.B", classes["com.acme.B"])

	a := NewComposite(app, nil, lib)
	defer a.Close()

	names, err := a.ClassNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.acme.B"}, names)

	b, err := a.LoadClass("com.acme.B")
	require.NoError(t, err)
	assert.Equal(t, "com.acme.A", b.Superclass.Name)

	_, err = a.Bytecode("com.acme.Nope")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

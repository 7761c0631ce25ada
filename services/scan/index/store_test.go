// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScan/services/scan/info"
)

func stores() map[string]func() Store {
	return map[string]func() Store{
		"arena":      NewArenaStore,
		"concurrent": NewConcurrentStore,
	}
}

func TestStore_PutClassIsPutIfAbsent(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			first := &info.ClassInfo{Name: "com.acme.A"}
			second := &info.ClassInfo{Name: "com.acme.A"}

			got, inserted := s.PutClass(first)
			assert.True(t, inserted)
			assert.Same(t, first, got)

			got, inserted = s.PutClass(second)
			assert.False(t, inserted)
			assert.Same(t, first, got)

			assert.Equal(t, 1, s.ClassCount())
			stored, ok := s.Class("com.acme.A")
			require.True(t, ok)
			assert.Same(t, first, stored)
		})
	}
}

func TestStore_InsertionOrder(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			for _, n := range []string{"c.C", "a.A", "b.B"} {
				s.PutClass(&info.ClassInfo{Name: n})
			}
			var names []string
			for _, ci := range s.Classes() {
				names = append(names, ci.Name)
			}
			assert.Equal(t, []string{"c.C", "a.A", "b.B"}, names)

			b := &info.ClassInfo{Name: "b.B"}
			a := &info.ClassInfo{Name: "a.A"}
			s.AddAnnotated("x.X", b)
			s.AddAnnotated("y.Y", a)
			s.AddAnnotated("x.X", a)

			assert.Equal(t, []info.Info{b, a}, s.Annotated("x.X"))
			assert.Equal(t, []string{"x.X", "y.Y"}, s.AnnotationTypes())
			assert.Nil(t, s.Annotated("z.Z"))
		})
	}
}

func TestStore_EdgesAreIdempotent(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			assert.True(t, s.AddSubclass("A", "B"))
			assert.False(t, s.AddSubclass("A", "B"))
			assert.True(t, s.AddSubclass("A", "C"))
			assert.Equal(t, []string{"B", "C"}, s.Subclasses("A"))

			assert.True(t, s.AddImplementor("I", "C"))
			assert.False(t, s.AddImplementor("I", "C"))
			assert.Equal(t, []string{"C"}, s.Implementors("I"))
			assert.Nil(t, s.Implementors("J"))

			stats := s.Stats()
			assert.Equal(t, 2, stats.SubclassEdges)
			assert.Equal(t, 1, stats.ImplementorEdges)
		})
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			s.AddSubclass("A", "B")
			subs := s.Subclasses("A")
			subs[0] = "mutated"
			assert.Equal(t, []string{"B"}, s.Subclasses("A"))
		})
	}
}

func TestStore_Packages(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			p := &info.PackageInfo{Name: "com.acme"}
			got, inserted := s.PutPackage(p)
			assert.True(t, inserted)
			assert.Same(t, p, got)

			_, inserted = s.PutPackage(&info.PackageInfo{Name: "com.acme"})
			assert.False(t, inserted)
			assert.Len(t, s.Packages(), 1)
			assert.Equal(t, 1, s.Stats().Packages)
		})
	}
}

func TestConcurrentStore_ParallelWriters(t *testing.T) {
	s := NewConcurrentStore()
	require.True(t, IsConcurrent(s))
	assert.False(t, IsConcurrent(NewArenaStore()))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				name := fmt.Sprintf("c.C%d", i)
				s.PutClass(&info.ClassInfo{Name: name})
				s.AddSubclass("root", name)
				_ = s.Subclasses("root")
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 100, s.ClassCount())
	assert.Len(t, s.Subclasses("root"), 100)
}

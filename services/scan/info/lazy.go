// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package info

import (
	"sync"
	"sync/atomic"
)

// Lazy is a compute-once result cell.
//
// Description:
//
//	The first Get runs fn and stores its value and error. Every later Get
//	returns the stored pair without calling fn, so a failure is cached the
//	same way a success is. Concurrent first calls block until the winner
//	finishes and then observe its result.
//
// Thread Safety:
//
//	Safe for concurrent use. The zero value is ready to use. A Lazy must
//	not be copied after first use.
type Lazy[T any] struct {
	once sync.Once
	done atomic.Bool
	val  T
	err  error
}

// Get returns the memoized result, computing it with fn on first use.
func (l *Lazy[T]) Get(fn func() (T, error)) (T, error) {
	l.once.Do(func() {
		l.val, l.err = fn()
		l.done.Store(true)
	})
	return l.val, l.err
}

// Resolved reports whether Get has completed at least once.
func (l *Lazy[T]) Resolved() bool {
	return l.done.Load()
}

// Failed reports whether the memoized result is an error. It returns
// false before the first Get completes.
func (l *Lazy[T]) Failed() bool {
	return l.done.Load() && l.err != nil
}

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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOptions configures the Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait for more changes before
	// re-fingerprinting. Default: 500ms
	DebounceWindow time.Duration

	// SyncInterval is how often the watch list is reconciled with the
	// cached finders. Default: 2s
	SyncInterval time.Duration

	// BufferSize is the size of the change buffer channel.
	// Default: 1000
	BufferSize int

	// Logger receives watcher events. Nil selects slog.Default().
	Logger *slog.Logger
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		DebounceWindow: 500 * time.Millisecond,
		SyncInterval:   2 * time.Second,
		BufferSize:     1000,
	}
}

// Watcher evicts cached finders when their archives change on disk.
//
// # Description
//
// Jar archives are watched through their parent directory so atomic
// replaces are seen. Directory archives are watched recursively. Changes
// are debounced, then passed to Service.InvalidateChanged, which only
// evicts finders whose fingerprint moved.
//
// # Thread Safety
//
// Safe for concurrent use. Invalidation runs on a single goroutine.
type Watcher struct {
	svc     *Service
	watcher *fsnotify.Watcher
	opts    WatcherOptions
	logger  *slog.Logger

	changes  chan string
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu       sync.Mutex
	roots    map[string][]string // archive path -> directories added for it
	dirRefs  map[string]int
	watching bool
}

// NewWatcher creates a watcher for svc's cached archives.
//
// # Inputs
//
//   - svc: The service whose finders are invalidated.
//   - opts: Optional configuration (nil uses defaults).
//
// # Outputs
//
//   - *Watcher: Ready-to-use watcher (call Start to begin watching).
//   - error: Non-nil if the fsnotify watcher could not be created.
func NewWatcher(svc *Service, opts *WatcherOptions) (*Watcher, error) {
	o := DefaultWatcherOptions()
	if opts != nil {
		if opts.DebounceWindow > 0 {
			o.DebounceWindow = opts.DebounceWindow
		}
		if opts.SyncInterval > 0 {
			o.SyncInterval = opts.SyncInterval
		}
		if opts.BufferSize > 0 {
			o.BufferSize = opts.BufferSize
		}
		o.Logger = opts.Logger
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		svc:     svc,
		watcher: fw,
		opts:    o,
		logger:  logger,
		changes: make(chan string, o.BufferSize),
		done:    make(chan struct{}),
		roots:   make(map[string][]string),
		dirRefs: make(map[string]int),
	}, nil
}

// Start syncs the watch list and begins processing events.
//
// # Behavior
//
// Spawns two goroutines: an event processor that also reconciles the
// watch list every SyncInterval, and a debouncer that invalidates
// finders. Both exit when Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.Sync(); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutines.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// Watched returns the archive paths currently watched, sorted.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.roots))
	for p := range w.roots {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Sync adds watches for newly cached archives and drops watches for
// evicted ones.
func (w *Watcher) Sync() error {
	current := w.svc.ArchivePaths()

	w.mu.Lock()
	defer w.mu.Unlock()

	for root, dirs := range w.roots {
		if slices.Contains(current, root) {
			continue
		}
		for _, d := range dirs {
			w.release(d)
		}
		delete(w.roots, root)
	}

	for _, root := range current {
		if _, ok := w.roots[root]; ok {
			continue
		}
		dirs, err := watchDirs(root)
		if err != nil {
			w.logger.Warn("cannot watch archive",
				slog.String("archive_path", root),
				slog.String("error", err.Error()),
			)
			continue
		}
		added := make([]string, 0, len(dirs))
		for _, d := range dirs {
			if err := w.acquire(d); err != nil {
				w.logger.Debug("watch add failed", slog.String("dir", d), slog.String("error", err.Error()))
				continue
			}
			added = append(added, d)
		}
		w.roots[root] = added
	}
	return nil
}

// acquire adds d to the fsnotify watcher on first use. Caller holds mu.
func (w *Watcher) acquire(d string) error {
	if w.dirRefs[d] == 0 {
		if err := w.watcher.Add(d); err != nil {
			return err
		}
	}
	w.dirRefs[d]++
	return nil
}

// release removes d from the fsnotify watcher on last use. Caller holds mu.
func (w *Watcher) release(d string) {
	w.dirRefs[d]--
	if w.dirRefs[d] <= 0 {
		delete(w.dirRefs, d)
		_ = w.watcher.Remove(d)
	}
}

// watchDirs returns the directories to watch for an archive path.
func watchDirs(root string) ([]string, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return []string{filepath.Dir(root)}, nil
	}
	var dirs []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, p)
		}
		return nil
	})
	return dirs, err
}

// processEvents forwards fsnotify events and reconciles the watch list.
func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			_ = w.Sync()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			select {
			case w.changes <- event.Name:
			default:
				w.logger.Debug("change buffer full", slog.String("path", event.Name))
			}
			if event.Has(fsnotify.Create) {
				if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
					w.addCreatedDir(event.Name)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// addCreatedDir watches a new directory inside a directory archive.
func (w *Watcher) addCreatedDir(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for root, dirs := range w.roots {
		if !containsPath(root, dir) || slices.Contains(dirs, dir) {
			continue
		}
		if err := w.acquire(dir); err == nil {
			w.roots[root] = append(dirs, dir)
		}
	}
}

// debounceLoop batches changed paths and invalidates after the window.
func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		clear(pending)
		slices.Sort(paths)
		if evicted := w.svc.InvalidateChanged(ctx, paths); len(evicted) > 0 {
			w.logger.Info("archives changed",
				slog.Int("paths", len(paths)),
				slog.Any("evicted", evicted),
			)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case p := <-w.changes:
			pending[p] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.opts.DebounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.DebounceWindow)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

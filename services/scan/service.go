// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scan serves annotation finders over HTTP.
//
// A Service builds one finder per archive path and caches it. Handlers
// expose the finder queries under /v1/scan, and a Watcher evicts cached
// finders when their archives change on disk.
package scan

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianScan/services/scan/archive"
	"github.com/AleutianAI/AleutianScan/services/scan/config"
	"github.com/AleutianAI/AleutianScan/services/scan/finder"
	"github.com/AleutianAI/AleutianScan/services/scan/index"
	"github.com/AleutianAI/AleutianScan/services/scan/snapshot"
)

// ServiceConfig configures the scan service.
type ServiceConfig struct {
	// MaxInitDuration is the maximum time allowed for init operations.
	// Default: 5m
	MaxInitDuration time.Duration

	// MaxCachedFinders is the maximum number of finders to cache.
	// Default: 8
	MaxCachedFinders int

	// FinderTTL is how long finders are cached before expiry.
	// Default: 0 (no expiry)
	FinderTTL time.Duration

	// AllowedRoots is an optional list of allowed archive path prefixes.
	// If empty, all paths are allowed.
	AllowedRoots []string

	// Logger receives service events. Nil selects slog.Default().
	Logger *slog.Logger
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxInitDuration:  5 * time.Minute,
		MaxCachedFinders: 8,
	}
}

// CachedFinder holds a finder and the archive it reads from.
type CachedFinder struct {
	Finder *finder.Finder

	// ArchivePath is the cleaned absolute path the finder was built for.
	ArchivePath string

	// Fingerprint is the archive fingerprint at build time.
	Fingerprint string

	// SnapshotID is set when the finder was restored from a snapshot.
	SnapshotID string

	BuiltAtMilli   int64
	ExpiresAtMilli int64

	arc    archive.ClosableArchive
	mu     sync.RWMutex
	closed bool
}

// Use runs fn while holding the finder open.
//
// Description:
//
//	Eviction waits for every in-flight Use to return before closing the
//	finder and its archive. Returns ErrFinderClosed if eviction won.
//
// Thread Safety: Safe for concurrent use.
func (c *CachedFinder) Use(fn func(f *finder.Finder) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrFinderClosed
	}
	return fn(c.Finder)
}

func (c *CachedFinder) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.Finder.Close()
	return c.arc.Close()
}

// Service caches finders per archive path.
//
// Thread Safety:
//
//	Service is safe for concurrent use. Multiple goroutines can call
//	any combination of methods simultaneously.
type Service struct {
	config    ServiceConfig
	logger    *slog.Logger
	finders   map[string]*CachedFinder
	mu        sync.RWMutex
	initLocks sync.Map // archivePath -> *sync.Mutex

	// snapshots is nil when persistence is disabled.
	snapshots *snapshot.Manager

	now func() time.Time
}

// NewService creates a scan service.
//
// Inputs:
//
//	config - Service configuration
//	snapshots - Snapshot manager. May be nil to disable persistence.
//
// Outputs:
//
//	*Service - The configured service. Call Close when done.
func NewService(config ServiceConfig, snapshots *snapshot.Manager) *Service {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxCachedFinders <= 0 {
		config.MaxCachedFinders = DefaultServiceConfig().MaxCachedFinders
	}
	return &Service{
		config:    config,
		logger:    logger,
		finders:   make(map[string]*CachedFinder),
		snapshots: snapshots,
		now:       time.Now,
	}
}

// Init builds a finder for an archive and caches it.
//
// Description:
//
//	Loads scan.config.yaml next to the archive, applies the request
//	overrides, opens the archive (plus any libraries), and either scans
//	it or restores the requested snapshot. An existing finder for the
//	same path is replaced and closed.
//
// Inputs:
//
//	ctx - Context for cancellation
//	req - The init request
//
// Outputs:
//
//	*InitResponse - Finder statistics and metadata
//	error - Non-nil if validation, configuration, or the build fails
//
// Errors:
//
//	ErrRelativePath - Archive path is not absolute
//	ErrPathTraversal - Archive path contains .. or is outside AllowedRoots
//	ErrInitInProgress - Another init is running for this archive
//	ErrSnapshotsDisabled - SnapshotID set without a snapshot manager
//	config.ErrInvalidConfig - scan.config.yaml failed validation
func (s *Service) Init(ctx context.Context, req InitRequest) (*InitResponse, error) {
	if err := s.validateArchivePath(req.ArchivePath); err != nil {
		return nil, err
	}
	for _, lib := range req.Libraries {
		if err := s.validateArchivePath(lib); err != nil {
			return nil, fmt.Errorf("library %s: %w", lib, err)
		}
	}
	if req.SnapshotID != "" && s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	path := filepath.Clean(req.ArchivePath)

	lock := s.getInitLock(path)
	if !lock.TryLock() {
		return nil, ErrInitInProgress
	}
	defer lock.Unlock()

	if s.config.MaxInitDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.MaxInitDuration)
		defer cancel()
	}
	start := time.Now()

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyOverrides(&cfg, req)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fingerprint, err := Fingerprint(ctx, path)
	if err != nil {
		return nil, err
	}
	arc, err := openArchive(path, req.Libraries, cfg)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(slog.String("archive_path", path))
	f, restoredFrom, err := s.buildFinder(ctx, path, arc, cfg, req.SnapshotID, logger)
	if err != nil {
		arc.Close()
		return nil, err
	}

	finderID := s.generateFinderID(path)
	cached := &CachedFinder{
		Finder:       f,
		ArchivePath:  path,
		Fingerprint:  fingerprint,
		SnapshotID:   restoredFrom,
		BuiltAtMilli: s.now().UnixMilli(),
		arc:          arc,
	}
	if s.config.FinderTTL > 0 {
		cached.ExpiresAtMilli = s.now().Add(s.config.FinderTTL).UnixMilli()
	}

	s.mu.Lock()
	previous, isRefresh := s.finders[finderID]
	s.finders[finderID] = cached
	evicted := s.evictIfNeeded(finderID)
	s.mu.Unlock()

	if isRefresh {
		evicted = append(evicted, previous)
	}
	s.closeAll(evicted)

	notLoaded := f.ClassesNotLoaded()
	if notLoaded == nil {
		notLoaded = []string{}
	}
	stats := f.Stats()
	logger.Info("finder ready",
		slog.String("finder_id", finderID),
		slog.Int("classes", stats.Classes),
		slog.Int("annotation_types", stats.AnnotationTypes),
		slog.Int("not_loaded", len(notLoaded)),
		slog.Bool("refresh", isRefresh),
		slog.Duration("duration", time.Since(start)),
	)

	return &InitResponse{
		FinderID:         finderID,
		IsRefresh:        isRefresh,
		Fingerprint:      fingerprint,
		RestoredFrom:     restoredFrom,
		Stats:            stats,
		ClassesNotLoaded: notLoaded,
		BuildTimeMs:      time.Since(start).Milliseconds(),
	}, nil
}

func (s *Service) buildFinder(ctx context.Context, path string, arc archive.Archive, cfg config.ScanConfig, snapshotID string, logger *slog.Logger) (*finder.Finder, string, error) {
	// Cached finders serve concurrent requests, so sync mode must not
	// get the single-goroutine arena store.
	opts := append(cfg.FinderOptions(logger), finder.WithStore(index.NewConcurrentStore()))
	if snapshotID == "" {
		f, err := finder.New(ctx, arc, opts...)
		if err != nil {
			return nil, "", fmt.Errorf("building finder: %w", err)
		}
		return f, "", nil
	}

	var (
		payload *snapshot.Payload
		meta    *snapshot.Metadata
		err     error
	)
	if snapshotID == "latest" {
		payload, meta, err = s.snapshots.LoadLatest(ctx, path)
	} else {
		payload, meta, err = s.snapshots.Load(ctx, snapshotID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading snapshot: %w", err)
	}
	f, err := snapshot.Restore(ctx, payload, arc, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("restoring snapshot %s: %w", meta.SnapshotID, err)
	}
	return f, meta.SnapshotID, nil
}

// applyOverrides merges the request fields over the file config.
func applyOverrides(cfg *config.ScanConfig, req InitRequest) {
	if req.LinkMode != "" {
		cfg.LinkMode = req.LinkMode
	}
	if req.RuntimeCheck != nil {
		v := *req.RuntimeCheck
		cfg.RuntimeCheck = &v
	}
	cfg.Include = append(slices.Clone(cfg.Include), req.Include...)
	cfg.Exclude = append(slices.Clone(cfg.Exclude), req.Exclude...)
}

// openArchive opens path and wraps it with libraries when given.
func openArchive(path string, libraries []string, cfg config.ScanConfig) (archive.ClosableArchive, error) {
	primary, err := archive.Open(path, cfg.ArchiveOptions()...)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	if len(libraries) == 0 {
		return primary, nil
	}
	libs := make([]archive.Archive, 0, len(libraries))
	for _, lib := range libraries {
		a, err := archive.Open(lib)
		if err != nil {
			primary.Close()
			for _, opened := range libs {
				opened.(archive.ClosableArchive).Close()
			}
			return nil, fmt.Errorf("opening library: %w", err)
		}
		libs = append(libs, a)
	}
	return archive.NewComposite(primary, cfg.PlatformPrefixes, libs...), nil
}

// GetFinder returns the cached finder for an ID.
//
// Outputs:
//
//	*CachedFinder - The cached finder
//	error - ErrFinderNotInitialized if not found, ErrFinderExpired if expired
func (s *Service) GetFinder(finderID string) (*CachedFinder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cached, ok := s.finders[finderID]
	if !ok {
		return nil, ErrFinderNotInitialized
	}
	if cached.ExpiresAtMilli > 0 && s.now().UnixMilli() > cached.ExpiresAtMilli {
		return nil, ErrFinderExpired
	}
	return cached, nil
}

// FinderForPath returns the cached finder for an archive path.
func (s *Service) FinderForPath(archivePath string) (*CachedFinder, error) {
	return s.GetFinder(s.generateFinderID(filepath.Clean(archivePath)))
}

// FinderCount returns the number of cached finders.
func (s *Service) FinderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.finders)
}

// ListFinders returns a summary of every cached finder, newest first.
func (s *Service) ListFinders() []FinderSummary {
	s.mu.RLock()
	out := make([]FinderSummary, 0, len(s.finders))
	for id, cached := range s.finders {
		out = append(out, FinderSummary{
			FinderID:     id,
			ArchivePath:  cached.ArchivePath,
			Fingerprint:  cached.Fingerprint,
			BuiltAtMilli: cached.BuiltAtMilli,
			Stats:        cached.Finder.Stats(),
		})
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b FinderSummary) int {
		if c := cmp.Compare(b.BuiltAtMilli, a.BuiltAtMilli); c != 0 {
			return c
		}
		return strings.Compare(a.FinderID, b.FinderID)
	})
	return out
}

// ArchivePaths returns the archive paths of every cached finder.
func (s *Service) ArchivePaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.finders))
	for _, cached := range s.finders {
		paths = append(paths, cached.ArchivePath)
	}
	slices.Sort(paths)
	return paths
}

// Invalidate evicts and closes the finder with the given ID.
// Returns false if no such finder was cached.
func (s *Service) Invalidate(finderID string) bool {
	s.mu.Lock()
	cached, ok := s.finders[finderID]
	delete(s.finders, finderID)
	s.mu.Unlock()
	if ok {
		s.closeAll([]*CachedFinder{cached})
		s.logger.Info("finder invalidated",
			slog.String("finder_id", finderID),
			slog.String("archive_path", cached.ArchivePath),
		)
	}
	return ok
}

// InvalidateChanged evicts finders whose archive contains a changed path
// and whose fingerprint no longer matches. Returns the evicted IDs.
//
// Description:
//
//	A changed path matches a finder when it equals the archive path or
//	lies beneath a directory archive. The fingerprint is recomputed so a
//	touch with no content change keeps the finder.
func (s *Service) InvalidateChanged(ctx context.Context, changed []string) []string {
	s.mu.RLock()
	candidates := make(map[string]*CachedFinder)
	for id, cached := range s.finders {
		for _, p := range changed {
			if containsPath(cached.ArchivePath, p) {
				candidates[id] = cached
				break
			}
		}
	}
	s.mu.RUnlock()

	var evicted []string
	for id, cached := range candidates {
		current, err := Fingerprint(ctx, cached.ArchivePath)
		if err == nil && current == cached.Fingerprint {
			continue
		}
		if s.invalidateIfSame(id, cached) {
			evicted = append(evicted, id)
		}
	}
	slices.Sort(evicted)
	return evicted
}

// invalidateIfSame evicts id only if it still maps to cached, so a
// concurrent re-init is not thrown away.
func (s *Service) invalidateIfSame(id string, cached *CachedFinder) bool {
	s.mu.Lock()
	current, ok := s.finders[id]
	if ok && current == cached {
		delete(s.finders, id)
	}
	s.mu.Unlock()
	if !ok || current != cached {
		return false
	}
	s.closeAll([]*CachedFinder{cached})
	s.logger.Info("finder invalidated after archive change",
		slog.String("finder_id", id),
		slog.String("archive_path", cached.ArchivePath),
	)
	return true
}

// SaveSnapshot persists the finder with the given ID. Empty ID selects
// the newest finder.
func (s *Service) SaveSnapshot(ctx context.Context, finderID, label string) (*snapshot.Metadata, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	cached, err := s.resolve(finderID)
	if err != nil {
		return nil, err
	}
	var meta *snapshot.Metadata
	err = cached.Use(func(f *finder.Finder) error {
		var saveErr error
		meta, saveErr = s.snapshots.Save(ctx, cached.ArchivePath, f, label)
		return saveErr
	})
	return meta, err
}

// ListSnapshots lists snapshots, optionally filtered by archive path.
func (s *Service) ListSnapshots(ctx context.Context, archivePath string, limit int) ([]*snapshot.Metadata, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	if archivePath != "" {
		archivePath = filepath.Clean(archivePath)
	}
	return s.snapshots.List(ctx, archivePath, limit)
}

// DiffSnapshots compares two saved snapshots.
func (s *Service) DiffSnapshots(ctx context.Context, baseID, targetID string) (*snapshot.Diff, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	return s.snapshots.Diff(ctx, baseID, targetID)
}

// SnapshotsEnabled reports whether a snapshot manager is configured.
func (s *Service) SnapshotsEnabled() bool {
	return s.snapshots != nil
}

// resolve returns the finder for id, or the newest finder when id is empty.
func (s *Service) resolve(finderID string) (*CachedFinder, error) {
	if finderID != "" {
		return s.GetFinder(finderID)
	}
	cached := s.getNewestFinder()
	if cached == nil {
		return nil, ErrFinderNotInitialized
	}
	return cached, nil
}

// Close evicts and closes every cached finder.
//
// Thread Safety: Safe for concurrent use.
func (s *Service) Close() error {
	s.mu.Lock()
	all := make([]*CachedFinder, 0, len(s.finders))
	for _, cached := range s.finders {
		all = append(all, cached)
	}
	s.finders = make(map[string]*CachedFinder)
	s.mu.Unlock()
	return s.closeAll(all)
}

func (s *Service) closeAll(finders []*CachedFinder) error {
	var errs []error
	for _, cached := range finders {
		if err := cached.close(); err != nil {
			s.logger.Warn("closing archive failed",
				slog.String("archive_path", cached.ArchivePath),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// validateArchivePath validates an archive path.
func (s *Service) validateArchivePath(path string) error {
	if !filepath.IsAbs(path) {
		return ErrRelativePath
	}
	if strings.Contains(path, "..") {
		return ErrPathTraversal
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if len(s.config.AllowedRoots) > 0 {
		allowed := false
		for _, root := range s.config.AllowedRoots {
			if strings.HasPrefix(resolved, root) {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrPathTraversal
		}
	}
	return nil
}

// generateFinderID creates a deterministic ID for an archive path.
func (s *Service) generateFinderID(archivePath string) string {
	hash := sha256.Sum256([]byte(archivePath))
	return hex.EncodeToString(hash[:])[:16]
}

// getInitLock returns the init lock for an archive path.
func (s *Service) getInitLock(archivePath string) *sync.Mutex {
	lock, _ := s.initLocks.LoadOrStore(archivePath, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// evictIfNeeded removes the oldest finders other than keep while over
// capacity and returns them for closing. Caller must hold the write lock.
func (s *Service) evictIfNeeded(keep string) []*CachedFinder {
	var evicted []*CachedFinder
	for len(s.finders) > s.config.MaxCachedFinders {
		var oldestID string
		var oldestTime int64
		for id, cached := range s.finders {
			if id == keep {
				continue
			}
			if oldestID == "" || cached.BuiltAtMilli < oldestTime {
				oldestTime = cached.BuiltAtMilli
				oldestID = id
			}
		}
		evicted = append(evicted, s.finders[oldestID])
		delete(s.finders, oldestID)
	}
	return evicted
}

// getNewestFinder returns the most recently built finder, or nil.
func (s *Service) getNewestFinder() *CachedFinder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *CachedFinder
	for _, cached := range s.finders {
		if newest == nil || cached.BuiltAtMilli > newest.BuiltAtMilli {
			newest = cached
		}
	}
	return newest
}

// containsPath reports whether p is archivePath or lies beneath it.
func containsPath(archivePath, p string) bool {
	p = filepath.Clean(p)
	if p == archivePath {
		return true
	}
	rel, err := filepath.Rel(archivePath, p)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

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
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianScan/services/scan/archive"
	"github.com/AleutianAI/AleutianScan/services/scan/index"
)

// LinkMode selects how subclass and implementation edges are linked.
type LinkMode int

const (
	// LinkModeSync links inline on the goroutine that first needs the
	// edges.
	LinkModeSync LinkMode = iota

	// LinkModePool fans linking tasks out to a bounded worker pool.
	LinkModePool

	// LinkModeDeferred runs linking on one background goroutine that
	// exits once every requested phase has finished.
	LinkModeDeferred
)

// String returns the mode name used in config files and metrics.
func (m LinkMode) String() string {
	switch m {
	case LinkModeSync:
		return "sync"
	case LinkModePool:
		return "pool"
	case LinkModeDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("linkmode(%d)", int(m))
	}
}

// ParseLinkMode converts a mode name to a LinkMode.
func ParseLinkMode(s string) (LinkMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sync":
		return LinkModeSync, nil
	case "pool":
		return LinkModePool, nil
	case "deferred":
		return LinkModeDeferred, nil
	default:
		return LinkModeSync, fmt.Errorf("unknown link mode %q", s)
	}
}

// Well-known names used to recognize meta-annotations.
const (
	// DefaultMetaTypeName is the canonical meta-annotation marker.
	DefaultMetaTypeName = "javax.annotation.Metatype"

	// DefaultMetaRootName is the canonical marker for annotations that act
	// as meta-annotation markers themselves.
	DefaultMetaRootName = "javax.annotation.Metaroot"

	// DefaultMetaTypeSuffix is the simple name of a self-annotated
	// meta-annotation marker declared outside javax.annotation.
	DefaultMetaTypeSuffix = "Metatype"

	// DefaultMetaRootSuffix is the simple name of a self-annotated
	// meta-root marker declared outside javax.annotation.
	DefaultMetaRootSuffix = "Metaroot"

	// DefaultGeneratedMarker is appended to a class name to form the name
	// of a generated holder that carries annotations on its behalf.
	DefaultGeneratedMarker = "$$"

	// DefaultLinkTimeout bounds how long a query waits for a link phase.
	DefaultLinkTimeout = time.Hour
)

// Options configures a Finder.
type Options struct {
	// Store receives descriptors and edges. Nil selects an arena store for
	// LinkModeSync and a concurrent store otherwise.
	Store index.Store

	// LinkMode selects the linking strategy.
	LinkMode LinkMode

	// Workers bounds the pool in LinkModePool. Zero means GOMAXPROCS.
	Workers int

	// LinkTimeout bounds how long a query waits on a link phase before
	// proceeding with whatever edges exist.
	LinkTimeout time.Duration

	// EagerLink runs both link phases during construction.
	EagerLink bool

	// PlatformPrefixes are name prefixes treated as hierarchy terminals.
	PlatformPrefixes []string

	// RuntimeCheck confirms descriptor matches against the runtime view.
	RuntimeCheck bool

	MetaTypeName    string
	MetaRootName    string
	MetaTypeSuffix  string
	MetaRootSuffix  string
	GeneratedMarker string

	// Logger receives construction and linking events.
	Logger *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		LinkMode:         LinkModeSync,
		LinkTimeout:      DefaultLinkTimeout,
		PlatformPrefixes: archive.DefaultPlatformPrefixes,
		RuntimeCheck:     true,
		MetaTypeName:     DefaultMetaTypeName,
		MetaRootName:     DefaultMetaRootName,
		MetaTypeSuffix:   DefaultMetaTypeSuffix,
		MetaRootSuffix:   DefaultMetaRootSuffix,
		GeneratedMarker:  DefaultGeneratedMarker,
	}
}

// Option is a functional option for configuring a Finder.
type Option func(*Options)

// WithStore sets the descriptor store.
func WithStore(s index.Store) Option {
	return func(o *Options) {
		o.Store = s
	}
}

// WithLinkMode sets the linking strategy.
func WithLinkMode(m LinkMode) Option {
	return func(o *Options) {
		o.LinkMode = m
	}
}

// WithWorkers bounds the pool used by LinkModePool.
func WithWorkers(n int) Option {
	return func(o *Options) {
		o.Workers = n
	}
}

// WithLinkTimeout bounds how long queries wait for a link phase.
func WithLinkTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.LinkTimeout = d
	}
}

// WithEagerLink links both phases during construction.
func WithEagerLink(eager bool) Option {
	return func(o *Options) {
		o.EagerLink = eager
	}
}

// WithPlatformPrefixes replaces the platform name prefixes.
func WithPlatformPrefixes(prefixes ...string) Option {
	return func(o *Options) {
		o.PlatformPrefixes = prefixes
	}
}

// WithRuntimeCheck toggles the runtime double-check.
func WithRuntimeCheck(enabled bool) Option {
	return func(o *Options) {
		o.RuntimeCheck = enabled
	}
}

// WithGeneratedMarker sets the generated holder suffix.
func WithGeneratedMarker(marker string) Option {
	return func(o *Options) {
		o.GeneratedMarker = marker
	}
}

// WithMetaSuffixes sets the simple names used to recognize self-annotated
// meta markers.
func WithMetaSuffixes(metaType, metaRoot string) Option {
	return func(o *Options) {
		o.MetaTypeSuffix = metaType
		o.MetaRootSuffix = metaRoot
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// buildOptions applies opts to the defaults.
func buildOptions(opts []Option) (Options, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return finalizeOptions(o)
}

// finalizeOptions fills derived fields and selects the store.
func finalizeOptions(o Options) (Options, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.LinkTimeout <= 0 {
		o.LinkTimeout = DefaultLinkTimeout
	}
	if o.PlatformPrefixes == nil {
		o.PlatformPrefixes = archive.DefaultPlatformPrefixes
	}
	switch o.LinkMode {
	case LinkModeSync:
		if o.Store == nil {
			o.Store = index.NewArenaStore()
		}
	case LinkModePool, LinkModeDeferred:
		if o.Store == nil {
			o.Store = index.NewConcurrentStore()
		} else if !index.IsConcurrent(o.Store) {
			return o, fmt.Errorf("%w: %s", ErrStoreNotConcurrent, o.LinkMode)
		}
	default:
		return o, fmt.Errorf("unknown link mode %d", int(o.LinkMode))
	}
	return o, nil
}

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
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianScan/services/scan/info"
)

// Select returns a child Finder restricted to the named classes.
//
// Description:
//
//	The child is seeded with the parent's descriptors for the meta roots,
//	for each named class, and for each name's generated holder
//	(name + GeneratedMarker). The annotation resolution pass then runs
//	against the parent's descriptors. The child never reads class bytes:
//	a class the parent has not indexed is unavailable to the child.
//	Names unknown to the parent are skipped.
//
//	The child shares descriptors, and therefore memoized runtime views,
//	with the parent. It owns its own store, edges and not-loaded list.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - names: Binary names to keep.
//
// Outputs:
//   - *Finder: The child finder. Call Close when done.
//   - error: ctx.Err() or an option error.
//
// Thread Safety: Safe for concurrent use with parent queries.
func (f *Finder) Select(ctx context.Context, names ...string) (*Finder, error) {
	o := f.opts
	o.Store = nil
	o.EagerLink = false
	o, err := finalizeOptions(o)
	if err != nil {
		return nil, err
	}

	child := newFinder(f.arc, o)
	child.source = func(name string) (*info.ClassInfo, error) {
		if ci, ok := f.store.Class(name); ok {
			return ci, nil
		}
		return nil, fmt.Errorf("%w: %s is not indexed by the parent finder", ErrBytecodeUnavailable, name)
	}

	seeds := make([]string, 0, len(f.metaRoots)+2*len(names))
	seeds = append(seeds, f.metaRoots...)
	for _, name := range names {
		seeds = append(seeds, name)
		if f.opts.GeneratedMarker != "" {
			seeds = append(seeds, name+f.opts.GeneratedMarker)
		}
	}
	for _, name := range seeds {
		if _, ok := f.store.Class(name); !ok {
			continue
		}
		if _, err := child.parse(name); err != nil {
			child.Close()
			return nil, err
		}
	}

	if err := child.resolveAnnotations(ctx); err != nil {
		child.Close()
		return nil, err
	}
	child.logger.Debug("finder selected",
		slog.Int("requested", len(names)),
		slog.Int("classes", child.store.ClassCount()),
	)
	return child, nil
}

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
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianScan/services/scan/info"
)

// linkParent registers ci under its superclass and walks upward, decoding
// superclasses on demand. The walk stops at a platform superclass, an
// edge that already exists, a superclass that cannot be decoded, or a
// cycle.
func (f *Finder) linkParent(ci *info.ClassInfo) {
	seen := make(map[string]bool)
	cur := ci
	for cur.SuperName != "" && !f.isPlatform(cur.SuperName) && !seen[cur.Name] {
		seen[cur.Name] = true
		parent, err := f.parse(cur.SuperName)
		if err != nil {
			f.logger.Debug("superclass unresolved",
				slog.String("class", cur.Name),
				slog.String("superclass", cur.SuperName),
				slog.String("error", err.Error()),
			)
			return
		}
		if !f.store.AddSubclass(parent.Name, cur.Name) {
			return
		}
		cur = parent
	}
}

// linkInterfaces registers ci as an implementor of each declared
// interface and recurses into the interfaces' own super-interfaces.
// Platform interfaces receive the edge but are not decoded.
func (f *Finder) linkInterfaces(ci *info.ClassInfo) {
	seen := make(map[string]bool)
	stack := []*info.ClassInfo{ci}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur.Name] {
			continue
		}
		seen[cur.Name] = true

		for _, name := range cur.Interfaces {
			f.store.AddImplementor(name, cur.Name)
			if f.isPlatform(name) {
				continue
			}
			iface, err := f.parse(name)
			if err != nil {
				f.logger.Debug("interface unresolved",
					slog.String("class", cur.Name),
					slog.String("interface", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			stack = append(stack, iface)
		}
	}
}

// forEachClass runs fn over a snapshot of the stored classes. In
// LinkModePool the calls fan out over the bounded worker pool.
func (f *Finder) forEachClass(ctx context.Context, fn func(*info.ClassInfo)) {
	classes := f.store.Classes()
	if f.opts.LinkMode != LinkModePool {
		for i, ci := range classes {
			if i%ctxCheckInterval == 0 && ctx.Err() != nil {
				return
			}
			fn(ci)
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Workers)
	for _, ci := range classes {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(ci)
			return nil
		})
	}
	_ = g.Wait()
}

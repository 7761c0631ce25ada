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
	"sync"
	"time"
)

const (
	phaseSubclasses      = "subclasses"
	phaseImplementations = "implementations"
)

// phase is a one-shot link pass with a completion gate.
type phase struct {
	name string
	once sync.Once
	done chan struct{}
}

func newPhase(name string) *phase {
	return &phase{name: name, done: make(chan struct{})}
}

func (p *phase) isDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// linker schedules link phases according to the finder's LinkMode.
//
// Thread Safety:
//
//	Safe for concurrent use. Each phase runs at most once.
type linker struct {
	f               *Finder
	subclasses      *phase
	implementations *phase

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Deferred mode job queue, drained by at most one goroutine.
	mu      sync.Mutex
	queue   []func()
	running bool
}

func newLinker(f *Finder) *linker {
	ctx, cancel := context.WithCancel(context.Background())
	return &linker{
		f:               f,
		subclasses:      newPhase(phaseSubclasses),
		implementations: newPhase(phaseImplementations),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// enable starts p once. LinkModeSync runs it inline; LinkModePool runs it
// on its own goroutine with a bounded fan-out; LinkModeDeferred queues it
// on the single background goroutine.
func (l *linker) enable(p *phase, task func(context.Context)) {
	p.once.Do(func() {
		switch l.f.opts.LinkMode {
		case LinkModePool:
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.run(p, task)
			}()
		case LinkModeDeferred:
			l.submit(func() { l.run(p, task) })
		default:
			l.run(p, task)
		}
	})
}

func (l *linker) run(p *phase, task func(context.Context)) {
	defer close(p.done)
	start := time.Now()
	task(l.ctx)
	recordLinkPhase(p.name, l.f.opts.LinkMode, time.Since(start))
	l.f.logger.Debug("link phase finished",
		slog.String("phase", p.name),
		slog.String("mode", l.f.opts.LinkMode.String()),
		slog.Duration("duration", time.Since(start)),
	)
}

// submit appends job to the deferred queue and starts the drain goroutine
// if none is running.
func (l *linker) submit(job func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, job)
	if l.running {
		return
	}
	l.running = true
	l.wg.Add(1)
	go l.drain()
}

// drain runs queued jobs in order and exits when the queue is empty.
func (l *linker) drain() {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		job := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		job()
	}
}

// await blocks until p finishes, the link timeout elapses or ctx is done.
// A timeout or cancellation is logged and the caller proceeds with the
// edges that exist.
func (l *linker) await(ctx context.Context, p *phase) {
	if p.isDone() {
		return
	}
	timer := time.NewTimer(l.f.opts.LinkTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-ctx.Done():
		recordLinkTimeout(p.name)
		l.f.logger.Warn("link phase wait cancelled; results may be incomplete",
			slog.String("phase", p.name),
			slog.Any("cause", ctx.Err()),
		)
	case <-timer.C:
		recordLinkTimeout(p.name)
		l.f.logger.Warn("link phase wait timed out; results may be incomplete",
			slog.String("phase", p.name),
			slog.Duration("timeout", l.f.opts.LinkTimeout),
		)
	}
}

// close cancels in-flight phases and waits for their goroutines.
func (l *linker) close() {
	l.cancel()
	l.wg.Wait()
}

// EnableFindSubclasses starts the subclass link phase.
//
// Description:
//
//	Registers every stored class under its superclass, decoding missing
//	superclasses from the archive. Idempotent. In LinkModeSync the phase
//	runs before EnableFindSubclasses returns; the other modes return
//	immediately and queries wait for completion.
//
// Thread Safety: Safe for concurrent use.
func (f *Finder) EnableFindSubclasses() {
	f.linker.enable(f.linker.subclasses, func(ctx context.Context) {
		f.forEachClass(ctx, f.linkParent)
	})
}

// EnableFindImplementations starts the implementation link phase.
//
// Description:
//
//	Registers every stored class as an implementor of its declared
//	interfaces, decoding missing interfaces from the archive. Implementation
//	queries also walk the subclass tree, so the subclass phase is enabled
//	first. Idempotent.
//
// Thread Safety: Safe for concurrent use.
func (f *Finder) EnableFindImplementations() {
	f.EnableFindSubclasses()
	f.linker.enable(f.linker.implementations, func(ctx context.Context) {
		// Interface edges of library superclasses only exist once the
		// subclass phase has parsed them.
		select {
		case <-f.linker.subclasses.done:
		case <-ctx.Done():
			return
		}
		f.forEachClass(ctx, f.linkInterfaces)
	})
}

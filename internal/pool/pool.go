// Copyright 2026 The drbdcore Authors
// This file is part of drbdcore.
//
// drbdcore is free software: you can redistribute it and/or modify
// it under the terms of the Apache License, Version 2.0.
//
// drbdcore is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// Apache License, Version 2.0 for more details.

// Package pool implements the shared, interruptible resource pools of spec
// §5: a page pool for bulk-transfer buffers with a fixed preallocated
// low-water reserve, backed by a byte-addressed cache that keeps a released
// page's bytes for the next Get of its slot, and a wait queue that blocks rather than fails
// under exhaustion but remains cancellable.
package pool

import (
	"context"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"golang.org/x/sync/semaphore"
)

// PagePool hands out fixed-size byte buffers for Data packet bulk payloads.
// Its semaphore caps the number of outstanding pages at the configured
// low-water reserve; Get blocks (interruptibly) once that reserve is
// exhausted, matching spec §5's "allocations must be interruptible by the
// cancellation signal; under exhaustion the pipeline blocks rather than
// failing".
type PagePool struct {
	pageSize int
	sem      *semaphore.Weighted

	// cache is a scratch byte-addressed store keyed by slot id: Release
	// stores a copy of the page's bytes under its slot, and a later Get of
	// the same slot returns a freshly allocated buffer holding that copy
	// (the previous contents are not zeroed). It is not a correctness
	// dependency.
	cache *fastcache.Cache

	mu      sync.Mutex
	nextID  uint64
	freeIDs []uint64
}

// NewPagePool creates a pool of `reserve` pages of pageSize bytes each.
func NewPagePool(pageSize, reserve int) *PagePool {
	return &PagePool{
		pageSize: pageSize,
		sem:      semaphore.NewWeighted(int64(reserve)),
		cache:    fastcache.New(pageSize * reserve),
	}
}

// Page is a pooled buffer; Release must be called exactly once to return it.
type Page struct {
	Bytes []byte
	id    uint64
	pool  *PagePool
}

// Get acquires a page, blocking until one is available or ctx is cancelled
// (spec §5 suspension points / cancellation).
func (p *PagePool) Get(ctx context.Context) (*Page, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	var id uint64
	if n := len(p.freeIDs); n > 0 {
		id = p.freeIDs[n-1]
		p.freeIDs = p.freeIDs[:n-1]
	} else {
		id = p.nextID
		p.nextID++
	}
	p.mu.Unlock()

	key := slotKey(id)
	buf := p.cache.GetBig(nil, key)
	if cap(buf) < p.pageSize {
		buf = make([]byte, p.pageSize)
	}
	buf = buf[:p.pageSize]
	return &Page{Bytes: buf, id: id, pool: p}, nil
}

// Release returns the page to the pool, making its slot available to the
// next Get and waking any blocked waiter.
func (pg *Page) Release() {
	pg.pool.cache.SetBig(slotKey(pg.id), pg.Bytes)
	pg.pool.mu.Lock()
	pg.pool.freeIDs = append(pg.pool.freeIDs, pg.id)
	pg.pool.mu.Unlock()
	pg.pool.sem.Release(1)
}

func slotKey(id uint64) []byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (8 * i))
	}
	return buf[:]
}

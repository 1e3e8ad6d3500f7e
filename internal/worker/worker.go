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

// Package worker implements the single worker task of spec §4.7: a FIFO
// queue of tagged work items, plus a front_queue fast path that coalesces
// unplug hints. Items whose execution may block on I/O run here so the
// receiver and asender goroutines never do.
package worker

import (
	"container/list"
	"sync"

	"github.com/JekaMas/workerpool"

	"github.com/drbd-go/drbdcore/internal/drbdlog"
)

// Kind tags a work Item (spec §4.7, §9 "Worker-queue items ... are a tagged
// sum rather than function-pointer objects").
type Kind int

const (
	KindResyncTick Kind = iota
	KindTrySendBarrier
	KindSendWriteHint // "unplug"
	KindSendBitmap
	KindAfterStateChange
	KindSendPing // should_drop's keepalive request; never coalesced
)

func (k Kind) String() string {
	switch k {
	case KindResyncTick:
		return "ResyncTick"
	case KindTrySendBarrier:
		return "TrySendBarrier"
	case KindSendWriteHint:
		return "SendWriteHint"
	case KindSendBitmap:
		return "SendBitmap"
	case KindAfterStateChange:
		return "AfterStateChange"
	case KindSendPing:
		return "SendPing"
	default:
		return "Unknown"
	}
}

// Item is one work item; Run is invoked on the worker goroutine pool.
type Item struct {
	Kind Kind
	Run  func()
}

// Queue is the FIFO work queue described in spec §4.7, with a `front_queue`
// fast path: a pending SendWriteHint is coalesced (only one outstanding
// unplug hint is ever queued, matching the original's unplug-coalescing
// behavior) rather than piling up behind slower items.
type Queue struct {
	mu        sync.Mutex
	items     *list.List
	hasUnplug bool
	notify    chan struct{}
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{items: list.New(), notify: make(chan struct{}, 1)}
}

// Push enqueues an item. A SendWriteHint item coalesces with any already
// pending one instead of growing the queue.
func (q *Queue) Push(it Item) {
	q.mu.Lock()
	if it.Kind == KindSendWriteHint {
		if q.hasUnplug {
			q.mu.Unlock()
			return
		}
		q.hasUnplug = true
	}
	q.items.PushBack(it)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes and returns the front item, or ok=false if empty.
func (q *Queue) pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.items.Front()
	if e == nil {
		return Item{}, false
	}
	q.items.Remove(e)
	it := e.Value.(Item)
	if it.Kind == KindSendWriteHint {
		q.hasUnplug = false
	}
	return it, true
}

// Worker drains a Queue onto a bounded goroutine pool (spec §4.7's single
// worker task, fanned out internally so a slow resync tick does not stall a
// cheap AfterStateChange callback).
type Worker struct {
	q    *Queue
	pool *workerpool.WorkerPool
	log  drbdlog.Logger

	done chan struct{}
	stop chan struct{}
}

// New creates a Worker draining q with up to concurrency goroutines.
func New(q *Queue, concurrency int) *Worker {
	return &Worker{
		q:    q,
		pool: workerpool.New(concurrency),
		log:  drbdlog.New("component", "worker"),
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
}

// Run drains the queue until Stop is called. It is meant to be run on its
// own goroutine, one per device, matching spec §5's "three long-lived
// worker threads per device".
func (w *Worker) Run() {
	defer close(w.done)
	for {
		for {
			it, ok := w.q.pop()
			if !ok {
				break
			}
			item := it
			w.pool.Submit(func() {
				defer func() {
					if r := recover(); r != nil {
						w.log.Error("work item panicked", "kind", item.Kind, "panic", r)
					}
				}()
				item.Run()
			})
		}
		select {
		case <-w.q.notify:
		case <-w.stop:
			w.pool.StopWait()
			return
		}
	}
}

// Stop requests Run to drain remaining submitted work and return.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

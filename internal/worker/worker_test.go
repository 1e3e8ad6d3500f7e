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

package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueuePopIsFIFO(t *testing.T) {
	q := NewQueue()
	q.Push(Item{Kind: KindResyncTick})
	q.Push(Item{Kind: KindSendBitmap})

	first, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, KindResyncTick, first.Kind)

	second, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, KindSendBitmap, second.Kind)

	_, ok = q.pop()
	require.False(t, ok)
}

func TestQueueCoalescesSendWriteHint(t *testing.T) {
	q := NewQueue()
	q.Push(Item{Kind: KindSendWriteHint})
	q.Push(Item{Kind: KindSendWriteHint})

	_, ok := q.pop()
	require.True(t, ok)
	_, ok = q.pop()
	require.False(t, ok, "a second coalesced SendWriteHint must not have been enqueued")
}

func TestQueueAcceptsAnotherSendWriteHintAfterDraining(t *testing.T) {
	q := NewQueue()
	q.Push(Item{Kind: KindSendWriteHint})
	_, _ = q.pop()
	q.Push(Item{Kind: KindSendWriteHint})

	_, ok := q.pop()
	require.True(t, ok)
}

func TestWorkerRunDrainsPushedItems(t *testing.T) {
	q := NewQueue()
	w := New(q, 2)
	go w.Run()

	var mu sync.Mutex
	var ran []Kind
	done := make(chan struct{})

	q.Push(Item{Kind: KindAfterStateChange, Run: func() {
		mu.Lock()
		ran = append(ran, KindAfterStateChange)
		mu.Unlock()
		close(done)
	}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not run the pushed item")
	}

	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Kind{KindAfterStateChange}, ran)
}

func TestWorkerRecoversFromPanickingItem(t *testing.T) {
	q := NewQueue()
	w := New(q, 1)
	go w.Run()

	recovered := make(chan struct{})
	q.Push(Item{Kind: KindResyncTick, Run: func() { panic("boom") }})
	q.Push(Item{Kind: KindSendBitmap, Run: func() { close(recovered) }})

	select {
	case <-recovered:
	case <-time.After(time.Second):
		t.Fatal("worker stopped draining after a panicking item")
	}

	w.Stop()
}

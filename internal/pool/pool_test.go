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

package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetReturnsRequestedSize(t *testing.T) {
	p := NewPagePool(4096, 2)
	pg, err := p.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, pg.Bytes, 4096)
	pg.Release()
}

func TestGetBlocksUnderExhaustionUntilRelease(t *testing.T) {
	p := NewPagePool(128, 1)
	first, err := p.Get(context.Background())
	require.NoError(t, err)

	got := make(chan *Page, 1)
	go func() {
		pg, err := p.Get(context.Background())
		require.NoError(t, err)
		got <- pg
	}()

	select {
	case <-got:
		t.Fatal("Get should have blocked with the reserve exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()

	select {
	case pg := <-got:
		pg.Release()
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after Release")
	}
}

func TestGetIsInterruptibleByContext(t *testing.T) {
	p := NewPagePool(128, 1)
	held, err := p.Get(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Get(ctx)
	require.Error(t, err)
}

func TestReleasedSlotIsReusedAcrossGets(t *testing.T) {
	p := NewPagePool(64, 1)
	a, err := p.Get(context.Background())
	require.NoError(t, err)
	copy(a.Bytes, []byte("hello"))
	a.Release()

	b, err := p.Get(context.Background())
	require.NoError(t, err)
	defer b.Release()
	require.Len(t, b.Bytes, 64)
	require.Equal(t, a.id, b.id)
}

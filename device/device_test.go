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

package device

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drbd-go/drbdcore/internal/config"
	"github.com/drbd-go/drbdcore/internal/state"
	"github.com/drbd-go/drbdcore/internal/wire"
)

type memDisk struct {
	mu   sync.Mutex
	data map[uint64][]byte
}

func newMemDisk() *memDisk { return &memDisk{data: make(map[uint64][]byte)} }

func (d *memDisk) SyncPageIO(sector uint64, buf []byte, write bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if write {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		d.data[sector] = cp
		return nil
	}
	if existing, ok := d.data[sector]; ok {
		copy(buf, existing)
	}
	return nil
}
func (d *memDisk) KickLo()             {}
func (d *memDisk) GetCapacity() uint64 { return 1 << 32 }

type memBitmap struct {
	mu  sync.Mutex
	oos map[uint64]uint32
}

func newMemBitmap() *memBitmap { return &memBitmap{oos: make(map[uint64]uint32)} }
func (b *memBitmap) SetOutOfSync(sector uint64, length uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.oos[sector] = length
}
func (b *memBitmap) Test(sector uint64) bool { _, ok := b.oos[sector]; return ok }
func (b *memBitmap) Words() []uint64         { return nil }
func (b *memBitmap) Write() error            { return nil }
func (b *memBitmap) GetLastEnabledLine() uint64 { return 0 }

func newPairedDevices(t *testing.T) (*Device, *Device, func()) {
	t.Helper()
	cfg := config.Default()
	dataA, dataB := net.Pipe()
	metaA, metaB := net.Pipe()

	primary := New("r0-primary", cfg, wire.NewChannel("data", dataA), wire.NewChannel("meta", metaA), newMemBitmap(), newMemDisk())
	secondary := New("r0-secondary", cfg, wire.NewChannel("data", dataB), wire.NewChannel("meta", metaB), newMemBitmap(), newMemDisk())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = primary.Ioctl(0, IoctlSetState, state.Tuple{
			Role: state.Primary, PeerRole: state.Secondary,
			Conn: state.Connected, Disk: state.UpToDate, PDisk: state.UpToDate,
		})
	}()
	go func() {
		defer wg.Done()
		_, _ = secondary.Ioctl(0, IoctlSetState, state.Tuple{
			Role: state.Secondary, PeerRole: state.Primary,
			Conn: state.Connected, Disk: state.UpToDate, PDisk: state.UpToDate,
		})
	}()
	wg.Wait()

	primary.Start()
	secondary.Start()

	cleanup := func() {
		_ = primary.Shutdown()
		_ = secondary.Shutdown()
	}
	return primary, secondary, cleanup
}

func TestOpenForWriteRequiresPrimaryRole(t *testing.T) {
	cfg := config.Default()
	dataA, dataB := net.Pipe()
	metaA, metaB := net.Pipe()
	defer dataA.Close()
	defer dataB.Close()
	defer metaA.Close()
	defer metaB.Close()

	d := New("r0", cfg, wire.NewChannel("data", dataA), wire.NewChannel("meta", metaA), newMemBitmap(), newMemDisk())
	err := d.Open(0, true)
	require.ErrorIs(t, err, ErrReadOnly)

	require.NoError(t, d.Open(0, false))
}

func TestMakeRequestReplicatesWriteEndToEnd(t *testing.T) {
	primary, secondary, cleanup := newPairedDevices(t)
	defer cleanup()

	require.NoError(t, primary.Open(0, true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := []byte("replicated block")
	require.NoError(t, primary.MakeRequest(ctx, 0, 0, payload, true))

	got := make([]byte, len(payload))
	require.NoError(t, secondary.peer.Disk.SyncPageIO(0, got, false))
	require.Equal(t, payload, got)
}

func TestCloseRemovesOpenedMinor(t *testing.T) {
	cfg := config.Default()
	dataA, dataB := net.Pipe()
	metaA, metaB := net.Pipe()
	defer dataA.Close()
	defer dataB.Close()
	defer metaA.Close()
	defer metaB.Close()

	d := New("r0", cfg, wire.NewChannel("data", dataA), wire.NewChannel("meta", metaA), newMemBitmap(), newMemDisk())
	require.NoError(t, d.Open(0, false))
	require.NoError(t, d.Close(0))
	d.mu.Lock()
	_, stillOpen := d.opened[0]
	d.mu.Unlock()
	require.False(t, stillOpen)
}

func TestIoctlUnknownCodeIsProtocolViolation(t *testing.T) {
	cfg := config.Default()
	dataA, dataB := net.Pipe()
	metaA, metaB := net.Pipe()
	defer dataA.Close()
	defer dataB.Close()
	defer metaA.Close()
	defer metaB.Close()

	d := New("r0", cfg, wire.NewChannel("data", dataA), wire.NewChannel("meta", metaA), newMemBitmap(), newMemDisk())
	_, err := d.Ioctl(0, IoctlCode(999), nil)
	require.Error(t, err)
}

func TestResyncTickSkipsWhenChecksumsMatchAndChecksumsEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.UseChecksums = true
	dataA, dataB := net.Pipe()
	metaA, metaB := net.Pipe()
	defer dataA.Close()
	defer dataB.Close()
	defer metaA.Close()
	defer metaB.Close()

	d := New("r0", cfg, wire.NewChannel("data", dataA), wire.NewChannel("meta", metaA), newMemBitmap(), newMemDisk())
	block := []byte("identical extent contents")
	require.True(t, d.ResyncTick(block, append([]byte(nil), block...)))
	require.False(t, d.ResyncTick(block, []byte("different extent contents!!")))
}

func TestResyncTickAlwaysResyncsWhenChecksumsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.UseChecksums = false
	dataA, dataB := net.Pipe()
	metaA, metaB := net.Pipe()
	defer dataA.Close()
	defer dataB.Close()
	defer metaA.Close()
	defer metaB.Close()

	d := New("r0", cfg, wire.NewChannel("data", dataA), wire.NewChannel("meta", metaA), newMemBitmap(), newMemDisk())
	block := []byte("same bytes")
	require.False(t, d.ResyncTick(block, append([]byte(nil), block...)))
}

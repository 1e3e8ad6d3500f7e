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

// Command drbdcored is a demonstration daemon: it wires two in-process
// Devices together over a loopback pair of connections and drives one
// write through the full replication pipeline, to exercise the core
// without any real network or block-layer integration.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"sync"
	"time"

	"github.com/drbd-go/drbdcore/device"
	"github.com/drbd-go/drbdcore/internal/config"
	"github.com/drbd-go/drbdcore/internal/drbdlog"
	"github.com/drbd-go/drbdcore/internal/state"
	"github.com/drbd-go/drbdcore/internal/wire"
)

// memDisk is a toy in-memory stand-in for the local storage collaborator
// spec §1 places out of scope; it exists only so this demo binary has
// something to write into.
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

func (d *memDisk) KickLo()              {}
func (d *memDisk) GetCapacity() uint64  { return 1 << 32 }

// memBitmap is a toy stand-in for the out-of-sync bitmap collaborator.
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
func (b *memBitmap) Test(sector uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.oos[sector]
	return ok
}
func (b *memBitmap) Words() []uint64          { return nil }
func (b *memBitmap) Write() error             { return nil }
func (b *memBitmap) GetLastEnabledLine() uint64 { return 0 }

func main() {
	flag.Parse()
	log := drbdlog.New("component", "drbdcored")

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		log.Crit("invalid default configuration", "err", err)
		os.Exit(1)
	}

	dataA, dataB := net.Pipe()
	metaA, metaB := net.Pipe()

	primary := device.New("r0-primary", cfg, wire.NewChannel("data", dataA), wire.NewChannel("meta", metaA), newMemBitmap(), newMemDisk())
	secondary := device.New("r0-secondary", cfg, wire.NewChannel("data", dataB), wire.NewChannel("meta", metaB), newMemBitmap(), newMemDisk())

	// A real handshake negotiates a protocol window; the demo just assumes
	// agreement and forces both sides Connected before starting the I/O
	// tasks, since driving wire.HandShake end-to-end needs a goroutine on
	// each side reading concurrently with the other writing.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); forceConnected(primary, state.Primary, state.Secondary) }()
	go func() { defer wg.Done(); forceConnected(secondary, state.Secondary, state.Primary) }()
	wg.Wait()

	primary.Start()
	secondary.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := primary.Open(0, true); err != nil {
		log.Crit("primary open failed", "err", err)
		os.Exit(1)
	}

	payload := []byte("drbdcored demo payload")
	if err := primary.MakeRequest(ctx, 0, 0, payload, true); err != nil {
		log.Error("write did not complete", "err", err)
		os.Exit(1)
	}
	log.Info("write replicated successfully", "bytes", len(payload))

	_ = primary.Shutdown()
	_ = secondary.Shutdown()
}

func forceConnected(d *device.Device, role, peerRole state.Role) {
	_, _ = d.Ioctl(0, device.IoctlSetState, state.Tuple{
		Role:     role,
		PeerRole: peerRole,
		Conn:     state.Connected,
		Disk:     state.UpToDate,
		PDisk:    state.UpToDate,
	})
}

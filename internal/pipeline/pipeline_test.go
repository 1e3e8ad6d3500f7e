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

package pipeline

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drbd-go/drbdcore/internal/config"
	"github.com/drbd-go/drbdcore/internal/proto"
	"github.com/drbd-go/drbdcore/internal/state"
	"github.com/drbd-go/drbdcore/internal/tlog"
	"github.com/drbd-go/drbdcore/internal/wire"
)

type fakeLocalWriter struct {
	mu      sync.Mutex
	writes  map[uint64][]byte
	failErr error
}

func newFakeLocalWriter() *fakeLocalWriter { return &fakeLocalWriter{writes: make(map[uint64][]byte)} }

func (w *fakeLocalWriter) WriteLocal(sector uint64, payload []byte) error {
	if w.failErr != nil {
		return w.failErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes[sector] = append([]byte(nil), payload...)
	return nil
}

type fakeBitmap struct {
	mu  sync.Mutex
	oos map[uint64]uint32
}

func newFakeBitmap() *fakeBitmap { return &fakeBitmap{oos: make(map[uint64]uint32)} }
func (b *fakeBitmap) SetOutOfSync(sector uint64, length uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.oos[sector] = length
}
func (b *fakeBitmap) Test(sector uint64) bool { _, ok := b.oos[sector]; return ok }
func (b *fakeBitmap) Words() []uint64         { return nil }
func (b *fakeBitmap) Write() error            { return nil }
func (b *fakeBitmap) GetLastEnabledLine() uint64 { return 0 }

type fakeDiskWriter struct{}

func (fakeDiskWriter) WriteEE(sector uint64, payload []byte) error { return nil }

func newHarness(t *testing.T, cfg config.Config) (*Pipeline, *fakeLocalWriter, *fakeBitmap, func()) {
	t.Helper()
	dataA, dataB := net.Pipe()
	metaA, metaB := net.Pipe()

	tl := tlog.New(64)
	bm := newFakeBitmap()
	submitter := proto.NewPeer(wire.NewChannel("data", dataA), wire.NewChannel("meta", metaA), tl, state.New(), cfg, bm, nil, nil)
	peer := proto.NewPeer(wire.NewChannel("data", dataB), wire.NewChannel("meta", metaB), tlog.New(64), state.New(), cfg, nil, nil, nil)

	receiver := proto.NewReceiver(peer, fakeDiskWriter{})
	asender := proto.NewAsender(submitter)
	go receiver.Run()
	go asender.Run()

	lw := newFakeLocalWriter()
	pl := New(submitter, tl, lw, cfg)
	cleanup := func() {
		dataA.Close()
		dataB.Close()
		metaA.Close()
		metaB.Close()
	}
	return pl, lw, bm, cleanup
}

func TestSubmitProtocolCWaitsForWriteAck(t *testing.T) {
	cfg := config.Default()
	cfg.WireProtocol = config.ProtocolC
	pl, lw, _, cleanup := newHarness(t, cfg)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := pl.Submit(ctx, 10, []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), lw.writes[10])
}

func TestSubmitProtocolACompletesWithoutWaitingOnPeer(t *testing.T) {
	cfg := config.Default()
	cfg.WireProtocol = config.ProtocolA
	pl, lw, _, cleanup := newHarness(t, cfg)
	defer cleanup()

	err := pl.Submit(context.Background(), 20, []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), lw.writes[20])
	require.Equal(t, int64(0), pl.tl.Pending.AP())
}

func TestSubmitLocalWriteFailureCancelsAndReturnsError(t *testing.T) {
	cfg := config.Default()
	pl, lw, _, cleanup := newHarness(t, cfg)
	defer cleanup()
	lw.failErr = errors.New("disk full")

	err := pl.Submit(context.Background(), 30, []byte("x"))
	require.Error(t, err)
	require.Equal(t, int64(0), pl.tl.Pending.AP())
}

func TestSubmitSendFailureMarksOutOfSyncAndCompletesWithError(t *testing.T) {
	cfg := config.Default()
	pl, _, bm, cleanup := newHarness(t, cfg)
	cleanup() // close both channels before Submit, forcing the Data send to fail

	err := pl.Submit(context.Background(), 40, []byte("y"))
	require.Error(t, err)
	require.Equal(t, int64(0), pl.tl.Pending.AP())
	require.True(t, bm.Test(40), "a failed send must mark its sector out-of-sync")
}

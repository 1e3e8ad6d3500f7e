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

// Package device wires the coordination core together into the single
// externally-visible BlockDevice surface of spec §6: open/close/
// make_request/unplug/ioctl. It owns the explicit CoreContext value spec §9
// calls for in place of any module-scope singleton.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/drbd-go/drbdcore/internal/config"
	"github.com/drbd-go/drbdcore/internal/coreerr"
	"github.com/drbd-go/drbdcore/internal/drbdlog"
	"github.com/drbd-go/drbdcore/internal/metadisk"
	"github.com/drbd-go/drbdcore/internal/metrics"
	"github.com/drbd-go/drbdcore/internal/pipeline"
	"github.com/drbd-go/drbdcore/internal/proto"
	"github.com/drbd-go/drbdcore/internal/resync"
	"github.com/drbd-go/drbdcore/internal/state"
	"github.com/drbd-go/drbdcore/internal/tlog"
	"github.com/drbd-go/drbdcore/internal/wire"
	"github.com/drbd-go/drbdcore/internal/worker"
)

// IoctlCode enumerates the administrative operations of spec §6.
type IoctlCode int

const (
	IoctlGetVersion IoctlCode = iota
	IoctlSetState
	IoctlSetDiskConfig
	IoctlSetNetConfig
	IoctlUnconfigNet
	IoctlGetConfig
	IoctlInvalidate
	IoctlInvalidateRem
	IoctlSetSyncConfig
	IoctlSetDiskSize
	IoctlWaitConnect
	IoctlWaitSync
	IoctlUnconfigDisk
)

func (c IoctlCode) String() string {
	switch c {
	case IoctlGetVersion:
		return "GetVersion"
	case IoctlSetState:
		return "SetState"
	case IoctlSetDiskConfig:
		return "SetDiskConfig"
	case IoctlSetNetConfig:
		return "SetNetConfig"
	case IoctlUnconfigNet:
		return "UnconfigNet"
	case IoctlGetConfig:
		return "GetConfig"
	case IoctlInvalidate:
		return "Invalidate"
	case IoctlInvalidateRem:
		return "InvalidateRem"
	case IoctlSetSyncConfig:
		return "SetSyncConfig"
	case IoctlSetDiskSize:
		return "SetDiskSize"
	case IoctlWaitConnect:
		return "WaitConnect"
	case IoctlWaitSync:
		return "WaitSync"
	case IoctlUnconfigDisk:
		return "UnconfigDisk"
	default:
		return fmt.Sprintf("Ioctl(%d)", int(c))
	}
}

// ErrReadOnly is returned by Open in writable mode when the device's role is
// not yet Primary (spec §6 "open in writable mode requires role==Primary").
var ErrReadOnly = errors.New("device: open for write requires Primary role")

// BlockDevice is the upward operation set of spec §6.
type BlockDevice interface {
	Open(minor int, writable bool) error
	Close(minor int) error
	MakeRequest(ctx context.Context, minor int, sector uint64, payload []byte, write bool) error
	Unplug(minor int)
	Ioctl(minor int, cmd IoctlCode, arg any) (any, error)
}

var _ BlockDevice = (*Device)(nil)

// diskAdapter satisfies both pipeline.LocalWriter and proto.DiskWriter over
// a single metadisk.LocalDisk collaborator, so the core only ever talks to
// one local-storage seam regardless of which path (submission or inbound
// receive) is writing.
type diskAdapter struct {
	disk metadisk.LocalDisk
}

func (a diskAdapter) WriteLocal(sector uint64, payload []byte) error {
	return a.disk.SyncPageIO(sector, payload, true)
}

func (a diskAdapter) WriteEE(sector uint64, payload []byte) error {
	return a.disk.SyncPageIO(sector, payload, true)
}

// Device is one replicated block device: the full coordination core wired
// around a single local disk and a single peer connection (spec §1 "exactly
// two peer nodes").
type Device struct {
	Name string
	UUID uuid.UUID

	cfg config.Config
	log drbdlog.Logger

	state *state.Machine
	tl    *tlog.TL
	queue *worker.Queue
	wrk   *worker.Worker
	met   *metrics.Registry

	peer     *proto.Peer
	pipeline *pipeline.Pipeline
	csum     resync.ChecksumComparator

	mu     sync.Mutex
	opened map[int]bool
}

// New wires a Device around already-dialed data/meta channels and the
// caller's storage/bitmap collaborators. It does not start any goroutines;
// call Start once the handshake has been driven to completion (spec §4.3).
func New(name string, cfg config.Config, data, meta *wire.Channel, bitmap metadisk.Bitmap, disk metadisk.LocalDisk) *Device {
	sm := state.New()
	tl := tlog.New(cfg.MaxEpochSize)
	q := worker.NewQueue()
	wk := worker.New(q, 4)
	p := proto.NewPeer(data, meta, tl, sm, cfg, bitmap, disk, q)
	adapter := diskAdapter{disk: disk}

	d := &Device{
		Name:     name,
		UUID:     uuid.New(),
		cfg:      cfg,
		log:      drbdlog.New("device", name),
		state:    sm,
		tl:       tl,
		queue:    q,
		wrk:      wk,
		met:      metrics.NewRegistry(name),
		peer:     p,
		pipeline: pipeline.New(p, tl, adapter, cfg),
		opened:   make(map[int]bool),
	}
	return d
}

// Start launches the three long-lived worker goroutines of spec §5
// (Receiver, Asender, Worker). The caller is expected to have already
// exchanged and validated a HandShake on the data channel.
func (d *Device) Start() {
	go d.wrk.Run()

	receiver := proto.NewReceiver(d.peer, diskAdapter{disk: d.peer.Disk})
	go func() {
		if err := receiver.Run(); err != nil {
			d.log.Error("receiver task exited", "err", err)
		}
	}()

	asender := proto.NewAsender(d.peer)
	go func() {
		if err := asender.Run(); err != nil {
			d.log.Error("asender task exited", "err", err)
		}
	}()
}

// Shutdown closes both channels (which ends the asender and receiver loops)
// and then stops the worker task, the reverse of the order Start launched them (spec §9 "explicit CoreContext ... torn
// down in reverse order"). This is distinct from Close(minor), the
// BlockDevice admin-handle operation of spec §6.
func (d *Device) Shutdown() error {
	err1 := d.peer.Meta.Close()
	err2 := d.peer.Data.Close()
	d.wrk.Stop()
	if err1 != nil {
		return err1
	}
	return err2
}

// Open validates the admin open(minor, mode) call of spec §6.
func (d *Device) Open(minor int, writable bool) error {
	if writable && d.state.Read().Role != state.Primary {
		return ErrReadOnly
	}
	d.mu.Lock()
	d.opened[minor] = true
	d.mu.Unlock()
	return nil
}

// Close closes one minor's admin handle (spec §6 `close(minor)`); Shutdown
// tears down the whole device's network/worker resources separately.
func (d *Device) Close(minor int) error {
	d.mu.Lock()
	delete(d.opened, minor)
	d.mu.Unlock()
	return nil
}

// MakeRequest submits one bio-equivalent I/O. Reads bypass the replication
// pipeline entirely (spec §1 scope is the write-replication coordination
// core); writes are driven through Pipeline.Submit.
func (d *Device) MakeRequest(ctx context.Context, minor int, sector uint64, payload []byte, write bool) error {
	if !write {
		return d.peer.Disk.SyncPageIO(sector, payload, false)
	}
	return d.pipeline.Submit(ctx, sector, payload)
}

// Unplug requests the worker task coalesce and flush any pending unplug
// hint (spec §4.7 front_queue).
func (d *Device) Unplug(minor int) {
	d.queue.Push(worker.Item{Kind: worker.KindSendWriteHint, Run: func() {
		d.peer.Disk.KickLo()
	}})
}

// ResyncTick compares a source and target block's checksums when
// `sync.use_csums` is enabled, skipping the retransmission when they already
// agree (spec §6 SyncConfig.UseChecksums). It is a synchronous comparison
// run on the caller's goroutine; nothing in this package queues it as a
// KindResyncTick item.
func (d *Device) ResyncTick(sourceBlock, targetBlock []byte) (skip bool) {
	if !d.cfg.Sync.UseChecksums {
		return false
	}
	return d.csum.Equal(d.csum.Sum(sourceBlock), d.csum.Sum(targetBlock))
}

// Ioctl dispatches the administrative operations of spec §6. SetState is a
// state-machine proposal; Invalidate and InvalidateRem both force the local
// disk to Inconsistent; GetVersion, GetConfig, WaitConnect and WaitSync are
// pure reads; the remaining codes are accepted as no-ops.
func (d *Device) Ioctl(minor int, cmd IoctlCode, arg any) (any, error) {
	switch cmd {
	case IoctlGetVersion:
		return "drbdcore/1", nil
	case IoctlGetConfig:
		return d.cfg, nil
	case IoctlSetState:
		t, ok := arg.(state.Tuple)
		if !ok {
			return nil, fmt.Errorf("device: SetState requires a state.Tuple argument")
		}
		res, err := d.state.Propose(t, 0, d.cfg.TwoPrimaries)
		if err != nil {
			return nil, err
		}
		d.dispatchActions(res)
		return res, nil
	case IoctlInvalidate, IoctlInvalidateRem:
		next := d.state.Read()
		next.Disk = state.Inconsistent
		d.state.Force(next)
		return nil, nil
	case IoctlWaitConnect:
		<-d.state.Changed()
		return d.state.Read(), nil
	case IoctlWaitSync:
		for {
			t := d.state.Read()
			if t.Conn < state.SyncSource {
				return t, nil
			}
			<-d.state.Changed()
		}
	case IoctlSetDiskConfig, IoctlSetNetConfig, IoctlUnconfigNet,
		IoctlSetSyncConfig, IoctlSetDiskSize, IoctlUnconfigDisk:
		// These configure collaborators that are out of this core's scope
		// (spec §1); accepted as no-ops so a caller wiring the full admin
		// surface on top of this core has a stable enum to dispatch on.
		return nil, nil
	default:
		return nil, coreerr.New(coreerr.KindProtocolViolation, "Ioctl", fmt.Errorf("unknown ioctl code %s", cmd))
	}
}

// dispatchActions pushes the state machine's post-transition Actions onto
// the worker queue rather than running them inline (spec §4.1, §9 "not
// fired inline ... Go-native replacement for 'schedule a tasklet'").
func (d *Device) dispatchActions(res state.Result) {
	for _, a := range res.Actions {
		action := a
		d.queue.Push(worker.Item{Kind: worker.KindAfterStateChange, Run: func() {
			d.log.Debug("running post-transition action", "action", action)
		}})
	}
}

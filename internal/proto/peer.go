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

// Package proto implements the two-channel send/receive framing and ack
// engine: the sender path, the receiver task, and the asender task (spec
// §4.4, §4.5, §4.6).
package proto

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/drbd-go/drbdcore/internal/config"
	"github.com/drbd-go/drbdcore/internal/coreerr"
	"github.com/drbd-go/drbdcore/internal/drbdlog"
	"github.com/drbd-go/drbdcore/internal/metadisk"
	"github.com/drbd-go/drbdcore/internal/state"
	"github.com/drbd-go/drbdcore/internal/tlog"
	"github.com/drbd-go/drbdcore/internal/wire"
	"github.com/drbd-go/drbdcore/internal/worker"
)

// Peer owns the two channels and the shared bookkeeping the sender,
// receiver, and asender all touch (spec §5 lock order items 2-5: channel
// mutexes live on *wire.Channel itself; reqLock below is the req_lock of
// that order).
type Peer struct {
	Data *wire.Channel
	Meta *wire.Channel

	TL     *tlog.TL
	State  *state.Machine
	Cfg    config.Config
	Bitmap metadisk.Bitmap
	Disk   metadisk.LocalDisk
	Queue  *worker.Queue

	Log drbdlog.Logger

	packetSeq uint32 // atomic: spec §4.8 step 5, "strictly monotonic"
	koCount   int32  // atomic: spec §4.4 step 5

	reqMu   sync.Mutex
	reqByID map[uint64]*tlog.Request // in-flight outbound Requests awaiting ack

	eeMu   sync.Mutex
	eeOpen map[uint64]*tlog.EE // inbound EEs awaiting local disk completion, by sector

	asenderRunning atomic.Bool

	// livenessCache bounds how many distinct peer identities' last-seen
	// PingAck timestamps are retained, so a long-lived process handling
	// repeated reconnects from the same two-peer pairing does not grow
	// this state unboundedly (spec §4.6 "PingAck: refresh liveness").
	livenessCache *lru.Cache
}

// NewPeer wires a Peer around two already-dialed channels.
func NewPeer(data, meta *wire.Channel, tl *tlog.TL, sm *state.Machine, cfg config.Config, bitmap metadisk.Bitmap, disk metadisk.LocalDisk, q *worker.Queue) *Peer {
	cache, err := lru.New(8)
	if err != nil {
		panic(err) // only fails for a non-positive size, which 8 never is
	}
	p := &Peer{
		Data:          data,
		Meta:          meta,
		TL:            tl,
		State:         sm,
		Cfg:           cfg,
		Bitmap:        bitmap,
		Disk:          disk,
		Queue:         q,
		Log:           drbdlog.New("component", "proto"),
		reqByID:       make(map[uint64]*tlog.Request),
		eeOpen:        make(map[uint64]*tlog.EE),
		livenessCache: cache,
	}
	p.koCount = int32(cfg.KOCount)
	return p
}

// NextSeq assigns the next strictly-increasing sequence number.
func (p *Peer) NextSeq() uint32 { return atomic.AddUint32(&p.packetSeq, 1) }

// TrackRequest registers req so the asender can find it by BlockID.
func (p *Peer) TrackRequest(req *tlog.Request) {
	p.reqMu.Lock()
	p.reqByID[req.ID] = req
	p.reqMu.Unlock()
}

// UntrackRequest removes req from the ack-tracking table and returns it (if
// present).
func (p *Peer) TakeRequest(blockID uint64) (*tlog.Request, bool) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	r, ok := p.reqByID[blockID]
	if ok {
		delete(p.reqByID, blockID)
	}
	return r, ok
}

// ForgetRequest removes req without requiring a lookup by id (used by
// tl_cancel's caller on a failed send).
func (p *Peer) ForgetRequest(req *tlog.Request) {
	p.reqMu.Lock()
	delete(p.reqByID, req.ID)
	p.reqMu.Unlock()
}

// trackEE / takeEE manage the inbound EE table by sector (spec §4.5 "The
// receiver is the ONLY writer of the receive-side EE lists").
func (p *Peer) trackEE(ee *tlog.EE) {
	p.eeMu.Lock()
	p.eeOpen[ee.Sector] = ee
	p.eeMu.Unlock()
}

func (p *Peer) takeEE(sector uint64) (*tlog.EE, bool) {
	p.eeMu.Lock()
	defer p.eeMu.Unlock()
	ee, ok := p.eeOpen[sector]
	if ok {
		delete(p.eeOpen, sector)
	}
	return ee, ok
}

// markBrokenPipe pushes the state machine to BrokenPipe following a
// terminal transport error (spec §4.4 step 6, §7 TransportLost policy).
func (p *Peer) markBrokenPipe(timeout bool) {
	cur := p.State.Read()
	next := cur
	next.Conn = state.BrokenPipe
	if timeout {
		next.Conn = state.Timeout
	}
	// This is a hard transition: a transport failure is reported, not
	// proposed for admin approval.
	p.State.Force(next)
}

// reportFatal is the single call site that escalates an unexpected,
// supposedly-impossible condition to the FatalInvariant policy of spec §7.
func reportFatal(invariant, detail string) { coreerr.Fatal(invariant, detail) }

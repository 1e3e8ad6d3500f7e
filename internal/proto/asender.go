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

package proto

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/drbd-go/drbdcore/internal/tlog"
	"github.com/drbd-go/drbdcore/internal/wire"
)

// Asender runs the meta-channel read loop of spec §4.6: acks, pings, and
// liveness bookkeeping, kept on its own goroutine so a slow local disk write
// on the data-channel side never delays an ack the peer is waiting on.
type Asender struct {
	peer *Peer
}

// NewAsender wires an Asender to run p's meta-channel read loop.
func NewAsender(p *Peer) *Asender {
	return &Asender{peer: p}
}

// Run reads framed packets from the meta channel until it returns an error.
// The caller starts this only after the data-channel handshake completes
// (spec §4.6 "the asender starts only after handshake"); Run sets
// asenderRunning so the sender's should_drop policy (spec §4.4 step 5) knows
// a peer is there to answer a keepalive Ping.
func (as *Asender) Run() error {
	p := as.peer
	p.asenderRunning.Store(true)
	defer p.asenderRunning.Store(false)

	conn := p.Meta.Conn()
	for {
		h, err := wire.DecodeHeader(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.markBrokenPipe(false)
				return nil
			}
			p.markBrokenPipe(false)
			return fmt.Errorf("proto: asender: read header: %w", err)
		}

		payload := make([]byte, h.PayloadLength)
		if h.PayloadLength > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				p.markBrokenPipe(false)
				return fmt.Errorf("proto: asender: read payload: %w", err)
			}
		}

		if err := as.dispatch(h.Command, payload); err != nil {
			p.Log.Error("asender: packet handling failed", "command", h.Command, "err", err)
			return err
		}
	}
}

func (as *Asender) dispatch(cmd wire.Command, payload []byte) error {
	switch cmd {
	case wire.CmdPing:
		return as.onPing()
	case wire.CmdPingAck:
		return as.onPingAck()
	case wire.CmdWriteAck:
		return as.onBlockAck(payload, false)
	case wire.CmdRecvAck:
		return as.onBlockAck(payload, false)
	case wire.CmdNegAck:
		return as.onBlockAck(payload, true)
	case wire.CmdDiscardNote:
		return as.onDiscardNote(payload)
	case wire.CmdBarrierAck:
		return as.onBarrierAck(payload)
	default:
		return fmt.Errorf("proto: asender: unexpected command %s on meta channel", cmd)
	}
}

func (as *Asender) onPing() error {
	return as.peer.SendPingAck()
}

// onPingAck refreshes the liveness cache keyed by a fixed single-peer
// identity: each device has exactly one configured peer, so there is only
// ever one liveness entry, but the LRU still bounds memory if this Asender
// is reused across repeated reconnects under different dial identities
// (spec §4.6 "PingAck: refresh liveness").
func (as *Asender) onPingAck() error {
	as.peer.livenessCache.Add("peer", time.Now())
	return nil
}

// onBlockAck handles WriteAck, RecvAck, and NegAck, which share a payload
// shape and a lookup-by-block_id path (spec §4.6). neg marks the sector
// out-of-sync in addition to completing the Request with an error.
func (as *Asender) onBlockAck(payload []byte, neg bool) error {
	pkt, err := wire.DecodeBlockAckPacket(payload)
	if err != nil {
		return err
	}
	p := as.peer

	req, ok := p.TakeRequest(pkt.BlockID)
	if !ok {
		// An ack for a Request we no longer track is a protocol violation:
		// every Request we send is tracked until acked or cancelled.
		reportFatal("Hash-consistency", fmt.Sprintf("ack for untracked block_id=%d sector=%d", pkt.BlockID, pkt.Sector))
		return nil
	}
	if !p.TL.Verify(req, pkt.Sector) {
		reportFatal("Hash-consistency", fmt.Sprintf("tl_verify failed for block_id=%d sector=%d", pkt.BlockID, pkt.Sector))
		return nil
	}

	req.SetStatus(tlog.StatusAcked)
	p.TL.Dependence(req)
	p.TL.Pending.DecAP()

	if neg {
		if p.Bitmap != nil {
			p.Bitmap.SetOutOfSync(req.Sector, req.Length)
		}
		req.Complete(fmt.Errorf("proto: peer reported write failure for sector %d", req.Sector))
		return nil
	}
	req.Complete(nil)
	return nil
}

// onDiscardNote handles a peer's refusal of one of our writes under the
// two-primaries conflict check (spec §4.5 discard path, §4.6). It always
// marks the sector out-of-sync, since the peer's copy and ours now disagree.
func (as *Asender) onDiscardNote(payload []byte) error {
	pkt, err := wire.DecodeDiscardNotePacket(payload)
	if err != nil {
		return err
	}
	p := as.peer

	req, ok := p.TakeRequest(pkt.BlockID)
	if !ok {
		reportFatal("Hash-consistency", fmt.Sprintf("DiscardNote for untracked block_id=%d sector=%d", pkt.BlockID, pkt.Sector))
		return nil
	}
	p.TL.Dependence(req)
	p.TL.Pending.DecAP()
	if p.Bitmap != nil {
		p.Bitmap.SetOutOfSync(req.Sector, req.Length)
	}
	req.Complete(fmt.Errorf("proto: write discarded by peer (two-primaries conflict) for sector %d", req.Sector))
	return nil
}

// onBarrierAck releases the named epoch from the TL, fataling on a mismatch
// per the Barrier-match invariant (spec tl_release, §9 Open Question
// resolution), and decrements the per-barrier ap_pending this peer
// incremented when it sent the Barrier.
func (as *Asender) onBarrierAck(payload []byte) error {
	pkt, err := wire.DecodeBarrierAckPacket(payload)
	if err != nil {
		return err
	}
	as.peer.TL.Release(pkt.Epoch, pkt.SetSize)
	as.peer.TL.Pending.DecAP()
	return nil
}

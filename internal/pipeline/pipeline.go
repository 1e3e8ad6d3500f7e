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

// Package pipeline implements the primary-side local write submission
// sequence of spec §4.8: the path a single block-layer write follows from
// make_request down to a completed *tlog.Request.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/drbd-go/drbdcore/internal/config"
	"github.com/drbd-go/drbdcore/internal/coreerr"
	"github.com/drbd-go/drbdcore/internal/proto"
	"github.com/drbd-go/drbdcore/internal/tlog"
)

// LocalWriter performs the local disk write a submitted Request also needs,
// independent of whether/when the peer acks it (spec §4.8 "local disk
// completion" is always required; only the peer ack the caller waits on
// varies by wire protocol level).
type LocalWriter interface {
	WriteLocal(sector uint64, payload []byte) error
}

// Pipeline drives the 7-step submission sequence for one device. sendMu
// serializes step 2's "acquire data-channel mutex": the whole of steps 3-5
// (barrier emission, the conflict check, and the Data send) must appear
// atomic to a concurrently-submitting goroutine, matching spec §5's
// ordering guarantee that Requests land in the TL in the exact order their
// Data packets are transmitted.
type Pipeline struct {
	peer  *proto.Peer
	tl    *tlog.TL
	disk  LocalWriter
	cfg   config.Config
	sendMu sync.Mutex

	nextID uint64
	idMu   sync.Mutex
}

// New creates a Pipeline submitting writes through peer, using disk for the
// mandatory local write and tl for in-flight bookkeeping.
func New(peer *proto.Peer, tl *tlog.TL, disk LocalWriter, cfg config.Config) *Pipeline {
	return &Pipeline{peer: peer, tl: tl, disk: disk, cfg: cfg}
}

func (pl *Pipeline) allocID() uint64 {
	pl.idMu.Lock()
	defer pl.idMu.Unlock()
	pl.nextID++
	return pl.nextID
}

// Submit runs steps 1-7 of spec §4.8 for one write and blocks until the
// wire-protocol-appropriate completion signal arrives (or ctx is cancelled,
// which this implementation's Go-native replacement for the kernel's
// directed-signal cancellation, spec §9, treats identically to a transport
// failure: the caller sees a "connection lost"-shaped error, never a raw
// context.Canceled).
func (pl *Pipeline) Submit(ctx context.Context, sector uint64, payload []byte) error {
	req := tlog.NewRequest(pl.allocID(), sector, uint32(len(payload)))

	// Step 1 (mask cancellation) / step 7 (restore) have no direct Go
	// analogue: ctx is consulted only at well-defined suspension points
	// below, never asynchronously delivered into the middle of a send.
	pl.sendMu.Lock()
	defer pl.sendMu.Unlock()

	// Step 3: emit a Barrier first if the TL has accumulated a full epoch.
	// req is not yet tracked anywhere, so a failure here is a plain error,
	// not the tl_cancel/out-of-sync cleanup of step 6 (which only applies
	// once req has actually entered the TL).
	if err := pl.peer.SendBarrierIfNeeded(); err != nil {
		return fmt.Errorf("pipeline: barrier emission failed: %w", err)
	}

	// Step 4: two-primaries conflict check, else tl_add.
	if pl.cfg.TwoPrimaries {
		if conflict := pl.tl.EEHaveWrite(req); conflict != nil {
			return fmt.Errorf("pipeline: write to sector %d conflicts with an in-flight peer write", sector)
		}
	} else {
		pl.tl.Add(req)
	}
	pl.tl.Pending.IncAP()
	pl.peer.TrackRequest(req)

	// The local disk write is unconditional across all three protocol
	// levels; only the wait for a peer ack differs (spec §4.8 final line).
	if err := pl.disk.WriteLocal(sector, payload); err != nil {
		pl.tl.Cancel(req)
		pl.peer.ForgetRequest(req)
		pl.tl.Pending.DecAP()
		return fmt.Errorf("pipeline: local write failed: %w", err)
	}

	// Step 5: assign seq_num, send the Data packet.
	req.SeqNum = pl.peer.NextSeq()
	if err := pl.peer.SendData(sector, req.ID, req.SeqNum, payload); err != nil {
		return pl.failSend(req, err)
	}
	req.SetStatus(tlog.StatusSent)

	if pl.cfg.WireProtocol == config.ProtocolA {
		// Protocol A completes as soon as local disk I/O is done, which
		// already happened above; nothing further to wait for.
		pl.peer.ForgetRequest(req)
		pl.tl.Pending.DecAP()
		return nil
	}

	select {
	case <-req.Done:
		return req.Result
	case <-ctx.Done():
		// The request is still tracked and will complete asynchronously
		// once its ack (or the connection-loss cleanup) arrives; the
		// caller simply stops waiting, matching the cancellation policy's
		// "translate to connection-lost, never propagate upward" for the
		// submission context specifically (the Request itself is not torn
		// down here, only this call's wait).
		return coreerr.New(coreerr.KindTransportLost, "pipeline.Submit", fmt.Errorf("submission cancelled while awaiting ack: %v", ctx.Err()))
	}
}

// failSend implements step 6: tl_cancel, mark out-of-sync, and complete the
// Request locally with a synthetic "sent" status error so the caller does
// not block forever on a send that never reached the wire.
func (pl *Pipeline) failSend(req *tlog.Request, sendErr error) error {
	pl.tl.Cancel(req)
	pl.peer.ForgetRequest(req)
	pl.tl.Pending.DecAP()
	if pl.peer.Bitmap != nil {
		pl.peer.Bitmap.SetOutOfSync(req.Sector, req.Length)
	}
	err := fmt.Errorf("pipeline: send failed, connection-loss cleanup will finish draining: %w", sendErr)
	req.Complete(err)
	return err
}

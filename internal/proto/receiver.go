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

	"github.com/drbd-go/drbdcore/internal/config"
	"github.com/drbd-go/drbdcore/internal/state"
	"github.com/drbd-go/drbdcore/internal/tlog"
	"github.com/drbd-go/drbdcore/internal/wire"
)

// DiskWriter performs the actual local write an inbound Data packet
// requests; the receiver closes ee.Done after WriteEE returns (spec §4.5 "hands the bytes to the local disk collaborator").
type DiskWriter interface {
	WriteEE(sector uint64, payload []byte) error
}

// Receiver runs the single-threaded data-channel read loop of spec §4.5: it
// is the sole writer of the peer's handshake-negotiated parameters and of
// the inbound EE lists.
type Receiver struct {
	peer *Peer
	disk DiskWriter

	// eeSinceBarrier counts completed inbound writes since the last Barrier,
	// becoming the BarrierAck's set_size. The receiver is single-threaded
	// and onData always returns before the next packet (the Barrier closing
	// its epoch) is even read off the wire, so a plain counter suffices:
	// there is no concurrent writer to race with (spec §5 ordering
	// guarantee, §4.5).
	eeSinceBarrier uint32
}

// NewReceiver wires a Receiver to run p's data-channel read loop, handing
// completed inbound writes to disk.
func NewReceiver(p *Peer, disk DiskWriter) *Receiver {
	return &Receiver{peer: p, disk: disk}
}

// Run reads framed packets from the data channel until it returns an error
// (peer closed the connection, a protocol violation, or a transport
// failure), dispatching each by Command (spec §4.5).
func (rv *Receiver) Run() error {
	p := rv.peer
	conn := p.Data.Conn()
	for {
		h, err := wire.DecodeHeader(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.markBrokenPipe(false)
				return nil
			}
			p.markBrokenPipe(false)
			return fmt.Errorf("proto: receiver: read header: %w", err)
		}

		payload := make([]byte, h.PayloadLength)
		if h.PayloadLength > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				p.markBrokenPipe(false)
				return fmt.Errorf("proto: receiver: read payload: %w", err)
			}
		}

		if err := rv.dispatch(h.Command, payload); err != nil {
			p.Log.Error("receiver: packet handling failed", "command", h.Command, "err", err)
			return err
		}
	}
}

func (rv *Receiver) dispatch(cmd wire.Command, payload []byte) error {
	switch cmd {
	case wire.CmdHandShake:
		return rv.onHandShake(payload)
	case wire.CmdReportProtocol, wire.CmdReportGenCnt, wire.CmdReportSizes, wire.CmdSyncParam:
		// These negotiate parameters the core stores but does not act on
		// structurally (spec §4.1's actions already cover the state-side
		// effects of a first handshake); accepted and otherwise ignored.
		return nil
	case wire.CmdReportState:
		return rv.onReportState(payload)
	case wire.CmdReportBitMap:
		return rv.onReportBitMap(payload)
	case wire.CmdData:
		return rv.onData(payload)
	case wire.CmdBarrier:
		return rv.onBarrier(payload)
	default:
		return fmt.Errorf("proto: receiver: unexpected command %s on data channel", cmd)
	}
}

// onHandShake checks and logs the peer's protocol window (spec §4.3). It
// does not start the asender: Device.Start launches the asender alongside
// the receiver.
func (rv *Receiver) onHandShake(payload []byte) error {
	hs, err := wire.DecodeHandShake(payload)
	if err != nil {
		return err
	}
	if hs.ProtocolMax < hs.ProtocolMin {
		return fmt.Errorf("proto: receiver: handshake: protocol_max %d < protocol_min %d", hs.ProtocolMax, hs.ProtocolMin)
	}
	rv.peer.Log.Info("handshake received", "protocol_min", hs.ProtocolMin, "protocol_max", hs.ProtocolMax)
	return nil
}

// onReportState applies a peer-announced state as a hard transition: the
// peer's own role/disk are authoritative for the PeerRole/PDisk fields of
// our tuple (spec §4.1, §4.5).
func (rv *Receiver) onReportState(payload []byte) error {
	if len(payload) < 2 {
		return fmt.Errorf("proto: receiver: ReportState payload too short")
	}
	peerRole := state.Role(payload[0])
	peerDisk := state.Disk(payload[1])

	p := rv.peer
	cur := p.State.Read()
	next := cur
	next.PeerRole = peerRole
	next.PDisk = peerDisk
	if cur.Conn < state.Connected {
		next.Conn = state.Connected
	}
	p.State.Force(next)
	return nil
}

// onReportBitMap is a placeholder acceptance point for the resync bitmap
// exchange; the bitmap collaborator's own wire encoding is out of scope
// (spec §1).
func (rv *Receiver) onReportBitMap(payload []byte) error {
	rv.peer.Log.Debug("bitmap fragment received", "bytes", len(payload))
	return nil
}

// onData is the inbound-write path: decode the DataHeader, run the
// two-primaries conflict check via TL.ReqHaveWrite, and either refuse with a
// DiscardNote or register the EE and hand the bytes to local storage (spec
// §4.5, §3 "EE-hash").
func (rv *Receiver) onData(payload []byte) error {
	dh, err := wire.DecodeDataHeader(payload)
	if err != nil {
		return err
	}
	bulk := payload[wire.DataHeaderSize:]
	p := rv.peer

	ee := tlog.NewEE(dh.Sector, uint32(len(bulk)))
	if p.Cfg.TwoPrimaries {
		if conflict := p.TL.ReqHaveWrite(ee); conflict != nil {
			p.Log.Warn("inbound write conflicts with local in-flight request", "sector", dh.Sector)
			return p.SendDiscardNote(dh.Sector, dh.BlockID)
		}
	}
	p.trackEE(ee)

	if err := rv.disk.WriteEE(dh.Sector, bulk); err != nil {
		p.TL.ReleaseEE(ee)
		p.takeEE(dh.Sector)
		close(ee.Done)
		return p.SendNegAck(dh.Sector, dh.BlockID, dh.SeqNum)
	}

	ee.SetStatus(tlog.StatusRecvWritten)
	p.TL.ReleaseEE(ee)
	p.takeEE(dh.Sector)
	close(ee.Done)
	rv.eeSinceBarrier++

	if p.Cfg.WireProtocol == config.ProtocolA {
		// Protocol A's submitter completes without waiting on the peer and
		// stops tracking the Request, so no ack is sent back.
		return nil
	}
	if p.Cfg.WireProtocol == config.ProtocolB {
		return p.SendRecvAck(dh.Sector, dh.BlockID, dh.SeqNum)
	}
	return p.SendWriteAck(dh.Sector, dh.BlockID, dh.SeqNum)
}

// onBarrier closes the named epoch once every EE opened before it arrived is
// disk-complete, replying with a BarrierAck (spec §4.5, §4.2 TL3/TL4). This
// implementation only tracks simple strict ordering: because the receiver is
// single-threaded and processes Data packets before the Barrier that follows
// them on the wire (spec §5 ordering guarantee), every EE opened for this
// epoch has already had its onData call return by the time onBarrier runs.
func (rv *Receiver) onBarrier(payload []byte) error {
	pkt, err := wire.DecodeBarrierPacket(payload)
	if err != nil {
		return err
	}
	setSize := rv.eeSinceBarrier
	rv.eeSinceBarrier = 0
	return rv.peer.SendBarrierAck(pkt.Epoch, setSize)
}

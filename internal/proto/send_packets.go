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

import "github.com/drbd-go/drbdcore/internal/wire"

// SendBarrierIfNeeded emits a Barrier packet and calls TL.AddBarrier if the
// TL has flagged ISSUE_BARRIER, per spec §4.4 step 3 / §4.8 step 3. Callers
// must already hold the logical right to send on the data channel for the
// whole of this call plus whatever Data packet follows it (spec §5 ordering
// guarantee: "Barrier is always sent strictly after all Data packets of the
// epoch it closes").
func (p *Peer) SendBarrierIfNeeded() error {
	if !p.TL.IssueBarrier() {
		return nil
	}
	epoch := p.TL.AddBarrier()
	pkt := wire.BarrierPacket{Epoch: epoch}
	if err := p.send(ChannelData, wire.Header{Magic: wire.Magic, Command: wire.CmdBarrier}, pkt.Encode()); err != nil {
		return err
	}
	p.TL.Pending.IncAP() // outstanding until BarrierAck (spec §4.6)
	return nil
}

// SendData transmits one outbound write's Data packet: header + DataHeader
// + bulk bytes (spec §4.8 step 5).
func (p *Peer) SendData(sector, blockID uint64, seqNum uint32, payload []byte) error {
	dh := wire.DataHeader{Sector: sector, BlockID: blockID, SeqNum: seqNum}
	buf := append(dh.Encode(), payload...)
	return p.send(ChannelData, wire.Header{Magic: wire.Magic, Command: wire.CmdData}, buf)
}

// SendBarrierAck replies to a received Barrier once every EE of that epoch
// is disk-complete (spec §4.5).
func (p *Peer) SendBarrierAck(epoch, setSize uint32) error {
	pkt := wire.BarrierAckPacket{Epoch: epoch, SetSize: setSize}
	return p.send(ChannelMeta, wire.Header{Magic: wire.Magic, Command: wire.CmdBarrierAck}, pkt.Encode())
}

// sendBlockAck transmits a WriteAck/RecvAck/NegAck, the three ack kinds
// that share the BlockAckPacket payload shape.
func (p *Peer) sendBlockAck(cmd wire.Command, sector, blockID uint64, seqNum uint32) error {
	pkt := wire.BlockAckPacket{Sector: sector, BlockID: blockID, SeqNum: seqNum}
	return p.send(ChannelMeta, wire.Header{Magic: wire.Magic, Command: cmd}, pkt.Encode())
}

func (p *Peer) SendWriteAck(sector, blockID uint64, seqNum uint32) error {
	return p.sendBlockAck(wire.CmdWriteAck, sector, blockID, seqNum)
}

func (p *Peer) SendRecvAck(sector, blockID uint64, seqNum uint32) error {
	return p.sendBlockAck(wire.CmdRecvAck, sector, blockID, seqNum)
}

func (p *Peer) SendNegAck(sector, blockID uint64, seqNum uint32) error {
	return p.sendBlockAck(wire.CmdNegAck, sector, blockID, seqNum)
}

// SendDiscardNote refuses a peer write that conflicts with a local
// in-flight Request in two-primaries mode (spec §4.5).
func (p *Peer) SendDiscardNote(sector, blockID uint64) error {
	pkt := wire.DiscardNotePacket{Sector: sector, BlockID: blockID}
	return p.send(ChannelMeta, wire.Header{Magic: wire.Magic, Command: wire.CmdDiscardNote}, pkt.Encode())
}

// SendPingAck replies to a received Ping.
func (p *Peer) SendPingAck() error {
	return p.send(ChannelMeta, wire.Header{Magic: wire.Magic, Command: wire.CmdPingAck}, nil)
}

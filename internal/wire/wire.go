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

// Package wire implements the two-peer framing codec: a fixed header
// followed by a fixed-size payload record, all integers big-endian (spec §4.3,
// §6).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the fixed magic number every header begins with.
const Magic uint32 = 0x44524244 // "DRBD"

// Command identifies the payload that follows a Header.
type Command uint16

const (
	CmdHandShake Command = iota + 1
	CmdReportProtocol
	CmdReportGenCnt
	CmdReportSizes
	CmdReportState
	CmdSyncParam
	CmdReportBitMap
	CmdBarrier
	CmdBarrierAck
	CmdData
	CmdDataReply
	CmdRSDataReply
	CmdWriteAck
	CmdRecvAck
	CmdNegAck
	CmdDiscardNote
	CmdPing
	CmdPingAck
)

func (c Command) String() string {
	switch c {
	case CmdHandShake:
		return "HandShake"
	case CmdReportProtocol:
		return "ReportProtocol"
	case CmdReportGenCnt:
		return "ReportGenCnt"
	case CmdReportSizes:
		return "ReportSizes"
	case CmdReportState:
		return "ReportState"
	case CmdSyncParam:
		return "SyncParam"
	case CmdReportBitMap:
		return "ReportBitMap"
	case CmdBarrier:
		return "Barrier"
	case CmdBarrierAck:
		return "BarrierAck"
	case CmdData:
		return "Data"
	case CmdDataReply:
		return "DataReply"
	case CmdRSDataReply:
		return "RSDataReply"
	case CmdWriteAck:
		return "WriteAck"
	case CmdRecvAck:
		return "RecvAck"
	case CmdNegAck:
		return "NegAck"
	case CmdDiscardNote:
		return "DiscardNote"
	case CmdPing:
		return "Ping"
	case CmdPingAck:
		return "PingAck"
	default:
		return fmt.Sprintf("Command(%d)", c)
	}
}

// HeaderSize is the wire size of Header: magic(4) + command(2) + length(2).
const HeaderSize = 8

// Header is the fixed frame prefix shared by both channels.
type Header struct {
	Magic         uint32
	Command       Command
	PayloadLength uint16
}

// Encode writes the 8-byte big-endian header.
func (h Header) Encode(w io.Writer) error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], uint16(h.Command))
	binary.BigEndian.PutUint16(buf[6:8], h.PayloadLength)
	_, err := w.Write(buf[:])
	return err
}

// DecodeHeader reads and validates a Header, rejecting a bad magic as a
// protocol violation.
func DecodeHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	h := Header{
		Magic:         binary.BigEndian.Uint32(buf[0:4]),
		Command:       Command(binary.BigEndian.Uint16(buf[4:6])),
		PayloadLength: binary.BigEndian.Uint16(buf[6:8]),
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("wire: bad magic %#x, want %#x", h.Magic, Magic)
	}
	return h, nil
}

// HandShakeSize is frozen at 80 bytes (spec §4.3, §6). An implementation
// MUST refuse to start if its compiled HandShake record is not exactly this
// size; init() below enforces that for this implementation.
const HandShakeSize = 80

// HandShake is the first packet exchanged on the data channel. Its record is
// padded to exactly HandShakeSize bytes on the wire.
type HandShake struct {
	ProtocolMin uint32
	ProtocolMax uint32
	Feature     uint32
	_           [HandShakeSize - 12]byte // reserved, kept for wire-size stability
}

func init() {
	var probe [HandShakeSize]byte
	encoded := encodeHandShake(HandShake{})
	if len(encoded) != len(probe) {
		panic(fmt.Sprintf("wire: HandShake record is %d bytes, must be exactly %d", len(encoded), HandShakeSize))
	}
}

func encodeHandShake(h HandShake) []byte {
	buf := make([]byte, HandShakeSize)
	binary.BigEndian.PutUint32(buf[0:4], h.ProtocolMin)
	binary.BigEndian.PutUint32(buf[4:8], h.ProtocolMax)
	binary.BigEndian.PutUint32(buf[8:12], h.Feature)
	return buf
}

// Encode serializes a HandShake to its frozen 80-byte record.
func (h HandShake) Encode() []byte { return encodeHandShake(h) }

// DecodeHandShake parses an 80-byte HandShake record.
func DecodeHandShake(buf []byte) (HandShake, error) {
	if len(buf) != HandShakeSize {
		return HandShake{}, fmt.Errorf("wire: HandShake payload is %d bytes, want %d", len(buf), HandShakeSize)
	}
	return HandShake{
		ProtocolMin: binary.BigEndian.Uint32(buf[0:4]),
		ProtocolMax: binary.BigEndian.Uint32(buf[4:8]),
		Feature:     binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// DataHeader is the fixed-size prefix of a Data packet payload; it is
// followed by the bulk write bytes (spec §3, §4.3).
type DataHeader struct {
	Sector  uint64
	BlockID uint64
	SeqNum  uint32
}

// DataHeaderSize is the wire size of DataHeader.
const DataHeaderSize = 8 + 8 + 4

// Encode serializes a DataHeader.
func (d DataHeader) Encode() []byte {
	buf := make([]byte, DataHeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], d.Sector)
	binary.BigEndian.PutUint64(buf[8:16], d.BlockID)
	binary.BigEndian.PutUint32(buf[16:20], d.SeqNum)
	return buf
}

// DecodeDataHeader parses a DataHeader from the front of buf.
func DecodeDataHeader(buf []byte) (DataHeader, error) {
	if len(buf) < DataHeaderSize {
		return DataHeader{}, fmt.Errorf("wire: Data payload too short: %d bytes", len(buf))
	}
	return DataHeader{
		Sector:  binary.BigEndian.Uint64(buf[0:8]),
		BlockID: binary.BigEndian.Uint64(buf[8:16]),
		SeqNum:  binary.BigEndian.Uint32(buf[16:20]),
	}, nil
}

// BarrierPacket asks the peer to close the named epoch.
type BarrierPacket struct {
	Epoch uint32
}

const BarrierPacketSize = 4

func (b BarrierPacket) Encode() []byte {
	buf := make([]byte, BarrierPacketSize)
	binary.BigEndian.PutUint32(buf[0:4], b.Epoch)
	return buf
}

func DecodeBarrierPacket(buf []byte) (BarrierPacket, error) {
	if len(buf) != BarrierPacketSize {
		return BarrierPacket{}, fmt.Errorf("wire: Barrier payload is %d bytes, want %d", len(buf), BarrierPacketSize)
	}
	return BarrierPacket{Epoch: binary.BigEndian.Uint32(buf[0:4])}, nil
}

// BarrierAckPacket is {epoch u32, set_size u32} (spec §4.3).
type BarrierAckPacket struct {
	Epoch   uint32
	SetSize uint32
}

const BarrierAckPacketSize = 8

func (b BarrierAckPacket) Encode() []byte {
	buf := make([]byte, BarrierAckPacketSize)
	binary.BigEndian.PutUint32(buf[0:4], b.Epoch)
	binary.BigEndian.PutUint32(buf[4:8], b.SetSize)
	return buf
}

func DecodeBarrierAckPacket(buf []byte) (BarrierAckPacket, error) {
	if len(buf) != BarrierAckPacketSize {
		return BarrierAckPacket{}, fmt.Errorf("wire: BarrierAck payload is %d bytes, want %d", len(buf), BarrierAckPacketSize)
	}
	return BarrierAckPacket{
		Epoch:   binary.BigEndian.Uint32(buf[0:4]),
		SetSize: binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// BlockAckPacket covers WriteAck/RecvAck/NegAck, all of which identify a
// Request by block_id and carry its sector for tl_verify.
type BlockAckPacket struct {
	Sector  uint64
	BlockID uint64
	SeqNum  uint32
}

const BlockAckPacketSize = 8 + 8 + 4

func (b BlockAckPacket) Encode() []byte {
	buf := make([]byte, BlockAckPacketSize)
	binary.BigEndian.PutUint64(buf[0:8], b.Sector)
	binary.BigEndian.PutUint64(buf[8:16], b.BlockID)
	binary.BigEndian.PutUint32(buf[16:20], b.SeqNum)
	return buf
}

func DecodeBlockAckPacket(buf []byte) (BlockAckPacket, error) {
	if len(buf) != BlockAckPacketSize {
		return BlockAckPacket{}, fmt.Errorf("wire: block-ack payload is %d bytes, want %d", len(buf), BlockAckPacketSize)
	}
	return BlockAckPacket{
		Sector:  binary.BigEndian.Uint64(buf[0:8]),
		BlockID: binary.BigEndian.Uint64(buf[8:16]),
		SeqNum:  binary.BigEndian.Uint32(buf[16:20]),
	}, nil
}

// DiscardNotePacket tells the submitter its write was refused due to a
// two-primaries conflict.
type DiscardNotePacket struct {
	Sector  uint64
	BlockID uint64
}

const DiscardNotePacketSize = 16

func (d DiscardNotePacket) Encode() []byte {
	buf := make([]byte, DiscardNotePacketSize)
	binary.BigEndian.PutUint64(buf[0:8], d.Sector)
	binary.BigEndian.PutUint64(buf[8:16], d.BlockID)
	return buf
}

func DecodeDiscardNotePacket(buf []byte) (DiscardNotePacket, error) {
	if len(buf) != DiscardNotePacketSize {
		return DiscardNotePacket{}, fmt.Errorf("wire: DiscardNote payload is %d bytes, want %d", len(buf), DiscardNotePacketSize)
	}
	return DiscardNotePacket{
		Sector:  binary.BigEndian.Uint64(buf[0:8]),
		BlockID: binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}

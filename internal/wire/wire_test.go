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

package wire

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Magic: Magic, Command: CmdData, PayloadLength: 42}
	var buf bytes.Buffer
	require.NoError(t, h.Encode(&buf))
	require.Equal(t, HeaderSize, buf.Len())

	got, err := DecodeHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Magic: 0xdeadbeef, Command: CmdPing}
	require.NoError(t, h.Encode(&buf))
	_, err := DecodeHeader(&buf)
	require.Error(t, err)
}

func TestHandShakeRoundTrip(t *testing.T) {
	hs := HandShake{ProtocolMin: 1, ProtocolMax: 3, Feature: 0xff}
	enc := hs.Encode()
	require.Len(t, enc, HandShakeSize)

	got, err := DecodeHandShake(enc)
	require.NoError(t, err)
	require.Equal(t, hs.ProtocolMin, got.ProtocolMin)
	require.Equal(t, hs.ProtocolMax, got.ProtocolMax)
	require.Equal(t, hs.Feature, got.Feature)
}

func TestDecodeHandShakeWrongSize(t *testing.T) {
	_, err := DecodeHandShake([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDataHeaderRoundTrip(t *testing.T) {
	dh := DataHeader{Sector: 1234, BlockID: 99, SeqNum: 7}
	got, err := DecodeDataHeader(dh.Encode())
	require.NoError(t, err)
	require.Equal(t, dh, got)
}

func TestBarrierPacketsRoundTrip(t *testing.T) {
	bp := BarrierPacket{Epoch: 5}
	gotBP, err := DecodeBarrierPacket(bp.Encode())
	require.NoError(t, err)
	require.Equal(t, bp, gotBP)

	bap := BarrierAckPacket{Epoch: 5, SetSize: 3}
	gotBAP, err := DecodeBarrierAckPacket(bap.Encode())
	require.NoError(t, err)
	require.Equal(t, bap, gotBAP)
}

func TestBlockAckAndDiscardNoteRoundTrip(t *testing.T) {
	bak := BlockAckPacket{Sector: 1, BlockID: 2, SeqNum: 3}
	gotBAK, err := DecodeBlockAckPacket(bak.Encode())
	require.NoError(t, err)
	require.Equal(t, bak, gotBAK)

	dn := DiscardNotePacket{Sector: 4, BlockID: 5}
	gotDN, err := DecodeDiscardNotePacket(dn.Encode())
	require.NoError(t, err)
	require.Equal(t, dn, gotDN)
}

func TestChannelSendAndReadHeaderPayload(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ch := NewChannel("data", a)

	payload := DataHeader{Sector: 1, BlockID: 2, SeqNum: 3}.Encode()
	errCh := make(chan error, 1)
	go func() {
		errCh <- ch.Send(Header{Magic: Magic, Command: CmdData}, payload, time.Time{})
	}()

	h, err := DecodeHeader(b)
	require.NoError(t, err)
	require.Equal(t, CmdData, h.Command)
	require.EqualValues(t, len(payload), h.PayloadLength)

	got := make([]byte, h.PayloadLength)
	_, err = b.Read(got)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.NoError(t, <-errCh)
}

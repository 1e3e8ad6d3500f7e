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

package metadisk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	rec := Record{
		LASize:   1 << 30,
		UUID:     0x1122334455667788,
		PeerUUID: 0x8877665544332211,
		GC: GenCounts{
			Flags:        uint32(GCConsistent | GCPrimaryInd),
			HumanCnt:     1,
			TimeoutCnt:   2,
			ConnectedCnt: 3,
			ArbitraryCnt: 4,
		},
		MDSize:      4096,
		ALOffset:    8,
		ALNrExtents: 257,
		BMOffset:    16,
	}

	enc := rec.Encode()
	require.Len(t, enc, RecordSize)

	got, err := Decode(enc)
	require.NoError(t, err)
	rec.Magic = MDMagic // Encode always stamps the magic
	require.Equal(t, rec, got)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	rec := Record{}
	enc := rec.Encode()
	enc[8+8+8+4*5+3] ^= 0xff // corrupt the low byte of Magic
	_, err := Decode(enc)
	require.Error(t, err)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, RecordSize-1))
	require.Error(t, err)
}

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

// Package metadisk defines the external collaborators spec §1 places
// deliberately out of scope (bitmap of out-of-sync regions, activity log,
// on-disk metadata, local storage) as interfaces, plus the metadata record
// layout the core itself encodes/decodes (spec §6).
package metadisk

import (
	"encoding/binary"
	"fmt"
)

// Bitmap tracks which sectors are out of sync with the peer. The core only
// calls its operations; the bitmap's own on-disk encoding is out of scope.
type Bitmap interface {
	SetOutOfSync(sector uint64, length uint32)
	Test(sector uint64) bool
	Words() []uint64
	Write() error
	GetLastEnabledLine() uint64
}

// ActivityLog tracks which extents have recent write activity, to bound
// resync after a crash without a full bitmap scan.
type ActivityLog interface {
	BeginIO(sector uint64)
	EndIO(sector uint64)
}

// LocalDisk is the downward collaborator that actually performs block I/O
// (spec §6 "Downward (local storage collaborator)").
type LocalDisk interface {
	SyncPageIO(sector uint64, buf []byte, write bool) error
	KickLo()
	GetCapacity() uint64
}

// MDMagic identifies a valid metadata sector.
const MDMagic uint32 = 0x83740267

// GCFlags are the GenCounts bit-flags of spec §3.
type GCFlags uint32

const (
	GCConsistent GCFlags = 1 << iota
	GCPrimaryInd
	GCConnectedInd
	GCWasUpToDate
	GCFullSync
)

// GenCounts is the fixed-size vector of spec §3.
type GenCounts struct {
	Flags       uint32
	HumanCnt    uint32
	TimeoutCnt  uint32
	ConnectedCnt uint32
	ArbitraryCnt uint32
}

// Record is the one-sector on-disk metadata layout of spec §6.
type Record struct {
	LASize     uint64
	UUID       uint64
	PeerUUID   uint64
	GC         GenCounts
	Magic      uint32
	MDSize     uint32
	ALOffset   uint32
	ALNrExtents uint32
	BMOffset   uint32
}

// RecordSize is the encoded wire size of Record.
const RecordSize = 8 + 8 + 8 + 4*5 + 4 + 4 + 4 + 4 + 4

// Encode serializes a Record, big-endian, setting Magic to MDMagic.
func (r Record) Encode() []byte {
	r.Magic = MDMagic
	buf := make([]byte, RecordSize)
	o := 0
	putU64 := func(v uint64) { binary.BigEndian.PutUint64(buf[o:o+8], v); o += 8 }
	putU32 := func(v uint32) { binary.BigEndian.PutUint32(buf[o:o+4], v); o += 4 }

	putU64(r.LASize)
	putU64(r.UUID)
	putU64(r.PeerUUID)
	putU32(r.GC.Flags)
	putU32(r.GC.HumanCnt)
	putU32(r.GC.TimeoutCnt)
	putU32(r.GC.ConnectedCnt)
	putU32(r.GC.ArbitraryCnt)
	putU32(r.Magic)
	putU32(r.MDSize)
	putU32(r.ALOffset)
	putU32(r.ALNrExtents)
	putU32(r.BMOffset)
	return buf
}

// Decode parses a Record, rejecting a bad magic (spec §6's
// `DRBD_MD_MAGIC` check).
func Decode(buf []byte) (Record, error) {
	if len(buf) < RecordSize {
		return Record{}, fmt.Errorf("metadisk: record is %d bytes, want %d", len(buf), RecordSize)
	}
	o := 0
	getU64 := func() uint64 { v := binary.BigEndian.Uint64(buf[o : o+8]); o += 8; return v }
	getU32 := func() uint32 { v := binary.BigEndian.Uint32(buf[o : o+4]); o += 4; return v }

	var r Record
	r.LASize = getU64()
	r.UUID = getU64()
	r.PeerUUID = getU64()
	r.GC.Flags = getU32()
	r.GC.HumanCnt = getU32()
	r.GC.TimeoutCnt = getU32()
	r.GC.ConnectedCnt = getU32()
	r.GC.ArbitraryCnt = getU32()
	r.Magic = getU32()
	r.MDSize = getU32()
	r.ALOffset = getU32()
	r.ALNrExtents = getU32()
	r.BMOffset = getU32()

	if r.Magic != MDMagic {
		return Record{}, fmt.Errorf("metadisk: bad magic %#x, want %#x", r.Magic, MDMagic)
	}
	return r, nil
}

// MDGCOffset is the sector offset of the generation-count block within the
// metadata area (spec §6: "at drbd_md_ss() + MD_GC_OFFSET").
const MDGCOffset = 1

// Sync flags, passed to the metadata collaborator's sync operation.
type SyncFlags uint32

const (
	SyncFlagFullSync SyncFlags = 1 << iota
	SyncFlagConsistentClear
)

// MetadataStore is the collaborator the core calls to persist a Record
// (spec §1 "metadata.sync(flags)").
type MetadataStore interface {
	Sync(rec Record, flags SyncFlags) error
	Read() (Record, error)
}

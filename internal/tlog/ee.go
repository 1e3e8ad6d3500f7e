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

package tlog

import "sync/atomic"

// EE (Epoch Entry) is a peer-originated write buffered locally pending disk
// write and/or ack (spec §3). It mirrors Request's hash-chain role on the
// inbound side.
type EE struct {
	Sector uint64
	Length uint32
	status uint32

	// Done is closed once the local disk write completes and (protocol
	// dependent) the ack has been queued for the asender.
	Done chan struct{}
}

// NewEE allocates an EE; it is owned by the receive path until released into
// the active/sync/done/net lists described in spec §3.
func NewEE(sector uint64, length uint32) *EE {
	return &EE{Sector: sector, Length: length, Done: make(chan struct{})}
}

// SetStatus atomically ORs bit into the EE's status via a CAS retry loop
// (sync/atomic has no OrUint32 for this Go version's integer types).
func (e *EE) SetStatus(bit StatusBit) {
	for {
		old := atomic.LoadUint32(&e.status)
		if atomic.CompareAndSwapUint32(&e.status, old, old|uint32(bit)) {
			return
		}
	}
}

// ClearStatus atomically clears bit from the EE's status via a CAS retry loop.
func (e *EE) ClearStatus(bit StatusBit) {
	for {
		old := atomic.LoadUint32(&e.status)
		if atomic.CompareAndSwapUint32(&e.status, old, old&^uint32(bit)) {
			return
		}
	}
}

// HasStatus reports whether every bit in mask is set.
func (e *EE) HasStatus(mask StatusBit) bool {
	return atomic.LoadUint32(&e.status)&uint32(mask) == uint32(mask)
}

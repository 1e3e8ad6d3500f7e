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

// Barrier is an ordered group of Requests sharing one epoch number (spec §3).
// Barrier and Request point at each other: Barrier.Requests lists its
// Requests and each Request holds a non-owning *Barrier back-pointer. There
// is no epoch-keyed arena; the TL alone decides when a Barrier is dropped
// (in Release, or when Clear replaces the whole list).
type Barrier struct {
	Epoch    uint32
	Requests []*Request
	NReq     int
	next     *Barrier
}

// newBarrier allocates an empty Barrier for the given epoch number.
func newBarrier(epoch uint32) *Barrier {
	return &Barrier{Epoch: epoch}
}

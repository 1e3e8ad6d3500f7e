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

import (
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/drbd-go/drbdcore/internal/coreerr"
)

// Pending holds the three atomic counters of spec §3: app writes awaiting
// peer confirmation, outstanding resync requests, and peer writes received
// but not yet acked.
type Pending struct {
	apPending int64
	rsPending int64
	unacked   int64
}

func (p *Pending) IncAP()          { atomic.AddInt64(&p.apPending, 1) }
func (p *Pending) DecAP()          { atomic.AddInt64(&p.apPending, -1) }
func (p *Pending) AP() int64       { return atomic.LoadInt64(&p.apPending) }
func (p *Pending) IncRS()          { atomic.AddInt64(&p.rsPending, 1) }
func (p *Pending) DecRS()          { atomic.AddInt64(&p.rsPending, -1) }
func (p *Pending) RS() int64       { return atomic.LoadInt64(&p.rsPending) }
func (p *Pending) IncUnacked()     { atomic.AddInt64(&p.unacked, 1) }
func (p *Pending) DecUnacked()     { atomic.AddInt64(&p.unacked, -1) }
func (p *Pending) Unacked() int64  { return atomic.LoadInt64(&p.unacked) }

// OutOfSyncMarker is the one-method slice of the bitmap collaborator that
// records a sector range as needing resync (spec §1 "deliberately out of
// scope"). Clear does not call it: it reports MarkOutOfSync per Request for
// the caller to apply, and the asender and pipeline mark sectors through
// metadisk.Bitmap directly.
type OutOfSyncMarker interface {
	SetOutOfSync(sector uint64, length uint32)
}

// TL is the per-device transfer log: the epoch-barrier FIFO plus its sector
// hash index (spec §4.2).
type TL struct {
	mu     sync.Mutex
	oldest *Barrier
	newest *Barrier

	hash   map[uint64][]*Request // bucket -> chain, keyed by bucketOf(sector)
	eeHash map[uint64][]*EE

	// busy is a fast-path membership set of buckets that currently have at
	// least one in-TL Request, so req_have_write's common "definitely no
	// conflict" case need not walk three bucket chains.
	busy mapset.Set[uint64]

	maxEpochSize uint32
	nextEpoch    uint32
	issueBarrier atomic.Bool

	Pending *Pending
}

// New creates an empty TL whose first (and initially only) barrier is epoch 1.
func New(maxEpochSize uint32) *TL {
	first := newBarrier(1)
	return &TL{
		oldest:       first,
		newest:       first,
		hash:         make(map[uint64][]*Request),
		eeHash:       make(map[uint64][]*EE),
		busy:         mapset.NewThreadUnsafeSet[uint64](),
		maxEpochSize: maxEpochSize,
		nextEpoch:    2,
		Pending:      &Pending{},
	}
}

// IssueBarrier reports whether the sender must emit a Barrier before its
// next Data packet (spec TL3).
func (t *TL) IssueBarrier() bool { return t.issueBarrier.Load() }

// ClearIssueBarrier is called once the sender has emitted the Barrier.
func (t *TL) ClearIssueBarrier() { t.issueBarrier.Store(false) }

func (t *TL) hashInsert(req *Request) {
	b := bucketOf(req.Sector)
	t.hash[b] = append(t.hash[b], req)
	t.busy.Add(b)
}

func (t *TL) hashRemove(req *Request) {
	b := bucketOf(req.Sector)
	chain := t.hash[b]
	for i, r := range chain {
		if r == req {
			t.hash[b] = append(chain[:i], chain[i+1:]...)
			break
		}
	}
	if len(t.hash[b]) == 0 {
		delete(t.hash, b)
		t.busy.Remove(b)
	}
}

// add is the unlocked core of Add, shared with EEHaveWrite (spec's
// _tl_add, called both under tl_add's own lock and from inside
// ee_have_write which already holds it).
func (t *TL) add(req *Request) {
	b := t.newest
	req.barrier = b
	req.SetStatus(StatusInTL)
	b.Requests = append(b.Requests, req)
	b.NReq++
	if b.NReq >= int(t.maxEpochSize) {
		t.issueBarrier.Store(true)
	}
	t.hashInsert(req)
}

// Add appends req to the newest barrier, marks it IN_TL, and inserts it into
// the sector hash (spec tl_add / TL2).
func (t *TL) Add(req *Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(req)
}

// Cancel removes req from its barrier and the hash, clearing IN_TL. Used
// when a send fails before the request reaches the wire (spec tl_cancel).
func (t *TL) Cancel(req *Request) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := req.barrier
	if b != nil {
		for i, r := range b.Requests {
			if r == req {
				b.Requests = append(b.Requests[:i], b.Requests[i+1:]...)
				break
			}
		}
		b.NReq--
	}
	t.hashRemove(req)
	req.ClearStatus(StatusInTL)
}

// AddBarrier closes the current epoch and opens a new one, returning the
// epoch number that was just closed (spec tl_add_barrier). The caller must
// hold the data-channel send lock across this call and the Data packets it
// follows (spec §4.4 step 3, §5 ordering guarantees).
func (t *TL) AddBarrier() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	closed := t.newest.Epoch
	next := newBarrier(t.nextEpoch)
	t.nextEpoch++
	t.newest.next = next
	t.newest = next
	t.issueBarrier.Store(false)
	return closed
}

// Release pops the oldest barrier once the peer's BarrierAck confirms it,
// asserting epoch and size match (spec tl_release, TL-FIFO, Barrier-match).
// A mismatch is a FatalInvariant per the Open Question resolution in
// SPEC_FULL.md (the source only asserts; this implementation panics).
func (t *TL) Release(epoch uint32, setSize uint32) {
	t.mu.Lock()
	b := t.oldest
	if b == t.newest {
		t.mu.Unlock()
		coreerr.Fatal("Barrier-match", "tl_release called with no closed barrier to release")
		return
	}
	t.oldest = b.next
	t.mu.Unlock()

	if b.Epoch != epoch || b.NReq != int(setSize) {
		coreerr.Fatal("Barrier-match", fmtBarrierMismatch(b, epoch, setSize))
	}
}

func fmtBarrierMismatch(b *Barrier, epoch, setSize uint32) string {
	return "tl_release(epoch=" + itoa(epoch) + ", set_size=" + itoa(setSize) +
		") but oldest barrier has epoch=" + itoa(b.Epoch) + " n_req=" + itoa(uint32(b.NReq))
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Verify reports whether req is still present in the hash under sector
// (spec tl_verify, Hash-consistency).
func (t *TL) Verify(req *Request, sector uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.hash[bucketOf(sector)] {
		if r == req {
			return true
		}
	}
	return false
}

// Dependence removes req from its barrier and the hash, and reports whether
// it was still in the current (newest) epoch (spec tl_dependence). Used by
// the receive path to decide whether a peer-observed write still needs a
// dependency-ordering barrier.
func (t *TL) Dependence(req *Request) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	inCurrent := req.barrier == t.newest
	if b := req.barrier; b != nil {
		for i, r := range b.Requests {
			if r == req {
				b.Requests = append(b.Requests[:i], b.Requests[i+1:]...)
				break
			}
		}
	}
	t.hashRemove(req)
	return inCurrent
}

// DrainedRequest describes one formerly in-flight Request after Clear, for
// the caller to complete locally and/or mark out-of-sync (spec tl_clear).
type DrainedRequest struct {
	Req             *Request
	CompleteLocally bool
	MarkOutOfSync   bool
}

// Clear replaces the barrier list with a fresh empty barrier on connection
// loss, returning the disposition of every Request that was in flight (spec
// tl_clear, "tl_clear drain" testable property). protocolC selects whether
// already-SENT requests are excluded from the out-of-sync mark (protocol C
// requires the peer to have acked durably before the connection could be
// declared lost in the first place, so only non-SENT requests need a
// synthetic completion there; protocols A/B also mark SENT requests
// out-of-sync, per the source's `wire_protocol != DRBD_PROT_C` check).
func (t *TL) Clear(protocolC bool) []DrainedRequest {
	t.mu.Lock()
	b := t.oldest
	fresh := newBarrier(t.nextEpoch)
	t.nextEpoch++
	t.oldest = fresh
	t.newest = fresh
	t.hash = make(map[uint64][]*Request)
	t.busy = mapset.NewThreadUnsafeSet[uint64]()
	t.mu.Unlock()

	var drained []DrainedRequest
	for b != nil {
		for _, r := range b.Requests {
			d := DrainedRequest{Req: r}
			if !r.HasStatus(StatusSent) {
				d.CompleteLocally = true
				d.MarkOutOfSync = true
			} else if !protocolC {
				d.MarkOutOfSync = true
			}
			drained = append(drained, d)
		}
		b = b.next
	}
	return drained
}

// ReqHaveWrite is the inbound-path conflict check (spec req_have_write): it
// reports a conflicting *Request if one overlaps ee's range, else registers
// ee in the EE hash and returns nil.
func (t *TL) ReqHaveWrite(ee *EE) *Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	if req := t.scanOverlap(ee.Sector, ee.Length); req != nil {
		return req
	}
	b := bucketOf(ee.Sector)
	t.eeHash[b] = append(t.eeHash[b], ee)
	return nil
}

func (t *TL) scanOverlap(sector uint64, length uint32) *Request {
	center := bucketOf(sector)
	for _, b := range [3]uint64{center - 1, center, center + 1} {
		if !t.busy.Contains(b) {
			continue
		}
		for _, req := range t.hash[b] {
			if overlaps(req.Sector, req.Length, sector, length) {
				return req
			}
		}
	}
	return nil
}

// EEHaveWrite is the outbound-path conflict check (spec ee_have_write): it
// reports a conflicting *EE if one overlaps req's range, else adds req to
// the TL (the original's _tl_add, done under the same lock) and returns nil.
func (t *TL) EEHaveWrite(req *Request) *EE {
	t.mu.Lock()
	defer t.mu.Unlock()

	center := bucketOf(req.Sector)
	for _, b := range [3]uint64{center - 1, center, center + 1} {
		for _, ee := range t.eeHash[b] {
			if overlaps(ee.Sector, ee.Length, req.Sector, req.Length) {
				return ee
			}
		}
	}
	t.add(req)
	return nil
}

// ReleaseEE removes ee from the EE hash once it has been written locally and
// acked (or discarded).
func (t *TL) ReleaseEE(ee *EE) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := bucketOf(ee.Sector)
	chain := t.eeHash[b]
	for i, e := range chain {
		if e == ee {
			t.eeHash[b] = append(chain[:i], chain[i+1:]...)
			return
		}
	}
}

// NewRequest allocates a Request for submission; it is not yet IN_TL.
func NewRequest(id, sector uint64, length uint32) *Request {
	return newRequest(id, sector, length)
}

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

// Package state implements the per-device state machine: the
// (role, peer_role, conn, disk, pdisk) tuple, its sanitising pass, and the
// preflight checklist that guards every transition (spec §3, §4.1).
package state

import (
	"errors"
	"fmt"
	"sync"
)

// Role is Primary, Secondary, or Unknown.
type Role int

const (
	Unknown Role = iota
	Primary
	Secondary
)

func (r Role) String() string {
	switch r {
	case Primary:
		return "Primary"
	case Secondary:
		return "Secondary"
	default:
		return "Unknown"
	}
}

// Conn is the connection state.
type Conn int

const (
	StandAlone Conn = iota
	Unconnected
	WFConnection
	WFReportParams
	Connected
	WFBitMapS
	WFBitMapT
	SyncSource
	SyncTarget
	PausedSyncS
	PausedSyncT
	SkippedSyncS
	SkippedSyncT
	Timeout
	BrokenPipe
)

var connNames = [...]string{
	"StandAlone", "Unconnected", "WFConnection", "WFReportParams", "Connected",
	"WFBitMapS", "WFBitMapT", "SyncSource", "SyncTarget", "PausedSyncS",
	"PausedSyncT", "SkippedSyncS", "SkippedSyncT", "Timeout", "BrokenPipe",
}

func (c Conn) String() string {
	if int(c) < len(connNames) {
		return connNames[c]
	}
	return fmt.Sprintf("Conn(%d)", int(c))
}

// isSyncing reports whether conn is one of the resync-in-progress states.
func (c Conn) isSyncing() bool {
	switch c {
	case SyncSource, SyncTarget, PausedSyncS, PausedSyncT, SkippedSyncS, SkippedSyncT:
		return true
	default:
		return false
	}
}

// resyncIsSource reports whether, among the syncing states, this side is the
// source (has the good data) rather than the target.
func (c Conn) resyncIsSource() bool {
	switch c {
	case SyncSource, PausedSyncS, SkippedSyncS:
		return true
	default:
		return false
	}
}

// Disk is the local (or, as Disk of peer_role, remote) disk consistency.
type Disk int

const (
	DUnknown Disk = iota
	Diskless
	Failed
	Inconsistent
	Outdated
	Consistent
	UpToDate
)

var diskNames = [...]string{
	"DUnknown", "Diskless", "Failed", "Inconsistent", "Outdated", "Consistent", "UpToDate",
}

func (d Disk) String() string {
	if int(d) < len(diskNames) {
		return diskNames[d]
	}
	return fmt.Sprintf("Disk(%d)", int(d))
}

// Tuple is the full per-device state (spec §3 DeviceState).
type Tuple struct {
	Role     Role
	PeerRole Role
	Conn     Conn
	Disk     Disk
	PDisk    Disk
}

func (t Tuple) String() string {
	return fmt.Sprintf("{role=%s peer=%s conn=%s disk=%s pdisk=%s}",
		t.Role, t.PeerRole, t.Conn, t.Disk, t.PDisk)
}

// ChangeFlags modifies how Propose treats a candidate transition.
type ChangeFlags uint8

const (
	// ChgStateHard bypasses the preflight checklist (admin force, or
	// applying a peer-announced state at handshake).
	ChgStateHard ChangeFlags = 1 << iota
	// ChgStateVerbose asks the caller to log both tuples on rejection.
	ChgStateVerbose
)

// Sentinel errors returned by Propose's preflight checklist (spec §4.1).
var (
	ErrNoTwoPrimaries           = errors.New("state: two primaries not allowed")
	ErrPrimaryWithoutGoodData   = errors.New("state: primary refused without consistent local data")
	ErrSplitBrainRefused        = errors.New("state: split brain refused")
	ErrPrimaryNeedsPeerUpToDate = errors.New("state: primary requires an up-to-date peer when disconnected")
	ErrConnectedButPeerDiskless = errors.New("state: cannot connect to a diskless peer in this role")
	ErrOutdatedPrimaryRefused   = errors.New("state: outdated disk refuses primary role")
)

// Action is a post-transition side effect the state machine schedules rather
// than performs inline (spec §4.1, §9 "no hidden singletons": actions are
// values, dispatched by the caller onto the worker queue).
type Action int

const (
	ActionSendSizes Action = iota
	ActionSendState
	ActionPinModule
	ActionStopResyncTimer
)

func (a Action) String() string {
	switch a {
	case ActionSendSizes:
		return "SendSizes"
	case ActionSendState:
		return "SendState"
	case ActionPinModule:
		return "PinModule"
	case ActionStopResyncTimer:
		return "StopResyncTimer"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Warning is a non-fatal note produced by the sanitiser, e.g. "Implicit
// Inconsistent" (spec §8 scenario 4).
type Warning string

// Result is returned by a successful Propose.
type Result struct {
	Old      Tuple
	New      Tuple
	Warnings []Warning
	Actions  []Action
}

// Machine is the single lock-protected state value for one device.
type Machine struct {
	mu  sync.Mutex
	cur Tuple
	// cond is broadcast-style via a channel that is replaced on every
	// successful change, so Wait callers can select on the current one
	// without holding mu.
	changed chan struct{}
}

// New creates a Machine starting from the fully-disconnected, diskless tuple.
func New() *Machine {
	return &Machine{
		cur:     Tuple{Role: Secondary, PeerRole: Unknown, Conn: StandAlone, Disk: Diskless, PDisk: DUnknown},
		changed: make(chan struct{}),
	}
}

// Read returns the current tuple.
func (m *Machine) Read() Tuple {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Changed returns a channel closed the next time the tuple changes, for
// condition-variable-style waits (spec §5 "state-change condition
// variable", replaced here by a channel per spec §9's cancellation note so a
// waiter can also select on ctx.Done()).
func (m *Machine) Changed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// sanitise applies invariants I1-I4 (spec §3), rewriting the tuple where the
// source dictates a deterministic collapse, and returns any warnings raised.
func sanitise(t Tuple) (Tuple, []Warning) {
	var warnings []Warning

	// I1: not yet past the handshake means we cannot know the peer.
	if t.Conn < Connected {
		t.PeerRole = Unknown
		if t.PDisk != DUnknown && !t.Conn.isSyncing() {
			t.PDisk = DUnknown
		}
	}

	// I2: cannot be in a post-connected conn state with a failed local
	// disk; the source rewrites to Connected with "resync aborted".
	if t.Conn > Connected && t.Disk <= Failed {
		t.Conn = Connected
	}

	// I3: Consistent collapses deterministically under a connected conn,
	// by that conn's resync role.
	if t.Disk == Consistent && t.Conn >= Connected {
		switch {
		case t.Conn.isSyncing() && t.Conn.resyncIsSource():
			t.Disk = UpToDate
			warnings = append(warnings, "Implicit UpToDate")
		case t.Conn.isSyncing() && !t.Conn.resyncIsSource():
			t.Disk = Inconsistent
			warnings = append(warnings, "Implicit Inconsistent")
		default:
			t.Disk = Outdated
			warnings = append(warnings, "Implicit Outdated")
		}
	}

	return t, warnings
}

// preflight runs the named-error checklist of spec §4.1 against a candidate
// tuple, given the tuple it would replace.
func preflight(old, candidate Tuple, twoPrimaries bool) error {
	// I4: Primary with bad data and no peer is fatal to allow.
	if candidate.Role == Primary && candidate.Disk < Consistent && candidate.Conn < Connected {
		return ErrPrimaryWithoutGoodData
	}
	if candidate.Role == Primary && candidate.Conn < Connected && candidate.PDisk != UpToDate && old.PDisk != UpToDate {
		// No peer to vouch for freshness and we are not UpToDate
		// ourselves: refuse unless our own disk is already UpToDate.
		if candidate.Disk != UpToDate {
			return ErrPrimaryNeedsPeerUpToDate
		}
	}
	if !twoPrimaries && candidate.Role == Primary && candidate.PeerRole == Primary {
		return ErrNoTwoPrimaries
	}
	if candidate.Disk == Outdated && candidate.Role == Primary {
		return ErrOutdatedPrimaryRefused
	}
	if candidate.Conn >= Connected && candidate.PDisk == Diskless && candidate.Disk == Diskless {
		return ErrConnectedButPeerDiskless
	}
	if candidate.Disk == Inconsistent && candidate.PDisk == Inconsistent && candidate.Conn >= Connected && !candidate.Conn.isSyncing() {
		return ErrSplitBrainRefused
	}
	return nil
}

// actionsFor computes the post-transition actions implied by old->new, per
// the bullet list in spec §4.1.
func actionsFor(old, new Tuple) []Action {
	var actions []Action
	if old.Disk == Diskless && new.Disk >= Inconsistent && new.Conn >= Connected {
		actions = append(actions, ActionSendSizes, ActionSendState)
	}
	firstDiskAttach := old.Disk == Diskless && new.Disk != Diskless
	peerLeftStandAlone := old.Conn == StandAlone && new.Conn != StandAlone
	if firstDiskAttach || peerLeftStandAlone {
		actions = append(actions, ActionPinModule)
	}
	if old.Conn.isSyncing() && new.Conn <= Connected {
		actions = append(actions, ActionStopResyncTimer)
	}
	return actions
}

// Propose validates and, if accepted, applies a candidate tuple. Unset
// fields of candidate (the Go zero value) are NOT treated specially; callers
// build the full desired tuple, typically starting from Read().
func (m *Machine) Propose(candidate Tuple, flags ChangeFlags, twoPrimaries bool) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.cur
	sanitised, warnings := sanitise(candidate)

	if flags&ChgStateHard == 0 {
		if err := preflight(old, sanitised, twoPrimaries); err != nil {
			return Result{}, err
		}
	}

	m.cur = sanitised
	close(m.changed)
	m.changed = make(chan struct{})

	return Result{
		Old:      old,
		New:      sanitised,
		Warnings: warnings,
		Actions:  actionsFor(old, sanitised),
	}, nil
}

// Force applies a candidate tuple unconditionally, equivalent to
// Propose(candidate, ChgStateHard, true) but without the possibility of
// error, matching spec §4.1's force().
func (m *Machine) Force(candidate Tuple) Result {
	res, err := m.Propose(candidate, ChgStateHard, true)
	if err != nil {
		// ChgStateHard never returns an error from preflight; a non-nil
		// err here would be a programming mistake in preflight's gating.
		panic(fmt.Sprintf("state: Force must not fail preflight: %v", err))
	}
	return res
}

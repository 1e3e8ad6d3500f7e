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

package state

import (
	"errors"
	"testing"
)

// TestSanitiseIdempotent asserts sanitise(sanitise(s)) == sanitise(s) for a
// spread of reachable tuples (spec §8 "State sanitiser idempotence").
func TestSanitiseIdempotent(t *testing.T) {
	roles := []Role{Unknown, Primary, Secondary}
	conns := []Conn{StandAlone, Unconnected, WFConnection, Connected, SyncSource, SyncTarget, PausedSyncS, Timeout, BrokenPipe}
	disks := []Disk{DUnknown, Diskless, Failed, Inconsistent, Outdated, Consistent, UpToDate}

	for _, role := range roles {
		for _, peer := range roles {
			for _, conn := range conns {
				for _, disk := range disks {
					for _, pdisk := range disks {
						tup := Tuple{Role: role, PeerRole: peer, Conn: conn, Disk: disk, PDisk: pdisk}
						once, _ := sanitise(tup)
						twice, _ := sanitise(once)
						if once != twice {
							t.Fatalf("sanitise not idempotent for %v: once=%v twice=%v", tup, once, twice)
						}
					}
				}
			}
		}
	}
}

// TestNoPrimaryWithoutGoodData asserts no accepted transition leaves
// role=Primary, disk<Consistent, conn<Connected (spec §8).
func TestNoPrimaryWithoutGoodData(t *testing.T) {
	m := New()
	_, err := m.Propose(Tuple{
		Role: Primary, PeerRole: Unknown, Conn: Unconnected, Disk: Inconsistent, PDisk: DUnknown,
	}, 0, false)
	if !errors.Is(err, ErrPrimaryWithoutGoodData) {
		t.Fatalf("expected ErrPrimaryWithoutGoodData, got %v", err)
	}
	cur := m.Read()
	if cur.Role == Primary {
		t.Fatalf("rejected proposal must not have been applied: %v", cur)
	}
}

// TestPreflightRefusesDualPrimary is scenario 3 from spec §8.
func TestPreflightRefusesDualPrimary(t *testing.T) {
	m := New()
	m.Force(Tuple{Role: Primary, PeerRole: Secondary, Conn: Connected, Disk: UpToDate, PDisk: UpToDate})

	before := m.Read()
	_, err := m.Propose(Tuple{
		Role: Primary, PeerRole: Primary, Conn: Connected, Disk: UpToDate, PDisk: UpToDate,
	}, 0, false)
	if !errors.Is(err, ErrNoTwoPrimaries) {
		t.Fatalf("expected ErrNoTwoPrimaries, got %v", err)
	}
	if m.Read() != before {
		t.Fatalf("tuple must be unchanged on refusal: before=%v after=%v", before, m.Read())
	}
}

// TestSanitiserCollapsesConsistentUnderSyncTarget is scenario 4 from spec §8.
func TestSanitiserCollapsesConsistentUnderSyncTarget(t *testing.T) {
	got, warnings := sanitise(Tuple{Role: Secondary, PeerRole: Primary, Conn: SyncTarget, Disk: Consistent, PDisk: UpToDate})
	if got.Disk != Inconsistent {
		t.Fatalf("expected Disk to collapse to Inconsistent, got %v", got.Disk)
	}
	found := false
	for _, w := range warnings {
		if w == "Implicit Inconsistent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an \"Implicit Inconsistent\" warning, got %v", warnings)
	}
}

func TestForceBypassesPreflight(t *testing.T) {
	m := New()
	res := m.Force(Tuple{Role: Primary, PeerRole: Primary, Conn: Connected, Disk: UpToDate, PDisk: UpToDate})
	if res.New.Role != Primary || res.New.PeerRole != Primary {
		t.Fatalf("Force must apply the candidate unconditionally, got %v", res.New)
	}
}

func TestActionsForDisklessAttach(t *testing.T) {
	old := Tuple{Role: Secondary, PeerRole: Secondary, Conn: Connected, Disk: Diskless, PDisk: UpToDate}
	newT := Tuple{Role: Secondary, PeerRole: Secondary, Conn: Connected, Disk: Inconsistent, PDisk: UpToDate}
	actions := actionsFor(old, newT)
	want := map[Action]bool{ActionSendSizes: true, ActionSendState: true, ActionPinModule: true}
	for _, a := range actions {
		delete(want, a)
	}
	if len(want) != 0 {
		t.Fatalf("missing expected actions: %v (got %v)", want, actions)
	}
}

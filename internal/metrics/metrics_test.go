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

package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterIsNamespacedAndPersistent(t *testing.T) {
	reg := NewRegistry("r0")
	reg.Counter("writes").Inc(3)
	reg.Counter("writes").Inc(2)

	snap := reg.Snapshot()
	require.Equal(t, int64(5), snap["drbd.r0.writes"])
}

func TestGaugeUpdateOverwrites(t *testing.T) {
	reg := NewRegistry("r0")
	reg.Gauge("ap_pending").Update(7)

	snap := reg.Snapshot()
	require.Equal(t, int64(7), snap["drbd.r0.ap_pending"])
}

func TestDistinctDevicesAreNotNamespaceCollided(t *testing.T) {
	a := NewRegistry("r0")
	b := NewRegistry("r1")
	a.Counter("writes").Inc(1)
	b.Counter("writes").Inc(9)

	require.Equal(t, int64(1), a.Snapshot()["drbd.r0.writes"])
	require.Equal(t, int64(9), b.Snapshot()["drbd.r1.writes"])
}

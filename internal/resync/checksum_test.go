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

package resync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEqualBlocksHaveEqualSums(t *testing.T) {
	var c ChecksumComparator
	a := []byte("identical block of replicated data")
	b := append([]byte(nil), a...)

	require.True(t, c.Equal(c.Sum(a), c.Sum(b)))
}

func TestDifferentBlocksHaveDifferentSums(t *testing.T) {
	var c ChecksumComparator
	a := []byte("block one")
	b := []byte("block two")

	require.False(t, c.Equal(c.Sum(a), c.Sum(b)))
}

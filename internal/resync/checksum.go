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

// Package resync implements the background resynchronization tuning
// surface of spec §6 (`sync.*` config): rate limiting is the caller's
// concern (a token-bucket wrapper around the local disk collaborator), but
// the `use_csums` checksum comparison belongs here since it is pure
// computation over bytes, not an I/O collaborator.
package resync

import (
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

// ChecksumComparator computes and compares block digests for the
// `sync.use_csums` resync mode: instead of blindly re-sending every
// out-of-sync extent, the source first sends a digest and the target only
// requests the bytes if its own digest disagrees (spec §6 SyncConfig,
// "UseChecksums").
type ChecksumComparator struct{}

// Sum returns the blake2b-256 digest of a block, the single digest both
// source and target compute over the same extent.
func (ChecksumComparator) Sum(block []byte) [32]byte {
	return blake2b.Sum256(block)
}

// Equal reports whether two previously computed digests match, using a
// constant-time comparison since nothing about resync's security posture
// benefits from risking a timing side-channel on an otherwise cheap check.
func (ChecksumComparator) Equal(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

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

// Package coreerr classifies the error taxonomy of spec §7: each error
// carries a Kind so a caller can branch on the recovery policy (recover
// locally, return to the caller, or escalate) without string matching.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind is the top-level classification of an error raised by the core.
type Kind int

const (
	KindTransportLost Kind = iota
	KindProtocolViolation
	KindStateRefused
	KindLocalIOError
	KindWriteConflict
	KindOutOfMemory
)

func (k Kind) String() string {
	switch k {
	case KindTransportLost:
		return "TransportLost"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindStateRefused:
		return "StateRefused"
	case KindLocalIOError:
		return "LocalIOError"
	case KindWriteConflict:
		return "WriteConflict"
	case KindOutOfMemory:
		return "OutOfMemory"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with its Kind for errors.Is/As-based
// dispatch at the supervisor level.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a coreerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// FatalInvariant is the diagnostic panic value raised when a TL/Barrier
// invariant is violated, or preflight rule I4 is broken despite the
// checklist (spec §7's FatalInvariant kind, which never returns to a
// caller: it aborts the process with a diagnostic, per the Open Question
// resolution in SPEC_FULL.md).
type FatalInvariant struct {
	Invariant string
	Detail    string
}

func (f FatalInvariant) String() string {
	return fmt.Sprintf("FatalInvariant[%s]: %s", f.Invariant, f.Detail)
}

// Fatal panics with a FatalInvariant diagnostic.
func Fatal(invariant, detail string) {
	panic(FatalInvariant{Invariant: invariant, Detail: detail})
}

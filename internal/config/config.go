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

// Package config holds the subset of per-device configuration options that
// affect core behavior, decoded from TOML.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// WireProtocol selects the completion semantics for a local write.
type WireProtocol string

const (
	// ProtocolA completes a write locally as soon as it is handed to the
	// transport, without waiting for any peer acknowledgement.
	ProtocolA WireProtocol = "A"
	// ProtocolB completes a write once the peer has received the bytes
	// (RecvAck), not yet written them to its own disk.
	ProtocolB WireProtocol = "B"
	// ProtocolC completes a write only once the peer has durably written it
	// (WriteAck).
	ProtocolC WireProtocol = "C"
)

func (p WireProtocol) valid() bool {
	switch p {
	case ProtocolA, ProtocolB, ProtocolC:
		return true
	default:
		return false
	}
}

// OnIOError selects the local-disk failure policy.
type OnIOError string

const (
	OnIOErrorPassOn OnIOError = "pass-on"
	OnIOErrorPanic  OnIOError = "panic"
	OnIOErrorDetach OnIOError = "detach"
)

func (o OnIOError) valid() bool {
	switch o {
	case OnIOErrorPassOn, OnIOErrorPanic, OnIOErrorDetach:
		return true
	default:
		return false
	}
}

// SyncConfig tunes background resynchronization.
type SyncConfig struct {
	RateBytesPerSec int64  `toml:"rate"`
	UseChecksums    bool   `toml:"use_csums"`
	Skip            bool   `toml:"skip"`
	Group           int    `toml:"group"`
	ALExtents       int    `toml:"al_extents"`
}

// Config is the full set of options that affect core behavior (spec §6).
type Config struct {
	WireProtocol  WireProtocol  `toml:"wire_protocol"`
	TwoPrimaries  bool          `toml:"two_primaries"`
	MaxEpochSize  uint32        `toml:"max_epoch_size"`
	KOCount       uint32        `toml:"ko_count"`
	Timeout       time.Duration `toml:"timeout"`
	OnIOError     OnIOError     `toml:"on_io_error"`
	Sync          SyncConfig    `toml:"sync"`
}

// Default returns the conservative defaults used when a device is created
// without an explicit configuration.
func Default() Config {
	return Config{
		WireProtocol: ProtocolC,
		TwoPrimaries: false,
		MaxEpochSize: 2048,
		KOCount:      4,
		Timeout:      6 * time.Second,
		OnIOError:    OnIOErrorDetach,
		Sync: SyncConfig{
			RateBytesPerSec: 250 * 1024,
			ALExtents:       257,
		},
	}
}

// PingInterval is half the meta-channel timeout, per spec §6.
func (c Config) PingInterval() time.Duration {
	return c.Timeout / 2
}

// Validate checks that every enumerated field holds a legal value and that
// numeric fields are in range.
func (c Config) Validate() error {
	if !c.WireProtocol.valid() {
		return fmt.Errorf("config: invalid wire_protocol %q", c.WireProtocol)
	}
	if !c.OnIOError.valid() {
		return fmt.Errorf("config: invalid on_io_error %q", c.OnIOError)
	}
	if c.MaxEpochSize == 0 {
		return fmt.Errorf("config: max_epoch_size must be > 0")
	}
	if c.KOCount == 0 {
		return fmt.Errorf("config: ko_count must be > 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be > 0")
	}
	return nil
}

// Load decodes a Config from TOML text, starting from Default() so a partial
// document only overrides the fields it sets.
func Load(text string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(text, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

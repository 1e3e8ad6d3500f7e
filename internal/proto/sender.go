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

package proto

import (
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/drbd-go/drbdcore/internal/state"
	"github.com/drbd-go/drbdcore/internal/wire"
	"github.com/drbd-go/drbdcore/internal/worker"
)

// ChannelKind selects which of the two sockets a send targets.
type ChannelKind int

const (
	ChannelData ChannelKind = iota
	ChannelMeta
)

// Header is a re-export of wire.Header so callers in this package don't
// need to name the wire package for the common case.
type Header = wire.Header

func (p *Peer) channel(kind ChannelKind) *wire.Channel {
	if kind == ChannelMeta {
		return p.Meta
	}
	return p.Data
}

// shouldDrop implements spec §4.4 step 5's should_drop(sock) policy: drop if
// sock is the meta channel, the asender isn't running, or conn < Connected;
// otherwise decrement ko_count and drop only once it is exhausted.
func (p *Peer) shouldDrop(kind ChannelKind) bool {
	if kind == ChannelMeta {
		return true // meta-channel timeout drops unconditionally (spec §9 Open Question resolution)
	}
	if !p.asenderRunning.Load() {
		return true
	}
	if p.State.Read().Conn < state.Connected {
		return true
	}
	if atomic.AddInt32(&p.koCount, -1) <= 0 {
		return true
	}
	p.Log.Warn("send timed out, requesting a ping", "ko_count", atomic.LoadInt32(&p.koCount))
	p.Queue.Push(worker.Item{Kind: worker.KindSendPing, Run: func() {
		_ = p.sendPing()
	}})
	return false
}

// sendPing transmits a bare Ping on the meta channel, used by should_drop's
// keepalive request.
func (p *Peer) sendPing() error {
	return p.send(ChannelMeta, wire.Header{Magic: wire.Magic, Command: wire.CmdPing}, nil)
}

// send is the shared low-level transmit used by every packet type: it
// implements spec §4.4's six-step contract minus the caller-specific steps
// (barrier emission and holding the channel mutex across multiple sends are
// the caller's responsibility; wire.Channel.Send already scopes its own
// mutex to this single header+payload write).
func (p *Peer) send(kind ChannelKind, h Header, payload []byte) error {
	ch := p.channel(kind)
	deadline := time.Now().Add(p.Cfg.Timeout)

	err := ch.Send(h, payload, deadline)
	if err == nil {
		if kind == ChannelData {
			atomic.StoreInt32(&p.koCount, int32(p.Cfg.KOCount))
		}
		return nil
	}

	if isTimeout(err) {
		if p.shouldDrop(kind) {
			p.markBrokenPipe(true)
		}
		// Whether or not this send is declared dead, the caller (the
		// request pipeline, or a worker item) sees the same error and
		// decides whether to retry or give up.
		return err
	}

	// Any other error is a terminal transport failure (spec §4.4 step 6).
	p.markBrokenPipe(false)
	return err
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

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

package wire

import (
	"io"
	"net"
	"sync"
	"time"
)

// Channel wraps one of the two peer sockets (data or meta) with the single
// mutex that the sender path holds for the duration of a header+payload
// write (spec §4.4 step 1–4, §5 lock order item 2).
type Channel struct {
	Name string // "data" or "meta", for logging
	conn net.Conn
	mu   sync.Mutex
}

// NewChannel wraps conn as a named Channel.
func NewChannel(name string, conn net.Conn) *Channel {
	return &Channel{Name: name, conn: conn}
}

// Conn exposes the underlying connection for reads, which are not
// mutex-guarded: only one goroutine (the receiver or the asender) ever reads
// a given channel.
func (c *Channel) Conn() net.Conn { return c.conn }

// Send transmits header then payload while holding the channel's send lock,
// implementing the "acquire lock, send header then payload, release lock"
// scope-guard design note (spec §9). deadline, if non-zero, is applied as the
// write deadline for this send only.
func (c *Channel) Send(h Header, payload []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !deadline.IsZero() {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	h.PayloadLength = uint16(len(payload))
	if err := h.Encode(c.conn); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := c.conn.Write(payload)
	return err
}

// SendPage implements the zero-copy send contract of spec §4.4/§9: writers
// that can avoid copying (e.g. a *os.File-backed ReaderFrom) are given the
// chance to via io.Copy-style ReadFrom; anything else falls back to a
// regular copying Write transparently.
func (c *Channel) SendPage(h Header, page io.Reader, length int, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !deadline.IsZero() {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	h.PayloadLength = uint16(length)
	if err := h.Encode(c.conn); err != nil {
		return err
	}
	if rf, ok := c.conn.(io.ReaderFrom); ok {
		_, err := rf.ReadFrom(io.LimitReader(page, int64(length)))
		return err
	}
	// Copying fallback: the page is not zero-copy-eligible on this
	// transport (spec §9 "Zero-copy send fallback").
	_, err := io.CopyN(c.conn, page, int64(length))
	return err
}

// Close closes the underlying connection.
func (c *Channel) Close() error { return c.conn.Close() }

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

// Package drbdlog is a small structured logger in the call-shape of
// go-ethereum's log package: Info/Debug/Warn/Error/Crit each take a message
// followed by alternating key/value pairs. It exists so every other package
// in this module can log without depending on a concrete sink, and so tests
// can install a handler that records records instead of writing to stderr.
package drbdlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a log level, ordered from most to least severe.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "???"
	}
}

// Record is a single emitted log line, handed to a Handler.
type Record struct {
	Time time.Time
	Lvl  Lvl
	Msg  string
	Ctx  []interface{}

	// Call is the caller's frame, captured only for Crit records: a Crit
	// log line means a FatalInvariant-adjacent condition, worth pinpointing
	// exactly (spec §7 FatalInvariant escalation policy).
	Call stack.Call
}

// Handler processes a Record. Handlers are composable: StreamHandler writes
// formatted text, a test may install a recording Handler instead.
type Handler interface {
	Log(r *Record) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(r *Record) error

func (f HandlerFunc) Log(r *Record) error { return f(r) }

// Logger is the interface every component in this module logs through.
// New(ctx...) returns a Logger with that context prepended to every record.
type Logger interface {
	New(ctx ...interface{}) Logger

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type logger struct {
	ctx []interface{}
	h   *swappableHandler
}

type swappableHandler struct {
	mu sync.RWMutex
	h  Handler
}

func (s *swappableHandler) Log(r *Record) error {
	s.mu.RLock()
	h := s.h
	s.mu.RUnlock()
	return h.Log(r)
}

func (s *swappableHandler) set(h Handler) {
	s.mu.Lock()
	s.h = h
	s.mu.Unlock()
}

var root = &logger{h: &swappableHandler{h: StreamHandler(defaultWriter(), LvlInfo)}}

// Root returns the root logger; every New()-derived logger shares its handler.
func Root() Logger { return root }

// SetHandler replaces the root handler, matching log.Root().SetHandler(...)
// from the teacher's usage in eth/downloader/skeleton_test.go.
func SetHandler(h Handler) { root.h.set(h) }

func defaultWriter() io.Writer {
	if f, ok := interface{}(os.Stderr).(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return colorable.NewColorable(f)
	}
	return os.Stderr
}

func (l *logger) New(ctx ...interface{}) Logger {
	nctx := make([]interface{}, 0, len(l.ctx)+len(ctx))
	nctx = append(nctx, l.ctx...)
	nctx = append(nctx, ctx...)
	return &logger{ctx: nctx, h: l.h}
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)
	r := &Record{Time: time.Now(), Lvl: lvl, Msg: msg, Ctx: all}
	if lvl == LvlCrit {
		r.Call = stack.Caller(2)
	}
	_ = l.h.Log(r)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.write(LvlCrit, msg, ctx) }

// New is a package-level convenience equivalent to Root().New(ctx...).
func New(ctx ...interface{}) Logger { return root.New(ctx...) }

// StreamHandler formats records as "LVL[time] msg k=v k=v ..." to w, dropping
// anything below minLvl.
func StreamHandler(w io.Writer, minLvl Lvl) Handler {
	return HandlerFunc(func(r *Record) error {
		if r.Lvl > minLvl {
			return nil
		}
		line := fmt.Sprintf("%-5s[%s] %s", r.Lvl, r.Time.Format("15:04:05.000"), r.Msg)
		if r.Lvl == LvlCrit {
			line += fmt.Sprintf(" caller=%+v", r.Call)
		}
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			line += fmt.Sprintf(" %v=%v", r.Ctx[i], r.Ctx[i+1])
		}
		_, err := fmt.Fprintln(w, line)
		return err
	})
}

// DiscardHandler throws every record away; used by tests that only assert on
// behavior, not on log output.
func DiscardHandler() Handler {
	return HandlerFunc(func(*Record) error { return nil })
}

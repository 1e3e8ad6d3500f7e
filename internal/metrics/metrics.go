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

// Package metrics wraps github.com/rcrowley/go-metrics the way the
// teacher's own metrics package does: a per-device Registry of named
// counters, gauges and timers.
package metrics

import (
	"fmt"

	gometrics "github.com/rcrowley/go-metrics"
)

// Registry namespaces one device's counters/gauges under a "drbd.<device>."
// prefix (the name passed to NewRegistry), mirroring the teacher's per-subsystem metrics naming convention
// (e.g. "eth/db/chaindata/...").
type Registry struct {
	prefix string
	r      gometrics.Registry
}

// NewRegistry creates a Registry for the named device, backed by a fresh
// go-metrics registry.
func NewRegistry(deviceName string) *Registry {
	return &Registry{prefix: fmt.Sprintf("drbd.%s.", deviceName), r: gometrics.NewRegistry()}
}

func (reg *Registry) name(s string) string { return reg.prefix + s }

// Counter returns (creating if absent) the named monotonic counter, e.g.
// "writes_submitted", "barrier_acks", "negative_acks".
func (reg *Registry) Counter(name string) gometrics.Counter {
	return gometrics.GetOrRegisterCounter(reg.name(name), reg.r)
}

// Gauge returns (creating if absent) the named point-in-time value, e.g.
// "ap_pending", "rs_pending", "oldest_epoch".
func (reg *Registry) Gauge(name string) gometrics.Gauge {
	return gometrics.GetOrRegisterGauge(reg.name(name), reg.r)
}

// Timer returns (creating if absent) the named latency histogram, e.g.
// "write_ack_latency".
func (reg *Registry) Timer(name string) gometrics.Timer {
	return gometrics.GetOrRegisterTimer(reg.name(name), reg.r)
}

// Snapshot is one point-in-time readout of every counter and gauge in the
// registry (timers are not included), suitable for a periodic log line (the ambient stack's observability
// surface; spec.md's Non-goals exclude a full metrics/export pipeline, not
// in-process counters).
func (reg *Registry) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	reg.r.Each(func(name string, metric interface{}) {
		switch m := metric.(type) {
		case gometrics.Counter:
			out[name] = m.Count()
		case gometrics.Gauge:
			out[name] = m.Value()
		}
	})
	return out
}

// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package session

import "sync/atomic"

// Stats holds the receiver's running counters. Each field is safe for
// concurrent access: the receive loop mutates them under its own lock while
// building a packet's outcome, but Snapshot may be called from any
// goroutine (e.g. a metrics exporter) without additional coordination.
type Stats struct {
	Received    atomic.Uint64
	Lost        atomic.Uint64
	OutOfOrder  atomic.Uint64
	NacksSent   atomic.Uint64
	RtxReceived atomic.Uint64
}

// Snapshot is a point-in-time copy of Stats suitable for printing or export.
type Snapshot struct {
	Received    uint64
	Lost        uint64
	OutOfOrder  uint64
	NacksSent   uint64
	RtxReceived uint64
	LossRate    float64
}

// Snapshot reads the current counters.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Received:    s.Received.Load(),
		Lost:        s.Lost.Load(),
		OutOfOrder:  s.OutOfOrder.Load(),
		NacksSent:   s.NacksSent.Load(),
		RtxReceived: s.RtxReceived.Load(),
	}
	if denom := snap.Received + snap.Lost; denom > 0 {
		snap.LossRate = float64(snap.Lost) / float64(denom)
	}
	return snap
}

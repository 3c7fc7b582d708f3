// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package rtx implements the sender-side retransmission cache that answers
// NACK requests with RTX packets.
package rtx

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/msolo/rtpflow/rtp"
)

// Cache holds the most recently sent media packets, keyed by sequence
// number, so they can be retransmitted on request. It is bounded: once full,
// inserting a new packet evicts the oldest-inserted one still present.
//
// The eviction policy is plain FIFO rather than LRU despite the underlying
// lru.Cache: Insert only ever calls Add, and Retransmit only ever calls
// Peek, which never promotes an entry's recency. With no path that
// refreshes an entry's position, the LRU's eviction order collapses to
// insertion order.
type Cache struct {
	lru *lru.Cache[uint16, *rtp.Packet]
}

// NewCache builds a Cache holding at most capacity packets.
func NewCache(capacity int) *Cache {
	c, err := lru.New[uint16, *rtp.Packet](capacity)
	if err != nil {
		// capacity <= 0 is the only failure mode; treat it as a programmer
		// error rather than threading another error return through callers.
		panic(err)
	}
	return &Cache{lru: c}
}

// Insert records pkt for possible retransmission. RTX packets themselves
// are never inserted: retransmitting a retransmission would let a single
// lost NACK cascade into unbounded recursive retransmission.
func (c *Cache) Insert(pkt *rtp.Packet) {
	if pkt.PayloadType == rtp.TypeRTX {
		return
	}
	c.lru.Add(pkt.SequenceNumber, pkt)
}

// Retransmit looks up the packet stored under seq and wraps it as an RTX
// packet. ok is false if the packet is no longer cached, having already
// been evicted.
func (c *Cache) Retransmit(seq uint16) (pkt *rtp.Packet, ok bool) {
	original, ok := c.lru.Peek(seq)
	if !ok {
		return nil, false
	}
	return rtp.NewRTX(original), true
}

// Len reports the number of packets currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}

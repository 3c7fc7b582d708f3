// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package fec implements single-packet XOR forward error correction over
// fixed-size groups of consecutive media packets.
package fec

import (
	"encoding/binary"

	"github.com/gammazero/deque"

	"github.com/msolo/rtpflow/rtp"
)

// Engine accumulates outgoing media packets into groups of GroupSize and
// produces one parity packet per completed group. Only the sender builds an
// Engine and calls Add; the receiver side is the package-level Members and
// Recover functions, applied to parity it receives.
type Engine struct {
	GroupSize int

	group *deque.Deque[*rtp.Packet]
}

// NewEngine constructs an Engine grouping groupSize consecutive packets per
// parity packet. groupSize must be at least 2; a group of 1 has no loss to
// recover from.
func NewEngine(groupSize int) *Engine {
	return &Engine{
		GroupSize: groupSize,
		group:     deque.New[*rtp.Packet](),
	}
}

// Add appends pkt to the current group. Once the group reaches GroupSize it
// returns the parity packet covering it and resets for the next group;
// otherwise it returns nil.
func (e *Engine) Add(pkt *rtp.Packet) *rtp.Packet {
	e.group.PushBack(pkt)
	if e.group.Len() < e.GroupSize {
		return nil
	}
	fecPkt := e.generate()
	e.group.Clear()
	return fecPkt
}

func (e *Engine) generate() *rtp.Packet {
	n := e.group.Len()
	first := e.group.At(0)

	metadata := make([]byte, 2*n)
	maxLen := 0
	for i := 0; i < n; i++ {
		m := e.group.At(i)
		binary.BigEndian.PutUint16(metadata[i*2:], m.SequenceNumber)
		if len(m.Payload) > maxLen {
			maxLen = len(m.Payload)
		}
	}

	parity := make([]byte, maxLen)
	for i := 0; i < n; i++ {
		payload := e.group.At(i).Payload
		for j, b := range payload {
			parity[j] ^= b
		}
	}

	last := e.group.At(n - 1)
	return &rtp.Packet{
		Version:        rtp.ProtocolVersion,
		PayloadType:    rtp.TypeFEC,
		SequenceNumber: last.SequenceNumber + 1,
		Timestamp:      last.Timestamp,
		SSRC:           first.SSRC,
		Payload:        append(metadata, parity...),
	}
}

// Members returns the sequence numbers of the packets covered by a parity
// packet, in the order they were XORed. The list ends at the member numbered
// one below the parity packet's own sequence number, which is how Engine
// numbers its parity packets.
func Members(fecPkt *rtp.Packet) []uint16 {
	last := fecPkt.SequenceNumber - 1
	var out []uint16
	for i := 0; i+2 <= len(fecPkt.Payload); i += 2 {
		seq := binary.BigEndian.Uint16(fecPkt.Payload[i:])
		out = append(out, seq)
		if seq == last {
			break
		}
	}
	return out
}

// Recover reconstructs the single missing packet in a group from the parity
// packet and the group's other available members. It returns ok=false if
// zero or more than one member is missing, since XOR parity can only
// recover exactly one loss per group.
//
// Recovery XORs payload bytes only, not full encoded packets: the missing
// packet's header fields are not recovered through the parity XOR. Its
// sequence number comes from the group membership, its ssrc from an
// available member, and its timestamp from the parity packet.
func Recover(fecPkt *rtp.Packet, available []*rtp.Packet) (*rtp.Packet, bool) {
	members := Members(fecPkt)

	have := make(map[uint16]*rtp.Packet, len(available))
	for _, p := range available {
		have[p.SequenceNumber] = p
	}

	var missing uint16
	missingCount := 0
	for _, seq := range members {
		if _, ok := have[seq]; !ok {
			missing = seq
			missingCount++
		}
	}
	if missingCount != 1 {
		return nil, false
	}

	metaLen := len(members) * 2
	parity := append([]byte(nil), fecPkt.Payload[metaLen:]...)
	for _, seq := range members {
		p, ok := have[seq]
		if !ok {
			continue
		}
		for i, b := range p.Payload {
			if i < len(parity) {
				parity[i] ^= b
			}
		}
	}

	var ssrc uint32
	var timestamp uint32
	if len(available) > 0 {
		ssrc = available[0].SSRC
		timestamp = fecPkt.Timestamp
	}

	return &rtp.Packet{
		Version:        rtp.ProtocolVersion,
		PayloadType:    rtp.TypeAudio,
		SequenceNumber: missing,
		Timestamp:      timestamp,
		SSRC:           ssrc,
		Payload:        parity,
	}, true
}

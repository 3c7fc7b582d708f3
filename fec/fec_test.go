// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package fec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msolo/rtpflow/rtp"
)

func mediaPkt(seq uint16, payload []byte) *rtp.Packet {
	return rtp.NewMedia(rtp.TypeAudio, seq, uint32(seq)*160, 0xFEED, payload)
}

func TestEngineGeneratesParityOnGroupCompletion(t *testing.T) {
	e := NewEngine(4)

	assert.Nil(t, e.Add(mediaPkt(0, []byte{1, 2, 3})))
	assert.Nil(t, e.Add(mediaPkt(1, []byte{4, 5, 6})))
	assert.Nil(t, e.Add(mediaPkt(2, []byte{7, 8, 9})))

	parity := e.Add(mediaPkt(3, []byte{10, 11, 12}))
	require.NotNil(t, parity)
	assert.Equal(t, rtp.TypeFEC, parity.PayloadType)
	assert.Equal(t, []uint16{0, 1, 2, 3}, Members(parity))
}

func TestEngineResetsAfterGroup(t *testing.T) {
	e := NewEngine(2)
	assert.Nil(t, e.Add(mediaPkt(0, []byte{1})))
	assert.NotNil(t, e.Add(mediaPkt(1, []byte{2})))
	// Second group starts fresh.
	assert.Nil(t, e.Add(mediaPkt(2, []byte{3})))
	assert.NotNil(t, e.Add(mediaPkt(3, []byte{4})))
}

func TestRecoverSingleLoss(t *testing.T) {
	e := NewEngine(4)
	group := []*rtp.Packet{
		mediaPkt(0, []byte{0x11, 0x22, 0x33}),
		mediaPkt(1, []byte{0xAA, 0xBB, 0xCC}),
		mediaPkt(2, []byte{0x01, 0x02, 0x03}),
		mediaPkt(3, []byte{0xFF, 0xEE, 0xDD}),
	}
	var parity *rtp.Packet
	for _, p := range group {
		if out := e.Add(p); out != nil {
			parity = out
		}
	}
	require.NotNil(t, parity)

	// Packet at seq 2 was lost.
	available := []*rtp.Packet{group[0], group[1], group[3]}

	recovered, ok := Recover(parity, available)
	require.True(t, ok)
	assert.EqualValues(t, 2, recovered.SequenceNumber)
	assert.Equal(t, group[2].Payload, recovered.Payload)
}

func TestRecoverFailsWithNoLoss(t *testing.T) {
	e := NewEngine(2)
	a := mediaPkt(0, []byte{1, 2})
	b := mediaPkt(1, []byte{3, 4})
	e.Add(a)
	parity := e.Add(b)
	require.NotNil(t, parity)

	_, ok := Recover(parity, []*rtp.Packet{a, b})
	assert.False(t, ok)
}

func TestRecoverFailsWithMultipleLoss(t *testing.T) {
	e := NewEngine(3)
	a := mediaPkt(0, []byte{1, 2})
	b := mediaPkt(1, []byte{3, 4})
	c := mediaPkt(2, []byte{5, 6})
	e.Add(a)
	e.Add(b)
	parity := e.Add(c)
	require.NotNil(t, parity)

	_, ok := Recover(parity, []*rtp.Packet{a})
	assert.False(t, ok)
}

func TestRecoverHandlesUnequalPayloadLengths(t *testing.T) {
	e := NewEngine(3)
	a := mediaPkt(0, []byte{1, 2, 3, 4})
	b := mediaPkt(1, []byte{5, 6})
	c := mediaPkt(2, []byte{7, 8, 9})
	e.Add(a)
	e.Add(b)
	parity := e.Add(c)
	require.NotNil(t, parity)

	recovered, ok := Recover(parity, []*rtp.Packet{a, c})
	require.True(t, ok)
	assert.EqualValues(t, 1, recovered.SequenceNumber)
	// Recovered payload is zero-padded to the group's max length; only the
	// first len(b.Payload) bytes are meaningful.
	assert.Equal(t, b.Payload, recovered.Payload[:len(b.Payload)])
}

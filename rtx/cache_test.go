// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package rtx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msolo/rtpflow/rtp"
)

func TestRetransmitReturnsRTXOfCachedPacket(t *testing.T) {
	c := NewCache(4)
	original := rtp.NewMedia(rtp.TypeAudio, 10, 1600, 0xABCD, []byte("frame"))
	c.Insert(original)

	rtxPkt, ok := c.Retransmit(10)
	require.True(t, ok)
	assert.Equal(t, rtp.TypeRTX, rtxPkt.PayloadType)

	seq, ok := rtxPkt.OriginalSeq()
	require.True(t, ok)
	assert.EqualValues(t, 10, seq)
}

func TestRetransmitMissOnUncached(t *testing.T) {
	c := NewCache(4)
	_, ok := c.Retransmit(999)
	assert.False(t, ok)
}

func TestCacheEvictsOldestOnOverflow(t *testing.T) {
	c := NewCache(3)
	c.Insert(rtp.NewMedia(rtp.TypeAudio, 1, 0, 0, nil))
	c.Insert(rtp.NewMedia(rtp.TypeAudio, 2, 0, 0, nil))
	c.Insert(rtp.NewMedia(rtp.TypeAudio, 3, 0, 0, nil))
	assert.Equal(t, 3, c.Len())

	c.Insert(rtp.NewMedia(rtp.TypeAudio, 4, 0, 0, nil))
	assert.Equal(t, 3, c.Len())

	_, ok := c.Retransmit(1)
	assert.False(t, ok, "oldest-inserted entry should have been evicted")

	for _, seq := range []uint16{2, 3, 4} {
		_, ok := c.Retransmit(seq)
		assert.True(t, ok)
	}
}

func TestPeekingDoesNotProtectFromEviction(t *testing.T) {
	c := NewCache(2)
	c.Insert(rtp.NewMedia(rtp.TypeAudio, 1, 0, 0, nil))
	c.Insert(rtp.NewMedia(rtp.TypeAudio, 2, 0, 0, nil))

	// Repeatedly retransmitting seq 1 must not keep it alive past its FIFO
	// turn: eviction order is strict insertion order, not recency.
	c.Retransmit(1)
	c.Retransmit(1)

	c.Insert(rtp.NewMedia(rtp.TypeAudio, 3, 0, 0, nil))

	_, ok := c.Retransmit(1)
	assert.False(t, ok)
}

func TestInsertRejectsRTXPackets(t *testing.T) {
	c := NewCache(4)
	original := rtp.NewMedia(rtp.TypeAudio, 5, 0, 0, []byte("x"))
	rtxPkt := rtp.NewRTX(original)

	c.Insert(rtxPkt)
	assert.Equal(t, 0, c.Len())
}

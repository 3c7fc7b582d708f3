// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msolo/rtpflow/rtp"
	"github.com/msolo/rtpflow/transport"
)

type fixedSource struct {
	payloads [][]byte
	i        int
}

func (s *fixedSource) Next() ([]byte, bool) {
	if s.i >= len(s.payloads) {
		return nil, false
	}
	p := s.payloads[s.i]
	s.i++
	return p, true
}

func newLoopback(t *testing.T) *transport.UDP {
	t.Helper()
	u, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { u.Close() })
	return u
}

// TestSenderDeliversEndToEndWithoutLoss exercises the real sender/receiver
// pair over loopback UDP: no middlebox, no drops.
func TestSenderDeliversEndToEndWithoutLoss(t *testing.T) {
	senderConn := newLoopback(t)
	receiverConn := newLoopback(t)

	var mu sync.Mutex
	var delivered []uint16
	sink := SinkFunc(func(seq uint16, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, seq)
	})

	recv := NewReceiver(receiverConn, sink, ReceiverConfig{}, zerolog.Nop())

	source := &fixedSource{payloads: [][]byte{
		[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e"),
	}}
	snd := NewSender(senderConn, receiverConn.LocalAddr(), source, SenderConfig{
		Interval: 5 * time.Millisecond,
	}, zerolog.Nop())
	// Pin the start sequence; NewSender otherwise draws it at random.
	snd.seq = rtp.NewAllocator(0)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	recvDone := make(chan struct{})
	go func() {
		recv.Run(ctx)
		close(recvDone)
	}()

	snd.Run(ctx)
	snd.Stop()
	recv.Stop()
	<-recvDone

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint16{0, 1, 2, 3, 4}, delivered)
}

func TestSenderPopulatesRetransmissionCacheAndAnswersNACK(t *testing.T) {
	senderConn := newLoopback(t)
	nackerConn := newLoopback(t)

	source := &fixedSource{payloads: [][]byte{[]byte("only")}}
	snd := NewSender(senderConn, nackerConn.LocalAddr(), source, SenderConfig{
		Interval: 5 * time.Millisecond,
		SSRC:     0xAAAA,
	}, zerolog.Nop())
	// Pin the start sequence; NewSender otherwise draws it at random.
	snd.seq = rtp.NewAllocator(0)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	snd.Run(ctx)

	buf := make([]byte, transport.MaxDatagramSize)
	// The sender's one media packet reaches nackerConn ahead of any RTX.
	_, _, err := nackerConn.Recv(buf, time.Second)
	require.NoError(t, err)

	nackPkt := rtp.NewNACK([]uint16{0}, 0xBEEF)
	require.NoError(t, nackerConn.Send(senderConn.LocalAddr(), nackPkt.Encode()))

	n, _, err := nackerConn.Recv(buf, time.Second)
	require.NoError(t, err)

	rtxPkt, err := rtp.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, rtp.TypeRTX, rtxPkt.PayloadType)

	seq, ok := rtxPkt.OriginalSeq()
	require.True(t, ok)
	assert.EqualValues(t, 0, seq)

	snd.Stop()
}

// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package session

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/rs/zerolog"

	"github.com/msolo/rtpflow/fec"
	"github.com/msolo/rtpflow/rtp"
	"github.com/msolo/rtpflow/transport"
)

// Sink receives payloads in strict sequence order, exactly once per
// sequence number.
type Sink interface {
	Deliver(seq uint16, payload []byte)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(seq uint16, payload []byte)

func (f SinkFunc) Deliver(seq uint16, payload []byte) { f(seq, payload) }

// ReceiverConfig configures a Receiver. Zero values are replaced by the
// spec's defaults in NewReceiver.
type ReceiverConfig struct {
	// BufferBound is B, the reorder buffer's maximum size. Default 1000.
	BufferBound int
	// NackTimeout is the per-sequence suppression window. Default 100ms.
	NackTimeout time.Duration
	// RecvTimeout bounds each socket read. Default 1s.
	RecvTimeout time.Duration
	// SSRC identifies this receiver's own stream for outgoing NACKs.
	SSRC uint32
}

func (c ReceiverConfig) withDefaults() ReceiverConfig {
	if c.BufferBound <= 0 {
		c.BufferBound = 1000
	}
	if c.NackTimeout <= 0 {
		c.NackTimeout = 100 * time.Millisecond
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = time.Second
	}
	return c
}

// Receiver decodes inbound datagrams, reorders media, recovers losses via
// FEC and RTX, and delivers an ordered payload stream to a Sink. All state
// is owned by the single goroutine running Run and guarded by mu; Stats
// holds atomic counters, so it can be read concurrently without mu.
type Receiver struct {
	cfg  ReceiverConfig
	conn *transport.UDP
	sink Sink
	log  zerolog.Logger

	Stats Stats

	mu             sync.Mutex
	lastSeq        uint16
	lastSeqSet     bool
	buffer         map[uint16]*rtp.Packet
	missing        map[uint16]struct{}
	lastNackSentAt map[uint16]time.Time
	fecStore       map[uint16]*rtp.Packet
	sourceAddr     *net.UDPAddr

	fuse core.Fuse
}

// NewReceiver builds a Receiver that reads from conn and delivers to sink.
func NewReceiver(conn *transport.UDP, sink Sink, cfg ReceiverConfig, logger zerolog.Logger) *Receiver {
	cfg = cfg.withDefaults()
	return &Receiver{
		cfg:            cfg,
		conn:           conn,
		sink:           sink,
		log:            logger.With().Str("component", "receiver").Logger(),
		buffer:         make(map[uint16]*rtp.Packet),
		missing:        make(map[uint16]struct{}),
		lastNackSentAt: make(map[uint16]time.Time),
		fecStore:       make(map[uint16]*rtp.Packet),
		fuse:           core.NewFuse(),
	}
}

// Run reads and processes datagrams until ctx is cancelled or Stop is
// called.
func (r *Receiver) Run(ctx context.Context) {
	buf := make([]byte, transport.MaxDatagramSize)
	for {
		select {
		case <-r.fuse.Watch():
			return
		case <-ctx.Done():
			return
		default:
		}

		n, from, err := r.conn.Recv(buf, r.cfg.RecvTimeout)
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			r.log.Debug().Err(err).Msg("recv error")
			continue
		}

		pkt, err := rtp.Decode(buf[:n])
		if err != nil {
			r.log.Debug().Err(err).Msg("dropping malformed datagram")
			continue
		}

		r.mu.Lock()
		r.handlePacketLocked(pkt, from)
		r.mu.Unlock()
	}
}

// Stop breaks the receive loop's fuse; it returns immediately, the loop
// exits on its next poll.
func (r *Receiver) Stop() {
	r.fuse.Break()
}

func (r *Receiver) handlePacketLocked(pkt *rtp.Packet, from *net.UDPAddr) {
	if r.sourceAddr == nil {
		r.sourceAddr = from
	}

	switch pkt.PayloadType {
	case rtp.TypeAudio:
		r.handleMediaLocked(pkt)
	case rtp.TypeNACK:
		// Receivers do not interpret inbound NACKs.
	case rtp.TypeFEC:
		r.handleFECLocked(pkt)
	case rtp.TypeRTX:
		r.handleRTXLocked(pkt)
	default:
		r.log.Debug().Uint8("payload_type", pkt.PayloadType).Msg("dropping unknown payload type")
	}
}

func (r *Receiver) handleMediaLocked(pkt *rtp.Packet) {
	r.Stats.Received.Add(1)

	if !r.lastSeqSet {
		r.lastSeqSet = true
		r.lastSeq = pkt.SequenceNumber
		r.deliverLocked(pkt)
		r.drainLocked()
		r.maybeSendNACKLocked()
		return
	}

	expected := r.lastSeq + 1
	switch {
	case pkt.SequenceNumber == expected:
		r.lastSeq = pkt.SequenceNumber
		r.deliverLocked(pkt)
		r.drainLocked()

	case rtp.SeqBefore(pkt.SequenceNumber, expected):
		if _, wasMissing := r.missing[pkt.SequenceNumber]; wasMissing {
			delete(r.missing, pkt.SequenceNumber)
			r.Stats.RtxReceived.Add(1)
		} else {
			r.Stats.OutOfOrder.Add(1)
		}
		r.bufferLocked(pkt)

	default:
		gap := rtp.SeqRange(expected, pkt.SequenceNumber)
		for _, seq := range gap {
			if _, buffered := r.buffer[seq]; !buffered {
				r.missing[seq] = struct{}{}
			}
		}
		r.Stats.Lost.Add(uint64(len(gap)))
		r.bufferLocked(pkt)
	}

	r.maybeSendNACKLocked()
}

func (r *Receiver) drainLocked() {
	for {
		next := r.lastSeq + 1
		pkt, ok := r.buffer[next]
		if !ok {
			return
		}
		delete(r.buffer, next)
		r.lastSeq = next
		r.deliverLocked(pkt)
	}
}

func (r *Receiver) deliverLocked(pkt *rtp.Packet) {
	r.sink.Deliver(pkt.SequenceNumber, pkt.Payload)
}

func (r *Receiver) bufferLocked(pkt *rtp.Packet) {
	r.buffer[pkt.SequenceNumber] = pkt
	for len(r.buffer) > r.cfg.BufferBound {
		k, ok := smallestKey(r.buffer)
		if !ok {
			break
		}
		delete(r.buffer, k)
		delete(r.missing, k)
	}
}

func (r *Receiver) maybeSendNACKLocked() {
	if r.sourceAddr == nil || len(r.missing) == 0 {
		return
	}

	now := time.Now()
	var needed []uint16
	for seq := range r.missing {
		last, ok := r.lastNackSentAt[seq]
		if !ok || now.Sub(last) >= r.cfg.NackTimeout {
			needed = append(needed, seq)
		}
	}
	if len(needed) == 0 {
		return
	}
	sort.Slice(needed, func(i, j int) bool { return needed[i] < needed[j] })

	nackPkt := rtp.NewNACK(needed, r.cfg.SSRC)
	if err := r.conn.Send(r.sourceAddr, nackPkt.Encode()); err != nil {
		r.log.Debug().Err(err).Msg("nack send failed")
		return
	}
	for _, seq := range needed {
		r.lastNackSentAt[seq] = now
	}
	r.Stats.NacksSent.Add(1)
}

func (r *Receiver) handleFECLocked(pkt *rtp.Packet) {
	members := fec.Members(pkt)
	if len(members) == 0 {
		return
	}
	r.fecStore[members[0]] = pkt
	r.tryFECRecoveryLocked(pkt, members)
}

func (r *Receiver) tryFECRecoveryLocked(fecPkt *rtp.Packet, members []uint16) {
	available := make([]*rtp.Packet, 0, len(members))
	for _, seq := range members {
		if p, ok := r.buffer[seq]; ok {
			available = append(available, p)
		}
	}

	recovered, ok := fec.Recover(fecPkt, available)
	if !ok {
		return
	}
	if _, wasMissing := r.missing[recovered.SequenceNumber]; !wasMissing {
		return
	}

	delete(r.missing, recovered.SequenceNumber)
	r.bufferLocked(recovered)
	r.drainLocked()
}

func (r *Receiver) handleRTXLocked(pkt *rtp.Packet) {
	seq, ok := pkt.OriginalSeq()
	if !ok {
		return
	}
	if _, wasMissing := r.missing[seq]; !wasMissing {
		return
	}
	payload, ok := pkt.RTXPayload()
	if !ok {
		return
	}

	delete(r.missing, seq)
	r.Stats.RtxReceived.Add(1)

	recovered := rtp.NewMedia(rtp.TypeAudio, seq, pkt.Timestamp, pkt.SSRC, payload)
	r.bufferLocked(recovered)
	r.drainLocked()
}

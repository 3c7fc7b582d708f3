// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package session

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/rs/zerolog"

	"github.com/msolo/rtpflow/fec"
	"github.com/msolo/rtpflow/rtp"
	"github.com/msolo/rtpflow/rtx"
	"github.com/msolo/rtpflow/transport"
)

// Source produces the next outgoing payload. It returns ok=false once
// exhausted (e.g. a WAV file fully read), at which point the sender's
// cadence loop stops emitting media but the session keeps answering NACKs
// until Stop is called or Run's context is cancelled.
type Source interface {
	Next() (payload []byte, ok bool)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func() ([]byte, bool)

func (f SourceFunc) Next() ([]byte, bool) { return f() }

// SenderConfig configures a Sender. Zero values are replaced by the spec's
// defaults in NewSender.
type SenderConfig struct {
	// Interval is the cadence between media emissions. Default 20ms.
	Interval time.Duration
	// Duration bounds how long the cadence loop runs; zero means run until
	// the Source is exhausted.
	Duration time.Duration
	// TimestampIncrement advances the RTP timestamp after each packet.
	// Default 160 (20ms at 8kHz).
	TimestampIncrement uint32
	// GroupSize is the FEC group size. Default 4.
	GroupSize int
	// HistorySize bounds the retransmission cache. Default 1000.
	HistorySize int
	// SSRC identifies this sender's stream. Zero means choose randomly.
	SSRC uint32
	// NACKListenTimeout bounds each NACK-listener read. Default 100ms.
	NACKListenTimeout time.Duration
}

func (c SenderConfig) withDefaults(src *rand.Rand) SenderConfig {
	if c.Interval <= 0 {
		c.Interval = 20 * time.Millisecond
	}
	if c.TimestampIncrement == 0 {
		c.TimestampIncrement = 160
	}
	if c.GroupSize <= 0 {
		c.GroupSize = 4
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 1000
	}
	if c.SSRC == 0 {
		c.SSRC = src.Uint32()
	}
	if c.NACKListenTimeout <= 0 {
		c.NACKListenTimeout = 100 * time.Millisecond
	}
	return c
}

// Sender drives the outgoing media cadence and answers NACKs with
// retransmissions. Two goroutines run for the lifetime of Run: the cadence
// loop and the NACK listener, sharing the FEC group buffer and
// retransmission cache under mu.
type Sender struct {
	cfg    SenderConfig
	conn   *transport.UDP
	dest   *net.UDPAddr
	source Source
	log    zerolog.Logger

	seq       *rtp.Allocator
	timestamp uint32

	mu    sync.Mutex
	fec   *fec.Engine
	cache *rtx.Cache

	fuse core.Fuse
	wg   sync.WaitGroup
}

// NewSender builds a Sender that writes to dest over conn, pulling payloads
// from source.
func NewSender(conn *transport.UDP, dest *net.UDPAddr, source Source, cfg SenderConfig, logger zerolog.Logger) *Sender {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	cfg = cfg.withDefaults(src)
	return &Sender{
		cfg:    cfg,
		conn:   conn,
		dest:   dest,
		source: source,
		log:    logger.With().Str("component", "sender").Logger(),
		seq:    rtp.NewRandomAllocator(src),
		fec:    fec.NewEngine(cfg.GroupSize),
		cache:  rtx.NewCache(cfg.HistorySize),
		fuse:   core.NewFuse(),
	}
}

// SSRC reports the sender's fixed synchronization source identifier.
func (s *Sender) SSRC() uint32 { return s.cfg.SSRC }

// Run starts the cadence loop and NACK listener and blocks until the
// cadence loop finishes (duration elapsed, source exhausted, or Stop
// called) or ctx is cancelled. The NACK listener keeps running after Run
// returns, until Stop is called or ctx is cancelled, so RTX keeps working
// past the last media packet until one of those happens.
func (s *Sender) Run(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.nackListener(ctx)
	}()

	s.cadenceLoop(ctx)
}

// Stop breaks the fuse shared by both goroutines and waits up to a short
// grace period for them to exit.
func (s *Sender) Stop() {
	s.fuse.Break()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		s.log.Warn().Msg("nack listener did not exit within grace period")
	}
}

func (s *Sender) cadenceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	deadline := time.Time{}
	if s.cfg.Duration > 0 {
		deadline = time.Now().Add(s.cfg.Duration)
	}

	for {
		select {
		case <-s.fuse.Watch():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !deadline.IsZero() && time.Now().After(deadline) {
				return
			}
			payload, ok := s.source.Next()
			if !ok {
				return
			}
			s.sendMedia(payload)
		}
	}
}

func (s *Sender) sendMedia(payload []byte) {
	seq := s.seq.Next()
	pkt := rtp.NewMedia(rtp.TypeAudio, seq, s.timestamp, s.cfg.SSRC, payload)
	s.timestamp += s.cfg.TimestampIncrement

	if err := s.conn.Send(s.dest, pkt.Encode()); err != nil {
		s.log.Debug().Err(err).Uint16("seq", seq).Msg("send failed")
	}

	s.mu.Lock()
	s.cache.Insert(pkt)
	fecPkt := s.fec.Add(pkt)
	s.mu.Unlock()

	if fecPkt != nil {
		if err := s.conn.Send(s.dest, fecPkt.Encode()); err != nil {
			s.log.Debug().Err(err).Msg("fec send failed")
		}
	}
}

func (s *Sender) nackListener(ctx context.Context) {
	buf := make([]byte, transport.MaxDatagramSize)
	for {
		select {
		case <-s.fuse.Watch():
			return
		case <-ctx.Done():
			return
		default:
		}

		n, from, err := s.conn.Recv(buf, s.cfg.NACKListenTimeout)
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			s.log.Debug().Err(err).Msg("nack listener recv error")
			continue
		}

		pkt, err := rtp.Decode(buf[:n])
		if err != nil {
			s.log.Debug().Err(err).Msg("dropping malformed datagram")
			continue
		}
		if pkt.PayloadType != rtp.TypeNACK {
			continue
		}

		seqs, err := pkt.NACKSequenceNumbers()
		if err != nil {
			s.log.Debug().Err(err).Msg("malformed nack payload")
			continue
		}

		for _, seq := range seqs {
			s.mu.Lock()
			rtxPkt, ok := s.cache.Retransmit(seq)
			s.mu.Unlock()
			if !ok {
				continue
			}
			if err := s.conn.Send(from, rtxPkt.Encode()); err != nil {
				s.log.Debug().Err(err).Uint16("seq", seq).Msg("rtx send failed")
			}
		}
	}
}

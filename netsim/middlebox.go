// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package netsim provides a toy UDP middlebox that drops, delays, reorders,
// and duplicates forwarded datagrams, for exercising loss recovery in demos
// without a real lossy network.
package netsim

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/rs/zerolog"

	"github.com/msolo/rtpflow/transport"
)

// Config tunes the middlebox's impairment rates.
type Config struct {
	// DropRate is the probability [0,1] a datagram is discarded outright.
	DropRate float64
	// MaxDelay bounds the random hold-back applied to a forwarded datagram.
	MaxDelay time.Duration
	// ReorderRate is the probability a just-buffered datagram swaps position
	// with another currently buffered one.
	ReorderRate float64
	// DuplicateRate is the probability a datagram is forwarded twice.
	DuplicateRate float64
}

func (c Config) withDefaults() Config {
	if c.MaxDelay <= 0 {
		c.MaxDelay = 100 * time.Millisecond
	}
	return c
}

type pending struct {
	at   time.Time
	data []byte
}

// Middlebox sits between a sender and receiver, forwarding what it receives
// on ListenAddr to ForwardAddr after applying impairments.
type Middlebox struct {
	cfg         Config
	forwardAddr *net.UDPAddr
	conn        *transport.UDP
	log         zerolog.Logger

	mu     sync.Mutex
	buffer []pending
	fuse   core.Fuse
	wg     sync.WaitGroup
}

// New binds a middlebox on listenAddr, forwarding to forwardAddr.
func New(listenAddr string, forwardAddr *net.UDPAddr, cfg Config, logger zerolog.Logger) (*Middlebox, error) {
	conn, err := transport.Listen(listenAddr)
	if err != nil {
		return nil, err
	}
	return &Middlebox{
		cfg:         cfg.withDefaults(),
		forwardAddr: forwardAddr,
		conn:        conn,
		log:         logger.With().Str("component", "middlebox").Logger(),
		fuse:        core.NewFuse(),
	}, nil
}

// LocalAddr reports the bound listen address.
func (m *Middlebox) LocalAddr() *net.UDPAddr { return m.conn.LocalAddr() }

// Start runs the receive and forward loops in background goroutines.
func (m *Middlebox) Start() {
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.recvLoop()
	}()
	go func() {
		defer m.wg.Done()
		m.forwardLoop()
	}()
	m.log.Info().Stringer("listen", m.LocalAddr()).Stringer("forward", m.forwardAddr).Msg("middlebox started")
}

// Stop breaks the fuse and waits for both loops to exit, then closes the
// socket.
func (m *Middlebox) Stop() {
	m.fuse.Break()
	m.wg.Wait()
	m.conn.Close()
}

func (m *Middlebox) recvLoop() {
	buf := make([]byte, transport.MaxDatagramSize)
	for {
		select {
		case <-m.fuse.Watch():
			return
		default:
		}

		n, _, err := m.conn.Recv(buf, time.Second)
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			return
		}
		data := append([]byte(nil), buf[:n]...)

		if rand.Float64() < m.cfg.DropRate {
			m.log.Debug().Msg("dropping packet")
			continue
		}

		copies := 1
		if rand.Float64() < m.cfg.DuplicateRate {
			copies = 2
		}

		delay := time.Duration(rand.Float64() * float64(m.cfg.MaxDelay))

		m.mu.Lock()
		for i := 0; i < copies; i++ {
			m.buffer = append(m.buffer, pending{at: time.Now().Add(delay), data: data})
			if rand.Float64() < m.cfg.ReorderRate && len(m.buffer) >= 2 {
				j := rand.Intn(len(m.buffer))
				last := len(m.buffer) - 1
				m.buffer[last], m.buffer[j] = m.buffer[j], m.buffer[last]
			}
		}
		m.mu.Unlock()
	}
}

func (m *Middlebox) forwardLoop() {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.fuse.Watch():
			return
		case <-ticker.C:
			m.flushReady()
		}
	}
}

func (m *Middlebox) flushReady() {
	now := time.Now()

	m.mu.Lock()
	var ready []pending
	remaining := m.buffer[:0]
	for _, p := range m.buffer {
		if !p.at.After(now) {
			ready = append(ready, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	m.buffer = remaining
	m.mu.Unlock()

	for _, p := range ready {
		if err := m.conn.Send(m.forwardAddr, p.data); err != nil {
			m.log.Debug().Err(err).Msg("forward failed")
		}
	}
}

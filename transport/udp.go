// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package transport provides the UDP datagram plumbing sender and receiver
// sessions run on top of.
package transport

import (
	"errors"
	"net"
	"time"
)

// MaxDatagramSize bounds a single read; it covers a 320-byte media frame
// plus header and the FEC packets built from such frames. A NACK listing
// more than 794 sequence numbers is larger than this and does not fit.
const MaxDatagramSize = 1600

// UDP wraps a bound UDP socket used to send and receive RTP packets.
type UDP struct {
	conn *net.UDPConn
}

// Listen binds a UDP socket on laddr ("host:port", "" host for all
// interfaces, ":0" for an ephemeral port).
func Listen(laddr string) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDP{conn: conn}, nil
}

// LocalAddr reports the socket's bound local address, useful when laddr was
// ":0" and the kernel picked an ephemeral port.
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes b as a single datagram to raddr.
func (u *UDP) Send(raddr *net.UDPAddr, b []byte) error {
	_, err := u.conn.WriteToUDP(b, raddr)
	return err
}

// Recv reads one datagram into buf, returning the number of bytes read and
// the sender's address. It blocks for at most timeout before returning
// ErrTimeout; a non-positive timeout waits indefinitely.
func (u *UDP) Recv(buf []byte, timeout time.Duration) (n int, from *net.UDPAddr, err error) {
	if timeout > 0 {
		if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, nil, err
		}
	} else {
		if err := u.conn.SetReadDeadline(time.Time{}); err != nil {
			return 0, nil, err
		}
	}
	n, from, err = u.conn.ReadFromUDP(buf)
	if err != nil && IsTimeout(err) {
		return n, from, ErrTimeout
	}
	return n, from, err
}

// Close releases the underlying socket.
func (u *UDP) Close() error {
	return u.conn.Close()
}

// ErrTimeout is returned by Recv when no datagram arrived within the
// requested timeout.
var ErrTimeout = errors.New("transport: read timeout")

// IsTimeout reports whether err is a network timeout, the way a blocked
// Recv surfaces an idle deadline.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ResolveUDPAddr resolves addr ("host:port") into a *net.UDPAddr, the form
// Send expects for its destination.
func ResolveUDPAddr(addr string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", addr)
}

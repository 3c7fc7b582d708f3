// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package rtp implements the wire-format codec for the transport's RTP
// dialect: a standard RFC 3550 header followed by one of four payload
// kinds selected by payload_type (AUDIO, NACK, FEC, RTX).
package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// ProtocolVersion is the fixed RTP version carried by every packet.
	ProtocolVersion uint8 = 2

	// TypeAudio carries a media frame.
	TypeAudio uint8 = 96
	// TypeNACK carries a list of missing sequence numbers, receiver -> sender.
	TypeNACK uint8 = 65
	// TypeFEC carries XOR parity for a group of media packets.
	TypeFEC uint8 = 97
	// TypeRTX carries a retransmitted media packet.
	TypeRTX uint8 = 98

	headerSize = 12
)

var (
	// ErrMalformedHeader is returned when a buffer is shorter than the
	// fixed 12-byte RTP header.
	ErrMalformedHeader = errors.New("rtp: malformed header")
	// ErrTruncatedCSRC is returned when a buffer is too short to hold the
	// CSRC list its own header claims.
	ErrTruncatedCSRC = errors.New("rtp: truncated csrc list")
	// ErrWrongPacketType is returned by accessors invoked on a packet of
	// the wrong payload_type.
	ErrWrongPacketType = errors.New("rtp: wrong packet type for this accessor")
	// ErrOddNACKPayload is returned when a NACK payload has odd length.
	ErrOddNACKPayload = errors.New("rtp: nack payload has odd length")
)

// Packet is the universal envelope for every packet this transport sends or
// receives. Interpretation of Payload depends on PayloadType; use the
// Type-specific constructors and accessors below rather than touching
// Payload directly.
type Packet struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32
	Payload        []byte
}

// NewMedia builds a media (or otherwise opaque) packet with the given
// header fields and payload.
func NewMedia(payloadType uint8, seq uint16, timestamp uint32, ssrc uint32, payload []byte) *Packet {
	return &Packet{
		Version:        ProtocolVersion,
		PayloadType:    payloadType,
		SequenceNumber: seq,
		Timestamp:      timestamp,
		SSRC:           ssrc,
		Payload:        payload,
	}
}

// NewNACK builds a NACK packet listing missingSeqNums. seq_num and timestamp
// are meaningless for NACK packets and are encoded as zero.
func NewNACK(missingSeqNums []uint16, ssrc uint32) *Packet {
	payload := make([]byte, len(missingSeqNums)*2)
	for i, seq := range missingSeqNums {
		binary.BigEndian.PutUint16(payload[i*2:], seq)
	}
	return &Packet{
		Version:     ProtocolVersion,
		PayloadType: TypeNACK,
		SSRC:        ssrc,
		Payload:     payload,
	}
}

// NewRTX wraps original for retransmission. The outer seq_num, timestamp and
// ssrc mirror the original packet; the original sequence number travels a
// second time inside the payload so the receiver can disambiguate an RTX
// delivery from fresh media.
func NewRTX(original *Packet) *Packet {
	payload := make([]byte, 2+len(original.Payload))
	binary.BigEndian.PutUint16(payload, original.SequenceNumber)
	copy(payload[2:], original.Payload)
	return &Packet{
		Version:        ProtocolVersion,
		PayloadType:    TypeRTX,
		SequenceNumber: original.SequenceNumber,
		Timestamp:      original.Timestamp,
		SSRC:           original.SSRC,
		Payload:        payload,
	}
}

// NACKSequenceNumbers parses the missing-sequence list out of a NACK
// packet's payload.
func (p *Packet) NACKSequenceNumbers() ([]uint16, error) {
	if p.PayloadType != TypeNACK {
		return nil, fmt.Errorf("%w: got payload_type %d", ErrWrongPacketType, p.PayloadType)
	}
	if len(p.Payload)%2 != 0 {
		return nil, ErrOddNACKPayload
	}
	out := make([]uint16, len(p.Payload)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(p.Payload[i*2:])
	}
	return out, nil
}

// OriginalSeq returns the original sequence number carried by an RTX
// packet's payload. ok is false for any non-RTX packet.
func (p *Packet) OriginalSeq() (seq uint16, ok bool) {
	if p.PayloadType != TypeRTX || len(p.Payload) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(p.Payload), true
}

// RTXPayload returns the original packet's payload bytes carried after the
// original-sequence-number prefix. ok is false for any non-RTX packet.
func (p *Packet) RTXPayload() (payload []byte, ok bool) {
	if p.PayloadType != TypeRTX || len(p.Payload) < 2 {
		return nil, false
	}
	return p.Payload[2:], true
}

// Encode serializes the packet to its wire form: 12 bytes of fixed header,
// 4 bytes per CSRC entry, then the raw payload.
func (p *Packet) Encode() []byte {
	buf := make([]byte, headerSize+4*len(p.CSRC)+len(p.Payload))

	b0 := (p.Version << 6) | (uint8(len(p.CSRC)) & 0x0F)
	if p.Padding {
		b0 |= 1 << 5
	}
	if p.Extension {
		b0 |= 1 << 4
	}
	buf[0] = b0

	b1 := p.PayloadType & 0x7F
	if p.Marker {
		b1 |= 1 << 7
	}
	buf[1] = b1

	binary.BigEndian.PutUint16(buf[2:4], p.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], p.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], p.SSRC)

	off := headerSize
	for _, csrc := range p.CSRC {
		binary.BigEndian.PutUint32(buf[off:off+4], csrc)
		off += 4
	}
	copy(buf[off:], p.Payload)
	return buf
}

// Decode parses a wire-format RTP packet. It fails with ErrMalformedHeader
// if b is shorter than the fixed 12-byte header, or ErrTruncatedCSRC if b is
// shorter than the header's own claimed CSRC list. payload_type is never
// validated: unknown types decode as opaque packets.
func Decode(b []byte) (*Packet, error) {
	if len(b) < headerSize {
		return nil, ErrMalformedHeader
	}

	b0, b1 := b[0], b[1]
	csrcCount := b0 & 0x0F
	need := headerSize + int(csrcCount)*4
	if len(b) < need {
		return nil, ErrTruncatedCSRC
	}

	p := &Packet{
		Version:        b0 >> 6,
		Padding:        b0&(1<<5) != 0,
		Extension:      b0&(1<<4) != 0,
		Marker:         b1&(1<<7) != 0,
		PayloadType:    b1 & 0x7F,
		SequenceNumber: binary.BigEndian.Uint16(b[2:4]),
		Timestamp:      binary.BigEndian.Uint32(b[4:8]),
		SSRC:           binary.BigEndian.Uint32(b[8:12]),
	}

	if csrcCount > 0 {
		p.CSRC = make([]uint32, csrcCount)
		off := headerSize
		for i := range p.CSRC {
			p.CSRC[i] = binary.BigEndian.Uint32(b[off : off+4])
			off += 4
		}
	}

	p.Payload = append([]byte(nil), b[need:]...)
	return p, nil
}

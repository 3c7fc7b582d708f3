// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

// WavSink writes delivered payloads to a WavWriter in the order they
// arrive, implementing session.Sink. The receiver's reorder buffer is what
// guarantees that order is already sequence-correct by the time Deliver is
// called.
type WavSink struct {
	w *WavWriter
}

// NewWavSink wraps w for frame-at-a-time writing.
func NewWavSink(w *WavWriter) *WavSink {
	return &WavSink{w: w}
}

// Deliver appends payload to the WAV file. seq is unused: ordering is
// positional, not stamped into the file.
func (s *WavSink) Deliver(seq uint16, payload []byte) {
	s.w.Write(payload)
}

// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

// FrameSize is the number of bytes per outgoing media packet: 160 samples
// of 16-bit mono PCM at 8kHz, i.e. 20ms of audio.
const FrameSize = 320

// WavSource reads fixed-size frames from a WavReader, implementing
// session.Source. The final short frame, if any, is zero-padded to
// FrameSize so every emitted packet carries exactly 160 samples.
type WavSource struct {
	r *WavReader
}

// NewWavSource wraps r for frame-at-a-time reading.
func NewWavSource(r *WavReader) *WavSource {
	return &WavSource{r: r}
}

// Next returns the next FrameSize-byte frame, or ok=false once the
// underlying file is exhausted.
func (s *WavSource) Next() ([]byte, bool) {
	buf := make([]byte, FrameSize)
	if !s.r.ReadFrame(buf) {
		return nil, false
	}
	return buf, true
}

// SyntheticSource emits a fixed placeholder payload Count times, for demos
// and tests that don't need real audio. A Count of zero or less never runs
// out.
type SyntheticSource struct {
	Payload []byte
	Count   int

	emitted int
}

// Next returns the placeholder payload until Count packets have been
// emitted.
func (s *SyntheticSource) Next() ([]byte, bool) {
	if s.Count > 0 && s.emitted >= s.Count {
		return nil, false
	}
	s.emitted++
	return s.Payload, true
}

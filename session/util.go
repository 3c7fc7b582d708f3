// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package session

import "github.com/msolo/rtpflow/rtp"

// smallestKey returns the numerically smallest key in a reorder buffer, used
// to pick the eviction victim once the buffer grows past its bound. This is
// a plain numeric comparison, not the wrap-aware circle distance used for
// gap detection: the buffer bound is a simple size cap, not a sequence-space
// window.
func smallestKey(buffer map[uint16]*rtp.Packet) (uint16, bool) {
	first := true
	var min uint16
	for k := range buffer {
		if first || k < min {
			min = k
			first = false
		}
	}
	return min, !first
}

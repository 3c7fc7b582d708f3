// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msolo/rtpflow/session"
)

type nopSink struct{}

func (nopSink) Deliver(uint16, []byte) {}

func TestHandlerExposesReceiverCounters(t *testing.T) {
	recv := session.NewReceiver(nil, nopSink{}, session.ReceiverConfig{}, zerolog.Nop())
	recv.Stats.Received.Add(10)
	recv.Stats.Lost.Add(2)

	m := NewReceiver(recv)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "rtpflow_receiver_packets_received_total 10"))
	assert.True(t, strings.Contains(body, "rtpflow_receiver_packets_lost_total 2"))
}

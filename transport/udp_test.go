// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndRecvRoundTrip(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	b, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(b.LocalAddr(), []byte("hello")))

	buf := make([]byte, MaxDatagramSize)
	n, from, err := b.Recv(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, a.LocalAddr().Port, from.Port)
}

func TestRecvTimesOutWhenIdle(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	buf := make([]byte, MaxDatagramSize)
	_, _, err = a.Recv(buf, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

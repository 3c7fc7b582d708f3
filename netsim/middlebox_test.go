// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package netsim

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msolo/rtpflow/transport"
)

func TestMiddleboxForwardsWithNoImpairment(t *testing.T) {
	dest, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer dest.Close()

	src, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer src.Close()

	mb, err := New("127.0.0.1:0", dest.LocalAddr(), Config{}, zerolog.Nop())
	require.NoError(t, err)
	mb.Start()
	defer mb.Stop()

	require.NoError(t, src.Send(mb.LocalAddr(), []byte("ping")))

	buf := make([]byte, transport.MaxDatagramSize)
	n, _, err := dest.Recv(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestMiddleboxDropsEverythingAtFullDropRate(t *testing.T) {
	dest, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer dest.Close()

	src, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer src.Close()

	mb, err := New("127.0.0.1:0", dest.LocalAddr(), Config{DropRate: 1.0}, zerolog.Nop())
	require.NoError(t, err)
	mb.Start()
	defer mb.Stop()

	require.NoError(t, src.Send(mb.LocalAddr(), []byte("ping")))

	buf := make([]byte, transport.MaxDatagramSize)
	_, _, err = dest.Recv(buf, 200*time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

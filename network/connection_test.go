package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()

	local, remote := net.Pipe()
	c := newConn(local, ConnectionOptions{
		Identity:          "alice",
		KeepAliveInterval: time.Hour,
		KeepAliveTimeout:  time.Hour,
		FrameReadTimeout:  5 * time.Second,
		AutoRespondPing:   true,
	})
	t.Cleanup(func() {
		_ = c.Close()
		_ = remote.Close()
	})
	return c, remote
}

func TestConnAnswersPingAndYieldsChatFrames(t *testing.T) {
	c, remote := newPipeConn(t)
	assert.Equal(t, "alice", c.Identity())

	ping, err := EncodeJSON(PingMessage{Type: TypePing, Timestamp: 1})
	require.NoError(t, err)
	require.NoError(t, WriteFrame(remote, ping))

	pong, err := ReadFrameWithTimeout(remote, 2*time.Second)
	require.NoError(t, err)
	msgType, err := DecodeMessageType(pong)
	require.NoError(t, err)
	assert.Equal(t, TypePong, msgType)

	chatFrame := []byte(`{"type":"typing","to":"rita","is_typing":true}`)
	require.NoError(t, WriteFrame(remote, chatFrame))
	require.NoError(t, WriteFrame(remote, []byte(`garbage`)))

	var got [][]byte
	for payload := range c.Frames() {
		got = append(got, payload)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, [][]byte{chatFrame, []byte(`garbage`)}, got)
}

func TestConnSendIsFramed(t *testing.T) {
	c, remote := newPipeConn(t)

	done := make(chan error, 1)
	go func() { done <- c.Send([]byte(`{"type":"friends_update","summary":{}}`)) }()

	payload, err := ReadFrameWithTimeout(remote, 2*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"friends_update","summary":{}}`, string(payload))
	require.NoError(t, <-done)
}

func TestConnFramesEndOnRemoteClose(t *testing.T) {
	c, remote := newPipeConn(t)

	const sent = 3
	for i := range sent {
		payload := []byte(fmt.Sprintf(`{"type":"message","to":"rita","body":"m%d"}`, i))
		require.NoError(t, WriteFrame(remote, payload))
	}
	require.NoError(t, remote.Close())
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not observe remote close")
	}

	finished := make(chan int)
	go func() {
		count := 0
		for range c.Frames() {
			count++
		}
		finished <- count
	}()

	select {
	case count := <-finished:
		assert.Equal(t, sent, count, "frames read before the close are still yielded")
	case <-time.After(2 * time.Second):
		t.Fatal("frames did not end after remote close")
	}
	assert.Equal(t, StateDisconnected, c.State())
	require.Error(t, c.Send([]byte(`{}`)))
}

func TestConnFramesDeliverEverythingBeforeCloseRepeatedly(t *testing.T) {
	for range 50 {
		local, remote := net.Pipe()
		c := newConn(local, ConnectionOptions{
			Identity:          "alice",
			KeepAliveInterval: time.Hour,
			KeepAliveTimeout:  time.Hour,
			FrameReadTimeout:  5 * time.Second,
		})

		for i := range 3 {
			require.NoError(t, WriteFrame(remote, []byte(fmt.Sprintf(`{"type":"typing","n":%d}`, i))))
		}
		require.NoError(t, remote.Close())
		<-c.Done()

		count := 0
		for range c.Frames() {
			count++
		}
		require.Equal(t, 3, count)

		_, err := c.ReceiveMessage(t.Context())
		require.ErrorIs(t, err, io.EOF)
	}
}

func TestConnClosesOnTimeoutMidFrame(t *testing.T) {
	local, remote := net.Pipe()
	c := newConn(local, ConnectionOptions{
		Identity:          "alice",
		KeepAliveInterval: time.Hour,
		KeepAliveTimeout:  time.Hour,
		FrameReadTimeout:  50 * time.Millisecond,
	})
	t.Cleanup(func() {
		_ = c.Close()
		_ = remote.Close()
	})

	// Half a length header, then silence.
	go func() { _, _ = remote.Write([]byte{0, 0}) }()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection kept reading after a partial frame timed out")
	}
	require.ErrorIs(t, c.LastError(), ErrPartialFrame)
}

func TestConnSurvivesIdleReadTimeout(t *testing.T) {
	local, remote := net.Pipe()
	c := newConn(local, ConnectionOptions{
		Identity:          "alice",
		KeepAliveInterval: time.Hour,
		KeepAliveTimeout:  time.Hour,
		FrameReadTimeout:  20 * time.Millisecond,
	})
	t.Cleanup(func() {
		_ = c.Close()
		_ = remote.Close()
	})

	time.Sleep(100 * time.Millisecond)
	assert.NotEqual(t, StateDisconnected, c.State())

	payload := []byte(`{"type":"typing","to":"rita","is_typing":false}`)
	require.NoError(t, WriteFrame(remote, payload))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := c.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

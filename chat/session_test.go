package chat

import (
	"context"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chitchat/storage"
)

func chanFrames(in <-chan []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for raw := range in {
			if !yield(raw) {
				return
			}
		}
	}
}

func TestDecodeInbound(t *testing.T) {
	frame, err := DecodeInbound([]byte(`{"type":"message","to":"rita","body":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, &MessageFrame{To: "rita", Body: "hi"}, frame)

	frame, err = DecodeInbound([]byte(`{"type":"read_receipt","message_id":"m1","sender":"sam"}`))
	require.NoError(t, err)
	assert.Equal(t, &ReadReceiptFrame{MessageID: "m1", Sender: "sam"}, frame)

	frame, err = DecodeInbound([]byte(`{"type":"typing","to":"rita","is_typing":true}`))
	require.NoError(t, err)
	assert.Equal(t, &TypingFrame{To: "rita", IsTyping: true}, frame)

	_, err = DecodeInbound([]byte(`{"type":"wave"}`))
	require.ErrorIs(t, err, ErrUnrecognizedFrame)

	for _, raw := range []string{`not json`, `{"to":"rita"}`, `{"type":"message","body":5}`} {
		_, err = DecodeInbound([]byte(raw))
		require.ErrorIs(t, err, ErrProtocolViolation, raw)
	}
}

func TestServeProcessesFramesAndEvicts(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	ritaCh := f.connect("rita")
	samCh := &recordingChannel{}

	frames := slices.Values([][]byte{
		[]byte(`{"type":"wave"}`),
		[]byte(`{"type":"typing","to":"rita","is_typing":true}`),
		[]byte(`{"type":"message","to":"rita","body":"one"}`),
		[]byte(`{"type":"message","to":"","body":"lost"}`),
		[]byte(`{"type":"message","to":"rita","body":"two"}`),
	})

	require.NoError(t, f.service.Serve(ctx, "sam", samCh, frames))
	assert.False(t, f.service.Registry().Online("sam"))

	messages := ritaCh.received(t, FrameMessage)
	require.Len(t, messages, 2)
	assert.Equal(t, "one", messages[0]["body"])
	assert.Equal(t, "two", messages[1]["body"])
	assert.Len(t, ritaCh.received(t, FrameTyping), 1)

	errs := samCh.received(t, FrameError)
	require.Len(t, errs, 1)
	assert.Equal(t, "INVALID_ARGUMENT", errs[0]["code"])

	history, err := f.store.GetHistory(ctx, "sam", "rita", 10, "")
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, m := range history {
		assert.Equal(t, storage.StatusDelivered, m.Status)
	}
}

func TestServeEndsOnProtocolViolation(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	frames := slices.Values([][]byte{
		[]byte(`{"type":"message","to":"rita","body":"before"}`),
		[]byte(`{oops`),
		[]byte(`{"type":"message","to":"rita","body":"after"}`),
	})

	err := f.service.Serve(ctx, "sam", &recordingChannel{}, frames)
	require.ErrorIs(t, err, ErrProtocolViolation)
	assert.False(t, f.service.Registry().Online("sam"))

	history, err := f.store.GetHistory(ctx, "sam", "rita", 10, "")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "before", history[0].Body)
}

func TestStaleSessionEndDoesNotEvictReplacement(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	in := make(chan []byte)
	done := make(chan error, 1)
	go func() {
		done <- f.service.Serve(ctx, "sam", &recordingChannel{}, chanFrames(in))
	}()
	require.Eventually(t, func() bool { return f.service.Registry().Online("sam") }, time.Second, 5*time.Millisecond)

	replacement := f.connect("sam")
	close(in)
	require.NoError(t, <-done)

	assert.True(t, f.service.Registry().Online("sam"))
	current, ok := f.service.Registry().Lookup("sam")
	require.True(t, ok)
	assert.Same(t, replacement, current)
}

func TestServeStopsWhenContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(t.Context())

	in := make(chan []byte)
	ch := &recordingChannel{onClose: func() { close(in) }}
	done := make(chan error, 1)
	go func() {
		done <- f.service.Serve(ctx, "sam", ch, chanFrames(in))
	}()
	require.Eventually(t, func() bool { return f.service.Registry().Online("sam") }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after cancel")
	}
	assert.True(t, ch.isClosed())
	assert.False(t, f.service.Registry().Online("sam"))
}

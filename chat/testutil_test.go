package chat

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chitchat/storage"
)

var errChannelClosed = errors.New("channel closed")

type recordingChannel struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	failSend bool
	onClose  func()
}

func (c *recordingChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failSend {
		return errChannelClosed
	}
	c.frames = append(c.frames, append([]byte(nil), payload...))
	return nil
}

func (c *recordingChannel) Close() error {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	onClose := c.onClose
	c.mu.Unlock()
	if !already && onClose != nil {
		onClose()
	}
	return nil
}

func (c *recordingChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// received decodes every frame of the given type.
func (c *recordingChannel) received(t *testing.T, frameType FrameType) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []map[string]any
	for _, raw := range c.frames {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		if decoded["type"] == string(frameType) {
			out = append(out, decoded)
		}
	}
	return out
}

type notification struct {
	Recipient  string
	SenderName string
	Body       string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *recordingNotifier) Notify(_ context.Context, recipient, senderName, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{Recipient: recipient, SenderName: senderName, Body: body})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.calls...)
}

type fixture struct {
	service  *Service
	store    *storage.Store
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.OpenPath(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	notifier := &recordingNotifier{}
	registry := NewRegistry(NewPresence())
	return &fixture{
		service:  NewService(registry, store, store, notifier),
		store:    store,
		notifier: notifier,
	}
}

func (f *fixture) connect(identity string) *recordingChannel {
	ch := &recordingChannel{}
	f.service.Registry().Admit(identity, ch)
	return ch
}

func (f *fixture) befriend(t *testing.T, a, b string) {
	t.Helper()
	require.NoError(t, f.store.AddFriendship(context.Background(), a, b))
}

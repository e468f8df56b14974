package network

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chitchat/apperr"
	"chitchat/auth"
	"chitchat/chat"
	"chitchat/storage"
)

type harness struct {
	server   *Server
	store    *storage.Store
	verifier *auth.JWTVerifier
	service  *chat.Service
}

func startHarness(t *testing.T) *harness {
	t.Helper()

	store, err := storage.OpenPath(filepath.Join(t.TempDir(), "net.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	verifier, err := auth.NewJWTVerifier("test-secret")
	require.NoError(t, err)

	server, err := Listen("127.0.0.1:0", ServerOptions{
		Verifier:          verifier,
		Events:            store,
		ConnectionTimeout: 2 * time.Second,
		KeepAliveInterval: time.Hour,
		KeepAliveTimeout:  time.Hour,
		FrameReadTimeout:  5 * time.Second,
	})
	require.NoError(t, err)

	service := chat.NewService(chat.NewRegistry(chat.NewPresence()), store, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx, service) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{server: server, store: store, verifier: verifier, service: service}
}

func (h *harness) dial(t *testing.T, identity string) *Conn {
	t.Helper()

	token, err := h.verifier.Issue(identity, time.Hour)
	require.NoError(t, err)
	conn, err := Dial(h.server.Addr().String(), token, ClientOptions{
		ConnectionTimeout: 2 * time.Second,
		KeepAliveInterval: time.Hour,
		KeepAliveTimeout:  time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return h.service.Registry().Online(identity) }, 2*time.Second, 5*time.Millisecond)
	return conn
}

// nextOfType reads frames until one of frameType arrives.
func nextOfType(t *testing.T, conn *Conn, frameType string) map[string]any {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		payload, err := conn.ReceiveMessage(ctx)
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		if decoded["type"] == frameType {
			return decoded
		}
	}
}

func TestDialRejectsInvalidToken(t *testing.T) {
	h := startHarness(t)

	_, err := Dial(h.server.Addr().String(), "not-a-token", ClientOptions{ConnectionTimeout: 2 * time.Second})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnauthenticated, apperr.CodeOf(err))

	events, err := h.store.GetSecurityEvents(context.Background(), storage.SecurityEventFilter{
		EventType: storage.SecurityEventAuthFailed,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Identity)
}

func TestMessageRelayOverTCP(t *testing.T) {
	h := startHarness(t)

	sam := h.dial(t, "sam")
	assert.Equal(t, "sam", sam.Identity())
	rita := h.dial(t, "rita")

	require.NoError(t, sam.Send([]byte(`{"type":"message","to":"rita","body":"hey"}`)))

	message := nextOfType(t, rita, "message")
	assert.Equal(t, "sam", message["from"])
	assert.Equal(t, "hey", message["body"])

	receipt := nextOfType(t, sam, "delivery_receipt")
	assert.Equal(t, "sent", receipt["status"])
	receipt = nextOfType(t, sam, "delivery_receipt")
	assert.Equal(t, "delivered", receipt["status"])
}

func TestProtocolViolationEndsSession(t *testing.T) {
	h := startHarness(t)

	sam := h.dial(t, "sam")
	require.NoError(t, sam.Send([]byte(`{broken`)))

	select {
	case <-sam.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not close the session")
	}
	require.Eventually(t, func() bool { return !h.service.Registry().Online("sam") }, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		events, err := h.store.GetSecurityEvents(context.Background(), storage.SecurityEventFilter{
			EventType: storage.SecurityEventProtocolViolation,
			Identity:  "sam",
		})
		return err == nil && len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

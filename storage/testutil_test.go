package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, _, err := Open(t.TempDir())
	require.NoError(t, err, "open test store")
	t.Cleanup(func() {
		require.NoError(t, store.Close(), "close test store")
	})

	return store
}

func mustAppend(t *testing.T, store *Store, from, to, body string, createdAt int64) Message {
	t.Helper()

	message, err := store.AppendMessage(context.Background(), Message{
		SenderID:    from,
		RecipientID: to,
		Body:        body,
		CreatedAt:   createdAt,
	})
	require.NoError(t, err, "append %q", body)
	return message
}

package storage

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	empty, err := store.ConversationSnapshot(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Nil(t, empty.LastMessage)
	assert.Zero(t, empty.Unread)

	mustAppend(t, store, "alice", "bob", "hi", 1_000)
	mustAppend(t, store, "bob", "alice", "yo", 2_000)
	mustAppend(t, store, "alice", "bob", "again", 3_000)

	snapshot, err := store.ConversationSnapshot(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", snapshot.FriendID)
	require.NotNil(t, snapshot.LastMessage)
	assert.Equal(t, "again", snapshot.LastMessage.Body)
	assert.Equal(t, 2, snapshot.Unread)

	other, err := store.ConversationSnapshot(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "again", other.LastMessage.Body)
	assert.Equal(t, 1, other.Unread)
}

func TestReconcileUnreadRepairsDrift(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	mustAppend(t, store, "alice", "bob", "one", 1_000)
	mustAppend(t, store, "alice", "bob", "two", 2_000)
	mustAppend(t, store, "carol", "bob", "three", 3_000)

	_, err := store.db.Exec(`UPDATE conversation_meta SET unread = 7 WHERE owner_id = 'bob' AND friend_id = 'alice'`)
	require.NoError(t, err)
	_, err = store.db.Exec(`DELETE FROM conversation_meta WHERE owner_id = 'bob' AND friend_id = 'carol'`)
	require.NoError(t, err)

	repaired, err := store.ReconcileUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), repaired)

	for friend, want := range map[string]int{"alice": 2, "carol": 1} {
		unread, err := store.GetUnread(ctx, "bob", friend)
		require.NoError(t, err)
		assert.Equal(t, want, unread, friend)

		counted, err := store.CountUnread(ctx, "bob", friend)
		require.NoError(t, err)
		assert.Equal(t, want, counted, friend)
	}

	repaired, err = store.ReconcileUnread(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestConversationSnapshotPairsCounterWithItsMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	const total = 60
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= total; i++ {
			_, err := store.AppendMessage(ctx, Message{
				SenderID:    "alice",
				RecipientID: "bob",
				Body:        fmt.Sprintf("m%d", i),
				CreatedAt:   int64(i),
			})
			assert.NoError(t, err)
		}
	}()

	// Nothing is ever read, so the n-th message is always reported with unread n.
	for range total {
		snapshot, err := store.ConversationSnapshot(ctx, "bob", "alice")
		require.NoError(t, err)
		if snapshot.LastMessage == nil {
			assert.Zero(t, snapshot.Unread)
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(snapshot.LastMessage.Body, "m"))
		require.NoError(t, err)
		assert.Equal(t, n, snapshot.Unread)
	}
	wg.Wait()
}

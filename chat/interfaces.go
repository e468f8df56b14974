// Package chat is the real-time delivery core: the connection registry and the
// presence derived from it, the sent/delivered/read lifecycle, unread summaries
// and typing relay.
package chat

import (
	"context"

	"chitchat/storage"
)

// Channel is the outbound half of one live connection. Implementations must
// serialize concurrent Send calls onto the wire.
type Channel interface {
	Send(payload []byte) error
	Close() error
}

// MessageStore is the durable record the core moves messages through.
type MessageStore interface {
	AppendMessage(ctx context.Context, message storage.Message) (storage.Message, error)
	MarkDelivered(ctx context.Context, messageID string, at int64) (bool, error)
	MarkRead(ctx context.Context, messageID, senderID, recipientID string, at int64) (bool, error)
	MarkConversationRead(ctx context.Context, ownerID, friendID string, at int64) ([]string, error)
	ConversationSnapshot(ctx context.Context, ownerID, friendID string) (storage.ConversationSnapshot, error)
}

// SocialGraph answers friend and profile lookups.
type SocialGraph interface {
	FriendsOf(ctx context.Context, identity string) ([]string, error)
	DisplayName(ctx context.Context, identity string) (string, error)
}

// Notifier requests a push notification for an unreachable recipient. It must
// not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, recipient, senderName, body string)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string, string) {}

package models

import "chitchat/storage"

// Message is one stored message as returned by the query endpoints.
type Message struct {
	MessageID   string `json:"message_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Body        string `json:"body"`
	Time        int64  `json:"time"`
	Status      string `json:"status"`
	DeliveredAt *int64 `json:"delivered_at,omitempty"`
	ReadAt      *int64 `json:"read_at,omitempty"`
}

// FromStorage converts a storage row to its API shape.
func FromStorage(m storage.Message) Message {
	return Message{
		MessageID:   m.MessageID,
		From:        m.SenderID,
		To:          m.RecipientID,
		Body:        m.Body,
		Time:        m.CreatedAt,
		Status:      string(m.Status),
		DeliveredAt: m.DeliveredAt,
		ReadAt:      m.ReadAt,
	}
}

// History is one page of a conversation, oldest first.
type History struct {
	Messages []Message `json:"messages"`
	// NextBefore is the cursor for the previous page, empty when the page is short.
	NextBefore string `json:"next_before,omitempty"`
}

// LastMessage is the snapshot of one conversation from the owner's side.
type LastMessage struct {
	Message *string `json:"message"`
	Unread  int     `json:"unread"`
	Time    *int64  `json:"time"`
}

// ResetUnread reports which messages a reset marked read.
type ResetUnread struct {
	Reset      int      `json:"reset"`
	MessageIDs []string `json:"message_ids"`
}

// DeleteChat reports how many messages a purge removed.
type DeleteChat struct {
	Deleted int64 `json:"deleted"`
}

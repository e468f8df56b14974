package chat

import (
	"encoding/json"
	"errors"
	"fmt"

	"chitchat/storage"
)

// FrameType is the "type" discriminator carried by every frame.
type FrameType string

const (
	FrameMessage         FrameType = "message"
	FrameReadReceipt     FrameType = "read_receipt"
	FrameTyping          FrameType = "typing"
	FrameDeliveryReceipt FrameType = "delivery_receipt"
	FrameFriendsUpdate   FrameType = "friends_update"
	FrameError           FrameType = "error"
)

var (
	// ErrProtocolViolation marks input that ends the session: malformed JSON or
	// a frame without a type.
	ErrProtocolViolation = errors.New("chat: protocol violation")
	// ErrUnrecognizedFrame marks a well-formed frame with an unknown type.
	ErrUnrecognizedFrame = errors.New("chat: unrecognized frame")
)

// Inbound is one decoded client frame: *MessageFrame, *ReadReceiptFrame or
// *TypingFrame.
type Inbound interface {
	frameType() FrameType
}

type MessageFrame struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type ReadReceiptFrame struct {
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
}

type TypingFrame struct {
	To       string `json:"to"`
	IsTyping bool   `json:"is_typing"`
}

func (*MessageFrame) frameType() FrameType     { return FrameMessage }
func (*ReadReceiptFrame) frameType() FrameType { return FrameReadReceipt }
func (*TypingFrame) frameType() FrameType      { return FrameTyping }

// DecodeInbound parses one client frame.
func DecodeInbound(raw []byte) (Inbound, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	var frame Inbound
	switch head.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrProtocolViolation)
	case FrameMessage:
		frame = &MessageFrame{}
	case FrameReadReceipt:
		frame = &ReadReceiptFrame{}
	case FrameTyping:
		frame = &TypingFrame{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedFrame, head.Type)
	}

	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrProtocolViolation, head.Type, err)
	}
	return frame, nil
}

// OutboundMessage is the canonical server copy of a message.
type OutboundMessage struct {
	Type      FrameType `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	MessageID string    `json:"message_id"`
	Time      int64     `json:"time"`
}

type DeliveryReceipt struct {
	Type      FrameType             `json:"type"`
	MessageID string                `json:"message_id"`
	Status    storage.MessageStatus `json:"status"`
}

type ReadReceipt struct {
	Type      FrameType             `json:"type"`
	MessageID string                `json:"message_id"`
	Status    storage.MessageStatus `json:"status"`
}

type OutboundTyping struct {
	Type     FrameType `json:"type"`
	From     string    `json:"from"`
	IsTyping bool      `json:"is_typing"`
}

// FriendSummary is one friend's entry in a friends_update frame.
type FriendSummary struct {
	Unread          int    `json:"unread"`
	LastMessage     string `json:"last_message"`
	LastMessageTime *int64 `json:"last_message_time"`
}

type FriendsUpdate struct {
	Type    FrameType                `json:"type"`
	Summary map[string]FriendSummary `json:"summary"`
}

type ErrorFrame struct {
	Type    FrameType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

func newOutboundMessage(message storage.Message) OutboundMessage {
	return OutboundMessage{
		Type:      FrameMessage,
		From:      message.SenderID,
		To:        message.RecipientID,
		Body:      message.Body,
		MessageID: message.MessageID,
		Time:      message.CreatedAt,
	}
}

// EncodeFrame marshals an outbound frame.
func EncodeFrame(frame any) ([]byte, error) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", frame, err)
	}
	return payload, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

// MessageStatus is the delivery state of a stored message. It only moves forward:
// sent, then delivered, then read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

const (
	// SecuritySeverityInfo indicates informational security event context.
	SecuritySeverityInfo = "info"
	// SecuritySeverityWarning indicates potentially suspicious behavior.
	SecuritySeverityWarning = "warning"
	// SecuritySeverityCritical indicates serious security failures.
	SecuritySeverityCritical = "critical"
)

const (
	// SecurityEventAuthFailed is recorded when a connection presents a bad token.
	SecurityEventAuthFailed = "auth_failed"
	// SecurityEventProtocolViolation is recorded when a session is closed for malformed input.
	SecurityEventProtocolViolation = "protocol_violation"
)

// Message is the SQLite representation of one 1:1 chat message.
type Message struct {
	MessageID   string
	SenderID    string
	RecipientID string
	Body        string
	CreatedAt   int64
	Status      MessageStatus
	DeliveredAt *int64
	ReadAt      *int64
}

// User is a registered identity with its profile data.
type User struct {
	Identity    string
	DisplayName string
	PushToken   string
	CreatedAt   int64
}

// ConversationSnapshot is the owner's view of one conversation: the newest
// message in either direction plus the owner's unread counter.
type ConversationSnapshot struct {
	FriendID    string
	LastMessage *Message
	Unread      int
}

// SecurityEvent stores structured security-relevant runtime events.
type SecurityEvent struct {
	ID        int64
	EventType string
	Identity  *string
	Details   string
	Severity  string
	Timestamp int64
}

// SecurityEventFilter narrows GetSecurityEvents query results.
type SecurityEventFilter struct {
	EventType     string
	Identity      string
	Severity      string
	FromTimestamp *int64
	ToTimestamp   *int64
	Limit         int
	Offset        int
}

type scanner interface {
	Scan(dest ...any) error
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func validateMessageStatus(status MessageStatus) error {
	switch status {
	case StatusSent, StatusDelivered, StatusRead:
		return nil
	default:
		return fmt.Errorf("invalid message status %q", status)
	}
}

func validateSecuritySeverity(severity string) error {
	switch severity {
	case SecuritySeverityInfo, SecuritySeverityWarning, SecuritySeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid security event severity %q", severity)
	}
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

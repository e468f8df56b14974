package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

const messageColumns = `
	message_id,
	sender_id,
	recipient_id,
	body,
	created_at,
	status,
	delivered_at,
	read_at`

// AppendMessage persists a new message in status sent and bumps the recipient's
// unread counter for the pair in the same transaction. Empty ids and timestamps
// are filled in; the stored row is returned.
func (s *Store) AppendMessage(ctx context.Context, message Message) (Message, error) {
	if message.SenderID == "" {
		return Message{}, errors.New("sender_id is required")
	}
	if message.RecipientID == "" {
		return Message{}, errors.New("recipient_id is required")
	}
	if message.SenderID == message.RecipientID {
		return Message{}, errors.New("sender_id and recipient_id must differ")
	}
	if message.Body == "" {
		return Message{}, errors.New("body is required")
	}
	if message.MessageID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Message{}, fmt.Errorf("generate message id: %w", err)
		}
		message.MessageID = id.String()
	}
	if message.CreatedAt == 0 {
		message.CreatedAt = nowUnixMilli()
	}
	message.Status = StatusSent
	message.DeliveredAt = nil
	message.ReadAt = nil

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (
				message_id,
				sender_id,
				recipient_id,
				body,
				created_at,
				status
			) VALUES (?, ?, ?, ?, ?, ?)`,
			message.MessageID,
			message.SenderID,
			message.RecipientID,
			message.Body,
			message.CreatedAt,
			string(message.Status),
		); err != nil {
			return fmt.Errorf("insert message %q: %w", message.MessageID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_meta (owner_id, friend_id, unread)
			VALUES (?, ?, 1)
			ON CONFLICT(owner_id, friend_id) DO UPDATE SET unread = unread + 1`,
			message.RecipientID,
			message.SenderID,
		); err != nil {
			return fmt.Errorf("increment unread for %q: %w", message.RecipientID, err)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}

	return message, nil
}

// GetMessageByID returns one message by id.
func (s *Store) GetMessageByID(ctx context.Context, messageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+messageColumns+` FROM messages WHERE message_id = ?`,
		messageID,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}

	return message, nil
}

// MarkDelivered moves a sent message to delivered and stamps delivered_at.
// It reports false when the message is already delivered or read.
func (s *Store) MarkDelivered(ctx context.Context, messageID string, at int64) (bool, error) {
	if at == 0 {
		at = nowUnixMilli()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		SET status = ?, delivered_at = ?
		WHERE message_id = ? AND status = ? AND delivered_at IS NULL`,
		string(StatusDelivered),
		at,
		messageID,
		string(StatusSent),
	)
	if err != nil {
		return false, fmt.Errorf("mark message %q delivered: %w", messageID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read rows affected for mark delivered: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetMessageByID(ctx, messageID); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

// MarkRead moves the message matching (id, sender, recipient) to read and
// decrements the recipient's unread counter. A message that does not match or
// is already read leaves everything untouched and reports false.
func (s *Store) MarkRead(ctx context.Context, messageID, senderID, recipientID string, at int64) (bool, error) {
	if at == 0 {
		at = nowUnixMilli()
	}

	changed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE messages
			SET status = ?, read_at = ?
			WHERE message_id = ? AND sender_id = ? AND recipient_id = ?
			  AND status IN (?, ?) AND read_at IS NULL`,
			string(StatusRead),
			at,
			messageID,
			senderID,
			recipientID,
			string(StatusSent),
			string(StatusDelivered),
		)
		if err != nil {
			return fmt.Errorf("mark message %q read: %w", messageID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("read rows affected for mark read: %w", err)
		}
		if n == 0 {
			return nil
		}
		changed = true

		if _, err := tx.ExecContext(ctx,
			`UPDATE conversation_meta
			SET unread = MAX(unread - 1, 0)
			WHERE owner_id = ? AND friend_id = ?`,
			recipientID,
			senderID,
		); err != nil {
			return fmt.Errorf("decrement unread for %q: %w", recipientID, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return changed, nil
}

// MarkConversationRead marks every unread message from friend to owner as read
// and zeroes the owner's counter in one transaction. The ids of the messages that
// changed are returned oldest first.
func (s *Store) MarkConversationRead(ctx context.Context, ownerID, friendID string, at int64) ([]string, error) {
	if at == 0 {
		at = nowUnixMilli()
	}

	var ids []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT message_id FROM messages
			WHERE sender_id = ? AND recipient_id = ? AND status IN (?, ?)
			ORDER BY created_at ASC, message_id ASC`,
			friendID,
			ownerID,
			string(StatusSent),
			string(StatusDelivered),
		)
		if err != nil {
			return fmt.Errorf("select unread messages: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan unread message id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("iterate unread messages: %w", err)
		}
		_ = rows.Close()

		if len(ids) > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE messages
				SET status = ?, read_at = ?
				WHERE sender_id = ? AND recipient_id = ? AND status IN (?, ?)`,
				string(StatusRead),
				at,
				friendID,
				ownerID,
				string(StatusSent),
				string(StatusDelivered),
			); err != nil {
				return fmt.Errorf("mark conversation read: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_meta (owner_id, friend_id, unread)
			VALUES (?, ?, 0)
			ON CONFLICT(owner_id, friend_id) DO UPDATE SET unread = 0`,
			ownerID,
			friendID,
		); err != nil {
			return fmt.Errorf("reset unread for %q: %w", ownerID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// GetHistory returns up to limit messages exchanged between a and b, oldest
// first. A non-empty beforeID restricts the page to messages strictly older
// than that message.
func (s *Store) GetHistory(ctx context.Context, a, b string, limit int, beforeID string) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := strings.Builder{}
	query.WriteString(`SELECT`)
	query.WriteString(messageColumns)
	query.WriteString(`
	FROM messages
	WHERE ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))`)
	args := []any{a, b, b, a}

	if beforeID != "" {
		cursor, err := s.GetMessageByID(ctx, beforeID)
		if err != nil {
			return nil, err
		}
		query.WriteString(` AND (created_at < ? OR (created_at = ? AND message_id < ?))`)
		args = append(args, cursor.CreatedAt, cursor.CreatedAt, cursor.MessageID)
	}
	query.WriteString(` ORDER BY created_at DESC, message_id DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

// LastMessage returns the newest message between a and b in either direction.
func (s *Store) LastMessage(ctx context.Context, a, b string) (*Message, error) {
	return lastMessage(ctx, s.db, a, b)
}

func lastMessage(ctx context.Context, q rowQuerier, a, b string) (*Message, error) {
	row := q.QueryRowContext(ctx,
		`SELECT`+messageColumns+`
		FROM messages
		WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		ORDER BY created_at DESC, message_id DESC
		LIMIT 1`,
		a, b, b, a,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get last message: %w", err)
	}
	return message, nil
}

// DeleteConversation removes every message between a and b and both directional
// meta rows. It returns the number of messages removed.
func (s *Store) DeleteConversation(ctx context.Context, a, b string) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM messages
			WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)`,
			a, b, b, a,
		)
		if err != nil {
			return fmt.Errorf("delete conversation messages: %w", err)
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("read rows affected for delete conversation: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversation_meta
			WHERE (owner_id = ? AND friend_id = ?) OR (owner_id = ? AND friend_id = ?)`,
			a, b, b, a,
		); err != nil {
			return fmt.Errorf("delete conversation meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		message     Message
		status      string
		deliveredAt sql.NullInt64
		readAt      sql.NullInt64
	)

	if err := row.Scan(
		&message.MessageID,
		&message.SenderID,
		&message.RecipientID,
		&message.Body,
		&message.CreatedAt,
		&status,
		&deliveredAt,
		&readAt,
	); err != nil {
		return nil, err
	}

	message.Status = MessageStatus(status)
	if err := validateMessageStatus(message.Status); err != nil {
		return nil, err
	}
	message.DeliveredAt = int64Ptr(deliveredAt)
	message.ReadAt = int64Ptr(readAt)
	return &message, nil
}

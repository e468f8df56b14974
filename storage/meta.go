package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetUnread returns the owner's running unread counter for friend. A pair
// without a meta row has zero unread.
func (s *Store) GetUnread(ctx context.Context, ownerID, friendID string) (int, error) {
	return getUnread(ctx, s.db, ownerID, friendID)
}

func getUnread(ctx context.Context, q rowQuerier, ownerID, friendID string) (int, error) {
	var unread int
	err := q.QueryRowContext(ctx,
		`SELECT unread FROM conversation_meta WHERE owner_id = ? AND friend_id = ?`,
		ownerID,
		friendID,
	).Scan(&unread)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get unread for %q: %w", ownerID, err)
	}
	return unread, nil
}

// CountUnread recomputes the owner's unread count for friend from message rows.
func (s *Store) CountUnread(ctx context.Context, ownerID, friendID string) (int, error) {
	var unread int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		WHERE recipient_id = ? AND sender_id = ? AND status != ?`,
		ownerID,
		friendID,
		string(StatusRead),
	).Scan(&unread); err != nil {
		return 0, fmt.Errorf("count unread for %q: %w", ownerID, err)
	}
	return unread, nil
}

// ConversationSnapshot returns the newest message between owner and friend
// together with the owner's unread counter. LastMessage is nil for an empty
// conversation.
//
// Both reads share one transaction so the counter always matches the message
// it is reported with.
func (s *Store) ConversationSnapshot(ctx context.Context, ownerID, friendID string) (ConversationSnapshot, error) {
	snapshot := ConversationSnapshot{FriendID: friendID}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		last, err := lastMessage(ctx, tx, ownerID, friendID)
		switch {
		case err == nil:
			snapshot.LastMessage = last
		case errors.Is(err, ErrNotFound):
		default:
			return err
		}

		snapshot.Unread, err = getUnread(ctx, tx, ownerID, friendID)
		return err
	})
	if err != nil {
		return ConversationSnapshot{}, err
	}
	return snapshot, nil
}

// ReconcileUnread rewrites every unread counter that disagrees with the message
// rows and creates missing meta rows. It returns how many counters were repaired.
func (s *Store) ReconcileUnread(ctx context.Context) (int64, error) {
	var repaired int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversation_meta
			SET unread = (
				SELECT COUNT(*) FROM messages m
				WHERE m.recipient_id = conversation_meta.owner_id
				  AND m.sender_id = conversation_meta.friend_id
				  AND m.status != ?
			)
			WHERE unread != (
				SELECT COUNT(*) FROM messages m
				WHERE m.recipient_id = conversation_meta.owner_id
				  AND m.sender_id = conversation_meta.friend_id
				  AND m.status != ?
			)`,
			string(StatusRead),
			string(StatusRead),
		)
		if err != nil {
			return fmt.Errorf("reconcile unread counters: %w", err)
		}
		updated, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("read rows affected for reconcile: %w", err)
		}

		res, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_meta (owner_id, friend_id, unread)
			SELECT m.recipient_id, m.sender_id, COUNT(*)
			FROM messages m
			WHERE m.status != ?
			  AND NOT EXISTS (
				SELECT 1 FROM conversation_meta cm
				WHERE cm.owner_id = m.recipient_id AND cm.friend_id = m.sender_id
			  )
			GROUP BY m.recipient_id, m.sender_id`,
			string(StatusRead),
		)
		if err != nil {
			return fmt.Errorf("create missing unread counters: %w", err)
		}
		created, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("read rows affected for reconcile insert: %w", err)
		}

		repaired = updated + created
		return nil
	})
	if err != nil {
		return 0, err
	}
	return repaired, nil
}

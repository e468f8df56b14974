package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UpsertUser creates a user or updates its display name and push token.
func (s *Store) UpsertUser(ctx context.Context, user User) error {
	user.Identity = strings.TrimSpace(user.Identity)
	if user.Identity == "" {
		return errors.New("identity is required")
	}
	if strings.TrimSpace(user.DisplayName) == "" {
		user.DisplayName = user.Identity
	}
	if user.CreatedAt == 0 {
		user.CreatedAt = nowUnixMilli()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (identity, display_name, push_token, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			display_name = excluded.display_name,
			push_token = excluded.push_token`,
		user.Identity,
		user.DisplayName,
		user.PushToken,
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user %q: %w", user.Identity, err)
	}
	return nil
}

// EnsureUser creates a bare user row for identity if none exists.
func (s *Store) EnsureUser(ctx context.Context, identity string) error {
	if strings.TrimSpace(identity) == "" {
		return errors.New("identity is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (identity, display_name, push_token, created_at)
		VALUES (?, ?, '', ?)`,
		identity,
		identity,
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("ensure user %q: %w", identity, err)
	}
	return nil
}

// GetUser returns one user by identity.
func (s *Store) GetUser(ctx context.Context, identity string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT identity, display_name, push_token, created_at FROM users WHERE identity = ?`,
		identity,
	).Scan(&user.Identity, &user.DisplayName, &user.PushToken, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %q: %w", identity, err)
	}
	return &user, nil
}

// DisplayName returns the user's display name, or the identity itself when the
// user has no profile.
func (s *Store) DisplayName(ctx context.Context, identity string) (string, error) {
	user, err := s.GetUser(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return identity, nil
		}
		return "", err
	}
	return user.DisplayName, nil
}

// PushToken returns the device token registered for identity, empty when none.
func (s *Store) PushToken(ctx context.Context, identity string) (string, error) {
	user, err := s.GetUser(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return user.PushToken, nil
}

// AddFriendship links a and b in both directions. Adding an existing
// friendship is a no-op.
func (s *Store) AddFriendship(ctx context.Context, a, b string) error {
	if a == "" || b == "" {
		return errors.New("both identities are required")
	}
	if a == b {
		return errors.New("cannot befriend self")
	}

	now := nowUnixMilli()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, pair := range [][2]string{{a, b}, {b, a}} {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO friendships (owner_id, friend_id, created_at) VALUES (?, ?, ?)`,
				pair[0],
				pair[1],
				now,
			); err != nil {
				return fmt.Errorf("add friendship %q -> %q: %w", pair[0], pair[1], err)
			}
		}
		return nil
	})
}

// RemoveFriendship unlinks a and b in both directions. It reports whether a
// link existed.
func (s *Store) RemoveFriendship(ctx context.Context, a, b string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM friendships
		WHERE (owner_id = ? AND friend_id = ?) OR (owner_id = ? AND friend_id = ?)`,
		a, b, b, a,
	)
	if err != nil {
		return false, fmt.Errorf("remove friendship: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read rows affected for remove friendship: %w", err)
	}
	return n > 0, nil
}

// AreFriends reports whether a lists b as a friend.
func (s *Store) AreFriends(ctx context.Context, a, b string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM friendships WHERE owner_id = ? AND friend_id = ?`,
		a, b,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check friendship: %w", err)
	}
	return true, nil
}

// FriendsOf returns the friends of identity sorted by identity.
func (s *Store) FriendsOf(ctx context.Context, identity string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT friend_id FROM friendships WHERE owner_id = ? ORDER BY friend_id ASC`,
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("list friends of %q: %w", identity, err)
	}
	defer rows.Close()

	friends := make([]string, 0)
	for rows.Next() {
		var friend string
		if err := rows.Scan(&friend); err != nil {
			return nil, fmt.Errorf("scan friend row: %w", err)
		}
		friends = append(friends, friend)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend rows: %w", err)
	}
	return friends, nil
}

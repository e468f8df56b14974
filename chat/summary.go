package chat

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// BuildSummary computes the friend -> summary mapping for owner.
func (s *Service) BuildSummary(ctx context.Context, owner string) (map[string]FriendSummary, error) {
	friends, err := s.graph.FriendsOf(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list friends of %q: %w", owner, err)
	}

	summary := make(map[string]FriendSummary, len(friends))
	for _, friend := range friends {
		snapshot, err := s.store.ConversationSnapshot(ctx, owner, friend)
		if err != nil {
			return nil, fmt.Errorf("snapshot %q/%q: %w", owner, friend, err)
		}

		entry := FriendSummary{Unread: snapshot.Unread}
		if last := snapshot.LastMessage; last != nil {
			at := last.CreatedAt
			entry.LastMessage = last.Body
			entry.LastMessageTime = &at
		}
		summary[friend] = entry
	}
	return summary, nil
}

// PushSummary sends owner a fresh friends_update if owner is connected.
// Nothing is queued for offline owners.
func (s *Service) PushSummary(ctx context.Context, owner string) {
	if !s.registry.Online(owner) {
		return
	}

	summary, err := s.BuildSummary(ctx, owner)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"identity": owner,
			"error":    err,
		}).Warn("build summary")
		return
	}
	s.send(owner, FriendsUpdate{Type: FrameFriendsUpdate, Summary: summary})
}

// FriendsChanged refreshes the summaries of both sides after a friendship is
// added or removed.
func (s *Service) FriendsChanged(ctx context.Context, a, b string) {
	s.PushSummary(ctx, a)
	s.PushSummary(ctx, b)
}

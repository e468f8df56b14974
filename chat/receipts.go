package chat

import (
	"context"

	"github.com/sirupsen/logrus"

	"chitchat/apperr"
	"chitchat/storage"
)

// AcknowledgeRead marks one message from claimedSender to reader as read and
// relays a read receipt to the sender. A message that does not match or is
// already read is a no-op reported as false.
func (s *Service) AcknowledgeRead(ctx context.Context, messageID, claimedSender, reader string) (bool, error) {
	if messageID == "" || claimedSender == "" {
		return false, nil
	}

	changed, err := s.store.MarkRead(ctx, messageID, claimedSender, reader, s.nowMilli())
	if err != nil {
		return false, apperr.Wrap(apperr.CodeInternal, "could not mark message read", err)
	}
	if !changed {
		return false, nil
	}

	s.send(claimedSender, ReadReceipt{Type: FrameReadReceipt, MessageID: messageID, Status: storage.StatusRead})
	s.PushSummary(ctx, reader)
	return true, nil
}

// ResetConversationUnread marks everything friend sent to owner as read, zeroes
// the counter, relays one read receipt per changed message and refreshes both
// summaries. It returns the ids that changed.
func (s *Service) ResetConversationUnread(ctx context.Context, owner, friend string) ([]string, error) {
	ids, err := s.store.MarkConversationRead(ctx, owner, friend, s.nowMilli())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "could not reset unread", err)
	}

	for _, id := range ids {
		if !s.send(friend, ReadReceipt{Type: FrameReadReceipt, MessageID: id, Status: storage.StatusRead}) {
			break
		}
	}
	if len(ids) > 0 {
		s.log.WithFields(logrus.Fields{
			"identity": owner,
			"peer":     friend,
			"count":    len(ids),
		}).Debug("conversation marked read")
	}

	s.PushSummary(ctx, owner)
	s.PushSummary(ctx, friend)
	return ids, nil
}

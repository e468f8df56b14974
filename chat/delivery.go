package chat

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"chitchat/apperr"
	"chitchat/storage"
)

// SubmitMessage persists a message from sender to recipient, acknowledges it
// to the sender, relays it when the recipient is connected (falling back to a
// push notification otherwise) and refreshes both unread summaries.
//
// Friendship is not checked here; callers authorize the pair.
func (s *Service) SubmitMessage(ctx context.Context, sender, recipient, body string) (storage.Message, error) {
	recipient = strings.TrimSpace(recipient)
	switch {
	case recipient == "":
		return storage.Message{}, apperr.InvalidArg("recipient is required")
	case body == "":
		return storage.Message{}, apperr.InvalidArg("body is required")
	case recipient == sender:
		return storage.Message{}, apperr.InvalidArg("cannot message yourself")
	}

	message, err := s.store.AppendMessage(ctx, storage.Message{
		SenderID:    sender,
		RecipientID: recipient,
		Body:        body,
		CreatedAt:   s.nowMilli(),
	})
	if err != nil {
		return storage.Message{}, apperr.Wrap(apperr.CodeInternal, "could not store message", err)
	}

	log := s.log.WithFields(logrus.Fields{
		"identity":   sender,
		"peer":       recipient,
		"message_id": message.MessageID,
	})

	s.send(sender, DeliveryReceipt{Type: FrameDeliveryReceipt, MessageID: message.MessageID, Status: storage.StatusSent})

	outbound := newOutboundMessage(message)
	if s.send(recipient, outbound) {
		s.send(sender, outbound)

		deliveredAt := s.nowMilli()
		changed, err := s.store.MarkDelivered(ctx, message.MessageID, deliveredAt)
		switch {
		case err != nil:
			log.WithField("error", err).Warn("mark delivered")
		case changed:
			message.Status = storage.StatusDelivered
			message.DeliveredAt = &deliveredAt
			s.send(sender, DeliveryReceipt{Type: FrameDeliveryReceipt, MessageID: message.MessageID, Status: storage.StatusDelivered})
		}
	} else {
		s.requestPush(ctx, log, message)
	}

	s.PushSummary(ctx, recipient)
	s.PushSummary(ctx, sender)
	return message, nil
}

func (s *Service) requestPush(ctx context.Context, log *logrus.Entry, message storage.Message) {
	name, err := s.graph.DisplayName(ctx, message.SenderID)
	if err != nil {
		log.WithField("error", err).Debug("display name lookup failed")
		name = message.SenderID
	}
	s.notifier.Notify(ctx, message.RecipientID, name, message.Body)
}

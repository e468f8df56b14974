package chat

import (
	"context"
	"errors"
	"iter"

	"github.com/sirupsen/logrus"

	"chitchat/apperr"
)

// Serve runs one connection: it admits identity with channel, processes frames
// in order until the sequence ends, and evicts its own registration exactly
// once on every exit path. Cancelling ctx closes channel, which is expected to
// end the frame sequence.
//
// A protocol violation ends the session and is returned. Unknown frame types
// are logged and skipped.
func (s *Service) Serve(ctx context.Context, identity string, channel Channel, frames iter.Seq[[]byte]) error {
	generation := s.registry.Admit(identity, channel)
	log := s.log.WithFields(logrus.Fields{
		"identity":   identity,
		"generation": generation,
	})
	log.Info("session started")

	stop := context.AfterFunc(ctx, func() {
		_ = channel.Close()
	})
	defer func() {
		stop()
		evicted := s.registry.Evict(identity, generation)
		log.WithField("evicted", evicted).Info("session ended")
	}()

	s.PushSummary(ctx, identity)

	for raw := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := DecodeInbound(raw)
		if err != nil {
			if errors.Is(err, ErrUnrecognizedFrame) {
				log.WithField("error", err).Warn("ignoring frame")
				continue
			}
			return err
		}
		s.handle(ctx, log, identity, frame)
	}
	return ctx.Err()
}

func (s *Service) handle(ctx context.Context, log *logrus.Entry, identity string, frame Inbound) {
	switch f := frame.(type) {
	case *MessageFrame:
		if _, err := s.SubmitMessage(ctx, identity, f.To, f.Body); err != nil {
			if apperr.CodeOf(err) != apperr.CodeInvalidArgument {
				log.WithFields(logrus.Fields{"peer": f.To, "error": err}).Error("submit message")
			}
			s.send(identity, ErrorFrame{
				Type:    FrameError,
				Code:    string(apperr.CodeOf(err)),
				Message: apperr.MessageOf(err),
			})
		}
	case *ReadReceiptFrame:
		if _, err := s.AcknowledgeRead(ctx, f.MessageID, f.Sender, identity); err != nil {
			log.WithFields(logrus.Fields{"message_id": f.MessageID, "error": err}).Error("acknowledge read")
		}
	case *TypingFrame:
		s.RelayTyping(identity, f.To, f.IsTyping)
	default:
		log.WithField("frame", frame.frameType()).Warn("unhandled frame")
	}
}

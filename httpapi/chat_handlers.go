package httpapi

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"chitchat/apperr"
	"chitchat/models"
)

// GET /chat/history/:user/:friend?limit=&before=
func (s *Server) historyHandler(c *fiber.Ctx) error {
	limit := s.options.HistoryDefaultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return apperr.InvalidArg("limit must be a positive integer")
		}
		limit = min(parsed, s.options.HistoryMaxLimit)
	}

	messages, err := s.store.GetHistory(c.UserContext(), c.Params("user"), c.Params("friend"), limit, c.Query("before"))
	if err != nil {
		return err
	}

	out := models.History{Messages: make([]models.Message, 0, len(messages))}
	for _, m := range messages {
		out.Messages = append(out.Messages, models.FromStorage(m))
	}
	if len(messages) == limit {
		out.NextBefore = messages[0].MessageID
	}
	return c.JSON(out)
}

// GET /chat/last_message/:user/:friend
func (s *Server) lastMessageHandler(c *fiber.Ctx) error {
	snapshot, err := s.store.ConversationSnapshot(c.UserContext(), c.Params("user"), c.Params("friend"))
	if err != nil {
		return err
	}

	out := models.LastMessage{Unread: snapshot.Unread}
	if last := snapshot.LastMessage; last != nil {
		body, at := last.Body, last.CreatedAt
		out.Message = &body
		out.Time = &at
	}
	return c.JSON(out)
}

// POST /chat/reset_unread/:user/:friend
func (s *Server) resetUnreadHandler(c *fiber.Ctx) error {
	ids, err := s.chat.ResetConversationUnread(c.UserContext(), c.Params("user"), c.Params("friend"))
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(models.ResetUnread{Reset: len(ids), MessageIDs: ids})
}

// DELETE /chat/delete_chat/:user/:friend
func (s *Server) deleteChatHandler(c *fiber.Ctx) error {
	user, friend := c.Params("user"), c.Params("friend")
	deleted, err := s.store.DeleteConversation(c.UserContext(), user, friend)
	if err != nil {
		return err
	}
	s.chat.FriendsChanged(c.UserContext(), user, friend)
	return c.JSON(models.DeleteChat{Deleted: deleted})
}

// GET /chat/summary
func (s *Server) summaryHandler(c *fiber.Ctx) error {
	summary, err := s.chat.BuildSummary(c.UserContext(), callerOf(c))
	if err != nil {
		return err
	}
	return c.JSON(summary)
}

package httpapi

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"chitchat/apperr"
	"chitchat/models"
	"chitchat/storage"
)

type profileRequest struct {
	DisplayName string `json:"display_name"`
	PushToken   string `json:"push_token"`
}

// PUT /profile/me
func (s *Server) updateProfileHandler(c *fiber.Ctx) error {
	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidArg("invalid body")
	}

	identity := callerOf(c)
	user := storage.User{
		Identity:    identity,
		DisplayName: strings.TrimSpace(req.DisplayName),
		PushToken:   strings.TrimSpace(req.PushToken),
	}
	if err := s.store.UpsertUser(c.UserContext(), user); err != nil {
		return err
	}
	return s.getProfileHandler(c)
}

// GET /profile/me
func (s *Server) getProfileHandler(c *fiber.Ctx) error {
	identity := callerOf(c)
	user, err := s.store.GetUser(c.UserContext(), identity)
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(models.Profile{Identity: identity, DisplayName: identity})
	}
	if err != nil {
		return err
	}
	return c.JSON(models.Profile{
		Identity:    user.Identity,
		DisplayName: user.DisplayName,
		PushToken:   user.PushToken,
	})
}

// GET /profile/online_status/:user
func (s *Server) onlineStatusHandler(c *fiber.Ctx) error {
	identity := c.Params("user")
	return c.JSON(models.OnlineStatus{
		Identity: identity,
		Online:   s.chat.Registry().Online(identity),
	})
}

// GET /friends
func (s *Server) listFriendsHandler(c *fiber.Ctx) error {
	friends, err := s.store.FriendsOf(c.UserContext(), callerOf(c))
	if err != nil {
		return err
	}
	return c.JSON(models.Friends{Friends: friends})
}

// POST /friends/:friend
func (s *Server) addFriendHandler(c *fiber.Ctx) error {
	identity, friend := callerOf(c), c.Params("friend")
	if friend == "" || friend == identity {
		return apperr.InvalidArg("invalid friend")
	}

	ctx := c.UserContext()
	for _, id := range []string{identity, friend} {
		if err := s.store.EnsureUser(ctx, id); err != nil {
			return err
		}
	}
	if err := s.store.AddFriendship(ctx, identity, friend); err != nil {
		return err
	}
	s.chat.FriendsChanged(ctx, identity, friend)
	return c.SendStatus(fiber.StatusNoContent)
}

// DELETE /friends/:friend
func (s *Server) removeFriendHandler(c *fiber.Ctx) error {
	identity, friend := callerOf(c), c.Params("friend")
	removed, err := s.store.RemoveFriendship(c.UserContext(), identity, friend)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.NotFound("not friends")
	}
	s.chat.FriendsChanged(c.UserContext(), identity, friend)
	return c.SendStatus(fiber.StatusNoContent)
}

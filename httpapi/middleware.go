package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"chitchat/apperr"
)

const localIdentity = "identity"

func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(header, "Bearer ") {
		return apperr.Unauthorized("missing token")
	}

	identity, err := s.verifier.Verify(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return apperr.Wrap(apperr.CodeUnauthenticated, "invalid token", err)
	}
	c.Locals(localIdentity, identity)
	return c.Next()
}

// requireParticipant allows only the owner side of a /:user/:friend route.
func (s *Server) requireParticipant(c *fiber.Ctx) error {
	if c.Params("user") != callerOf(c) {
		return apperr.Forbidden("not a participant of this conversation")
	}
	if c.Params("friend") == "" || c.Params("friend") == c.Params("user") {
		return apperr.InvalidArg("friend is required")
	}
	return c.Next()
}

func callerOf(c *fiber.Ctx) string {
	identity, _ := c.Locals(localIdentity).(string)
	return identity
}

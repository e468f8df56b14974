package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"chitchat/apperr"
	"chitchat/models"
	"chitchat/storage"
)

var statusByCode = map[apperr.Code]int{
	apperr.CodeInvalidArgument:    fiber.StatusBadRequest,
	apperr.CodeNotFound:           fiber.StatusNotFound,
	apperr.CodeUnauthenticated:    fiber.StatusUnauthorized,
	apperr.CodePermissionDenied:   fiber.StatusForbidden,
	apperr.CodeFailedPrecondition: fiber.StatusPreconditionFailed,
	apperr.CodeInternal:           fiber.StatusInternalServerError,
}

func codeForStatus(status int) apperr.Code {
	for code, s := range statusByCode {
		if s == status {
			return code
		}
	}
	if status == fiber.StatusUpgradeRequired {
		return apperr.CodeFailedPrecondition
	}
	return apperr.CodeUnknown
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	body := models.Error{Code: string(apperr.CodeInternal), Message: "internal error"}

	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		status = fiberErr.Code
		body = models.Error{Code: string(codeForStatus(status)), Message: fiberErr.Message}
	case errors.Is(err, storage.ErrNotFound):
		status = fiber.StatusNotFound
		body = models.Error{Code: string(apperr.CodeNotFound), Message: "not found"}
	default:
		if code := apperr.CodeOf(err); code != apperr.CodeUnknown {
			if mapped, ok := statusByCode[code]; ok {
				status = mapped
			}
			body = models.Error{Code: string(code), Message: apperr.MessageOf(err)}
		}
	}

	if status >= fiber.StatusInternalServerError {
		s.log.WithFields(logrus.Fields{
			"path":  c.Path(),
			"error": err,
		}).Error("request failed")
	}
	return c.Status(status).JSON(body)
}

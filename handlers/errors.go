package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"loci-server/services"
)

// respondError maps service errors onto HTTP statuses.
func respondError(c *fiber.Ctx, msg string, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrUnknownInteractionType),
		errors.Is(err, services.ErrCorrelationTokenRequired),
		errors.Is(err, services.ErrCorrelationTokenTooLong),
		errors.Is(err, services.ErrInvalidPoints):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrNotificationNotFound):
		status = fiber.StatusNotFound
	case services.IsRetryable(err):
		// the caller may repeat the request
		status = fiber.StatusServiceUnavailable
	}

	if status >= fiber.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Path()).Error(msg)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"cause": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

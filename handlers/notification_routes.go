package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"loci-server/middleware"
	"loci-server/services"
)

func SetupNotificationRoutes(app *fiber.App, notifications *services.NotificationService, authClient middleware.TokenValidator) {
	// EventSource cannot send gateway headers; the user's access token authenticates it instead.
	app.Get("/notifications/stream", middleware.SSEAuthMiddleware(authClient), notifications.StreamUserNotificationsSSE)

	secured := app.Group("/s")

	secured.Get("/notifications", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "20"))

		result, err := notifications.List(c.UserContext(), userID, page, size)
		if err != nil {
			return respondError(c, "failed to list notifications", err)
		}
		return c.JSON(result)
	})

	secured.Get("/notifications/unread-count", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		n, err := notifications.UnreadCount(c.UserContext(), userID)
		if err != nil {
			return respondError(c, "failed to count notifications", err)
		}
		return c.JSON(fiber.Map{"unread": n})
	})

	secured.Patch("/notifications/:id/read", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return badRequest(c, "invalid notification id")
		}

		n, err := notifications.MarkRead(c.UserContext(), userID, id)
		if err != nil {
			return respondError(c, "failed to mark notification read", err)
		}
		return c.JSON(n)
	})
}

package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"loci-server/middleware"
	"loci-server/models"
	"loci-server/services"
)

type interactionRequest struct {
	ActorID          string `json:"actor_id"`
	TargetID         string `json:"target_id"`
	Type             string `json:"type"`
	CorrelationToken string `json:"correlation_token"`
}

func SetupIntimacyRoutes(app *fiber.App, intimacy *services.IntimacyService, users *services.UserDirectory, limiter *middleware.RateLimiter) {
	// Service-to-service trigger, called by the friendship/reaction/comment/visit/tagging flows.
	// Accepted and throttled interactions both answer "accepted".
	app.Post("/internal/interactions", func(c *fiber.Ctx) error {
		var req interactionRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		req.ActorID = strings.TrimSpace(req.ActorID)
		req.TargetID = strings.TrimSpace(req.TargetID)
		if req.ActorID == "" || req.TargetID == "" {
			return badRequest(c, "actor_id and target_id are required")
		}
		kind, ok := models.ParseInteractionType(req.Type)
		if !ok {
			return badRequest(c, "unknown interaction type")
		}

		if err := users.Exists(c.UserContext(), req.ActorID, req.TargetID); err != nil {
			return respondError(c, "user lookup failed", err)
		}

		// Tokens are compared exactly, only surrounding whitespace is dropped.
		token := strings.TrimSpace(req.CorrelationToken)
		if err := intimacy.Accrue(c.UserContext(), req.ActorID, req.TargetID, kind, token); err != nil {
			return respondError(c, "failed to record interaction", err)
		}
		return c.JSON(fiber.Map{"status": "accepted"})
	})

	// 🔐 Secured routes, user context comes from the gateway headers
	secured := app.Group("/s")

	secured.Get("/users/:id/intimacy", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		otherID := c.Params("id")

		if err := users.Exists(c.UserContext(), otherID); err != nil {
			return respondError(c, "user lookup failed", err)
		}
		detail, err := intimacy.Detail(c.UserContext(), userID, otherID)
		if err != nil {
			return respondError(c, "failed to load intimacy", err)
		}
		return c.JSON(detail)
	})

	secured.Get("/users/:id/intimacy/history", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		otherID := c.Params("id")
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "20"))

		if err := users.Exists(c.UserContext(), otherID); err != nil {
			return respondError(c, "user lookup failed", err)
		}
		history, err := intimacy.History(c.UserContext(), userID, otherID, page, size)
		if err != nil {
			return respondError(c, "failed to load history", err)
		}
		return c.JSON(history)
	})

	secured.Post("/users/:id/nudge", limiter.Handler(), func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		targetID := c.Params("id")

		if err := users.Exists(c.UserContext(), userID, targetID); err != nil {
			return respondError(c, "user lookup failed", err)
		}
		if err := intimacy.Accrue(c.UserContext(), userID, targetID, models.InteractionNudge, ""); err != nil {
			return respondError(c, "failed to nudge", err)
		}
		return c.JSON(fiber.Map{"status": "accepted"})
	})

	secured.Get("/user/intimacy/total", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		total, err := intimacy.TotalLevel(c.UserContext(), userID)
		if err != nil {
			return respondError(c, "failed to load total level", err)
		}
		return c.JSON(fiber.Map{
			"user_id":     userID,
			"total_level": total,
		})
	})
}

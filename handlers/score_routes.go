// handlers/score_routes.go
package handlers

import (
	"context"
	"time"

	"light-mint-service/middleware"
	"light-mint-service/models"
	"light-mint-service/services"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

type evaluateActionRequest struct {
	ActionType  models.ActionType `json:"action_type" validate:"required"`
	ReferenceID string            `json:"reference_id" validate:"required,max=128"`
	Content     string            `json:"content" validate:"max=20000"`
}

type loginRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	IPAddress  string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent  string `json:"user_agent"`
	DeviceHash string `json:"device_hash" validate:"max=128"`
}

func SetupScoreRoutes(app *fiber.App, aggregator *services.ScoreAggregator, ledger *services.LightLedger, detector *services.FraudDetector) {
	user := app.Group("/user", middleware.UserContextMiddleware())

	user.Get("/light-score", func(c *fiber.Ctx) error {
		summary, err := aggregator.GetScore(c.Context(), userID(c), c.QueryInt("recent", 0))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(summary)
	})

	user.Post("/light-actions", func(c *fiber.Ctx) error {
		var req evaluateActionRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		res, err := ledger.EvaluateAction(c.Context(), userID(c), req.ActionType, req.ReferenceID, req.Content)
		if err != nil {
			return respondError(c, err)
		}
		if res.Existing || res.Limited {
			return c.JSON(res)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	internal := app.Group("/internal")

	// Login events from the auth service. Detection runs after the response.
	internal.Post("/logins", func(c *fiber.Ctx) error {
		var req loginRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		if req.DeviceHash == "" && req.UserAgent == "" && req.IPAddress == "" {
			return respondError(c, &services.ValidationError{Field: "device_hash", Message: "device hash or user agent and ip required"})
		}
		go func(req loginRequest) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := detector.LogLogin(ctx, req.UserID, req.IPAddress, req.UserAgent, req.DeviceHash); err != nil {
				log.WithFields(log.Fields{"user_id": req.UserID}).Errorf("❌ [FRAUD] login processing failed: %v", err)
			}
		}(req)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
	})
}

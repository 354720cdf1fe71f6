// handlers/mint_routes.go
package handlers

import (
	"light-mint-service/middleware"
	"light-mint-service/services"

	"github.com/gofiber/fiber/v2"
)

type createMintRequest struct {
	ActionIDs []string `json:"action_ids" validate:"required,min=1,max=500,dive,required"`
	Nonce     string   `json:"nonce" validate:"omitempty,max=66"`
}

type signRequest struct {
	Signature string `json:"signature" validate:"required"`
}

type claimRequest struct {
	WalletAddress string `json:"wallet_address"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
}

func SetupMintRoutes(app *fiber.App, orch *services.MintOrchestrator, claims *services.ClaimService, stream *services.MintEventStream, authClient *services.AuthServiceClient) {
	mint := app.Group("/mint", middleware.UserContextMiddleware())

	mint.Post("/requests", func(c *fiber.Ctx) error {
		var req createMintRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		out, err := orch.Create(c.Context(), userID(c), req.ActionIDs, req.Nonce)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(out)
	})

	mint.Get("/requests", func(c *fiber.Ctx) error {
		out, err := orch.List(c.Context(), userID(c), c.QueryInt("limit", 0))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	mint.Get("/requests/:id", func(c *fiber.Ctx) error {
		privileged := middleware.HasRole(c, middleware.RoleAdmin) || middleware.HasRole(c, middleware.RoleMintSigner)
		out, err := orch.Get(c.Context(), userID(c), c.Params("id"), privileged)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	signer := middleware.RequireRole(middleware.RoleMintSigner)

	mint.Get("/requests/:id/payload", signer, func(c *fiber.Ctx) error {
		out, err := orch.Payload(c.Context(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	mint.Post("/requests/:id/signatures", signer, func(c *fiber.Ctx) error {
		var req signRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		out, err := orch.Sign(c.Context(), c.Params("id"), req.Signature)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	user := app.Group("/user", middleware.UserContextMiddleware())

	user.Get("/mint/stream", middleware.SSEAuthMiddleware(authClient), stream.StreamUserMintEventsSSE)

	user.Post("/claims", func(c *fiber.Ctx) error {
		var req claimRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		out, err := claims.AuthorizeClaim(c.Context(), userID(c), req.WalletAddress, req.Amount)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(out)
	})

	user.Get("/wallet/balance", func(c *fiber.Ctx) error {
		out, err := claims.WalletBalance(c.Context(), userID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})
}

// handlers/admin_routes.go
package handlers

import (
	"time"

	"light-mint-service/middleware"
	"light-mint-service/models"
	"light-mint-service/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type receiptRequest struct {
	TxHash  string `json:"tx_hash" validate:"omitempty,max=66"`
	Success *bool  `json:"success" validate:"required"`
	Reason  string `json:"reason"`
}

type banRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,max=1000,dive,required"`
	Reason  string   `json:"reason" validate:"required,max=500"`
}

type freezeRequest struct {
	Until  *time.Time `json:"until"`
	Reason string     `json:"reason" validate:"max=500"`
}

type rewardStatusRequest struct {
	Status models.RewardStatus `json:"status" validate:"required,oneof=pending on_hold active"`
	Note   string              `json:"note" validate:"max=500"`
}

type blacklistRequest struct {
	WalletAddress string  `json:"wallet_address" validate:"required"`
	Reason        string  `json:"reason" validate:"required,max=500"`
	Permanent     bool    `json:"permanent"`
	UserID        *string `json:"user_id"`
}

type epochCapRequest struct {
	Cap *int64 `json:"cap" validate:"required,gte=0"`
}

// AdminDeps are the services behind the admin surface.
type AdminDeps struct {
	DB          *gorm.DB
	Orch        *services.MintOrchestrator
	Ledger      *services.EpochLedger
	Containment *services.ContainmentService
	Audit       *services.AuditLogger
}

func SetupAdminRoutes(app *fiber.App, d AdminDeps) {
	admin := app.Group("/admin", middleware.UserContextMiddleware(), middleware.RequireRole(middleware.RoleAdmin))

	// --- Mint requests ---

	admin.Get("/mint/requests/:id", func(c *fiber.Ctx) error {
		out, err := d.Orch.Get(c.Context(), userID(c), c.Params("id"), true)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	admin.Post("/mint/requests/:id/submit", func(c *fiber.Ctx) error {
		out, err := d.Orch.Submit(c.Context(), c.Params("id"), userID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	admin.Post("/mint/requests/:id/reject", func(c *fiber.Ctx) error {
		var req rejectRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		out, err := d.Orch.Reject(c.Context(), c.Params("id"), userID(c), req.Reason)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	admin.Post("/mint/requests/:id/receipt", func(c *fiber.Ctx) error {
		var req receiptRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		out, err := d.Orch.ReportReceipt(c.Context(), c.Params("id"), req.TxHash, *req.Success, req.Reason)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	// --- Users ---

	admin.Get("/users", func(c *fiber.Ctx) error {
		out, err := services.SearchUsers(c.Context(), d.DB, c.Query("q"), c.QueryInt("limit", 0))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"users": out})
	})

	admin.Post("/users/ban", func(c *fiber.Ctx) error {
		var req banRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		report, err := d.Containment.BatchBan(c.Context(), req.UserIDs, req.Reason, userID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(report)
	})

	admin.Get("/users/:id/gate", func(c *fiber.Ctx) error {
		out, err := d.Containment.CheckMintGate(c.Context(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	admin.Post("/users/:id/freeze", func(c *fiber.Ctx) error {
		var req freezeRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		out, err := d.Containment.FreezeAccount(c.Context(), c.Params("id"), req.Until, req.Reason, userID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	admin.Post("/users/:id/unfreeze", func(c *fiber.Ctx) error {
		out, err := d.Containment.UnfreezeAccount(c.Context(), c.Params("id"), userID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	admin.Post("/users/:id/reward-status", func(c *fiber.Ctx) error {
		var req rewardStatusRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		out, err := d.Containment.SetRewardStatus(c.Context(), c.Params("id"), req.Status, req.Note, userID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	// --- Wallets ---

	admin.Post("/wallets/blacklist", func(c *fiber.Ctx) error {
		var req blacklistRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		out, err := d.Containment.BlacklistWallet(c.Context(), req.WalletAddress, req.Reason, req.Permanent, req.UserID, userID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(out)
	})

	admin.Delete("/wallets/blacklist/:address", func(c *fiber.Ctx) error {
		if err := d.Containment.RemoveBlacklistedWallet(c.Context(), c.Params("address"), userID(c)); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// --- Fraud & audit ---

	admin.Get("/fraud/signals", func(c *fiber.Ctx) error {
		signals, total, err := d.Containment.ListFraudSignals(c.Context(), services.FraudSignalFilter{
			ActorID:    c.Query("user_id"),
			SignalType: models.FraudSignalType(c.Query("type")),
			Limit:      c.QueryInt("limit", 50),
			Offset:     c.QueryInt("offset", 0),
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"signals": signals, "total": total})
	})

	admin.Get("/audit", func(c *fiber.Ctx) error {
		entries, err := d.Audit.List(c.Context(), c.Query("user_id"), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"entries": entries})
	})

	// --- Epochs ---

	admin.Get("/epochs/:date", func(c *fiber.Ctx) error {
		out, err := d.Ledger.GetEpoch(c.Context(), c.Params("date"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	admin.Put("/epochs/:date/cap", func(c *fiber.Ctx) error {
		var req epochCapRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		out, err := d.Ledger.SetCap(c.Context(), c.Params("date"), *req.Cap)
		d.Audit.Record(c.Context(), models.AuditLog{
			ActorID: userID(c),
			Action:  "epoch.set_cap",
			Target:  c.Params("date"),
			Details: map[string]interface{}{"cap": *req.Cap},
		}, err)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})
}

// handlers/errors.go
package handlers

import (
	"errors"
	"reflect"
	"strings"

	"light-mint-service/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// parseBody decodes and validates a JSON body into req.
func parseBody(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return &services.ValidationError{Message: "invalid request body"}
	}
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &services.ValidationError{
				Field:   fe.Field(),
				Message: "failed '" + fe.Tag() + "' check",
			}
		}
		return &services.ValidationError{Message: err.Error()}
	}
	return nil
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *fiber.Ctx, err error) error {
	var (
		vErr     *services.ValidationError
		capErr   *services.CapacityError
		stateErr *services.StateConflictError
		extErr   *services.ExternalDependencyError
		gateErr  *services.FraudGateError
	)
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	case errors.As(err, &vErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": vErr.Error(), "field": vErr.Field})
	case errors.As(err, &capErr):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":     services.ErrDailyCapReached.Error(),
			"scope":     capErr.Scope,
			"remaining": capErr.Remaining,
		})
	case errors.As(err, &stateErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": stateErr.Error(), "status": stateErr.Status})
	case errors.As(err, &gateErr):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": gateErr.Reason.Error()})
	case errors.As(err, &extErr):
		status := fiber.StatusBadGateway
		if extErr.Timeout {
			status = fiber.StatusGatewayTimeout
		}
		return c.Status(status).JSON(fiber.Map{"error": extErr.Service + " unavailable"})
	case errors.Is(err, services.ErrNoWallet):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}
	log.WithFields(log.Fields{"path": c.Path(), "method": c.Method()}).Errorf("❌ unhandled error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

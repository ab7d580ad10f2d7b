package handlers

import (
	"errors"

	"github.com/glowmorph/backend/internal/dto"
	"github.com/glowmorph/backend/internal/middleware"
	"github.com/glowmorph/backend/internal/models"
	"github.com/glowmorph/backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// principal returns the admin account loaded by the RBAC middleware.
func principal(c *fiber.Ctx) (*models.AdminUser, bool) {
	user, ok := c.Locals(middleware.PrincipalKey).(*models.AdminUser)
	return user, ok
}

// serviceError maps workflow sentinels onto HTTP status codes.
func serviceError(c *fiber.Ctx, err error) error {
	var verr *services.ValidationError
	switch {
	case errors.Is(err, services.ErrJobNotFound),
		errors.Is(err, services.ErrEntryNotFound),
		errors.Is(err, services.ErrPrincipalNotFound),
		errors.Is(err, services.ErrNoOpenAppeal):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	case errors.Is(err, services.ErrAlreadyAssigned),
		errors.Is(err, services.ErrAlreadyResolved),
		errors.Is(err, services.ErrAppealAlreadyOpen),
		errors.Is(err, services.ErrNotReversible),
		errors.Is(err, services.ErrAlreadyReversed),
		errors.Is(err, services.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, services.ErrAccountLocked),
		errors.Is(err, services.ErrAccountInactive):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error: true, Message: "Internal server error",
	})
}

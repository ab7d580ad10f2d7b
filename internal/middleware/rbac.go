package middleware

import (
	"errors"

	"github.com/glowmorph/backend/internal/dto"
	"github.com/glowmorph/backend/internal/rbac"
	"github.com/glowmorph/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PrincipalKey is the context local holding the loaded admin account.
const PrincipalKey = "principal"

// RequirePermission loads the admin principal from the JWT subject and checks
// the capability matrix for (resource, action). Denies fail closed.
func RequirePermission(admins *services.AdminService, resource, action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals("user").(*jwt.Token)
		if !ok || token == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid claims",
			})
		}
		sub, _ := claims["sub"].(string)
		principalID, err := uuid.Parse(sub)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid subject claim",
			})
		}

		user, err := admins.GetPrincipal(principalID)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrPrincipalNotFound),
				errors.Is(err, services.ErrAccountInactive),
				errors.Is(err, services.ErrAccountLocked):
				return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
					Error: true, Message: "Admin access denied",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: true, Message: "Failed to load principal",
			})
		}

		if !rbac.HasPermission(user.Role, rbac.ParseOverrides(user.Permissions), resource, action) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error: true, Message: "Permission denied",
			})
		}

		c.Locals(PrincipalKey, user)
		return c.Next()
	}
}

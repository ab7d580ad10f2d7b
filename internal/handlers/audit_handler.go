package handlers

import (
	"strconv"

	"github.com/glowmorph/backend/internal/dto"
	"github.com/glowmorph/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type AuditHandler struct {
	auditService *services.AuditService
}

func NewAuditHandler(auditService *services.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) List(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	filters := dto.AuditFilters{
		Action:     c.Query("action", ""),
		TargetType: c.Query("target_type", ""),
		TargetID:   c.Query("target_id", ""),
		Category:   c.Query("category", ""),
		Severity:   c.Query("severity", ""),
		Tag:        c.Query("tag", ""),
	}
	if raw := c.Query("actor_id", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid actor_id",
			})
		}
		filters.ActorID = &id
	}
	if from, ok := parseTime(c.Query("from", "")); ok {
		filters.From = &from
	}
	if to, ok := parseTime(c.Query("to", "")); ok {
		filters.To = &to
	}

	entries, hasMore, next, err := h.auditService.List(&filters, limit, c.Query("cursor", ""))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.PageResponse{Items: entries, HasMore: hasMore, NextCursor: next})
}

func (h *AuditHandler) Get(c *fiber.Ctx) error {
	entryID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid entry ID",
		})
	}
	entry, err := h.auditService.Get(entryID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(entry)
}

// Reverse marks an entry as undone. The target entity keeps its current
// state; restoring it from the stored before snapshot is a separate, manual
// step for whoever reverses the entry.
func (h *AuditHandler) Reverse(c *fiber.Ctx) error {
	user, ok := principal(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}
	entryID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid entry ID",
		})
	}

	var req dto.ReverseAuditRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	entry, err := h.auditService.Reverse(entryID, user.ID, user.Email, req.Reason)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(entry)
}

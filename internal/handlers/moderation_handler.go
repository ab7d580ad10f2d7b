package handlers

import (
	"strconv"
	"time"

	"github.com/glowmorph/backend/internal/config"
	"github.com/glowmorph/backend/internal/dto"
	"github.com/glowmorph/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type ModerationHandler struct {
	moderationService *services.ModerationService
	adminService      *services.AdminService
	cfg               *config.Config
}

func NewModerationHandler(moderationService *services.ModerationService, adminService *services.AdminService, cfg *config.Config) *ModerationHandler {
	return &ModerationHandler{
		moderationService: moderationService,
		adminService:      adminService,
		cfg:               cfg,
	}
}

func (h *ModerationHandler) actor(c *fiber.Ctx) (services.Actor, bool) {
	user, ok := principal(c)
	if !ok {
		return services.Actor{}, false
	}
	return h.adminService.ActorFor(user), true
}

// CreateJob is the scan-pipeline intake, guarded by a shared token instead of
// an admin session.
func (h *ModerationHandler) CreateJob(c *fiber.Ctx) error {
	if h.cfg.ScanToken == "" || c.Get("X-Scan-Token") != h.cfg.ScanToken {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var req dto.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	job, err := h.moderationService.CreateJob(&req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(job)
}

func (h *ModerationHandler) ListQueue(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	filters := dto.QueueFilters{
		Status:      c.Query("status", ""),
		SubjectType: c.Query("subject_type", ""),
		Priority:    c.Query("priority", ""),
	}
	if raw := c.Query("assigned_to", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid assigned_to",
			})
		}
		filters.AssignedTo = &id
	}
	if raw := c.Query("appealed", ""); raw != "" {
		appealed := raw == "true"
		filters.Appealed = &appealed
	}
	if from, ok := parseTime(c.Query("from", "")); ok {
		filters.From = &from
	}
	if to, ok := parseTime(c.Query("to", "")); ok {
		filters.To = &to
	}

	jobs, hasMore, next, err := h.moderationService.ListQueue(&filters, limit, c.Query("cursor", ""))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.PageResponse{Items: jobs, HasMore: hasMore, NextCursor: next})
}

func (h *ModerationHandler) GetJob(c *fiber.Ctx) error {
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid job ID",
		})
	}
	job, err := h.moderationService.GetJob(jobID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(job)
}

func (h *ModerationHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.moderationService.Stats()
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(stats)
}

func (h *ModerationHandler) Assign(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid job ID",
		})
	}

	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}
	assignee := req.AssigneeID
	if assignee == uuid.Nil {
		assignee = actor.ID // claim for yourself by default
	}

	job, err := h.moderationService.Assign(jobID, actor, assignee)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(job)
}

func (h *ModerationHandler) Decide(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid job ID",
		})
	}

	var req dto.DecideRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	job, err := h.moderationService.Decide(jobID, actor, &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(job)
}

func (h *ModerationHandler) Escalate(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid job ID",
		})
	}

	var req dto.EscalateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	job, err := h.moderationService.Escalate(jobID, actor, req.Reason, req.Priority)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(job)
}

// OpenAppeal is the subject-owner endpoint; the owner comes from the JWT
// subject, not from an admin session.
func (h *ModerationHandler) OpenAppeal(c *fiber.Ctx) error {
	ownerID, err := userIDFromToken(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid job ID",
		})
	}

	var req dto.OpenAppealRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	job, err := h.moderationService.OpenAppeal(jobID, ownerID, req.Message)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(job)
}

func (h *ModerationHandler) ResolveAppeal(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid job ID",
		})
	}

	var req dto.ResolveAppealRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	job, err := h.moderationService.ResolveAppeal(jobID, actor, req.Resolution, req.Reason)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(job)
}

func userIDFromToken(c *fiber.Ctx) (uuid.UUID, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return uuid.Nil, fiber.ErrUnauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, fiber.ErrUnauthorized
	}
	sub, _ := claims["sub"].(string)
	return uuid.Parse(sub)
}

func parseTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

package routes

import (
	"log/slog"
	"time"

	"github.com/glowmorph/backend/internal/config"
	"github.com/glowmorph/backend/internal/handlers"
	"github.com/glowmorph/backend/internal/middleware"
	"github.com/glowmorph/backend/internal/ratelimit"
	"github.com/glowmorph/backend/internal/rbac"
	"github.com/glowmorph/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	adminService *services.AdminService,
	healthHandler *handlers.HealthHandler,
	moderationHandler *handlers.ModerationHandler,
	auditHandler *handlers.AuditHandler,
) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP. With REDIS_URL set the
	// counters live in a shared store so limits hold across instances.
	limiterCfg := limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}
	if cfg.RedisURL != "" {
		storage, err := ratelimit.New(cfg.RedisURL)
		if err != nil {
			slog.Error("redis rate-limit store unavailable, falling back to in-memory", "error", err)
		} else {
			limiterCfg.Storage = storage
		}
	}
	api.Use(limiter.New(limiterCfg))

	// Health (public)
	api.Get("/health", healthHandler.Check)

	// Scan-pipeline intake (shared-token auth, no admin session)
	api.Post("/internal/scan-results", moderationHandler.CreateJob)

	// Subject-owner appeals (JWT only, ownership checked in the service)
	api.Post("/appeals/:id", middleware.JWTProtected(cfg), moderationHandler.OpenAppeal)

	// Admin back-office: JWT plus a per-route capability check.
	jwt := middleware.JWTProtected(cfg)
	perm := func(resource, action string) fiber.Handler {
		return middleware.RequirePermission(adminService, resource, action)
	}

	mod := api.Group("/admin/moderation", jwt)
	mod.Get("/queue", perm(rbac.ResourceModeration, rbac.ActionRead), moderationHandler.ListQueue)
	mod.Get("/stats", perm(rbac.ResourceModeration, rbac.ActionRead), moderationHandler.Stats)
	mod.Get("/jobs/:id", perm(rbac.ResourceModeration, rbac.ActionRead), moderationHandler.GetJob)
	mod.Post("/jobs/:id/assign", perm(rbac.ResourceModeration, rbac.ActionAssign), moderationHandler.Assign)
	mod.Post("/jobs/:id/decision", perm(rbac.ResourceModeration, rbac.ActionDecide), moderationHandler.Decide)
	mod.Post("/jobs/:id/escalate", perm(rbac.ResourceModeration, rbac.ActionEscalate), moderationHandler.Escalate)
	mod.Post("/jobs/:id/appeal/resolve", perm(rbac.ResourceModeration, rbac.ActionResolveAppeal), moderationHandler.ResolveAppeal)

	audit := api.Group("/admin/audit", jwt)
	audit.Get("/", perm(rbac.ResourceAudit, rbac.ActionRead), auditHandler.List)
	audit.Get("/:id", perm(rbac.ResourceAudit, rbac.ActionRead), auditHandler.Get)
	audit.Post("/:id/reverse", perm(rbac.ResourceAudit, rbac.ActionReverse), auditHandler.Reverse)
}

package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/TreePulse/internal/app/service"
	"github.com/sifan077/TreePulse/internal/http/middleware"
	httpUtil "github.com/sifan077/TreePulse/internal/http/util"
	"go.uber.org/zap"
)

// AnalyticsDeps groups dependencies required by the analytics handlers.
type AnalyticsDeps struct {
	Logger        *zap.Logger
	Ingest        *service.IngestService
	Scheduler     *service.FlushScheduler
	Stats         *service.StatsService
	Fingerprinter *httpUtil.Fingerprinter
	AdminToken    string
}

// AnalyticsHandler implements the ingestion and admin endpoints.
type AnalyticsHandler struct {
	logger        *zap.Logger
	ingest        *service.IngestService
	scheduler     *service.FlushScheduler
	stats         *service.StatsService
	fingerprinter *httpUtil.Fingerprinter
	adminToken    string
}

// NewAnalyticsHandler creates an analytics handler with the provided dependencies.
func NewAnalyticsHandler(deps AnalyticsDeps) *AnalyticsHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fp := deps.Fingerprinter
	if fp == nil {
		fp = httpUtil.NewFingerprinter(nil)
	}
	return &AnalyticsHandler{
		logger:        logger,
		ingest:        deps.Ingest,
		scheduler:     deps.Scheduler,
		stats:         deps.Stats,
		fingerprinter: fp,
		adminToken:    deps.AdminToken,
	}
}

// Register wires analytics routes onto the provided router.
func (h *AnalyticsHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/health", h.Health)

	analytics := router.Group("/analytics")
	{
		analytics.Post("/batch", h.Batch)

		adminOnly := middleware.AdminAuth(h.adminToken)
		analytics.Post("/flush", adminOnly, h.Flush)
		analytics.Delete("/clear-all", adminOnly, h.ClearAll)
		analytics.Get("/stats", adminOnly, h.Stats)
	}
}

// Health is a simple root endpoint so we know the service is running.
func (h *AnalyticsHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "TreePulse",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// BatchResponse is the fixed shape returned by the ingest endpoint.
type BatchResponse struct {
	Success   bool                `json:"success"`
	Processed service.BatchResult `json:"processed"`
}

// Batch handles POST /analytics/batch. It always answers 200: analytics
// failures must never surface to visitors or break page rendering, so a
// bad body just processes zero events.
func (h *AnalyticsHandler) Batch(c *fiber.Ctx) error {
	var input service.BatchInput
	if err := c.BodyParser(&input); err != nil {
		h.logger.Debug("unparseable analytics batch", zap.Error(err))
		return c.JSON(BatchResponse{Success: true})
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	meta := service.RequestMeta{
		IPAddress: c.IP(),
		SessionID: h.fingerprinter.Derive(c.Cookies(httpUtil.SessionCookie), c.IP(), c.Get("User-Agent")),
	}

	processed := h.ingest.IngestBatch(ctx, input, meta)
	return c.JSON(BatchResponse{Success: true, Processed: processed})
}

// Flush handles POST /analytics/flush: an operator-triggered immediate
// drain. Unlike ingestion, failures here are surfaced.
func (h *AnalyticsHandler) Flush(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.scheduler.Drain(ctx)
	if err != nil {
		h.logger.Error("on-demand flush failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"flushed": result,
	})
}

// ClearAll handles DELETE /analytics/clear-all.
func (h *AnalyticsHandler) ClearAll(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.stats.ClearAll(ctx)
	if err != nil {
		h.logger.Error("failed to clear analytics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to clear analytics",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"cleared": result,
	})
}

// Stats handles GET /analytics/stats[?uid=].
func (h *AnalyticsHandler) Stats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	if uid := c.Query("uid"); uid != "" {
		stats, err := h.stats.LinktreeStats(ctx, uid)
		if err != nil {
			h.logger.Error("failed to load linktree stats", zap.String("uid", uid), zap.Error(err))
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "linktree not found",
			})
		}
		return c.JSON(stats)
	}

	stats, err := h.stats.GlobalStats(ctx)
	if err != nil {
		h.logger.Error("failed to load global stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load stats",
		})
	}
	return c.JSON(stats)
}

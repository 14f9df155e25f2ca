package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/dashboard"
	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/internal/tracker"
	"github.com/civicsense/backend/pkg/logger"
)

// MetricsStore is the warehouse slice behind the dashboard's SQL-backed
// views.
type MetricsStore interface {
	GetFeedbackMetrics() ([]models.FeedbackMetricRow, error)
	GetCostMetrics() ([]models.CostMetricRow, error)
	GetLatencyMetrics() ([]models.LatencyMetricRow, error)
	GetDailyStats() ([]models.DailyStatRow, error)
	GetModelEvaluation() ([]models.EvaluationRow, error)
}

type DashboardHandler struct {
	log   *tracker.Log
	store MetricsStore
}

func NewDashboardHandler(log *tracker.Log, store MetricsStore) *DashboardHandler {
	return &DashboardHandler{
		log:   log,
		store: store,
	}
}

// HandleSummary aggregates the in-memory interaction log: totals,
// latency percentiles, cost, feedback averages, daily buckets and the
// day-over-day deltas.
func (h *DashboardHandler) HandleSummary(c *fiber.Ctx) error {
	interactions := h.log.Snapshot()

	summary := dashboard.Summarize(interactions)
	buckets := dashboard.ResampleDaily(interactions)

	return c.JSON(fiber.Map{
		"summary":      summary,
		"daily":        buckets,
		"day_over_day": dashboard.DayOverDay(buckets),
	})
}

func (h *DashboardHandler) HandleFeedback(c *fiber.Ctx) error {
	rows, err := h.store.GetFeedbackMetrics()
	if err != nil {
		return h.storeError(c, "feedback metrics", err)
	}
	return c.JSON(fiber.Map{"metrics": rows})
}

func (h *DashboardHandler) HandleCost(c *fiber.Ctx) error {
	rows, err := h.store.GetCostMetrics()
	if err != nil {
		return h.storeError(c, "cost metrics", err)
	}
	return c.JSON(fiber.Map{"metrics": rows})
}

func (h *DashboardHandler) HandleLatency(c *fiber.Ctx) error {
	rows, err := h.store.GetLatencyMetrics()
	if err != nil {
		return h.storeError(c, "latency metrics", err)
	}
	return c.JSON(fiber.Map{"metrics": rows})
}

func (h *DashboardHandler) HandleDaily(c *fiber.Ctx) error {
	rows, err := h.store.GetDailyStats()
	if err != nil {
		return h.storeError(c, "daily stats", err)
	}
	return c.JSON(fiber.Map{"stats": rows})
}

func (h *DashboardHandler) HandleEvaluation(c *fiber.Ctx) error {
	rows, err := h.store.GetModelEvaluation()
	if err != nil {
		return h.storeError(c, "model evaluation", err)
	}
	return c.JSON(fiber.Map{"evaluation": rows})
}

func (h *DashboardHandler) storeError(c *fiber.Ctx, what string, err error) error {
	logger.Error("Failed to load "+what, zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to load " + what,
	})
}

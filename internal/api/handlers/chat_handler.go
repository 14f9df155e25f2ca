package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/chat"
	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/pkg/logger"
)

// ConfigStore resolves named generation configurations for chat turns.
type ConfigStore interface {
	GetConfiguration(name string) (*models.Configuration, error)
}

type ChatHandler struct {
	engine  *chat.Engine
	configs ConfigStore
	history HistoryStore
}

// HistoryStore serves the recent-interaction listing.
type HistoryStore interface {
	GetRecentInteractions(limit int) ([]models.Interaction, error)
}

func NewChatHandler(engine *chat.Engine, configs ConfigStore, history HistoryStore) *ChatHandler {
	return &ChatHandler{
		engine:  engine,
		configs: configs,
		history: history,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		Query      string   `json:"query"`
		History    []string `json:"history"`
		ConfigName string   `json:"config_name"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	turn := chat.TurnRequest{
		Query:   req.Query,
		History: req.History,
	}

	if req.ConfigName != "" && h.configs != nil {
		config, err := h.configs.GetConfiguration(req.ConfigName)
		if err != nil {
			logger.Warn("Failed to load configuration, using default",
				zap.String("config_name", req.ConfigName),
				zap.Error(err),
			)
		} else if config == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Unknown configuration",
			})
		} else {
			turn.Config = config
		}
	}

	response := h.engine.ProcessTurn(c.Context(), turn)

	return c.JSON(response)
}

func (h *ChatHandler) GetHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	interactions, err := h.history.GetRecentInteractions(limit)
	if err != nil {
		logger.Error("Failed to load interaction history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	return c.JSON(fiber.Map{
		"history": interactions,
	})
}

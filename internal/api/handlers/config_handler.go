package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/pkg/logger"
)

// ConfigWriter is the warehouse slice the configuration endpoints use.
type ConfigWriter interface {
	ConfigStore
	InsertConfiguration(config *models.Configuration) error
	GetConfigurations() ([]models.Configuration, error)
}

type ConfigHandler struct {
	store ConfigWriter
}

func NewConfigHandler(store ConfigWriter) *ConfigHandler {
	return &ConfigHandler{store: store}
}

func (h *ConfigHandler) CreateConfiguration(c *fiber.Ctx) error {
	var req struct {
		Name          string  `json:"name"`
		ContextWindow int     `json:"context_window"`
		Temperature   float64 `json:"temperature"`
		TopP          float64 `json:"top_p"`
		MaxTokens     int     `json:"max_tokens"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Configuration name is required",
		})
	}
	if req.ContextWindow < 0 || req.MaxTokens < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Window and token limits must not be negative",
		})
	}
	if req.Temperature < 0 || req.Temperature > 2 || req.TopP < 0 || req.TopP > 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Sampling parameters out of range",
		})
	}

	config := &models.Configuration{
		Name:          req.Name,
		ContextWindow: req.ContextWindow,
		Temperature:   float32(req.Temperature),
		TopP:          float32(req.TopP),
		MaxTokens:     req.MaxTokens,
	}

	if err := h.store.InsertConfiguration(config); err != nil {
		logger.Error("Failed to store configuration",
			zap.String("config_name", req.Name),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store configuration",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(config)
}

func (h *ConfigHandler) ListConfigurations(c *fiber.Ctx) error {
	configs, err := h.store.GetConfigurations()
	if err != nil {
		logger.Error("Failed to list configurations", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list configurations",
		})
	}

	return c.JSON(fiber.Map{
		"configurations": configs,
	})
}

func (h *ConfigHandler) GetConfiguration(c *fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Configuration name is required",
		})
	}

	config, err := h.store.GetConfiguration(name)
	if err != nil {
		logger.Error("Failed to load configuration",
			zap.String("config_name", name),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load configuration",
		})
	}
	if config == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Configuration not found",
		})
	}

	return c.JSON(config)
}

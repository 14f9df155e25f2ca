// Package validation screens inbound chat and configuration payloads
// before they reach the handlers.
package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	sqlInjectionPattern = regexp.MustCompile(`(?i)(union|select|insert|update|delete|drop|create|alter|exec)\s`)
	xssPattern          = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
)

type Config struct {
	MaxQueryLength int
	Logger         *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost {
			contentType := c.Get("Content-Type")
			if contentType != "" && !strings.Contains(contentType, "application/json") {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		if strings.Contains(c.Path(), "/api/v1/chat") && c.Method() == fiber.MethodPost {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			query, ok := req["query"].(string)
			if !ok || strings.TrimSpace(query) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query is required and must be a string",
				})
			}

			if len(query) > cfg.MaxQueryLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query exceeds maximum length",
				})
			}

			if sqlInjectionPattern.MatchString(query) || xssPattern.MatchString(query) {
				cfg.Logger.Warn("Rejected suspicious query",
					zap.String("ip", c.IP()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid query content",
				})
			}
		}

		if strings.Contains(c.Path(), "/api/v1/configurations") && c.Method() == fiber.MethodPost {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			name, ok := req["name"].(string)
			if !ok || strings.TrimSpace(name) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Configuration name is required",
				})
			}
		}

		return c.Next()
	}
}

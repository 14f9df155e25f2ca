package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/civicsense/backend/pkg/logger"
)

// SourceReader fetches source-document previews and access URLs.
type SourceReader interface {
	Preview(ctx context.Context, relativePath string, maxSize int) (string, error)
	SignedURL(ctx context.Context, relativePath string) string
}

type SourceHandler struct {
	reader  SourceReader
	maxSize int
}

func NewSourceHandler(reader SourceReader, maxSize int) *SourceHandler {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &SourceHandler{
		reader:  reader,
		maxSize: maxSize,
	}
}

// HandlePreview returns a plain-text excerpt of a source document plus
// a short-lived URL for the full file.
func (h *SourceHandler) HandlePreview(c *fiber.Ctx) error {
	relativePath := c.Query("path")
	if relativePath == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "path is required",
		})
	}

	preview, err := h.reader.Preview(c.Context(), relativePath, h.maxSize)
	if err != nil {
		logger.Warn("Failed to build source preview",
			zap.String("path", relativePath),
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Source document unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"path":       relativePath,
		"preview":    preview,
		"signed_url": h.reader.SignedURL(c.Context(), relativePath),
	})
}

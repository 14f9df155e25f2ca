package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/chat"
	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/pkg/logger"
)

type WebSocketHandler struct {
	engine  *chat.Engine
	configs ConfigStore
}

func NewWebSocketHandler(engine *chat.Engine, configs ConfigStore) *WebSocketHandler {
	return &WebSocketHandler{
		engine:  engine,
		configs: configs,
	}
}

// HandleConnection serves one chat session over a websocket. The client
// keeps its own history and sends it with each question; the answer is
// streamed back word by word.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type       string   `json:"type"`
			Query      string   `json:"query"`
			History    []string `json:"history"`
			ConfigName string   `json:"config_name"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "chat" || msg.Query == "" {
			continue
		}

		logger.Info("Processing WebSocket chat turn", zap.String("query", msg.Query))

		turn := chat.TurnRequest{
			Query:   msg.Query,
			History: msg.History,
		}
		turn.Config = h.resolveConfig(msg.ConfigName)

		if err := h.streamTurn(c, turn); err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process question")
		}
	}
}

func (h *WebSocketHandler) resolveConfig(name string) *models.Configuration {
	if name == "" || h.configs == nil {
		return nil
	}
	config, err := h.configs.GetConfiguration(name)
	if err != nil {
		logger.Warn("Failed to load configuration, using default",
			zap.String("config_name", name),
			zap.Error(err),
		)
		return nil
	}
	return config
}

func (h *WebSocketHandler) streamTurn(c *websocket.Conn, turn chat.TurnRequest) error {
	h.sendChunk(c, "status", "Searching policy documents...")

	response := h.engine.ProcessTurn(context.Background(), turn)

	words := splitIntoWords(response.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}
		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":       "complete",
		"message_id": response.ID,
		"sources":    response.Sources,
		"latency_ms": response.LatencyMS,
	})
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/api/handlers"
	"github.com/civicsense/backend/internal/chat"
	"github.com/civicsense/backend/internal/metrics"
	"github.com/civicsense/backend/internal/middleware/ratelimit"
	"github.com/civicsense/backend/internal/middleware/security"
	"github.com/civicsense/backend/internal/middleware/validation"
	"github.com/civicsense/backend/internal/rag"
	"github.com/civicsense/backend/internal/scoring"
	"github.com/civicsense/backend/internal/session"
	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/internal/tracker"
	"github.com/civicsense/backend/pkg/config"
	appLogger "github.com/civicsense/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting CivicSense API Server",
		zap.String("app_version", cfg.App.Version),
	)

	metrics.Init()

	provider := session.NewProvider(cfg)
	defer provider.Close()

	warehouse, err := provider.Warehouse()
	if err != nil {
		appLogger.Fatal("Failed to open warehouse", zap.Error(err))
	}

	interactionLog := tracker.NewLog()
	trk := tracker.New(interactionLog, tracker.Pricing{
		PromptPerThousand:     cfg.Pricing.PromptPerThousand,
		CompletionPerThousand: cfg.Pricing.CompletionPerThousand,
		Currency:              cfg.Pricing.Currency,
	}, cfg.App.Version)

	llmClient := provider.LLM()
	predictor := rag.NewPredictor(llmClient)

	var scorer chat.Scorer
	if cfg.Scoring.Enabled {
		scorer = scoring.NewScorer(llmClient, cfg.Scoring.Model, cfg.Scoring.TimeoutSec)
	}

	var contextCache chat.ContextCache
	if cacheClient := provider.Cache(); cacheClient != nil {
		contextCache = cacheClient
	}

	engine := chat.NewEngine(predictor, provider.Search(), trk, scorer, warehouse, contextCache, chat.Options{
		RewriteEnabled: cfg.Chat.RewriteEnabled,
		ContextWindow:  cfg.Chat.ContextWindow,
		Currency:       cfg.Pricing.Currency,
		DefaultConfig: models.Configuration{
			Name:          "default",
			ContextWindow: cfg.Chat.ContextWindow,
			Temperature:   cfg.LLM.Temperature,
			TopP:          cfg.LLM.TopP,
			MaxTokens:     cfg.LLM.MaxTokens,
		},
		ScoringTimeout: time.Duration(cfg.Scoring.TimeoutSec) * 3 * time.Second,
	})

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		Logger: appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	chatHandler := handlers.NewChatHandler(engine, warehouse, warehouse)
	wsHandler := handlers.NewWebSocketHandler(engine, warehouse)
	configHandler := handlers.NewConfigHandler(warehouse)
	sourceHandler := handlers.NewSourceHandler(provider.Search(), cfg.Search.PreviewMaxSize)
	dashboardHandler := handlers.NewDashboardHandler(interactionLog, warehouse)

	api := app.Group("/api/v1")

	api.Post("/chat", chatHandler.HandleChat)
	api.Get("/chat/history", chatHandler.GetHistory)

	api.Use("/chat/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/chat/ws", websocket.New(wsHandler.HandleConnection))

	api.Post("/configurations", configHandler.CreateConfiguration)
	api.Get("/configurations", configHandler.ListConfigurations)
	api.Get("/configurations/:name", configHandler.GetConfiguration)

	api.Get("/sources/preview", sourceHandler.HandlePreview)

	api.Get("/dashboard/summary", dashboardHandler.HandleSummary)
	api.Get("/dashboard/feedback", dashboardHandler.HandleFeedback)
	api.Get("/dashboard/cost", dashboardHandler.HandleCost)
	api.Get("/dashboard/latency", dashboardHandler.HandleLatency)
	api.Get("/dashboard/daily", dashboardHandler.HandleDaily)
	api.Get("/dashboard/evaluation", dashboardHandler.HandleEvaluation)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if _, err := provider.Warehouse(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// Package ratelimit is a per-client token-bucket limiter for the chat
// and dashboard routes.
package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	maxTokens  int
	refillRate time.Duration
	logger     *zap.Logger
	sweeper    *time.Ticker
}

type Config struct {
	RequestsPerMinute int
	Window            time.Duration
	Logger            *zap.Logger
}

func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Window == 0 {
		cfg.Window = time.Minute
	}

	l := &Limiter{
		buckets:    make(map[string]*bucket),
		maxTokens:  cfg.RequestsPerMinute,
		refillRate: cfg.Window / time.Duration(cfg.RequestsPerMinute),
		logger:     cfg.Logger,
		sweeper:    time.NewTicker(5 * time.Minute),
	}

	go l.sweep()

	return l
}

// Middleware limits by session when X-Session-ID is present, otherwise
// by client IP.
func (l *Limiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if sessionID := c.Get("X-Session-ID"); sessionID != "" {
			key = sessionID
		}

		if !l.allow(key) {
			l.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (l *Limiter) allow(key string) bool {
	l.mu.RLock()
	b, exists := l.buckets[key]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		b, exists = l.buckets[key]
		if !exists {
			b = &bucket{
				tokens:     l.maxTokens,
				lastRefill: time.Now(),
			}
			l.buckets[key] = b
		}
		l.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	refilled := int(now.Sub(b.lastRefill) / l.refillRate)
	if refilled > 0 {
		b.tokens += refilled
		if b.tokens > l.maxTokens {
			b.tokens = l.maxTokens
		}
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	return false
}

func (l *Limiter) sweep() {
	for range l.sweeper.C {
		l.mu.Lock()
		now := time.Now()
		for key, b := range l.buckets {
			b.mu.Lock()
			if now.Sub(b.lastRefill) > 10*time.Minute {
				delete(l.buckets, key)
			}
			b.mu.Unlock()
		}
		l.mu.Unlock()
	}
}

func (l *Limiter) Stop() {
	l.sweeper.Stop()
}

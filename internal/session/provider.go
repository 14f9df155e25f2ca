// Package session owns the process-scoped handles to the external
// services. Handles are created lazily on first use and memoized;
// concurrent first use never creates duplicates because initialization
// happens under the provider lock. A failed initialization leaves the
// slot empty so a later call can try again.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/cache/redis"
	"github.com/civicsense/backend/internal/llm"
	"github.com/civicsense/backend/internal/search"
	"github.com/civicsense/backend/internal/storage/sqlite"
	"github.com/civicsense/backend/pkg/config"
	"github.com/civicsense/backend/pkg/logger"
)

type Provider struct {
	cfg *config.Config

	mu        sync.Mutex
	search    *search.Client
	llm       *llm.Client
	warehouse *sqlite.Client
	cache     *redis.Client
}

func NewProvider(cfg *config.Config) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Search() *search.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.search == nil {
		p.search = search.NewClient(search.Config{
			Endpoint:      p.cfg.Search.Endpoint,
			APIKey:        p.cfg.Search.APIKey,
			Service:       p.cfg.Search.Service,
			StageLocation: p.cfg.Search.StageLocation,
			TimeoutSec:    p.cfg.Search.TimeoutSec,
		})
	}
	return p.search
}

func (p *Provider) LLM() *llm.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.llm == nil {
		p.llm = llm.NewClient(llm.Config{
			Endpoint:    p.cfg.LLM.Endpoint,
			APIKey:      p.cfg.LLM.APIKey,
			Model:       p.cfg.LLM.Model,
			Temperature: p.cfg.LLM.Temperature,
			TopP:        p.cfg.LLM.TopP,
			MaxTokens:   p.cfg.LLM.MaxTokens,
			TimeoutSec:  p.cfg.LLM.TimeoutSec,
		})
	}
	return p.llm
}

func (p *Provider) Warehouse() (*sqlite.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.warehouse == nil {
		client, err := sqlite.NewClient(p.cfg.Warehouse.Path)
		if err != nil {
			return nil, err
		}
		if err := client.InitSchema(); err != nil {
			client.Close()
			return nil, err
		}
		p.warehouse = client
	}
	return p.warehouse, nil
}

// Cache returns the redis handle, or nil when caching is disabled or
// the server is unreachable. An unreachable cache is logged once per
// attempt and treated as absent by callers.
func (p *Provider) Cache() *redis.Client {
	if !p.cfg.Redis.Enabled {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cache == nil {
		client, err := redis.NewClient(
			p.cfg.Redis.Host,
			p.cfg.Redis.Port,
			p.cfg.Redis.Password,
			p.cfg.Redis.DB,
			time.Duration(p.cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			logger.Warn("Cache unavailable, continuing without it", zap.Error(err))
			return nil
		}
		p.cache = client
	}
	return p.cache
}

func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.warehouse != nil {
		p.warehouse.Close()
		p.warehouse = nil
	}
	if p.cache != nil {
		p.cache.Close()
		p.cache = nil
	}
}

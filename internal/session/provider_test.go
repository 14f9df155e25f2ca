package session

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsense/backend/internal/search"
	"github.com/civicsense/backend/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Search:    config.SearchConfig{Endpoint: "http://localhost:9200", Service: "TEST"},
		LLM:       config.LLMConfig{Model: "test-model"},
		Warehouse: config.WarehouseConfig{Path: filepath.Join(t.TempDir(), "test.db")},
		Redis:     config.RedisConfig{Enabled: false},
	}
}

func TestSearchHandleIsMemoized(t *testing.T) {
	provider := NewProvider(testConfig(t))

	first := provider.Search()
	second := provider.Search()
	assert.Same(t, first, second)
}

func TestConcurrentFirstUseCreatesOneHandle(t *testing.T) {
	provider := NewProvider(testConfig(t))

	var wg sync.WaitGroup
	handles := make([]*search.Client, 20)
	for i := range handles {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			handles[n] = provider.Search()
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestWarehouseInitializesSchema(t *testing.T) {
	provider := NewProvider(testConfig(t))
	defer provider.Close()

	warehouse, err := provider.Warehouse()
	require.NoError(t, err)

	again, err := provider.Warehouse()
	require.NoError(t, err)
	assert.Same(t, warehouse, again)

	// Schema exists: a read on a fresh warehouse returns zero rows,
	// not a missing-table error.
	interactions, err := warehouse.GetRecentInteractions(5)
	require.NoError(t, err)
	assert.Empty(t, interactions)
}

func TestCacheDisabled(t *testing.T) {
	provider := NewProvider(testConfig(t))
	assert.Nil(t, provider.Cache())
}

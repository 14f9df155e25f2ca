package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Search    SearchConfig
	LLM       LLMConfig
	Warehouse WarehouseConfig
	Redis     RedisConfig
	Pricing   PricingConfig
	Scoring   ScoringConfig
	Chat      ChatConfig
	Logging   LoggingConfig
	App       AppConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SearchConfig struct {
	Endpoint       string
	APIKey         string
	Service        string
	StageLocation  string
	DefaultLimit   int
	TimeoutSec     int
	PreviewMaxSize int
}

type LLMConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int
	TimeoutSec  int
}

type WarehouseConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

// PricingConfig holds the per-1000-token rates used for cost estimation.
// Rates are configuration, never compiled-in constants.
type PricingConfig struct {
	PromptPerThousand     float64
	CompletionPerThousand float64
	Currency              string
}

type ScoringConfig struct {
	Enabled    bool
	Model      string
	TimeoutSec int
}

type ChatConfig struct {
	RewriteEnabled bool
	ContextWindow  int
	HistoryLimit   int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type AppConfig struct {
	Name    string
	Version string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/civicsense")

	viper.SetEnvPrefix("CIVICSENSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("search.endpoint", "http://localhost:9200")
	viper.SetDefault("search.service", "CC_SEARCH_SERVICE_CS")
	viper.SetDefault("search.stageLocation", "@docs")
	viper.SetDefault("search.defaultLimit", 4)
	viper.SetDefault("search.timeoutSec", 10)
	viper.SetDefault("search.previewMaxSize", 5000)

	viper.SetDefault("llm.model", "mistral-large2")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.topP", 1.0)
	viper.SetDefault("llm.maxTokens", 500)
	viper.SetDefault("llm.timeoutSec", 30)

	viper.SetDefault("warehouse.path", "./data/civicsense.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 300)

	viper.SetDefault("pricing.promptPerThousand", 0.7)
	viper.SetDefault("pricing.completionPerThousand", 2.0)
	viper.SetDefault("pricing.currency", "USD")

	viper.SetDefault("scoring.enabled", true)
	viper.SetDefault("scoring.model", "mistral-large2")
	viper.SetDefault("scoring.timeoutSec", 30)

	viper.SetDefault("chat.rewriteEnabled", true)
	viper.SetDefault("chat.contextWindow", 4)
	viper.SetDefault("chat.historyLimit", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")

	viper.SetDefault("app.name", "CivicSense")
	viper.SetDefault("app.version", "1.0")
}

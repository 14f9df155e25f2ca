package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/civicsense/backend/pkg/circuitbreaker"
	"github.com/civicsense/backend/pkg/logger"
	"github.com/civicsense/backend/pkg/retry"
)

// Client wraps the managed completion service. The service consumes a
// model identifier plus prompt text and returns free text; structured
// output is never assumed.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	topP        float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryPolicy retry.Policy
}

type CompletionRequest struct {
	Model       string
	Prompt      string
	Temperature float32
	TopP        float32
	MaxTokens   int
}

type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int
	TimeoutSec  int
}

func NewClient(cfg Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryPolicy := retry.Policy{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	logger.Info("LLM client initialized", zap.String("model", cfg.Model))

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		cb:          cb,
		retryPolicy: retryPolicy,
	}
}

// Complete issues one completion call and returns the raw text.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	topP := req.TopP
	if topP == 0 {
		topP = c.topP
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	var content string

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryPolicy, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model: model,
					Messages: []openai.ChatCompletionMessage{
						{
							Role:    openai.ChatMessageRoleUser,
							Content: req.Prompt,
						},
					},
					Temperature: temperature,
					TopP:        topP,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			content = resp.Choices[0].Message.Content

			logger.Debug("Completion generated",
				zap.String("model", model),
				zap.Int("response_length", len(content)),
			)

			return nil
		})
	})

	if err != nil {
		return "", err
	}

	return content, nil
}

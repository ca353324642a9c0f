// Package ai implements content classification through an OpenAI-compatible
// chat completion endpoint. Failures are surfaced as errors and the caller
// treats them as non-matches.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/circuitbreaker"
)

const systemPrompt = "You are a content classifier. Given a content item as JSON and a " +
	"matching instruction, answer with exactly one word: yes or no."

// Config locates the classification endpoint.
type Config struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
}

// DefaultConfig returns the zero configuration with defaults applied.
// The endpoint and key still have to come from the deployment.
func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 8
	}
}

// Classifier answers yes/no matching questions about content items. It
// satisfies the matcher's classifier dependency.
type Classifier struct {
	cfg     Config
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
}

// NewClassifier builds a classifier with its own circuit breaker.
func NewClassifier(cfg Config, logger *zap.Logger) *Classifier {
	cfg.applyDefaults()
	return &Classifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New("ai-classifier", circuitbreaker.DefaultConfig(), logger),
		logger:  logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify asks the endpoint whether the item matches the prompt. The item
// summary is the JSON produced by the matcher.
func (c *Classifier) Classify(ctx context.Context, itemSummary, prompt string) (bool, error) {
	var matched bool
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		matched, callErr = c.classify(ctx, itemSummary, prompt)
		return callErr
	})
	return matched, err
}

func (c *Classifier) classify(ctx context.Context, itemSummary, prompt string) (bool, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Content item:\n%s\n\nInstruction: %s", itemSummary, prompt)},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return false, fmt.Errorf("encode classify request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("read classify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("classify endpoint returned %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return false, fmt.Errorf("decode classify response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return false, fmt.Errorf("classify response has no choices")
	}

	answer := strings.ToLower(strings.TrimSpace(parsed.Choices[0].Message.Content))
	matched := strings.HasPrefix(answer, "yes")
	c.logger.Debug("Classification completed",
		zap.String("answer", answer),
		zap.Bool("matched", matched))
	return matched, nil
}

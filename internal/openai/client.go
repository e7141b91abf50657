// Package openai is the single integration point with the OpenAI
// chat-completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"opinionsim/internal/common/config"
	apperrors "opinionsim/internal/common/errors"
	"opinionsim/internal/common/logger"
	"opinionsim/internal/common/metrics"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Client sends one chat request per call and holds no state between calls.
type Client struct {
	cfg config.OpenAIConfig
	// No client-level timeout; the per-request context owns the deadline.
	httpClient *http.Client
	logger     logger.Logger
}

func NewClient(cfg config.OpenAIConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     log.With(map[string]interface{}{"component": "openai"}),
	}
}

// Complete sends a system+user chat exchange for the given pipeline stage
// and returns the model's raw text. Transport and provider failures are
// retried with bounded exponential backoff inside the configured timeout;
// on exhaustion they surface uniformly as a model-call error.
func (c *Client) Complete(ctx context.Context, stage, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout())
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", apperrors.NewModelCallFailedError(err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				metrics.ModelCalls.WithLabelValues(stage, "timeout").Inc()
				return "", apperrors.NewModelTimeoutError(stage)
			}
		}

		text, err := c.send(ctx, body)
		if err == nil {
			metrics.ModelCalls.WithLabelValues(stage, "success").Inc()
			c.logger.Info("model call completed", map[string]interface{}{
				"stage":       stage,
				"attempt":     attempt + 1,
				"outputBytes": len(text),
			})
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			metrics.ModelCalls.WithLabelValues(stage, "timeout").Inc()
			return "", apperrors.NewModelTimeoutError(stage)
		}

		c.logger.Warn("model call attempt failed", map[string]interface{}{
			"stage":   stage,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}

	metrics.ModelCalls.WithLabelValues(stage, "error").Inc()
	return "", apperrors.NewModelCallFailedError(lastErr)
}

func (c *Client) send(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var parsed chatResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != nil {
			return "", fmt.Errorf("provider error (status %d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("provider error (status %d)", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response envelope: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in provider response")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

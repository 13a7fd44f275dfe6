package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
)

const anthropicVersion = "2023-06-01"

type AnthropicConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// AnthropicClient calls the Messages API. The API key is chosen per call so each
// organization can bring its own.
type AnthropicClient struct {
	cfg        AnthropicConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewAnthropicClient(cfg AnthropicConfig, logger zerolog.Logger) *AnthropicClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "claude-3-5-sonnet-latest"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &AnthropicClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "anthropic").Logger(),
	}
}

type messagesRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	System    string              `json:"system,omitempty"`
	Messages  []entities.ChatTurn `json:"messages"`
	Tools     []entities.ToolSpec `json:"tools,omitempty"`
}

type messagesResponse struct {
	Content    []entities.ContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
}

func (c *AnthropicClient) Complete(ctx context.Context, apiKey string, req entities.CompletionRequest) (*entities.CompletionResponse, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, apperr.ErrMissingCredentials
	}
	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = c.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body, err := json.Marshal(messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  req.Messages,
		Tools:     req.Tools,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger.Error().Int("status", res.StatusCode).Str("body", string(respBody)).Msg("anthropic request failed")
		return nil, fmt.Errorf("anthropic failed with status %d", res.StatusCode)
	}

	var decoded messagesResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	return &entities.CompletionResponse{Content: decoded.Content, StopReason: decoded.StopReason}, nil
}

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

	"whatsapp_ai_backend/internal/entities"
)

type RerankConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// RerankClient talks to a Cohere/Jina-compatible /rerank endpoint.
type RerankClient struct {
	cfg        RerankConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewRerankClient(cfg RerankConfig, logger zerolog.Logger) *RerankClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.cohere.com/v2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &RerankClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "rerank").Logger(),
	}
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (c *RerankClient) Rerank(ctx context.Context, query string, documents []string, topK int) ([]entities.RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{
		"model":     c.cfg.Model,
		"query":     query,
		"documents": documents,
		"top_n":     topK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(res.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger.Warn().Int("status", res.StatusCode).Str("body", string(respBody)).Msg("rerank request failed")
		return nil, fmt.Errorf("rerank failed with status %d", res.StatusCode)
	}

	var decoded rerankResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	out := make([]entities.RerankResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		out = append(out, entities.RerankResult{Index: r.Index, Score: r.RelevanceScore})
	}
	return out, nil
}

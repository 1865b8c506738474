// Package openai is a minimal embeddings client for the semantic strength
// factor. The HTTP surface is hand-rolled; request failures are retried with
// bounded exponential backoff before the caller falls back to lexical
// similarity.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yungbote/scholargraph-backend/internal/platform/envutil"
	"github.com/yungbote/scholargraph-backend/internal/platform/logger"
)

const embeddingsPath = "/v1/embeddings"

type Client struct {
	log        *logger.Logger
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	httpClient *http.Client
}

// NewFromEnv returns (nil, nil) when OPENAI_API_KEY is unset; the strength
// calculator then uses its n-gram fallback.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("openai: logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, nil
	}
	return &Client{
		log:        log.With("client", "OpenAIEmbedder"),
		apiKey:     apiKey,
		baseURL:    envutil.String("OPENAI_BASE_URL", "https://api.openai.com"),
		model:      envutil.String("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		maxRetries: envutil.Int("OPENAI_MAX_RETRIES", 3),
		httpClient: &http.Client{Timeout: envutil.Duration("OPENAI_HTTP_TIMEOUT", 30*time.Second)},
	}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embedResponse
	if err := c.do(ctx, embedRequest{Model: c.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: requested %d vectors, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, status, err := c.doOnce(ctx, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode: %w", uErr)
			}
			return nil
		}

		if !retryableStatus(status) || attempt == c.maxRetries {
			return err
		}

		c.log.Warn("OpenAI request retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"status", status,
			"sleep", backoff.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func (c *Client) doOnce(ctx context.Context, body any) ([]byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+embeddingsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("openai http %d: %s", resp.StatusCode, string(raw))
	}
	return raw, resp.StatusCode, nil
}

// retryableStatus: network errors (status 0), rate limits, and 5xx.
func retryableStatus(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

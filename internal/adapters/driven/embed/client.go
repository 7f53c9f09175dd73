// Package embed talks to the asymmetric text-embedding service.
// The service exposes one endpoint per encoding mode (/query, /passage);
// the two modes are prefixed differently by the model and must never be
// collapsed into one.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
)

// Ensure Client implements EmbeddingService
var _ driven.EmbeddingService = (*Client)(nil)

// Client is an HTTP client for the embedding service.
// It never retries: retry accounting lives with the callers so the attempt
// budget is counted in exactly one place.
type Client struct {
	baseURL    string
	dimensions int
	client     *http.Client
}

// Config holds embedding service connection configuration.
type Config struct {
	// BaseURL is the embedding service endpoint (e.g. http://localhost:7860)
	BaseURL string

	// Dimensions is the model's output vector size
	Dimensions int

	// Timeout for HTTP requests
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for the e5-large family.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Dimensions: 1024,
		Timeout:    60 * time.Second,
	}
}

// NewClient creates a new embedding client.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		dimensions: cfg.Dimensions,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// embedRequest is the request body for the embedding service
type embedRequest struct {
	Text string `json:"text"`
}

// embedResponse is the response from the embedding service
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

// Embed generates an embedding for text in the given mode.
func (c *Client) Embed(ctx context.Context, text string, mode driven.EmbedMode) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is empty after trimming", domain.ErrInvalidInput)
	}

	switch mode {
	case driven.EmbedModeQuery, driven.EmbedModePassage:
	default:
		return nil, fmt.Errorf("%w: unknown embed mode %q", domain.ErrInvalidInput, mode)
	}

	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, mode)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrEmbeddingUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s",
			domain.ErrEmbeddingUnavailable, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var embResp embedResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", domain.ErrEmbeddingUnavailable, err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: response has no vector field", domain.ErrEmbeddingUnavailable)
	}

	return embResp.Embedding, nil
}

// Dimensions returns the embedding dimension size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// HealthCheck verifies the embedding service is available.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Embed(ctx, "health check", driven.EmbedModeQuery)
	return err
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// Package embedding provides embedding generation services.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrUpstreamService is the typed error raised when an individual embedding
// request fails or returns a malformed vector. Per spec it cancels the
// whole batch call.
var ErrUpstreamService = errors.New("UPSTREAM_SERVICE_ERROR")

// Embedder is the contract every caller depends on: embed an ordered
// sequence of texts into an ordered sequence of vectors, with at most
// concurrency requests in flight at once. A failed individual request
// cancels the whole batch with ErrUpstreamService.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, concurrency int) ([][]float32, error)
	Dimension() int
	Model() string
}

// Client is an Embedder backed by an OpenAI-compatible embeddings endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimension  int
}

// Config holds embedding client configuration.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int
	Timeout   time.Duration
}

// NewClient creates a new embedding client against an OpenAI-compatible
// /embeddings endpoint.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
	}, nil
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *embeddingError `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// embedOne sends a single-text request to the provider. One HTTP call per
// text keeps the in-flight request count (not the text count) the unit the
// caller's concurrency bound applies to.
func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: []string{text}, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrUpstreamService, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrUpstreamService, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %v", ErrUpstreamService, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstreamService, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp embeddingResponse
		if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("%w: %s", ErrUpstreamService, errResp.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamService, resp.StatusCode)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", ErrUpstreamService, err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding data", ErrUpstreamService)
	}

	vec := parsed.Data[0].Embedding
	if err := validateVector(vec, c.dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds texts with at most `concurrency` requests in flight,
// preserving input order in the output. A failure anywhere cancels the
// remaining in-flight requests and returns ErrUpstreamService.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, concurrency int) ([][]float32, error) {
	return embedBatch(ctx, texts, concurrency, c.embedOne)
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Dimension returns the configured embedding dimension.
func (c *Client) Dimension() int { return c.dimension }

// embedBatch is the shared bounded-concurrency fan-out used by both Client
// and MockClient.
func embedBatch(ctx context.Context, texts []string, concurrency int, embedOne func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := embedOne(gctx, text)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func validateVector(vec []float32, dimension int) error {
	if len(vec) != dimension {
		return fmt.Errorf("%w: expected dimension %d, got %d", ErrUpstreamService, dimension, len(vec))
	}
	for _, x := range vec {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: non-finite value in embedding", ErrUpstreamService)
		}
	}
	return nil
}

// MockClient is a deterministic, hash-based Embedder used in tests and in
// development when no provider credentials are configured.
type MockClient struct {
	dimension int
}

// NewMockClient creates a mock client that generates deterministic embeddings.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 768
	}
	return &MockClient{dimension: dimension}
}

// EmbedBatch generates deterministic embeddings through the same
// bounded-concurrency fan-out as Client. The per-text mock embedding never
// fails.
func (c *MockClient) EmbedBatch(ctx context.Context, texts []string, concurrency int) ([][]float32, error) {
	return embedBatch(ctx, texts, concurrency, c.embedOne)
}

func (c *MockClient) embedOne(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, c.dimension)
	for j, r := range text {
		if j >= c.dimension {
			break
		}
		vec[j%c.dimension] += float32(r) / 1000.0
	}
	return normalize(vec), nil
}

// Model returns the mock model name.
func (c *MockClient) Model() string { return "mock-embedding-model" }

// Dimension returns the embedding dimension.
func (c *MockClient) Dimension() int { return c.dimension }

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}

var (
	_ Embedder = (*Client)(nil)
	_ Embedder = (*MockClient)(nil)
)

package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ayane-dev/Kokoro/common/retry"
)

const (
	defaultEmbeddingBase    = "https://api.openai.com/v1"
	defaultEmbeddingModel   = "text-embedding-3-small"
	defaultEmbeddingTimeout = 30 * time.Second
)

// OpenAIEmbedderConfig configures the OpenAI-compatible embedding provider.
type OpenAIEmbedderConfig struct {
	// APIKey is the bearer token for authentication.
	APIKey string

	// BaseURL overrides the API endpoint. Defaults to the public OpenAI
	// endpoint when empty. Useful for Azure, Ollama, or local proxies.
	BaseURL string

	// Model is the embedding model. Defaults to text-embedding-3-small.
	Model string

	// Timeout is the per-request HTTP timeout. Defaults to 30 s.
	Timeout time.Duration
}

// OpenAIEmbedder implements Embedder against any OpenAI-compatible
// embeddings endpoint. Transient failures are retried with exponential
// backoff. Safe for concurrent use.
type OpenAIEmbedder struct {
	cfg    OpenAIEmbedderConfig
	client *http.Client
}

// NewOpenAIEmbedder creates an embedder from cfg, filling defaults.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEmbeddingBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultEmbeddingTimeout
	}
	return &OpenAIEmbedder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal embeddings wire types ---

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// errRateLimited marks HTTP 429 responses as retryable.
type errRateLimited struct{ msg string }

func (e errRateLimited) Error() string {
	return fmt.Sprintf("embedder openai: rate limit (HTTP 429): %s", e.msg)
}

// Embed calls the embeddings endpoint, retrying rate limits and transport
// errors with backoff. Empty input returns a nil vector without a call.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	var vec []float32
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		ShouldRetry: func(err error) bool {
			switch err.(type) {
			case errRateLimited:
				return true
			case apiError:
				return false
			}
			return true // transport-level failure
		},
	}, func() error {
		var err error
		vec, err = e.embedOnce(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// apiError is a non-retryable API-level rejection (bad request, auth).
type apiError struct{ msg string }

func (e apiError) Error() string { return e.msg }

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	data, err := json.Marshal(embeddingRequest{Input: text, Model: e.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("embedder openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.cfg.BaseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("embedder openai: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedder openai: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedder openai: read response body: %w", err)
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("embedder openai: decode response: %w", err)
	}

	if embResp.Error != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, errRateLimited{msg: embResp.Error.Message}
		}
		return nil, apiError{msg: fmt.Sprintf(
			"embedder openai: API error (%s): %s", embResp.Error.Type, embResp.Error.Message)}
	}
	if resp.StatusCode >= 400 {
		return nil, apiError{msg: fmt.Sprintf(
			"embedder openai: unexpected HTTP status %d", resp.StatusCode)}
	}
	if len(embResp.Data) == 0 {
		return nil, apiError{msg: "embedder openai: no embedding data returned"}
	}

	return embResp.Data[0].Embedding, nil
}

// Compile-time interface satisfaction check.
var _ Embedder = (*OpenAIEmbedder)(nil)

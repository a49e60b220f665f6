package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Config configures the HTTP embedding provider.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	Dimension     int
	MaxInputChars int // inputs beyond this are truncated at a rune boundary
}

// HTTPProvider talks to an OpenAI-compatible /embeddings endpoint.
type HTTPProvider struct {
	cfg    Config
	client *http.Client
}

// NewHTTP returns an HTTP-backed embedding provider.
func NewHTTP(cfg Config) *HTTPProvider {
	if cfg.MaxInputChars == 0 {
		cfg.MaxInputChars = 2000
	}
	return &HTTPProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (p *HTTPProvider) Dimension() int {
	return p.cfg.Dimension
}

func (p *HTTPProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = p.truncate(t)
	}

	respBody, err := p.doPost(ctx, "/v1/embeddings", embeddingRequest{
		Model: p.cfg.Model,
		Input: input,
	})
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrUnavailable, len(resp.Data), len(texts))
	}

	// Sort by index to ensure correct ordering.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrUnavailable, d.Index)
		}
		vecs[d.Index] = d.Embedding
	}

	for i, v := range vecs {
		if len(v) != p.cfg.Dimension {
			return nil, fmt.Errorf("%w: input %d produced dim %d, configured %d",
				ErrDimensionMismatch, i, len(v), p.cfg.Dimension)
		}
	}
	return vecs, nil
}

// truncate cuts text at the configured input budget on a rune boundary.
// Oversized inputs are embedded truncated rather than dropped.
func (p *HTTPProvider) truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= p.cfg.MaxInputChars {
		return text
	}
	slog.Warn("embed: truncating oversized input",
		"chars", len(runes),
		"limit", p.cfg.MaxInputChars,
	)
	return string(runes[:p.cfg.MaxInputChars])
}

const (
	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
)

// retryableStatusCode returns true for HTTP status codes that warrant a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func (p *HTTPProvider) doPost(ctx context.Context, path string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := p.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			slog.Warn("embed: retrying request",
				"url", url,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if p.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		lastErr = fmt.Errorf("%w: embedding API error %d: %s", ErrUnavailable, resp.StatusCode, string(respBody))
		if !retryableStatusCode(resp.StatusCode) {
			return nil, lastErr
		}

		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				select {
				case <-time.After(time.Duration(seconds) * time.Second):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

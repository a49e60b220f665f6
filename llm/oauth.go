package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OAuthClient implements Client against a chat-completion service that
// requires exchanging a static credential for a short-lived access
// token. The token is cached process-wide and refreshed eagerly before
// expiry; refresh is single-flight, so concurrent callers with a stale
// token trigger exactly one auth request.
type OAuthClient struct {
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time

	now func() time.Time // overridable in tests
}

// NewOAuth returns a client for the configured endpoints.
func NewOAuth(cfg Config) *OAuthClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TokenRefreshMargin == 0 {
		cfg.TokenRefreshMargin = 5 * time.Minute
	}
	return &OAuthClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"` // unix milliseconds
	ExpiresIn   int64  `json:"expires_in"` // seconds, alternative form
}

// token returns a valid access token, refreshing it when the remaining
// lifetime is inside the refresh margin. The mutex is held across the
// auth request: waiters re-check validity after acquiring it, so a
// burst of stale callers produces a single refresh.
func (c *OAuthClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.expiresAt.Add(-c.cfg.TokenRefreshMargin)) {
		return c.accessToken, nil
	}

	form := url.Values{"scope": {c.cfg.Scope}}
	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.AuthEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Authorization", "Basic "+c.cfg.Credential)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", fmt.Errorf("%w: reading auth response: %v", ErrAuthFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		// Auth error bodies may echo the credential; log the status only.
		return "", fmt.Errorf("%w: auth endpoint returned %d", ErrAuthFailed, resp.StatusCode)
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return "", fmt.Errorf("%w: decoding auth response: %v", ErrAuthFailed, err)
	}
	if auth.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthFailed)
	}

	c.accessToken = auth.AccessToken
	switch {
	case auth.ExpiresAt > 0:
		c.expiresAt = time.UnixMilli(auth.ExpiresAt)
	case auth.ExpiresIn > 0:
		c.expiresAt = c.now().Add(time.Duration(auth.ExpiresIn) * time.Second)
	default:
		c.expiresAt = c.now().Add(30 * time.Minute)
	}

	slog.Info("llm: access token refreshed", "expires_at", c.expiresAt)
	return c.accessToken, nil
}

// invalidate drops the cached token if it is still the one that failed,
// so concurrent 401s trigger at most one forced refresh.
func (c *OAuthClient) invalidate(tok string) {
	c.mu.Lock()
	if c.accessToken == tok {
		c.accessToken = ""
		c.expiresAt = time.Time{}
	}
	c.mu.Unlock()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate runs one completion, transparently retrying once after a
// forced token refresh when the service answers 401.
func (c *OAuthClient) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	tok, err := c.token(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Response{OK: false, Err: "auth"}, nil
	}

	resp, status, err := c.complete(ctx, tok, prompt, maxTokens, temperature)
	if status == http.StatusUnauthorized {
		c.invalidate(tok)
		tok, err = c.token(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return &Response{OK: false, Err: "auth"}, nil
		}
		resp, status, err = c.complete(ctx, tok, prompt, maxTokens, temperature)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("llm: generation failed", "status", status, "error", err)
		kind := "network"
		if status >= 500 {
			kind = "server"
		} else if status == http.StatusUnauthorized {
			kind = "auth"
		} else if status != 0 {
			kind = fmt.Sprintf("http_%d", status)
		}
		return &Response{OK: false, Err: kind}, nil
	}

	return resp, nil
}

// complete performs a single completion request. The returned status is
// zero for transport-level failures.
func (c *OAuthClient) complete(ctx context.Context, tok, prompt string, maxTokens int, temperature float64) (*Response, int, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		c.cfg.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	respBody, err := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, httpResp.StatusCode,
			fmt.Errorf("%w: status %d", ErrUnavailable, httpResp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, httpResp.StatusCode, fmt.Errorf("no choices in response")
	}

	model := parsed.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &Response{
		Text:       parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
		Model:      model,
		OK:         true,
	}, httpResp.StatusCode, nil
}

// HealthCheck issues a trivial prompt and reports whether the service
// produced a successful completion.
func (c *OAuthClient) HealthCheck(ctx context.Context) bool {
	resp, err := c.Generate(ctx, "Привет", 50, 0.1)
	return err == nil && resp.OK
}

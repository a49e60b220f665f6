// Package llm talks to the external chat-completion service, managing
// its two-step OAuth token lifecycle.
package llm

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAuthFailed indicates the access token could not be acquired.
	ErrAuthFailed = errors.New("llm: authentication failed")

	// ErrUnavailable indicates the generation service is unreachable.
	ErrUnavailable = errors.New("llm: service unavailable")
)

// Response is the structured result of a generation call. A failed call
// returns OK=false with Err set; callers decide whether to fall back.
type Response struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model"`
	OK         bool   `json:"ok"`
	Err        string `json:"error,omitempty"`
}

// Client generates text completions. Implementations must be safe for
// concurrent use.
type Client interface {
	// Generate runs one completion. Transport and auth failures are
	// reported in the Response, not as an error; the error return is
	// reserved for context cancellation.
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (*Response, error)

	// HealthCheck issues a trivial prompt and reports whether the
	// service answered.
	HealthCheck(ctx context.Context) bool
}

// Config configures the OAuth-backed client. Credential is the static
// long-lived authorization key; it is a secret and must never be logged.
type Config struct {
	Endpoint           string
	AuthEndpoint       string
	Scope              string
	Credential         string
	Model              string
	Timeout            time.Duration
	TokenRefreshMargin time.Duration
}

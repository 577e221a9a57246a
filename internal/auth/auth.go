// Package auth resolves a player's identity from the token presented on
// connect.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidToken means the identity service rejected the token.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUnavailable means no answer could be had from the identity service.
	// The gateway rejects the connection rather than trusting the client.
	ErrUnavailable = errors.New("auth: unavailable")
)

// DefaultTimeout bounds a single validation call.
const DefaultTimeout = 500 * time.Millisecond

// maxResponseBytes caps what is read from the identity service.
const maxResponseBytes = 64 << 10

// Identity is a validated player. ID is the stable key balances are stored
// under; Nickname and Country may be empty, in which case the client's own
// values are used.
type Identity struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Country  string `json:"country,omitempty"`
}

// Validator turns a token into an Identity. A nil Identity with a nil error
// means validation is disabled and the client is trusted.
type Validator interface {
	Validate(ctx context.Context, token string) (*Identity, error)
}

// HTTPValidator asks an external identity service about each token.
type HTTPValidator struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
}

// HTTPOption configures an HTTPValidator.
type HTTPOption func(*HTTPValidator)

// WithSecret sends secret in the X-Admin-Secret header.
func WithSecret(secret string) HTTPOption {
	return func(v *HTTPValidator) { v.secret = secret }
}

// WithTimeout bounds each call. Zero or negative keeps DefaultTimeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(v *HTTPValidator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(v *HTTPValidator) { v.client = c }
}

// NewHTTPValidator creates a validator that POSTs tokens to url.
func NewHTTPValidator(url string, opts ...HTTPOption) *HTTPValidator {
	v := &HTTPValidator{url: url, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(v)
	}
	if v.client == nil {
		v.client = &http.Client{Timeout: v.timeout}
	}
	return v
}

type validateRequest struct {
	Token string `json:"token"`
	Game  string `json:"game"`
}

type validateResponse struct {
	Valid    bool   `json:"valid"`
	PlayerID string `json:"player_id,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Country  string `json:"country,omitempty"`
}

func (v *HTTPValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := v.newRequest(ctx, token)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return decodeIdentity(io.LimitReader(resp.Body, maxResponseBytes))
}

func (v *HTTPValidator) newRequest(ctx context.Context, token string) (*http.Request, error) {
	body, err := json.Marshal(validateRequest{Token: token, Game: "blackjack"})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.secret != "" {
		req.Header.Set("X-Admin-Secret", v.secret)
	}
	return req, nil
}

func decodeIdentity(r io.Reader) (*Identity, error) {
	var out validateResponse
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if !out.Valid || out.PlayerID == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{
		ID:       out.PlayerID,
		Nickname: strings.TrimSpace(out.Nickname),
		Country:  normalizeCountry(out.Country),
	}, nil
}

// normalizeCountry upper-cases a two-letter country code and drops anything
// else.
func normalizeCountry(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 || code[0] < 'A' || code[0] > 'Z' || code[1] < 'A' || code[1] > 'Z' {
		return ""
	}
	return code
}

// StaticValidator accepts a fixed set of tokens. Useful for local play and
// tests.
type StaticValidator map[string]Identity

func (v StaticValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	id, ok := v[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return &id, nil
}

// NoopValidator trusts whatever nickname the client sends.
type NoopValidator struct{}

// NewNoopValidator creates a validator that allows all connections.
func NewNoopValidator() *NoopValidator {
	return &NoopValidator{}
}

func (v *NoopValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	return nil, nil
}

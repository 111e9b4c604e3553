package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"freightquote/internal/httpx"
)

// TokenPath is the identity endpoint relative to the identity host.
const TokenPath = "/access/v1/token/organization"

var (
	ErrMissingCredentials = errors.New("forecast: username and password are required")
	ErrMissingAccessToken = errors.New("forecast: token response has no accessToken")
)

// TokenError is a non-2xx answer from the identity endpoint.
type TokenError struct {
	StatusCode int
	Body       string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("forecast: token request -> %d: %s", e.StatusCode, e.Body)
}

// Token is a bearer token and the time it stops being valid.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

type TokenConfig struct {
	URL      string // full identity URL including TokenPath
	Username string
	Password string
	// Cache keeps the token until shortly before it expires. When false a
	// fresh token is requested for every forecast call.
	Cache bool
	// TTL is assumed when the identity service gives no expiry hint.
	TTL time.Duration
}

const (
	defaultTokenTTL = 20 * time.Minute
	expirySkew      = 30 * time.Second
	tokenTimeout    = 15 * time.Second
)

// TokenSource performs the credential exchange. Concurrent refreshes are
// coalesced so a burst of quotes pays for one token request.
type TokenSource struct {
	cfg    TokenConfig
	client httpx.HTTPClient
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cached *Token

	sf singleflight.Group
}

func NewTokenSource(cfg TokenConfig, hc httpx.HTTPClient, logger *slog.Logger) *TokenSource {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTokenTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenSource{cfg: cfg, client: hc, logger: logger, now: time.Now}
}

// Token returns a usable bearer token.
func (s *TokenSource) Token(ctx context.Context) (Token, error) {
	if s.cfg.Username == "" || s.cfg.Password == "" {
		return Token{}, ErrMissingCredentials
	}
	if !s.cfg.Cache {
		return s.fetch(ctx)
	}
	if tok, ok := s.valid(); ok {
		return tok, nil
	}

	v, err, shared := s.sf.Do("token", func() (any, error) {
		if tok, ok := s.valid(); ok {
			return tok, nil
		}
		// shared by every waiter: detached from the leader's cancellation
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenTimeout)
		defer cancel()
		tok, err := s.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached = &tok
		s.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return Token{}, err
	}
	s.logger.Debug("forecast token refreshed", "shared", shared)
	return v.(Token), nil
}

// Invalidate drops the cached token, e.g. after the forecast API rejected it.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *TokenSource) valid() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil || !s.now().Before(s.cached.ExpiresAt.Add(-expirySkew)) {
		return Token{}, false
	}
	return *s.cached, true
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string      `json:"accessToken"`
	ExpiresIn   json.Number `json:"expiresIn"`
	ExpiresWhen string      `json:"expiresWhen"`
}

func (s *TokenSource) fetch(ctx context.Context) (Token, error) {
	body, err := json.Marshal(tokenRequest{Username: s.cfg.Username, Password: s.cfg.Password})
	if err != nil {
		return Token{}, fmt.Errorf("encoding token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Token{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("performing token request: %w", err)
	}
	raw, err := httpx.ReadBody(res)
	if err != nil {
		return Token{}, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Token{}, &TokenError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if strings.TrimSpace(tr.AccessToken) == "" {
		return Token{}, ErrMissingAccessToken
	}
	return Token{AccessToken: tr.AccessToken, ExpiresAt: s.expiry(tr)}, nil
}

func (s *TokenSource) expiry(tr tokenResponse) time.Time {
	now := s.now()
	if secs, err := tr.ExpiresIn.Float64(); err == nil && secs > 0 {
		return now.Add(time.Duration(secs * float64(time.Second)))
	}
	if t, err := time.Parse(time.RFC3339Nano, tr.ExpiresWhen); err == nil {
		return t
	}
	return now.Add(s.cfg.TTL)
}

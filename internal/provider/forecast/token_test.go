package forecast

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"freightquote/internal/httpx/httpxmock"
)

const identityURL = "https://id.example" + TokenPath

func newTestSource(t *testing.T, hc *httpxmock.MockHTTPClient, cache bool, now *time.Time) *TokenSource {
	t.Helper()
	s := NewTokenSource(TokenConfig{URL: identityURL, Username: "ops", Password: "pw", Cache: cache}, hc, nil)
	s.now = func() time.Time { return *now }
	return s
}

func TestToken_PostsCredentials(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	httpClient := httpxmock.NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodPost, req.Method)
			require.Equal(t, identityURL, req.URL.String())
			var body map[string]string
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			require.Equal(t, map[string]string{"username": "ops", "password": "pw"}, body)
			return httpxmock.Response(http.StatusOK, "application/json", `{"accessToken":"tok-1","expiresIn":3600}`), nil
		})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newTestSource(t, httpClient, false, &now)

	// Act
	tok, err := s.Token(t.Context())

	// Assert
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok.AccessToken)
	require.Equal(t, now.Add(time.Hour), tok.ExpiresAt)
}

func TestToken_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "missing access token",
			status: http.StatusOK,
			body:   `{"expiresIn":3600}`,
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, ErrMissingAccessToken) },
		},
		{
			name:   "rejected credentials",
			status: http.StatusUnauthorized,
			body:   `{"error":"invalid_grant"}`,
			check: func(t *testing.T, err error) {
				var te *TokenError
				require.True(t, errors.As(err, &te))
				require.Equal(t, http.StatusUnauthorized, te.StatusCode)
				require.Equal(t, `{"error":"invalid_grant"}`, te.Body)
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `not json`,
			check:  func(t *testing.T, err error) { require.ErrorContains(t, err, "decode token response") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			httpClient := httpxmock.NewMockHTTPClient(ctrl)
			httpClient.EXPECT().Do(gomock.Any()).Return(httpxmock.Response(tt.status, "application/json", tt.body), nil)
			now := time.Now()
			s := newTestSource(t, httpClient, true, &now)

			_, err := s.Token(t.Context())

			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestToken_MissingCredentialsSkipsCall(t *testing.T) {
	t.Parallel()

	// Arrange: no EXPECT, any call fails the test.
	ctrl := gomock.NewController(t)
	httpClient := httpxmock.NewMockHTTPClient(ctrl)
	s := NewTokenSource(TokenConfig{URL: identityURL, Username: "ops"}, httpClient, nil)

	// Act
	_, err := s.Token(t.Context())

	// Assert
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestToken_WithoutCacheFetchesEveryTime(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	httpClient := httpxmock.NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			return httpxmock.Response(http.StatusOK, "application/json", `{"accessToken":"tok","expiresIn":3600}`), nil
		}).
		Times(2)
	now := time.Now()
	s := newTestSource(t, httpClient, false, &now)

	// Act
	_, err1 := s.Token(t.Context())
	_, err2 := s.Token(t.Context())

	// Assert
	require.NoError(t, err1)
	require.NoError(t, err2)
}

func TestToken_CacheReusesUntilSkewedExpiry(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	httpClient := httpxmock.NewMockHTTPClient(ctrl)
	var n atomic.Int32
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			id := n.Add(1)
			return httpxmock.Response(http.StatusOK, "application/json",
				`{"accessToken":"tok-`+string(rune('0'+id))+`","expiresIn":600}`), nil
		}).
		Times(2)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newTestSource(t, httpClient, true, &now)

	// Act
	first, err := s.Token(t.Context())
	require.NoError(t, err)
	now = now.Add(9 * time.Minute)
	second, err := s.Token(t.Context())
	require.NoError(t, err)
	now = now.Add(31 * time.Second) // inside the 30s skew window
	third, err := s.Token(t.Context())
	require.NoError(t, err)

	// Assert
	require.Equal(t, "tok-1", first.AccessToken)
	require.Equal(t, "tok-1", second.AccessToken)
	require.Equal(t, "tok-2", third.AccessToken)
}

func TestToken_CacheCoalescesConcurrentRefreshes(t *testing.T) {
	t.Parallel()

	// Arrange: the identity call blocks until every caller is waiting.
	ctrl := gomock.NewController(t)
	httpClient := httpxmock.NewMockHTTPClient(ctrl)
	release := make(chan struct{})
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			<-release
			return httpxmock.Response(http.StatusOK, "application/json", `{"accessToken":"shared","expiresIn":600}`), nil
		}).
		Times(1)
	now := time.Now()
	s := newTestSource(t, httpClient, true, &now)

	// Act
	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := s.Token(t.Context())
			tokens[i], errs[i] = tok.AccessToken, err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// Assert
	for i := range callers {
		require.NoError(t, errs[i])
		require.Equal(t, "shared", tokens[i])
	}
}

func TestToken_ExpiryHints(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &TokenSource{cfg: TokenConfig{TTL: 5 * time.Minute}, now: func() time.Time { return now }}

	require.Equal(t, now.Add(90*time.Second), s.expiry(tokenResponse{ExpiresIn: "90"}))
	require.Equal(t, time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC), s.expiry(tokenResponse{ExpiresWhen: "2026-01-01T13:00:00Z"}))
	require.Equal(t, now.Add(5*time.Minute), s.expiry(tokenResponse{}))
}

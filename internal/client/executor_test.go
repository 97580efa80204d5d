package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jgivc/recfetch/internal/common"
	"github.com/stretchr/testify/require"
)

type staticTokens string

func (s staticTokens) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

type failingTokens struct{ err error }

func (f failingTokens) AccessToken(context.Context) (string, error) {
	return "", f.err
}

func newTestExecutor() *Executor {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	return NewExecutor(Config{}, log)
}

func doGet(t *testing.T, e *Executor, url string) (*http.Response, error) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)

	return e.Do(context.Background(), req)
}

func TestStatusClassification(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		headers   map[string]string
		body      string
		check     func(t *testing.T, err error)
		retryable bool
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"code":124,"message":"Invalid access token."}`,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, common.ErrInvalidTokenError)
				require.Contains(t, err.Error(), "Invalid access token.")
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, common.ErrAuthenticationError)
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				var apiErr *common.APIError
				require.ErrorAs(t, err, &apiErr)
				require.Equal(t, 404, apiErr.Code)
			},
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   "plain failure",
			check: func(t *testing.T, err error) {
				var apiErr *common.APIError
				require.ErrorAs(t, err, &apiErr)
				require.Equal(t, "plain failure", apiErr.Message)
			},
		},
		{
			name:      "server error",
			status:    http.StatusBadGateway,
			retryable: true,
			check: func(t *testing.T, err error) {
				var apiErr *common.APIError
				require.ErrorAs(t, err, &apiErr)
				require.Equal(t, 502, apiErr.Code)
			},
		},
		{
			name:      "rate limited with header",
			status:    http.StatusTooManyRequests,
			headers:   map[string]string{HeaderRetryAfter: "3"},
			retryable: true,
			check: func(t *testing.T, err error) {
				d, ok := common.RetryAfter(err)
				require.True(t, ok)
				require.Equal(t, 3*time.Second, d)
			},
		},
		{
			name:      "rate limited default",
			status:    http.StatusTooManyRequests,
			retryable: true,
			check: func(t *testing.T, err error) {
				d, ok := common.RetryAfter(err)
				require.True(t, ok)
				require.Equal(t, common.DefaultRetryAfter, d)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			resp, err := doGet(t, newTestExecutor(), srv.URL)
			require.Nil(t, resp)
			require.Error(t, err)
			tc.check(t, err)
			require.Equal(t, tc.retryable, common.IsRetryable(err))
		})
	}
}

func TestRemainingQuotaRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderRateLimitRemaining, "42")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := newTestExecutor()
	require.Equal(t, -1, e.RateLimit().RemainingQuota)

	resp, err := doGet(t, e, srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, 42, e.RateLimit().RemainingQuota)
	require.False(t, e.RateLimit().LastRequestAt.IsZero())
}

func TestPacingEnforcesMinimumInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	e := newTestExecutor()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var (
		mu     sync.Mutex
		waited []time.Duration
	)
	e.SetNow(func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		return clock
	})
	e.SetSleep(func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		waited = append(waited, d)
		clock = clock.Add(d)

		return nil
	})

	for i := 0; i < 3; i++ {
		resp, err := doGet(t, e, srv.URL)
		require.NoError(t, err)
		resp.Body.Close()

		mu.Lock()
		clock = clock.Add(10 * time.Millisecond)
		mu.Unlock()
	}

	require.Equal(t, []time.Duration{40 * time.Millisecond, 40 * time.Millisecond}, waited)
}

func TestPacingRespectsContext(t *testing.T) {
	e := newTestExecutor()
	e.state.LastRequestAt = time.Now()
	e.cfg.MinInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1", nil)
	require.NoError(t, err)

	_, err = e.Do(ctx, req)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDoAuthorizedSetsBearer(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"name":"x"}`))
	}))
	defer srv.Close()

	var out struct {
		Name string `json:"name"`
	}
	err := newTestExecutor().GetJSON(context.Background(), srv.URL, staticTokens("tok-1"), &out)
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-1", got)
	require.Equal(t, "x", out.Name)
}

func TestDoAuthorizedPropagatesTokenError(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1", nil)
	require.NoError(t, err)

	_, err = newTestExecutor().DoAuthorized(context.Background(), req, failingTokens{err: common.Authentication("refresh failed")})
	require.ErrorIs(t, err, common.ErrAuthenticationError)
}

func TestTransportErrorIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := doGet(t, newTestExecutor(), url)
	require.ErrorIs(t, err, common.ErrNetworkError)
	require.True(t, common.IsRetryable(err))
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	e := NewExecutor(Config{RequestTimeout: 50 * time.Millisecond}, log)

	_, err := doGet(t, e, srv.URL)
	require.True(t, errors.Is(err, common.ErrTimeoutError), "got %v", err)
}

func TestParseRetryAfterDate(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	require.Equal(t, time.Duration(0), parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
	require.Equal(t, common.DefaultRetryAfter, parseRetryAfter("soon", now))
}

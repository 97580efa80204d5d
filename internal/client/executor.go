package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/entity"
)

const (
	DefaultMinInterval = 50 * time.Millisecond // ~20 requests per second

	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"

	maxErrorBodySize = 4096
)

// TokenSource supplies the bearer token for authenticated requests.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type Config struct {
	MinInterval    time.Duration
	RequestTimeout time.Duration
}

// Executor is the single path for outbound HTTP calls. It paces requests,
// records the provider quota and classifies failed responses.
type Executor struct {
	http *http.Client
	cfg  Config

	mu    sync.Mutex // serializes pacing; guards state
	state entity.RateLimitState

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *slog.Logger
}

func NewExecutor(cfg Config, log *slog.Logger) *Executor {
	return NewExecutorWithClient(&http.Client{}, cfg, log)
}

func NewExecutorWithClient(httpClient *http.Client, cfg Config, log *slog.Logger) *Executor {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}

	return &Executor{
		http:  httpClient,
		cfg:   cfg,
		state: entity.RateLimitState{RemainingQuota: -1},
		now:   time.Now,
		sleep: sleepCtx,
		log:   log.With(slog.String("item", "Executor")),
	}
}

// SetNow overrides the time function (for testing).
func (e *Executor) SetNow(fn func() time.Time) {
	e.now = fn
}

// SetSleep overrides the pacing delay (for testing).
func (e *Executor) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

// RateLimit returns a snapshot of the pacing state.
func (e *Executor) RateLimit() entity.RateLimitState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Do sends req without credentials. On success the caller owns the response body.
// Non-2xx responses are closed and returned as classified errors.
func (e *Executor) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := e.pace(ctx); err != nil {
		return nil, err
	}

	if e.cfg.RequestTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
			resp, err := e.send(ctx, req)
			if err != nil {
				cancel()

				return nil, err
			}
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

			return resp, nil
		}
	}

	return e.send(ctx, req)
}

// DoAuthorized sends req with the bearer token current at issue time.
func (e *Executor) DoAuthorized(ctx context.Context, req *http.Request, tokens TokenSource) (*http.Response, error) {
	token, err := tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot get access token: %w", err)
	}

	req = req.Clone(ctx)
	req.Header.Set("Authorization", "Bearer "+token)

	return e.Do(ctx, req)
}

// GetJSON performs an authorized GET and decodes the JSON body into out.
func (e *Executor) GetJSON(ctx context.Context, url string, tokens TokenSource, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return common.Validation("cannot create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.DoAuthorized(ctx, req, tokens)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &common.APIError{Code: resp.StatusCode, Message: "invalid JSON: " + err.Error()}
	}

	return nil
}

func (e *Executor) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := e.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	e.observe(resp)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	err = classifyStatus(resp, body, e.now())
	e.log.Debug("Request failed", slog.String("method", req.Method), slog.String("host", req.URL.Host),
		slog.String("path", req.URL.Path), slog.Int("status", resp.StatusCode), slog.Any("error", err))

	return nil, err
}

// pace enforces the minimum interval between consecutive requests.
func (e *Executor) pace(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.LastRequestAt.IsZero() {
		if wait := e.cfg.MinInterval - e.now().Sub(e.state.LastRequestAt); wait > 0 {
			if err := e.sleep(ctx, wait); err != nil {
				return classifyTransportError(ctx, err)
			}
		}
	}

	e.state.LastRequestAt = e.now()

	return nil
}

func (e *Executor) observe(resp *http.Response) {
	v := resp.Header.Get(HeaderRateLimitRemaining)
	if v == "" {
		return
	}

	remaining, err := strconv.Atoi(v)
	if err != nil {
		return
	}

	e.mu.Lock()
	e.state.RemainingQuota = remaining
	e.mu.Unlock()
}

func classifyStatus(resp *http.Response, body []byte, now time.Time) error {
	msg := errorMessage(body)

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return &common.RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get(HeaderRetryAfter), now)}
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", common.ErrInvalidTokenError, msg)
	case code == http.StatusForbidden:
		return common.Authentication("insufficient scope: %s", msg)
	default:
		return &common.APIError{Code: code, Message: msg}
	}
}

func classifyTransportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", common.ErrTimeoutError, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", common.ErrNetworkError, err)
	}
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return common.DefaultRetryAfter
	}

	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}

		return 0
	}

	return common.DefaultRetryAfter
}

type providerError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
	Error   string `json:"error"`
}

func errorMessage(body []byte) string {
	var pe providerError
	if json.Unmarshal(body, &pe) == nil {
		switch {
		case pe.Message != "":
			return pe.Message
		case pe.Reason != "":
			return pe.Reason
		case pe.Error != "":
			return pe.Error
		}
	}

	return string(body)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()

	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

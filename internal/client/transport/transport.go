// Package transport executes authenticated HTTP requests against the
// StudyDeck API.
//
// A request answered with 401 triggers a token refresh and is replayed once
// with the new token. Concurrent 401s share a single refresh: the first one
// performs it, the rest wait in a FIFO queue and all receive the same
// outcome.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/atinyakov/studydeck/internal/client/credstore"
	"github.com/atinyakov/studydeck/internal/metrics"
	"go.uber.org/zap"
)

// RefreshPath is the token renewal endpoint, relative to the base URL.
const RefreshPath = "/api/auth/refresh"

const defaultRefreshTimeout = 10 * time.Second

type ctxKey int

const (
	retriedKey ctxKey = iota
	noRefreshKey
)

// WithoutRefresh marks requests made with ctx as exempt from the refresh
// protocol: a 401 is returned to the caller as is. Login, register and
// logout use it.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRefreshKey, true)
}

func flagged(ctx context.Context, key ctxKey) bool {
	v, _ := ctx.Value(key).(bool)
	return v
}

// Config configures a Transport.
type Config struct {
	// BaseURL is the API origin, e.g. https://studydeck.example.com.
	BaseURL string
	// HTTPClient performs every round trip, including refreshes. Its Jar
	// must hold the refresh cookie. Nil means NewHTTPClient(HTTPOptions{}).
	HTTPClient *http.Client
	// Store holds the access token.
	Store *credstore.Store
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Metrics may be nil.
	Metrics *metrics.Client
	// RefreshTimeout bounds one refresh call. Zero means 10s.
	RefreshTimeout time.Duration
}

type refreshResult struct {
	token string
	err   error
}

// Transport is an authenticated HTTP client.
type Transport struct {
	baseURL        string
	client         *http.Client
	store          *credstore.Store
	log            *zap.Logger
	metrics        *metrics.Client
	refreshTimeout time.Duration

	mu         sync.Mutex
	refreshing bool
	queue      []chan refreshResult

	hooksMu sync.Mutex
	hooks   []func(error)
}

// New creates a Transport.
func New(cfg Config) (*Transport, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("base url is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("credential store is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		c, err := NewHTTPClient(HTTPOptions{})
		if err != nil {
			return nil, err
		}
		client = c
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	return &Transport{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		client:         client,
		store:          cfg.Store,
		log:            log,
		metrics:        cfg.Metrics,
		refreshTimeout: timeout,
	}, nil
}

// OnSessionExpired registers fn to run after a failed refresh. fn receives
// the *RefreshError; its Rejected method tells a refused credential from a
// network or server failure. fn runs on the goroutine that performed the refresh, after all
// waiting requests have been released.
func (t *Transport) OnSessionExpired(fn func(error)) {
	t.hooksMu.Lock()
	defer t.hooksMu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// Do sends req with the current access token. A 2xx response is returned
// as is and the caller must close its body. Any other status is
// returned as *APIError. A first 401 is resolved through a token refresh
// and a single replay; if the refresh fails the error is a *RefreshError.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	ctx := req.Context()
	sent := t.store.Get()
	resp, err := t.send(req.Clone(ctx), body, sent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || flagged(ctx, noRefreshKey) || flagged(ctx, retriedKey) {
		return finish(resp)
	}
	drain(resp)

	token, err := t.awaitToken(ctx, sent)
	if err != nil {
		return nil, err
	}

	retryCtx := context.WithValue(ctx, retriedKey, true)
	resp, err = t.send(req.Clone(retryCtx), body, token)
	if err != nil {
		t.metrics.Replay(false)
		return nil, err
	}
	t.metrics.Replay(resp.StatusCode < 300)
	return finish(resp)
}

// JSON sends in as a JSON body to path and decodes a JSON response into
// out. Either may be nil.
func (t *Transport) JSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// awaitToken returns a fresh access token. The first caller performs the
// refresh; callers arriving while it is in flight wait for its result.
// sent is the token the failed request carried.
func (t *Transport) awaitToken(ctx context.Context, sent string) (string, error) {
	t.mu.Lock()
	if t.refreshing {
		ch := make(chan refreshResult, 1)
		t.queue = append(t.queue, ch)
		t.mu.Unlock()
		t.metrics.Queued()

		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	// A refresh finished after this request was sent.
	if cur := t.store.Get(); cur != "" && cur != sent {
		t.mu.Unlock()
		return cur, nil
	}
	t.refreshing = true
	t.mu.Unlock()

	token, err := t.refresh(ctx)

	t.mu.Lock()
	queue := t.queue
	t.queue = nil
	t.refreshing = false
	t.mu.Unlock()

	res := refreshResult{token: token, err: err}
	for _, ch := range queue {
		ch <- res
	}

	if err != nil {
		t.sessionExpired(err)
	}
	return token, err
}

// refresh calls the renewal endpoint through the bare HTTP client and
// stores the new token. It is detached from the caller's cancellation so
// the waiters queued behind it are not failed by one cancelled request.
func (t *Transport) refresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.refreshTimeout)
	defer cancel()

	t.log.Debug("refreshing access token")
	start := time.Now()

	token, err := t.callRefresh(ctx)
	if err != nil {
		t.metrics.Refresh(false)
		t.log.Warn("token refresh failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return "", &RefreshError{Err: err}
	}

	if err := t.store.Set(token); err != nil {
		t.log.Warn("failed to persist refreshed token", zap.Error(err))
	}
	t.metrics.Refresh(true)
	t.log.Debug("access token refreshed", zap.Duration("elapsed", time.Since(start)))
	return token, nil
}

func (t *Transport) callRefresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+RefreshPath, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("refresh response has no access token")
	}
	return out.AccessToken, nil
}

func (t *Transport) sessionExpired(err error) {
	t.hooksMu.Lock()
	hooks := append([]func(error){}, t.hooks...)
	t.hooksMu.Unlock()

	for _, fn := range hooks {
		fn(err)
	}
}

func (t *Transport) send(req *http.Request, body []byte, token string) (*http.Response, error) {
	if body != nil {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		req.ContentLength = int64(len(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Del("Authorization")
	}
	return t.client.Do(req)
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}

func finish(resp *http.Response) (*http.Response, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeAPIError(resp)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

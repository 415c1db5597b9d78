package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bookingsync/internal/metrics"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const maxErrorBody = 64 << 10

type idempotencyKeyCtx struct{}

// WithIdempotencyKey attaches the outbound idempotency key to ctx. REST clients
// send it as the Idempotency-Key header.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// IdempotencyKeyFrom returns the key set by WithIdempotencyKey.
func IdempotencyKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return key
}

// RESTClient is the JSON transport shared by REST adapters. Calls are throttled
// by a token bucket and guarded by a circuit breaker shared per provider.
type RESTClient struct {
	provider string
	baseURL  string
	http     *http.Client
	guard    *Guard
	decorate func(*http.Request)
}

// Guard throttles and circuit-breaks calls to one provider. SDK-based adapters
// use it directly; REST adapters get it through RESTClient.
type Guard struct {
	provider string
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
}

// Guard returns the limiter and breaker shared by every adapter of provider.
func (o Options) Guard(provider string) *Guard {
	pool := o.pool
	if pool == nil {
		pool = newTransportPool(o.RPS, o.Burst)
	}
	lim, cb := pool.get(provider)
	return &Guard{provider: provider, limiter: lim, breaker: cb}
}

// Do waits for a token and runs fn inside the breaker. fn should return
// *ProviderError for remote failures so client errors do not trip the breaker.
func (g *Guard) Do(ctx context.Context, fn func() error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return &ProviderError{Provider: g.provider, Message: "throttle wait", Err: err}
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &ProviderError{Provider: g.provider, Message: "circuit open", Err: err}
	}
	return err
}

// NewRESTClient builds a client for provider rooted at baseURL. decorate adds auth headers.
func (o Options) NewRESTClient(provider, baseURL string, decorate func(*http.Request)) *RESTClient {
	return &RESTClient{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     o.Client(),
		guard:    o.Guard(provider),
		decorate: decorate,
	}
}

// Do sends a JSON request and decodes a JSON response into out (when non-nil).
func (c *RESTClient) Do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	return c.guard.Do(ctx, func() error {
		return c.do(ctx, method, path, query, body, out)
	})
}

func (c *RESTClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", c.provider, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.provider, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := IdempotencyKeyFrom(ctx); key != "" && method != http.MethodGet {
		req.Header.Set("Idempotency-Key", key)
	}
	if c.decorate != nil {
		c.decorate(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncProviderRequest(c.provider, 0)
		return &ProviderError{Provider: c.provider, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()
	metrics.IncProviderRequest(c.provider, resp.StatusCode)

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ProviderError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, resp.Status),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &ProviderError{Provider: c.provider, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// ParseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// errorMessage extracts a human message from common provider error bodies.
func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
		Detail  string          `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if len(body.Error) > 0 {
			var s string
			if json.Unmarshal(body.Error, &s) == nil && s != "" {
				return s
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) < 512 {
		return s
	}
	return fallback
}

// breakerSuccess keeps client errors from tripping the breaker; only transport
// failures and 5xx responses count.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode >= 400 && pe.StatusCode < 500 {
		return true
	}
	return errors.Is(err, context.Canceled)
}

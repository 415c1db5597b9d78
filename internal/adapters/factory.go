package adapters

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"bookingsync/internal/models"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Builder constructs an adapter from decrypted credentials. It must not do I/O.
type Builder func(creds map[string]string, opts Options) (Adapter, error)

// Options are shared by every adapter a factory builds.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	RPS        float64
	Burst      int
	Anchor     models.AnchorZone
	// BaseURLs overrides provider API roots, keyed by provider.
	BaseURLs map[string]string
	Logger   *zerolog.Logger

	tokens *cache.Cache
	pool   *transportPool
}

// BaseURL returns the override for provider or def.
func (o Options) BaseURL(provider, def string) string {
	if u, ok := o.BaseURLs[provider]; ok && u != "" {
		return u
	}
	return def
}

// Client returns the configured HTTP client or one with the default timeout.
func (o Options) Client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Tokens is the session token cache shared by all adapters of a factory.
func (o Options) Tokens() *cache.Cache {
	if o.tokens == nil {
		return cache.New(50*time.Minute, 10*time.Minute)
	}
	return o.tokens
}

// Factory selects and builds adapters by provider key.
type Factory struct {
	mu       sync.RWMutex
	builders map[string]Builder
	opts     Options
}

// NewFactory returns an empty factory. Providers are added with Register.
func NewFactory(opts Options) *Factory {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	opts.tokens = cache.New(50*time.Minute, 10*time.Minute)
	opts.pool = newTransportPool(opts.RPS, opts.Burst)

	return &Factory{builders: make(map[string]Builder), opts: opts}
}

// Register adds or replaces a provider.
func (f *Factory) Register(provider string, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[provider] = b
}

// Providers lists the registered provider keys.
func (f *Factory) Providers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.builders))
	for p := range f.builders {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// CreateAdapter builds the adapter for provider. Unknown providers fail with
// ErrUnsupportedProvider, which callers treat as a terminal configuration error.
func (f *Factory) CreateAdapter(provider string, creds map[string]string) (Adapter, error) {
	f.mu.RLock()
	b, ok := f.builders[provider]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	return b(creds, f.opts)
}

// transportPool keeps one limiter and one breaker per provider so that per-job
// adapter instances share throttling state.
type transportPool struct {
	mu       sync.Mutex
	rps      float64
	burst    int
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
}

func newTransportPool(rps float64, burst int) *transportPool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &transportPool{
		rps:      rps,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (p *transportPool) get(provider string) (*rate.Limiter, *gobreaker.CircuitBreaker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lim, ok := p.limiters[provider]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(p.rps), p.burst)
		p.limiters[provider] = lim
	}

	cb, ok := p.breakers[provider]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        provider,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: breakerSuccess,
		})
		p.breakers[provider] = cb
	}
	return lim, cb
}

package adapters

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bookingsync/internal/models"
)

var (
	// ErrUnsupportedProvider is returned by the factory for unknown provider keys.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrConfiguration marks failures no retry can fix: missing credentials,
	// missing integration or event, undecryptable secrets.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotSupported is returned for operations a provider does not offer.
	ErrNotSupported = errors.New("operation not supported by provider")
	// ErrMalformedPayload is returned when a webhook body cannot be decoded.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// ConfigError wraps err as a configuration failure.
func ConfigError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// ProviderError is returned by adapters for every remote failure.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Reason     string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Failure classes.
const (
	ClassNone        = ""
	ClassRateLimited = "rate_limited"
	ClassTerminal    = "terminal"
	ClassTransient   = "transient"
)

// Failure is the retry decision for an error.
type Failure struct {
	Class      string
	RetryAfter time.Duration
}

func (f Failure) Retryable() bool { return f.Class == ClassTransient }

// Classify maps an error onto rate_limited, terminal or transient.
func Classify(err error) Failure {
	if err == nil {
		return Failure{Class: ClassNone}
	}

	if errors.Is(err, ErrConfiguration) || errors.Is(err, ErrUnsupportedProvider) ||
		errors.Is(err, ErrNotSupported) || errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, models.ErrInvalidBooking) {
		return Failure{Class: ClassTerminal}
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		switch {
		case pe.StatusCode == 429 || mentionsRateLimit(pe.Message):
			return Failure{Class: ClassRateLimited, RetryAfter: pe.RetryAfter}
		case pe.StatusCode == 408:
			return Failure{Class: ClassTransient}
		case pe.StatusCode >= 400 && pe.StatusCode < 500:
			return Failure{Class: ClassTerminal}
		}
	}

	if mentionsRateLimit(err.Error()) {
		return Failure{Class: ClassRateLimited}
	}

	// transport errors, timeouts, 5xx and an open breaker
	return Failure{Class: ClassTransient}
}

func mentionsRateLimit(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "ratelimit") ||
		strings.Contains(msg, "too many requests")
}

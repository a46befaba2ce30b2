package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"
)

// Config holds retry configuration parameters
type Config struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	JitterRatio float64       `json:"jitter_ratio"`
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    3 * time.Second,
		JitterRatio: 0.25, // 25% jitter
	}
}

// WithRetry performs exponential backoff retries on transient errors.
func WithRetry(ctx context.Context, fn func() error) error {
	return WithRetryConfig(ctx, fn, DefaultConfig())
}

// WithRetryConfig performs exponential backoff retries with custom configuration.
func WithRetryConfig(ctx context.Context, fn func() error, config Config) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	var attempt int
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		attempt++
		if attempt >= config.MaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.backoff(attempt)):
		}
	}
}

// backoff is the wait before retry number attempt (1-based), jitter included.
func (c Config) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	// Add randomized jitter to prevent thundering herd
	jitter := time.Duration(rand.Float64() * c.JitterRatio * float64(delay))
	return delay + jitter
}

// HTTPStatusError wraps HTTP status codes to enable reliable retry decisions.
type HTTPStatusError struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
	Source string `json:"source"` // e.g., "openai", "gemini", "geocode"
}

// NewHTTPStatusError creates a new HTTP status error
func NewHTTPStatusError(status int, body, source string) *HTTPStatusError {
	return &HTTPStatusError{
		Status: status,
		Body:   body,
		Source: source,
	}
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Source, e.Status, e.Body)
}

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 4 << 10

// CheckResponse returns nil for 2xx responses and an *HTTPStatusError
// carrying the (truncated) body otherwise.
func CheckResponse(resp *http.Response, source string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return NewHTTPStatusError(resp.StatusCode, strings.TrimSpace(string(b)), source)
}

// IsTransient determines if an error is worth retrying using proper error type checking.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Retry on 429 or 5xx using proper error type
	var he *HTTPStatusError
	if errors.As(err, &he) {
		return he.Status == http.StatusTooManyRequests || he.Status >= 500
	}

	// Retry on network timeouts
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return true
		}
	}
	return false
}

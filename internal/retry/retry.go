// Package retry provides exponential-backoff retries for calls to external
// systems (the chat API, the embedding API, the search index).
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config configures retry behavior.
type Config struct {
	MaxRetries      int           // attempts beyond the first
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // backoff ceiling
}

// DefaultConfig returns sensible defaults for remote API calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// transientPatterns groups error substrings by category, matched
// case-insensitively against err.Error().
//
// NOTE: string matching because the provider SDKs do not expose typed errors
// for transient failures. Callers with real sentinel errors should pass
// their own classifier instead.
var transientPatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "connection refused", "timeout", "temporary"},
}

// Transient reports whether err looks like a transient failure worth
// retrying.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, group := range transientPatterns {
		for _, sub := range group {
			if strings.Contains(lower, sub) {
				return true
			}
		}
	}
	return false
}

// Do runs op with exponential backoff, retrying while retryable(err) holds.
// A nil retryable falls back to Transient. The last error is returned once
// attempts are exhausted or a non-retryable error occurs.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, op func(context.Context) error) error {
	if retryable == nil {
		retryable = Transient
	}

	var lastErr error
	delay := cfg.InitialInterval

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}

	return fmt.Errorf("after %d retries: %w", cfg.MaxRetries, lastErr)
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, cfg Config, retryable func(error) bool, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, retryable, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

package gateway

import (
	"context"
	"time"
)

// NewForTest builds a gateway that accepts loopback addresses so tests
// can target local listeners.
func NewForTest(opts ...Option) *Gateway {
	g := New(opts...)
	g.allowLoopback = true
	return g
}

// Retryable exposes the retry policy for tests
func Retryable(err error) bool {
	return retryable(err)
}

// RetryAfter exposes Retry-After extraction for tests
func RetryAfter(err error) time.Duration {
	return retryAfter(err)
}

// VetURL exposes URL validation for tests
func VetURL(ctx context.Context, rawURL string) error {
	_, _, err := vetURL(ctx, nil, rawURL, false)
	return err
}

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
)

func TestHostLimiterSpacesRequestsPerHost(t *testing.T) {
	limiter := newHostLimiter(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		gt.NoError(t, limiter.wait(ctx, "salla.tweb.fi"))
	}
	elapsed := time.Since(start)

	// Third request waits two full intervals behind the first.
	gt.Bool(t, elapsed >= 100*time.Millisecond).True()
}

func TestHostLimiterIsolatesHosts(t *testing.T) {
	limiter := newHostLimiter(200 * time.Millisecond)
	ctx := context.Background()

	gt.NoError(t, limiter.wait(ctx, "a.example.fi"))
	start := time.Now()
	gt.NoError(t, limiter.wait(ctx, "b.example.fi"))
	gt.Bool(t, time.Since(start) < 100*time.Millisecond).True()
}

func TestHostLimiterHonorsContextCancellation(t *testing.T) {
	limiter := newHostLimiter(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	gt.NoError(t, limiter.wait(ctx, "slow.example.fi"))
	cancel()
	err := limiter.wait(ctx, "slow.example.fi")
	gt.Value(t, err).NotNil()
}

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterRefill(t *testing.T) {
	l := New(Rate{Burst: 2, PerSecond: 4}, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("trade"))
	assert.True(t, l.Allow("trade"))
	assert.False(t, l.Allow("trade"), "bucket drained")

	now = now.Add(250 * time.Millisecond)
	assert.True(t, l.Allow("trade"), "one token after a quarter second")
	assert.False(t, l.Allow("trade"))

	now = now.Add(10 * time.Second)
	assert.Equal(t, 2, l.Remaining("trade"), "capped at burst")
}

func TestLimiterBucketsAreIndependent(t *testing.T) {
	l := New(Rate{Burst: 1, PerSecond: 0.001}, map[string]Rate{
		"orders": {Burst: 3, PerSecond: 1},
	})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("trade"))
	assert.False(t, l.Allow("trade"))
	assert.True(t, l.Allow("validate_receipt"), "other endpoints keep their own bucket")
	assert.Equal(t, 3, l.Remaining("orders"), "override burst")
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := New(Rate{Burst: 1, PerSecond: 1.0 / 3600}, nil)
	require.NoError(t, l.Wait(context.Background(), "trade"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "trade")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiterWaitUnblocks(t *testing.T) {
	l := New(Rate{Burst: 1, PerSecond: 50}, nil)
	require.True(t, l.Allow("trade"))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "trade"))
	assert.Less(t, time.Since(start), time.Second)
}

func TestLimiterZeroRateIsUnlimited(t *testing.T) {
	l := New(Rate{Burst: 1}, nil)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("orders"))
	}
	require.NoError(t, l.Wait(context.Background(), "orders"))
}

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenDeny(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Allow("10.0.0.1"), "request %d is within the burst", i)
	}
	assert.False(t, limiter.Allow("10.0.0.1"))

	// One token refills per second at 60/min.
	time.Sleep(time.Second)
	assert.True(t, limiter.Allow("10.0.0.1"))
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("key_agency_a")
	}

	assert.False(t, limiter.Allow("key_agency_a"))
	assert.True(t, limiter.Allow("key_agency_b"))
}

func TestLimiterReplenishment(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 600,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	require.True(t, limiter.Allow("probe"))
	require.False(t, limiter.Allow("probe"))

	// 600/min is 10 tokens a second.
	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow("probe"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.RequestsPerMinute)
	assert.Equal(t, 10, cfg.BurstSize)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
}

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAllowsWithinBurst(t *testing.T) {
	l := New(10, 5, 60)
	defer l.Stop()

	for i := 0; i < 15; i++ {
		result := l.Check("client-a")
		assert.True(t, result.Allowed, "request %d should be allowed within capacity", i)
	}
	assert.False(t, l.Check("client-a").Allowed, "16th request should exceed capacity")
}

func TestCheckRefillsOverTime(t *testing.T) {
	l := New(60, 0, 60)
	defer l.Stop()

	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	for i := 0; i < 60; i++ {
		assert.True(t, l.Check("client-b").Allowed)
	}
	assert.False(t, l.Check("client-b").Allowed)

	fixed = fixed.Add(1 * time.Second)
	result := l.Check("client-b")
	assert.True(t, result.Allowed, "one token should have refilled after 1s at 1 token/sec")
}

func TestDistinctIdentitiesAreIndependent(t *testing.T) {
	l := New(1, 0, 60)
	defer l.Stop()

	assert.True(t, l.Check("a").Allowed)
	assert.False(t, l.Check("a").Allowed)
	assert.True(t, l.Check("b").Allowed, "a separate identity must not share a's bucket")
}

func TestSweepEvictsStaleBuckets(t *testing.T) {
	l := New(5, 0, 1)
	defer l.Stop()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return start }
	l.Check("stale")

	sh := l.shardFor("stale")
	sh.mu.Lock()
	_, ok := sh.buckets["stale"]
	sh.mu.Unlock()
	assert.True(t, ok)

	l.now = func() time.Time { return start.Add(10 * time.Second) }
	l.sweep()

	sh.mu.Lock()
	_, ok = sh.buckets["stale"]
	sh.mu.Unlock()
	assert.False(t, ok, "bucket untouched for 2x the window should be evicted")
}

func TestRetryAfterSecsReflectsWindow(t *testing.T) {
	l := New(1, 0, 42)
	defer l.Stop()

	l.Check("client-c")
	result := l.Check("client-c")
	assert.False(t, result.Allowed)
	assert.Equal(t, 42, result.RetryAfterSecs)
}

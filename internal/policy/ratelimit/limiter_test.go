package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	// 10 requests per second = one token every 100ms, starting with one.
	l := New(Config{HostRPS: 10, HostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://vnexpress.net/rss/thoi-su.rss"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://VNEXPRESS.net/rss/the-gioi.rss"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 1, l.Hosts())
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{HostRPS: 1, HostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/rss"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/rss"))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "host b must not wait for host a")
}

func TestLimiterDisabledNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.example/rss"))
	}
	assert.Equal(t, 0, l.Hosts())
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{HostRPS: 0.01, HostBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example/rss"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example/rss"))
}

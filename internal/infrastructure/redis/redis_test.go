package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, opts Options) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), opts), mr
}

func TestCache_SeenRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.MarkSeen(ctx, "v1", []string{"post:p1", "user:u1"}, at))

	got, err := c.LastSeen(ctx, "v1", []string{"post:p1", "user:u1", "post:p2"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, got["post:p1"].Equal(at))
	_, ok := got["post:p2"]
	assert.False(t, ok)

	// other viewers are isolated
	other, err := c.LastSeen(ctx, "v2", []string{"post:p1"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCache_MarkSeenKeepsLatest(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	ctx := context.Background()
	first := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	require.NoError(t, c.MarkSeen(ctx, "v1", []string{"post:p1"}, first))
	require.NoError(t, c.MarkSeen(ctx, "v1", []string{"post:p1"}, later))

	got, err := c.LastSeen(ctx, "v1", []string{"post:p1"})
	require.NoError(t, err)
	assert.True(t, got["post:p1"].Equal(later))
}

func TestCache_MarkSeenTrims(t *testing.T) {
	c, mr := newTestCache(t, Options{SeenRetention: 24 * time.Hour, SeenMax: 2})
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.MarkSeen(ctx, "v1", []string{"post:old"}, base.Add(-48*time.Hour)))
	require.NoError(t, c.MarkSeen(ctx, "v1", []string{"post:a"}, base))
	require.NoError(t, c.MarkSeen(ctx, "v1", []string{"post:b"}, base.Add(time.Minute)))
	require.NoError(t, c.MarkSeen(ctx, "v1", []string{"post:c"}, base.Add(2*time.Minute)))

	members, err := mr.ZMembers(seenKey("v1"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"post:b", "post:c"}, members)
	assert.Equal(t, 24*time.Hour, mr.TTL(seenKey("v1")))
}

func TestCache_TryAcquire(t *testing.T) {
	c, mr := newTestCache(t, Options{})
	ctx := context.Background()

	ok, err := c.TryAcquire(ctx, "presort:enqueue:u1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.TryAcquire(ctx, "presort:enqueue:u1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = c.TryAcquire(ctx, "presort:enqueue:u1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Release(ctx, "presort:enqueue:u1"))
	assert.False(t, mr.Exists("presort:enqueue:u1"))
}

func TestCache_Unavailable(t *testing.T) {
	c, mr := newTestCache(t, Options{})
	mr.Close()

	_, err := c.LastSeen(context.Background(), "v1", []string{"post:p1"})
	assert.Error(t, err)
	_, err = c.TryAcquire(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}

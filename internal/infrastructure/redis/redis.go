package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	seenKeyPrefix = "feed:seen:"

	defaultSeenRetention = 7 * 24 * time.Hour
	defaultSeenMax       = 2000
)

type Options struct {
	// SeenRetention drops impressions older than this on every write.
	SeenRetention time.Duration
	// SeenMax caps impressions kept per viewer, newest first.
	SeenMax int64
}

type Cache struct {
	Client *redis.Client
	opts   Options
}

func New(addr, pass string, db int, opts Options) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return NewWithClient(rdb, opts)
}

func NewWithClient(rdb *redis.Client, opts Options) *Cache {
	if opts.SeenRetention <= 0 {
		opts.SeenRetention = defaultSeenRetention
	}
	if opts.SeenMax <= 0 {
		opts.SeenMax = defaultSeenMax
	}
	return &Cache{Client: rdb, opts: opts}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.Client.Close()
}

func seenKey(viewerID string) string { return seenKeyPrefix + viewerID }

// LastSeen reads impression times from the viewer's sorted set, scored in
// unix milliseconds.
func (c *Cache) LastSeen(ctx context.Context, viewerID string, keys []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	scores, err := c.Client.ZMScore(ctx, seenKey(viewerID), keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return out, nil
		}
		return nil, err
	}
	for i, s := range scores {
		// ZMSCORE reports missing members as 0
		if s > 0 {
			out[keys[i]] = time.UnixMilli(int64(s)).UTC()
		}
	}
	return out, nil
}

// MarkSeen records impressions and trims the set by age and size.
func (c *Cache) MarkSeen(ctx context.Context, viewerID string, keys []string, at time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	key := seenKey(viewerID)
	score := float64(at.UnixMilli())
	members := make([]redis.Z, 0, len(keys))
	for _, k := range keys {
		members = append(members, redis.Z{Score: score, Member: k})
	}
	cutoff := at.Add(-c.opts.SeenRetention).UnixMilli()

	_, err := c.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, members...)
		p.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		p.ZRemRangeByRank(ctx, key, 0, -c.opts.SeenMax-1)
		p.Expire(ctx, key, c.opts.SeenRetention)
		return nil
	})
	return err
}

// TryAcquire sets key only when absent. A true result grants the caller the
// key until ttl elapses.
func (c *Cache) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.Client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Release drops a guard early.
func (c *Cache) Release(ctx context.Context, key string) error {
	return c.Client.Del(ctx, key).Err()
}

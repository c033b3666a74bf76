package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"spacebook/backend/internal/domain"
)

const (
	DefaultTTL = 30 * time.Second

	keyPrefix  = "spacebook:avail"
	versionTTL = 48 * time.Hour
)

// bumpVersionScript increments a version counter and keeps it alive well past the
// lifetime of any data key built from it.
var bumpVersionScript = redis.NewScript(`
local v = redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[1])
return v
`)

type Options struct {
	Addr     string
	Password string
	DB       int
}

// Open connects to Redis. An empty address returns a nil client, which callers treat
// as caching disabled.
func Open(ctx context.Context, opts Options) (*redis.Client, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// AvailabilityCache keeps JSON snapshots of availability results. Every (resource, date)
// pair has a version counter; bumping it orphans all snapshots built under the old one.
// A nil client disables the cache and every Redis failure reads as a miss.
type AvailabilityCache struct {
	rdb redis.Cmdable
	ttl time.Duration
	log *slog.Logger
}

func NewAvailabilityCache(rdb redis.Cmdable, ttl time.Duration, log *slog.Logger) *AvailabilityCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	if c, ok := rdb.(*redis.Client); ok && c == nil {
		rdb = nil
	}
	return &AvailabilityCache{rdb: rdb, ttl: ttl, log: log.With("component", "cache.availability")}
}

func (c *AvailabilityCache) Enabled() bool {
	return c != nil && c.rdb != nil
}

func (c *AvailabilityCache) Get(ctx context.Context, resourceID string, date domain.Date, variant string, dst any) bool {
	if !c.Enabled() {
		return false
	}
	version, err := c.version(ctx, resourceID, date)
	if err != nil {
		c.log.WarnContext(ctx, "availability cache read failed", "resource_id", resourceID, "date", date, "err", err)
		return false
	}
	raw, err := c.rdb.Get(ctx, dataKey(resourceID, date, version, variant)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WarnContext(ctx, "availability cache read failed", "resource_id", resourceID, "date", date, "err", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.WarnContext(ctx, "availability cache entry unreadable", "resource_id", resourceID, "date", date, "err", err)
		return false
	}
	return true
}

func (c *AvailabilityCache) Set(ctx context.Context, resourceID string, date domain.Date, variant string, v any) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.WarnContext(ctx, "availability cache encode failed", "resource_id", resourceID, "err", err)
		return
	}
	version, err := c.version(ctx, resourceID, date)
	if err != nil {
		c.log.WarnContext(ctx, "availability cache write failed", "resource_id", resourceID, "date", date, "err", err)
		return
	}
	if err := c.rdb.Set(ctx, dataKey(resourceID, date, version, variant), raw, c.ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "availability cache write failed", "resource_id", resourceID, "date", date, "err", err)
	}
}

// Invalidate bumps the version of every listed date. Snapshots written concurrently
// under the previous version can survive for at most one TTL.
func (c *AvailabilityCache) Invalidate(ctx context.Context, resourceID string, dates ...domain.Date) {
	if !c.Enabled() {
		return
	}
	for _, d := range uniqueDates(dates) {
		err := bumpVersionScript.Run(ctx, c.rdb, []string{versionKey(resourceID, d)}, versionTTL.Milliseconds()).Err()
		if err != nil {
			c.log.WarnContext(ctx, "availability cache invalidation failed", "resource_id", resourceID, "date", d, "err", err)
		}
	}
}

func (c *AvailabilityCache) version(ctx context.Context, resourceID string, date domain.Date) (int64, error) {
	v, err := c.rdb.Get(ctx, versionKey(resourceID, date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func versionKey(resourceID string, date domain.Date) string {
	return fmt.Sprintf("%s:{%s}:%s:version", keyPrefix, resourceID, date)
}

func dataKey(resourceID string, date domain.Date, version int64, variant string) string {
	return fmt.Sprintf("%s:{%s}:%s:v%d:%s", keyPrefix, resourceID, date, version, variant)
}

func uniqueDates(dates []domain.Date) []domain.Date {
	seen := make(map[domain.Date]struct{}, len(dates))
	out := make([]domain.Date, 0, len(dates))
	for _, d := range dates {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

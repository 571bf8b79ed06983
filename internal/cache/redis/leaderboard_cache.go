package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sidestake/sidestake/internal/domain"
)

// leaderboardKey holds the JSON-serialized rollup snapshot.
const leaderboardKey = "leaderboard"

// defaultLeaderboardTTL bounds staleness when an invalidation is missed
// (e.g. a resolution on another instance whose invalidate call failed).
const defaultLeaderboardTTL = 5 * time.Minute

// LeaderboardCache implements domain.LeaderboardCache using a single Redis
// key with a short TTL, invalidated on every resolution.
type LeaderboardCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLeaderboardCache creates a LeaderboardCache backed by the given Client.
// A non-positive ttl falls back to the default.
func NewLeaderboardCache(c *Client, ttl time.Duration) *LeaderboardCache {
	if ttl <= 0 {
		ttl = defaultLeaderboardTTL
	}
	return &LeaderboardCache{rdb: c.Underlying(), ttl: ttl}
}

// Get returns the cached rollup, or domain.ErrNotFound on a miss.
func (lc *LeaderboardCache) Get(ctx context.Context) ([]domain.LeaderboardRow, error) {
	data, err := lc.rdb.Get(ctx, leaderboardKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get leaderboard: %w", err)
	}

	var rows []domain.LeaderboardRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("redis: unmarshal leaderboard: %w", err)
	}
	return rows, nil
}

// Set stores the rollup snapshot with the cache TTL.
func (lc *LeaderboardCache) Set(ctx context.Context, rows []domain.LeaderboardRow) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("redis: marshal leaderboard: %w", err)
	}
	if err := lc.rdb.Set(ctx, leaderboardKey, data, lc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set leaderboard: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshot.
func (lc *LeaderboardCache) Invalidate(ctx context.Context) error {
	if err := lc.rdb.Del(ctx, leaderboardKey).Err(); err != nil {
		return fmt.Errorf("redis: invalidate leaderboard: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LeaderboardCache = (*LeaderboardCache)(nil)

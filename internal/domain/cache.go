package domain

import (
	"context"
	"time"
)

// LeaderboardCache caches the computed leaderboard rollup. The cache is a
// read-through optimization only; the settlement ledger remains the source of
// truth.
type LeaderboardCache interface {
	// Get returns the cached rollup, or ErrNotFound on a miss.
	Get(ctx context.Context) ([]LeaderboardRow, error)
	Set(ctx context.Context, rows []LeaderboardRow) error
	// Invalidate drops the cached rollup. Called after every resolution.
	Invalidate(ctx context.Context) error
}

// RateLimiter enforces a sliding-window request limit per key.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under the limit
	// and, if so, counts it.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BusMessage is one event received from the bus, tagged with the channel it
// arrived on so pattern subscribers can route it.
type BusMessage struct {
	Channel string
	Payload []byte
}

// EventBus carries bet-update events between the service layer and any number
// of subscribers (the WebSocket hub, other server instances).
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of messages for the given channel name.
	// Glob patterns are supported. The returned channel closes when ctx is
	// cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan BusMessage, error)
}

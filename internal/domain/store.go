package domain

import (
	"context"
	"time"
)

// IdentityStore persists device identities.
type IdentityStore interface {
	// Upsert creates the identity for token on first contact, updates the
	// display name in place when it changed, and otherwise returns the row
	// unchanged. The read-modify-write is atomic per row.
	Upsert(ctx context.Context, token, displayName string) (Identity, error)
	GetByToken(ctx context.Context, token string) (Identity, error)
	// GetByIDs returns the identities for the given ids, keyed by id.
	// Missing ids are simply absent from the result.
	GetByIDs(ctx context.Context, ids []string) (map[string]Identity, error)
}

// BetStore persists bet records.
type BetStore interface {
	// Create inserts a new bet. It returns ErrAlreadyExists when the share
	// code collides with an existing bet.
	Create(ctx context.Context, bet Bet) error
	GetByCode(ctx context.Context, code string) (Bet, error)
	// UpdateStatus moves the bet between OPEN and LOCKED.
	UpdateStatus(ctx context.Context, id string, status BetStatus) error
	// Resolve flips the bet to RESOLVED and records the winner. The write is
	// conditional on the bet not being resolved yet; a lost race returns
	// ErrAlreadyResolved.
	Resolve(ctx context.Context, id, winnerID string, at time.Time) error
}

// ParticipationStore persists per-bet decisions.
type ParticipationStore interface {
	Create(ctx context.Context, p Participation) error
	UpdateDecision(ctx context.Context, id string, decision Decision) error
	GetForIdentity(ctx context.Context, betID, identityID string) (Participation, error)
	ListByBet(ctx context.Context, betID string) ([]Participation, error)
}

// SettlementStore persists the append-only settlement ledger.
type SettlementStore interface {
	InsertBatch(ctx context.Context, entries []SettlementEntry) error
	ListByBet(ctx context.Context, betID string) ([]SettlementEntry, error)
}

// LeaderboardStore reads the aggregate rollup over settlement entries.
type LeaderboardStore interface {
	// Rollup returns one row per identity that appears in at least one
	// settlement entry, ordered by net winnings descending.
	Rollup(ctx context.Context) ([]LeaderboardRow, error)
}

// Stores bundles the per-entity stores. Inside a TxRunner callback every
// store is bound to the same transaction.
type Stores struct {
	Identities     IdentityStore
	Bets           BetStore
	Participations ParticipationStore
	Settlements    SettlementStore
}

// TxRunner executes functions inside a single storage transaction. It is the
// durable-storage serialization point the bet lifecycle depends on: callers
// may run on independent processes, so in-memory locks are not sufficient.
type TxRunner interface {
	// Within runs fn inside a transaction and commits when fn returns nil.
	// Any error from fn rolls the transaction back and is returned as-is.
	Within(ctx context.Context, fn func(ctx context.Context, s Stores) error) error

	// WithinBet is Within with an exclusive lock held on the bet row
	// identified by code for the duration of fn. Concurrent WithinBet calls
	// for the same bet serialize; calls for different bets do not contend.
	// It returns ErrNotFound without invoking fn when no such bet exists.
	WithinBet(ctx context.Context, code string, fn func(ctx context.Context, s Stores) error) error
}

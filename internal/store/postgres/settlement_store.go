package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sidestake/sidestake/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL. The
// ledger is append-only: there are no update or delete operations.
type SettlementStore struct {
	db Querier
}

// NewSettlementStore creates a SettlementStore on the given querier.
func NewSettlementStore(db Querier) *SettlementStore {
	return &SettlementStore{db: db}
}

// InsertBatch appends the given entries. Callers run it inside the resolving
// transaction so the ledger and the bet's RESOLVED state commit together.
func (s *SettlementStore) InsertBatch(ctx context.Context, entries []domain.SettlementEntry) error {
	const query = `
		INSERT INTO settlement_entries (
			id, bet_id, bet_code, from_identity_id, to_identity_id,
			amount, currency, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, e := range entries {
		_, err := s.db.Exec(ctx, query,
			e.ID, e.BetID, e.BetCode, e.FromID, e.ToID,
			e.Amount.String(), string(e.Currency), e.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres: insert settlement entry for bet %s: %w", e.BetCode, err)
		}
	}
	return nil
}

// ListByBet returns the settlement entries for a bet in insertion order.
func (s *SettlementStore) ListByBet(ctx context.Context, betID string) ([]domain.SettlementEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, bet_id, bet_code, from_identity_id, to_identity_id,
			amount::text, currency, created_at
		 FROM settlement_entries WHERE bet_id = $1 ORDER BY created_at ASC`,
		betID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlement entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.SettlementEntry
	for rows.Next() {
		var e domain.SettlementEntry
		var amount, currency string
		err := rows.Scan(&e.ID, &e.BetID, &e.BetCode, &e.FromID, &e.ToID,
			&amount, &currency, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement entry: %w", err)
		}
		e.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse settlement amount %q: %w", amount, err)
		}
		e.Currency = domain.Currency(currency)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read settlement entries: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.SettlementStore = (*SettlementStore)(nil)

package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sidestake/sidestake/internal/domain"
)

// LeaderboardStore computes the read-side rollup over settlement entries. It
// has no write operations; the settlement ledger is the source of truth.
type LeaderboardStore struct {
	db Querier
}

// NewLeaderboardStore creates a LeaderboardStore on the given querier.
func NewLeaderboardStore(db Querier) *LeaderboardStore {
	return &LeaderboardStore{db: db}
}

// Rollup aggregates won/lost totals per identity. Wins count distinct bets
// paying the identity; losses count entries owed (one per lost bet by
// construction). Identities without any settlement entry are omitted.
func (s *LeaderboardStore) Rollup(ctx context.Context) ([]domain.LeaderboardRow, error) {
	const query = `
		SELECT i.id, i.display_name,
			COALESCE(won.total, 0)::text,
			COALESCE(lost.total, 0)::text,
			(COALESCE(won.total, 0) - COALESCE(lost.total, 0))::text AS net,
			COALESCE(won.bets, 0),
			COALESCE(lost.entries, 0)
		FROM identities i
		LEFT JOIN (
			SELECT to_identity_id AS identity_id,
				SUM(amount) AS total,
				COUNT(DISTINCT bet_id) AS bets
			FROM settlement_entries GROUP BY to_identity_id
		) won ON won.identity_id = i.id
		LEFT JOIN (
			SELECT from_identity_id AS identity_id,
				SUM(amount) AS total,
				COUNT(*) AS entries
			FROM settlement_entries GROUP BY from_identity_id
		) lost ON lost.identity_id = i.id
		WHERE won.identity_id IS NOT NULL OR lost.identity_id IS NOT NULL
		ORDER BY net DESC, i.display_name ASC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: leaderboard rollup: %w", err)
	}
	defer rows.Close()

	var result []domain.LeaderboardRow
	for rows.Next() {
		var (
			row            domain.LeaderboardRow
			won, lost, net string
		)
		err := rows.Scan(&row.IdentityID, &row.DisplayName,
			&won, &lost, &net, &row.WinCount, &row.LossCount)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan leaderboard row: %w", err)
		}
		if row.TotalWon, err = decimal.NewFromString(won); err != nil {
			return nil, fmt.Errorf("postgres: parse total won %q: %w", won, err)
		}
		if row.TotalLost, err = decimal.NewFromString(lost); err != nil {
			return nil, fmt.Errorf("postgres: parse total lost %q: %w", lost, err)
		}
		if row.Net, err = decimal.NewFromString(net); err != nil {
			return nil, fmt.Errorf("postgres: parse net %q: %w", net, err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read leaderboard rows: %w", err)
	}
	return result, nil
}

// Compile-time interface check.
var _ domain.LeaderboardStore = (*LeaderboardStore)(nil)

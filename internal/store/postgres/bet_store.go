package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/sidestake/sidestake/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations (share-code collisions).
const uniqueViolation = "23505"

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	db Querier
}

// NewBetStore creates a BetStore on the given querier.
func NewBetStore(db Querier) *BetStore {
	return &BetStore{db: db}
}

// betSelectCols lists the columns read for a bet. The stake is selected as
// text so it round-trips through decimal.Decimal without float conversion.
const betSelectCols = `id, code, title, description, stake_amount::text, currency, mode,
	status, creator_identity_id, creator_token, winner_identity_id,
	created_at, updated_at, resolved_at`

// Create inserts a new bet. A share-code collision surfaces as
// domain.ErrAlreadyExists.
func (s *BetStore) Create(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (
			id, code, title, description, stake_amount, currency, mode,
			status, creator_identity_id, creator_token, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.Exec(ctx, query,
		b.ID, b.Code, b.Title, b.Description, b.Stake.String(),
		string(b.Currency), string(b.Mode), string(b.Status),
		b.CreatorID, b.CreatorToken, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create bet %s: %w", b.Code, err)
	}
	return nil
}

func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b                             domain.Bet
		stake, currency, mode, status string
	)
	err := row.Scan(
		&b.ID, &b.Code, &b.Title, &b.Description, &stake, &currency, &mode,
		&status, &b.CreatorID, &b.CreatorToken, &b.WinnerID,
		&b.CreatedAt, &b.UpdatedAt, &b.ResolvedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}

	b.Stake, err = decimal.NewFromString(stake)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("parse stake %q: %w", stake, err)
	}
	b.Currency = domain.Currency(currency)
	b.Mode = domain.BetMode(mode)
	b.Status = domain.BetStatus(status)
	return b, nil
}

// GetByCode retrieves a bet by its share code.
func (s *BetStore) GetByCode(ctx context.Context, code string) (domain.Bet, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+betSelectCols+` FROM bets WHERE code = $1`, code)

	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s: %w", code, err)
	}
	return b, nil
}

// UpdateStatus moves the bet between OPEN and LOCKED. The update refuses to
// touch resolved bets as a backstop; callers check authorization and state
// first under the bet lock.
func (s *BetStore) UpdateStatus(ctx context.Context, id string, status domain.BetStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE bets SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status <> 'RESOLVED'`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update bet status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Resolve flips the bet to RESOLVED with the given winner. The write is
// conditional on the bet not already being resolved, so a lost resolve race
// surfaces as domain.ErrAlreadyResolved even without the row lock.
func (s *BetStore) Resolve(ctx context.Context, id, winnerID string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE bets SET status = 'RESOLVED', winner_identity_id = $1,
			resolved_at = $2, updated_at = NOW()
		 WHERE id = $3 AND status <> 'RESOLVED'`,
		winnerID, at, id)
	if err != nil {
		return fmt.Errorf("postgres: resolve bet %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyResolved
	}
	return nil
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sidestake/sidestake/internal/domain"
)

// ParticipationStore implements domain.ParticipationStore using PostgreSQL.
type ParticipationStore struct {
	db Querier
}

// NewParticipationStore creates a ParticipationStore on the given querier.
func NewParticipationStore(db Querier) *ParticipationStore {
	return &ParticipationStore{db: db}
}

const participationCols = `id, bet_id, identity_id, decision, created_at, updated_at`

// Create inserts a new participation row.
func (s *ParticipationStore) Create(ctx context.Context, p domain.Participation) error {
	const query = `
		INSERT INTO participations (id, bet_id, identity_id, decision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.Exec(ctx, query,
		p.ID, p.BetID, p.IdentityID, string(p.Decision), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create participation: %w", err)
	}
	return nil
}

// UpdateDecision changes an existing participation's decision.
func (s *ParticipationStore) UpdateDecision(ctx context.Context, id string, decision domain.Decision) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE participations SET decision = $1, updated_at = NOW() WHERE id = $2`,
		string(decision), id)
	if err != nil {
		return fmt.Errorf("postgres: update participation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanParticipation(row pgx.Row) (domain.Participation, error) {
	var p domain.Participation
	var decision string
	err := row.Scan(&p.ID, &p.BetID, &p.IdentityID, &decision, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Participation{}, err
	}
	p.Decision = domain.Decision(decision)
	return p, nil
}

// GetForIdentity retrieves the participation of one identity on one bet.
func (s *ParticipationStore) GetForIdentity(ctx context.Context, betID, identityID string) (domain.Participation, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+participationCols+` FROM participations
		 WHERE bet_id = $1 AND identity_id = $2`,
		betID, identityID)

	p, err := scanParticipation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Participation{}, domain.ErrNotFound
		}
		return domain.Participation{}, fmt.Errorf("postgres: get participation: %w", err)
	}
	return p, nil
}

// ListByBet returns all participations on a bet in insertion order.
func (s *ParticipationStore) ListByBet(ctx context.Context, betID string) ([]domain.Participation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+participationCols+` FROM participations
		 WHERE bet_id = $1 ORDER BY created_at ASC`,
		betID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list participations: %w", err)
	}
	defer rows.Close()

	var parts []domain.Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan participation: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read participations: %w", err)
	}
	return parts, nil
}

// Compile-time interface check.
var _ domain.ParticipationStore = (*ParticipationStore)(nil)

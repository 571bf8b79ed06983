package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sidestake/sidestake/internal/domain"
)

// IdentityStore implements domain.IdentityStore using PostgreSQL.
type IdentityStore struct {
	db Querier
}

// NewIdentityStore creates an IdentityStore on the given querier.
func NewIdentityStore(db Querier) *IdentityStore {
	return &IdentityStore{db: db}
}

const identityCols = `id, token, display_name, created_at, updated_at`

// Upsert inserts the identity for token or updates its display name in
// place. The conditional update is a single statement, so concurrent upserts
// for the same token cannot lose writes; updated_at is bumped only when the
// name actually changed.
func (s *IdentityStore) Upsert(ctx context.Context, token, displayName string) (domain.Identity, error) {
	const query = `
		INSERT INTO identities (id, token, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			updated_at = CASE
				WHEN identities.display_name = EXCLUDED.display_name
				THEN identities.updated_at
				ELSE NOW()
			END
		RETURNING ` + identityCols

	var ident domain.Identity
	err := s.db.QueryRow(ctx, query, uuid.NewString(), token, displayName).Scan(
		&ident.ID, &ident.Token, &ident.DisplayName, &ident.CreatedAt, &ident.UpdatedAt,
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("postgres: upsert identity: %w", err)
	}
	return ident, nil
}

// GetByToken retrieves an identity by its opaque token.
func (s *IdentityStore) GetByToken(ctx context.Context, token string) (domain.Identity, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+identityCols+` FROM identities WHERE token = $1`, token)

	var ident domain.Identity
	err := row.Scan(&ident.ID, &ident.Token, &ident.DisplayName, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Identity{}, domain.ErrNotFound
		}
		return domain.Identity{}, fmt.Errorf("postgres: get identity by token: %w", err)
	}
	return ident, nil
}

// GetByIDs returns the identities for the given ids, keyed by id.
func (s *IdentityStore) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Identity, error) {
	result := make(map[string]domain.Identity, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+identityCols+` FROM identities WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get identities by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ident domain.Identity
		if err := rows.Scan(&ident.ID, &ident.Token, &ident.DisplayName, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan identity: %w", err)
		}
		result[ident.ID] = ident
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read identities: %w", err)
	}
	return result, nil
}

// Compile-time interface check.
var _ domain.IdentityStore = (*IdentityStore)(nil)

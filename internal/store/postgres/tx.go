package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sidestake/sidestake/internal/domain"
)

// TxRunner implements domain.TxRunner with pgx transactions. WithinBet takes
// a row-level lock on the bet (SELECT ... FOR UPDATE), which is what
// serializes the H2H check-and-write and the resolve commit across processes.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner creates a TxRunner on the given pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// Stores returns pool-bound stores for non-transactional reads.
func Stores(pool *pgxpool.Pool) domain.Stores {
	return bind(pool)
}

func bind(q Querier) domain.Stores {
	return domain.Stores{
		Identities:     NewIdentityStore(q),
		Bets:           NewBetStore(q),
		Participations: NewParticipationStore(q),
		Settlements:    NewSettlementStore(q),
	}
}

// Within runs fn inside a transaction.
func (r *TxRunner) Within(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// WithinBet runs fn inside a transaction holding an exclusive lock on the
// bet row identified by code. Returns domain.ErrNotFound when the bet does
// not exist.
func (r *TxRunner) WithinBet(ctx context.Context, code string, fn func(ctx context.Context, s domain.Stores) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM bets WHERE code = $1 FOR UPDATE`, code).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: lock bet %s: %w", code, err)
	}

	if err := fn(ctx, bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TxRunner = (*TxRunner)(nil)

package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/social-platform-profiles/internal/repository"
)

const uniqueViolation = "23505"

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	pgExecutor
	Begin(ctx context.Context) (pgx.Tx, error)
}

func newBuilder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// pgTx tracks whether a pgx transaction already ended.
type pgTx struct {
	tx     pgx.Tx
	closed bool
}

func (t *pgTx) exec() (pgExecutor, error) {
	if t.closed {
		return nil, repository.ErrTxClosed
	}
	return t.tx, nil
}

func (t *pgTx) commit(ctx context.Context) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	t.closed = true
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (t *pgTx) rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
	iso  pgx.TxIsoLevel
}

var _ repository.Store = (*Store)(nil)

// New returns a store. With serializable=false transactions run at read
// committed and rely on explicit row locks taken in canonical order.
func New(pool *pgxpool.Pool, serializable bool) *Store {
	iso := pgx.ReadCommitted
	if serializable {
		iso = pgx.Serializable
	}
	return &Store{pool: pool, iso: iso}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: s.iso})
	if err != nil {
		return classify(err, "begin tx")
	}
	defer func() { _ = pgtx.Rollback(context.Background()) }()

	t := &tx{q: pgtx}
	if err := fn(ctx, t); err != nil {
		return classify(err, "tx")
	}
	if err := pgtx.Commit(ctx); err != nil {
		return classify(err, "commit")
	}
	t.hooks.Run()
	return nil
}

const (
	codeSerialization   = "40001"
	codeDeadlock        = "40P01"
	codeLockUnavailable = "55P03"
	codeUniqueViolation = "23505"
	codeFKViolation     = "23503"
	codeCheckViolation  = "23514"

	activeTableIndex = "orders_active_table_uq"
)

// classify turns driver errors into domain errors. Domain errors pass
// through untouched.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerialization, codeDeadlock, codeLockUnavailable:
			return domain.Contention(err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Timeout(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// notFound maps pgx.ErrNoRows to a NotFound error naming what was missing.
func notFound(err error, what string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFoundf("%s %v not found", what, id)
	}
	return classify(err, "get "+what)
}

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

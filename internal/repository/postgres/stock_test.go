package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafe-system/internal/common/logger"
	"cafe-system/internal/repository"
	"cafe-system/internal/repository/migrations"
)

// openTestStore connects to CAFE_TEST_DATABASE_URL; tests that need a real
// database are skipped without it.
func openTestStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("CAFE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CAFE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, migrations.Apply(ctx, pool, 0, logger.Nop()))
	return New(pool, false), pool
}

func TestLockIngredientStock_ConcurrentFirstReceipts(t *testing.T) {
	s, pool := openTestStore(t)
	ctx := context.Background()

	var branchID, ingID int64
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO branches (display_name, table_count) VALUES ('test', 1) RETURNING id`).Scan(&branchID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO ingredients (name, unit) VALUES ($1, 'g') RETURNING id`,
		"flour-"+uuid.NewString()).Scan(&ingID))

	receive := func(delta int64, locked chan<- struct{}, hold time.Duration) error {
		return s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			rows, err := tx.LockIngredientStock(ctx, branchID, []int64{ingID})
			if err != nil {
				return err
			}
			if locked != nil {
				close(locked)
			}
			time.Sleep(hold)
			return tx.SetIngredientStock(ctx, branchID, ingID, rows[ingID].Add(decimal.NewFromInt(delta)))
		})
	}

	locked := make(chan struct{})
	first := make(chan error, 1)
	go func() { first <- receive(500, locked, 200*time.Millisecond) }()
	<-locked
	require.NoError(t, receive(300, nil, 0))
	require.NoError(t, <-first)

	snap, err := s.StockSnapshot(ctx, branchID)
	require.NoError(t, err)
	assert.True(t, snap.Ingredient(ingID).Equal(decimal.NewFromInt(800)), "got %s", snap.Ingredient(ingID))
}

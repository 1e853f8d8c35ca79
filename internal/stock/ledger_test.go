package stock

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
	"cafe-system/internal/repository/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store  *memory.Store
	branch domain.Branch
	flour  domain.Ingredient
	milk   domain.Ingredient
	cookie domain.ReadyProduct
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := memory.New()
	f := fixture{
		store:  s,
		branch: s.AddBranch(domain.Branch{DisplayName: "Center", TableCount: 4}),
		flour:  s.AddIngredient(domain.Ingredient{Name: "flour", Unit: domain.UnitGram}),
		milk:   s.AddIngredient(domain.Ingredient{Name: "milk", Unit: domain.UnitMilliliter}),
	}
	cat := s.AddCategory(domain.Category{Name: "bakery"})
	f.cookie = s.AddProduct(domain.ReadyProduct{CategoryID: cat.ID, Name: "cookie", Price: d("1.50")})
	s.SetStock(f.branch.ID, f.flour.ID, d("500"))
	s.SetStock(f.branch.ID, f.milk.ID, d("1000"))
	s.SetReady(f.branch.ID, f.cookie.ID, 3)
	return f
}

func TestLedger_DecrementAndFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := Lock(ctx, tx, f.branch.ID, []int64{f.milk.ID, f.flour.ID, f.flour.ID}, []int64{f.cookie.ID})
		require.NoError(t, err)
		require.NoError(t, l.Decrement(f.flour.ID, d("200")))
		require.NoError(t, l.DecrementReady(f.cookie.ID, 2))
		_, err = l.Flush(ctx)
		return err
	})
	require.NoError(t, err)

	assert.True(t, f.store.Stock(f.branch.ID, f.flour.ID).Equal(d("300")))
	assert.True(t, f.store.Stock(f.branch.ID, f.milk.ID).Equal(d("1000")))
	assert.Equal(t, int64(1), f.store.ReadyStock(f.branch.ID, f.cookie.ID))
}

func TestLedger_InsufficientStockLeavesRowsUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := Lock(ctx, tx, f.branch.ID, []int64{f.flour.ID}, []int64{f.cookie.ID})
		require.NoError(t, err)
		if err := l.Decrement(f.flour.ID, d("500.001")); err != nil {
			return err
		}
		_, err = l.Flush(ctx)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, f.flour.ID, de.Details["id"])
	assert.True(t, f.store.Stock(f.branch.ID, f.flour.ID).Equal(d("500")))
}

func TestLedger_UnlockedRowIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		l, err := Lock(ctx, tx, f.branch.ID, []int64{f.flour.ID}, nil)
		require.NoError(t, err)
		return l.Decrement(f.milk.ID, d("1"))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not locked")
}

func TestLedger_CrossingsFireOncePerDirection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetLimit(domain.MinimalLimit{BranchID: f.branch.ID, Ref: domain.IngredientRef(f.flour.ID), Threshold: d("250")})

	step := func(fn func(l *Ledger) error) []Crossing {
		var out []Crossing
		require.NoError(t, f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			l, err := Lock(ctx, tx, f.branch.ID, []int64{f.flour.ID}, nil)
			if err != nil {
				return err
			}
			if err := fn(l); err != nil {
				return err
			}
			out, err = l.Flush(ctx)
			return err
		}))
		return out
	}

	// 500 -> 300: still above
	assert.Empty(t, step(func(l *Ledger) error { return l.Decrement(f.flour.ID, d("200")) }))

	// 300 -> 200: crosses downward
	got := step(func(l *Ledger) error { return l.Decrement(f.flour.ID, d("100")) })
	require.Len(t, got, 1)
	assert.True(t, got[0].Below)
	assert.Equal(t, domain.IngredientRef(f.flour.ID), got[0].Ref)
	assert.True(t, got[0].Quantity.Equal(d("200")))

	// 200 -> 100: already below, no new event
	assert.Empty(t, step(func(l *Ledger) error { return l.Decrement(f.flour.ID, d("100")) }))

	// 100 -> 250: restored
	got = step(func(l *Ledger) error { return l.Increment(f.flour.ID, d("150")) })
	require.Len(t, got, 1)
	assert.False(t, got[0].Below)
}

func TestDetect(t *testing.T) {
	cases := []struct {
		name          string
		before, after string
		crossed, down bool
	}{
		{"stays above", "10", "6", false, false},
		{"lands on threshold", "10", "5", false, false},
		{"drops below", "5", "4.9", true, true},
		{"stays below", "4", "3", false, false},
		{"climbs to threshold", "4", "5", true, false},
		{"climbs above", "1", "9", true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, ok := Detect(d(tc.before), d(tc.after), d("5"))
			assert.Equal(t, tc.crossed, ok)
			if ok {
				assert.Equal(t, tc.down, c.Below)
			}
		})
	}
}

func TestStore_BelowMinimal(t *testing.T) {
	f := newFixture(t)
	f.store.SetLimit(domain.MinimalLimit{BranchID: f.branch.ID, Ref: domain.IngredientRef(f.flour.ID), Threshold: d("600")})
	f.store.SetLimit(domain.MinimalLimit{BranchID: f.branch.ID, Ref: domain.IngredientRef(f.milk.ID), Threshold: d("100")})
	f.store.SetLimit(domain.MinimalLimit{BranchID: f.branch.ID, Ref: domain.ProductRef(f.cookie.ID), Threshold: d("5")})

	rows, err := NewStore(f.store).BelowMinimal(context.Background(), f.branch.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	refs := []domain.StockRef{rows[0].Ref, rows[1].Ref}
	assert.ElementsMatch(t, []domain.StockRef{domain.IngredientRef(f.flour.ID), domain.ProductRef(f.cookie.ID)}, refs)
}

func TestReceipt_Normalize(t *testing.T) {
	q, err := Receipt{Ref: domain.IngredientRef(1), Quantity: d("1.5"), Unit: domain.UnitKilogram}.Normalize(domain.UnitGram)
	require.NoError(t, err)
	assert.True(t, q.Equal(d("1500")))

	_, err = Receipt{Ref: domain.IngredientRef(1), Quantity: d("1"), Unit: domain.UnitLiter}.Normalize(domain.UnitGram)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = Receipt{Ref: domain.ProductRef(1), Quantity: d("1.5")}.Normalize("")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = Receipt{Ref: domain.IngredientRef(1), Quantity: d("0")}.Normalize(domain.UnitGram)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestLock_HoldsNeverStockedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sugar := f.store.AddIngredient(domain.Ingredient{Name: "sugar", Unit: domain.UnitGram})

	for _, delta := range []string{"250", "100"} {
		err := f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			l, err := Lock(ctx, tx, f.branch.ID, []int64{sugar.ID}, nil)
			require.NoError(t, err)
			require.NoError(t, l.Increment(sugar.ID, d(delta)))
			_, err = l.Flush(ctx)
			return err
		})
		require.NoError(t, err)
	}
	assert.True(t, f.store.Stock(f.branch.ID, sugar.ID).Equal(d("350")))

	salt := f.store.AddIngredient(domain.Ingredient{Name: "salt", Unit: domain.UnitGram})
	err := f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		rows, err := tx.LockIngredientStock(ctx, f.branch.ID, []int64{salt.ID})
		require.NoError(t, err)
		require.Contains(t, rows, salt.ID, "missing rows are created at zero")
		assert.True(t, rows[salt.ID].IsZero())
		return nil
	})
	require.NoError(t, err)
}

package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
	"cafe-system/internal/repository/memory"
)

type countingSource struct {
	*memory.Store
	loads atomic.Int32
}

func (s *countingSource) LoadCatalog(ctx context.Context) (domain.CatalogData, error) {
	s.loads.Add(1)
	return s.Store.LoadCatalog(ctx)
}

type fakeInvalidator struct{ n atomic.Int32 }

func (f *fakeInvalidator) Publish(context.Context) error { f.n.Add(1); return nil }

func seed(t *testing.T) (*countingSource, domain.MenuItem, domain.Ingredient, domain.Ingredient) {
	t.Helper()
	s := memory.New()
	cat := s.AddCategory(domain.Category{Name: "coffee"})
	beans := s.AddIngredient(domain.Ingredient{Name: "beans", Unit: domain.UnitGram})
	milk := s.AddIngredient(domain.Ingredient{Name: "milk", Unit: domain.UnitMilliliter})
	latte := s.AddItem(domain.MenuItem{CategoryID: cat.ID, Name: "latte", Price: decimal.RequireFromString("3.20"), IsAvailable: true},
		domain.Composition{IngredientID: milk.ID, Quantity: decimal.NewFromInt(200)},
		domain.Composition{IngredientID: beans.ID, Quantity: decimal.NewFromInt(18)},
	)
	return &countingSource{Store: s}, latte, beans, milk
}

func TestCatalog_ViewIsCachedUntilInvalidated(t *testing.T) {
	src, latte, beans, milk := seed(t)
	c := New(src, logger.Nop())
	ctx := context.Background()
	require.NoError(t, c.Init(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.View(ctx)
			assert.NoError(t, err)
			assert.True(t, v.Exists(latte.ID))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.loads.Load())

	v, err := c.View(ctx)
	require.NoError(t, err)
	comp := v.CompositionOf(latte.ID)
	require.Len(t, comp, 2)
	assert.Equal(t, beans.ID, comp[0].IngredientID, "composition is ordered by ingredient id")
	assert.Equal(t, []int64{latte.ID}, v.ItemsUsing([]int64{milk.ID, beans.ID}))

	price, err := v.PriceOf(domain.ItemRef(latte.ID))
	require.NoError(t, err)
	assert.Equal(t, "3.2", price.String())

	_, err = v.PriceOf(domain.ItemRef(9999))
	require.ErrorIs(t, err, domain.ErrNotFound)

	c.Invalidate()
	v2, err := c.View(ctx)
	require.NoError(t, err)
	assert.Greater(t, v2.Version(), v.Version())
	assert.Equal(t, int32(2), src.loads.Load())
}

func TestCatalog_ReplaceCompositionBustsCache(t *testing.T) {
	src, latte, beans, _ := seed(t)
	inv := &fakeInvalidator{}
	c := New(src, logger.Nop())
	c.SetInvalidator(inv)
	ctx := context.Background()
	require.NoError(t, c.Init(ctx))

	err := c.ReplaceComposition(ctx, latte.ID, []domain.Composition{{IngredientID: beans.ID, Quantity: decimal.NewFromInt(20)}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), inv.n.Load())

	v, err := c.View(ctx)
	require.NoError(t, err)
	comp := v.CompositionOf(latte.ID)
	require.Len(t, comp, 1)
	assert.True(t, comp[0].Quantity.Equal(decimal.NewFromInt(20)))
}

func TestCatalog_ReplaceCompositionValidates(t *testing.T) {
	src, latte, beans, _ := seed(t)
	c := New(src, logger.Nop())
	ctx := context.Background()
	require.NoError(t, c.Init(ctx))

	err := c.ReplaceComposition(ctx, latte.ID, []domain.Composition{{IngredientID: beans.ID, Quantity: decimal.Zero}})
	require.ErrorIs(t, err, domain.ErrValidation)

	err = c.ReplaceComposition(ctx, latte.ID, []domain.Composition{
		{IngredientID: beans.ID, Quantity: decimal.NewFromInt(1)},
		{IngredientID: beans.ID, Quantity: decimal.NewFromInt(2)},
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	err = c.ReplaceComposition(ctx, 4242, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalog_Shutdown(t *testing.T) {
	src, _, _, _ := seed(t)
	c := New(src, logger.Nop())
	ctx := context.Background()
	require.NoError(t, c.Init(ctx))
	c.Shutdown()

	_, err := c.View(ctx)
	require.ErrorIs(t, err, ErrClosed)

	require.NoError(t, c.Init(ctx))
	_, err = c.View(ctx)
	require.NoError(t, err)
}

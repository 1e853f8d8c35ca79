package availability

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafe-system/internal/catalog"
	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
	"cafe-system/internal/repository/memory"
	"cafe-system/internal/stock"
)

type menuFixture struct {
	store                       *memory.Store
	branch                      domain.Branch
	flour, cheese, milk         domain.Ingredient
	pizza, latte, hidden, empty domain.MenuItem
	cookie                      domain.ReadyProduct
	resolver                    *Resolver
	catalog                     *catalog.Catalog
}

func num(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func newMenuFixture(t *testing.T) *menuFixture {
	t.Helper()
	s := memory.New()
	f := &menuFixture{store: s}
	f.branch = s.AddBranch(domain.Branch{DisplayName: "Old town", TableCount: 6})
	cat := s.AddCategory(domain.Category{Name: "menu"})
	f.flour = s.AddIngredient(domain.Ingredient{Name: "flour", Unit: domain.UnitGram})
	f.cheese = s.AddIngredient(domain.Ingredient{Name: "cheese", Unit: domain.UnitGram})
	f.milk = s.AddIngredient(domain.Ingredient{Name: "milk", Unit: domain.UnitMilliliter})

	f.pizza = s.AddItem(domain.MenuItem{CategoryID: cat.ID, Name: "pizza", Price: num(8), IsAvailable: true},
		domain.Composition{IngredientID: f.flour.ID, Quantity: num(200)},
		domain.Composition{IngredientID: f.cheese.ID, Quantity: num(100)})
	f.latte = s.AddItem(domain.MenuItem{CategoryID: cat.ID, Name: "latte", Price: num(3), IsAvailable: true},
		domain.Composition{IngredientID: f.milk.ID, Quantity: num(250)})
	f.hidden = s.AddItem(domain.MenuItem{CategoryID: cat.ID, Name: "secret", Price: num(5), IsAvailable: false},
		domain.Composition{IngredientID: f.milk.ID, Quantity: num(10)})
	f.empty = s.AddItem(domain.MenuItem{CategoryID: cat.ID, Name: "air", Price: num(1), IsAvailable: true})
	f.cookie = s.AddProduct(domain.ReadyProduct{CategoryID: cat.ID, Name: "cookie", Price: num(2)})

	s.SetStock(f.branch.ID, f.flour.ID, num(400))
	s.SetStock(f.branch.ID, f.cheese.ID, num(150))
	s.SetStock(f.branch.ID, f.milk.ID, num(1000))
	s.SetReady(f.branch.ID, f.cookie.ID, 2)

	f.catalog = catalog.New(s, logger.Nop())
	require.NoError(t, f.catalog.Init(context.Background()))
	f.resolver = NewResolver(f.catalog, stock.NewStore(s), s)
	return f
}

func TestCanMake(t *testing.T) {
	f := newMenuFixture(t)
	ctx := context.Background()
	v, err := f.catalog.View(ctx)
	require.NoError(t, err)
	snap, err := f.store.StockSnapshot(ctx, f.branch.ID)
	require.NoError(t, err)

	assert.True(t, CanMake(v, snap, f.pizza.ID, 1))
	assert.False(t, CanMake(v, snap, f.pizza.ID, 2), "cheese covers only one pizza")
	assert.True(t, CanMake(v, snap, f.latte.ID, 4))
	assert.False(t, CanMake(v, snap, f.latte.ID, 5))
	assert.False(t, CanMake(v, snap, f.hidden.ID, 1), "hidden items are never makeable")
	assert.False(t, CanMake(v, snap, f.empty.ID, 1), "items without a recipe are never makeable")
	assert.False(t, CanMake(v, snap, 99999, 1))
	assert.False(t, CanMake(v, snap, f.latte.ID, 0))

	assert.True(t, CanMakeReady(snap, f.cookie.ID, 2))
	assert.False(t, CanMakeReady(snap, f.cookie.ID, 3))
}

func TestMakeableMenu(t *testing.T) {
	f := newMenuFixture(t)
	ctx := context.Background()

	m, err := f.resolver.MakeableMenu(ctx, f.branch.ID)
	require.NoError(t, err)
	assert.True(t, m.Contains(f.pizza.ID))
	assert.True(t, m.Contains(f.latte.ID))
	assert.False(t, m.Contains(f.hidden.ID))
	assert.False(t, m.Contains(f.empty.ID))
	require.Len(t, m.ReadyProducts, 1)
	assert.Equal(t, int64(2), m.ReadyProducts[0].InStock)

	f.store.SetStock(f.branch.ID, f.cheese.ID, num(99))
	m, err = f.resolver.MakeableMenu(ctx, f.branch.ID)
	require.NoError(t, err)
	assert.False(t, m.Contains(f.pizza.ID), "menu follows stock without cache busting")

	_, err = f.resolver.MakeableMenu(ctx, 4040)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPopularItems(t *testing.T) {
	f := newMenuFixture(t)
	ctx := context.Background()
	customer := f.store.AddUser(domain.User{Phone: "+10000000001", Role: domain.RoleClient})

	place := func(status domain.OrderStatus, lines ...domain.OrderLine) {
		require.NoError(t, f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.InsertOrder(ctx, &domain.Order{BranchID: f.branch.ID, CustomerID: customer.ID, Status: status, Lines: lines})
		}))
	}
	place(domain.StatusCompleted, domain.RecipeLine{ItemID: f.latte.ID, Quantity: 3})
	place(domain.StatusNew, domain.RecipeLine{ItemID: f.pizza.ID, Quantity: 2})
	place(domain.StatusCancelled, domain.RecipeLine{ItemID: f.pizza.ID, Quantity: 10})
	place(domain.StatusCompleted, domain.RecipeLine{ItemID: f.hidden.ID, Quantity: 7})

	got, err := f.resolver.PopularItems(ctx, f.branch.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "hidden item is dropped even though it sold most")
	assert.Equal(t, f.latte.ID, got[0].ID)
	assert.Equal(t, int64(3), got[0].Ordered)
	assert.Equal(t, f.pizza.ID, got[1].ID)
	assert.Equal(t, int64(2), got[1].Ordered, "cancelled orders do not count")

	got, err = f.resolver.PopularItems(ctx, f.branch.ID, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

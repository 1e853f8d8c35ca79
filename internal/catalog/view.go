package catalog

import (
	"sort"

	"github.com/shopspring/decimal"

	"cafe-system/internal/domain"
)

// View is an immutable snapshot of the catalog. Callers must not modify the
// slices it returns.
type View struct {
	version     uint64
	items       map[int64]domain.MenuItem
	itemIDs     []int64
	products    map[int64]domain.ReadyProduct
	productIDs  []int64
	ingredients map[int64]domain.Ingredient
	categories  map[int64]domain.Category
	comps       map[int64][]domain.Composition
	using       map[int64][]int64
}

func newView(d domain.CatalogData, version uint64) *View {
	v := &View{
		version:     version,
		items:       make(map[int64]domain.MenuItem, len(d.Items)),
		products:    make(map[int64]domain.ReadyProduct, len(d.ReadyProducts)),
		ingredients: make(map[int64]domain.Ingredient, len(d.Ingredients)),
		categories:  make(map[int64]domain.Category, len(d.Categories)),
		comps:       map[int64][]domain.Composition{},
		using:       map[int64][]int64{},
	}
	for _, c := range d.Categories {
		v.categories[c.ID] = c
	}
	for _, i := range d.Ingredients {
		v.ingredients[i.ID] = i
	}
	for _, it := range d.Items {
		v.items[it.ID] = it
		v.itemIDs = append(v.itemIDs, it.ID)
	}
	for _, p := range d.ReadyProducts {
		v.products[p.ID] = p
		v.productIDs = append(v.productIDs, p.ID)
	}
	for _, c := range d.Compositions {
		v.comps[c.ItemID] = append(v.comps[c.ItemID], c)
		v.using[c.IngredientID] = append(v.using[c.IngredientID], c.ItemID)
	}
	sort.Slice(v.itemIDs, func(i, j int) bool { return v.itemIDs[i] < v.itemIDs[j] })
	sort.Slice(v.productIDs, func(i, j int) bool { return v.productIDs[i] < v.productIDs[j] })
	for id := range v.comps {
		cs := v.comps[id]
		sort.Slice(cs, func(i, j int) bool { return cs[i].IngredientID < cs[j].IngredientID })
	}
	return v
}

func (v *View) Version() uint64 { return v.version }

func (v *View) Exists(itemID int64) bool { _, ok := v.items[itemID]; return ok }

func (v *View) Item(id int64) (domain.MenuItem, bool) { it, ok := v.items[id]; return it, ok }

func (v *View) Product(id int64) (domain.ReadyProduct, bool) { p, ok := v.products[id]; return p, ok }

func (v *View) Ingredient(id int64) (domain.Ingredient, bool) { i, ok := v.ingredients[id]; return i, ok }

// CompositionOf returns the recipe ordered by ingredient id. An item with no
// rows returns nil.
func (v *View) CompositionOf(itemID int64) []domain.Composition { return v.comps[itemID] }

// PriceOf accepts an item or ready product ref.
func (v *View) PriceOf(ref domain.StockRef) (decimal.Decimal, error) {
	switch ref.Kind {
	case domain.StockMenuItem:
		if it, ok := v.items[ref.ID]; ok {
			return it.Price, nil
		}
		return decimal.Zero, domain.NotFoundf("menu item %d not found", ref.ID)
	case domain.StockReadyProduct:
		if p, ok := v.products[ref.ID]; ok {
			return p.Price, nil
		}
		return decimal.Zero, domain.NotFoundf("ready product %d not found", ref.ID)
	}
	return decimal.Zero, domain.Validationf("%s has no price", ref.Kind)
}

func (v *View) Items() []domain.MenuItem {
	out := make([]domain.MenuItem, 0, len(v.itemIDs))
	for _, id := range v.itemIDs {
		out = append(out, v.items[id])
	}
	return out
}

func (v *View) ReadyProducts() []domain.ReadyProduct {
	out := make([]domain.ReadyProduct, 0, len(v.productIDs))
	for _, id := range v.productIDs {
		out = append(out, v.products[id])
	}
	return out
}

// ItemsUsing returns the ids of items whose recipe contains any of the
// given ingredients, ascending and without duplicates.
func (v *View) ItemsUsing(ingredientIDs []int64) []int64 {
	seen := map[int64]struct{}{}
	var out []int64
	for _, ing := range ingredientIDs {
		for _, item := range v.using[ing] {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (v *View) NameOf(ref domain.StockRef) string {
	switch ref.Kind {
	case domain.StockIngredient:
		return v.ingredients[ref.ID].Name
	case domain.StockReadyProduct:
		return v.products[ref.ID].Name
	case domain.StockMenuItem:
		return v.items[ref.ID].Name
	}
	return ""
}

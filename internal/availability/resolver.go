package availability

import (
	"context"

	"github.com/shopspring/decimal"

	"cafe-system/internal/catalog"
	"cafe-system/internal/domain"
)

// CanMake reports whether the snapshot covers qty portions of the item.
// Hidden items and items without a recipe are never makeable.
func CanMake(v *catalog.View, snap domain.StockSnapshot, itemID int64, qty int) bool {
	if qty < 1 {
		return false
	}
	item, ok := v.Item(itemID)
	if !ok || !item.IsAvailable {
		return false
	}
	comp := v.CompositionOf(itemID)
	if len(comp) == 0 {
		return false
	}
	n := decimal.NewFromInt(int64(qty))
	for _, c := range comp {
		if snap.Ingredient(c.IngredientID).LessThan(c.Quantity.Mul(n)) {
			return false
		}
	}
	return true
}

func CanMakeReady(snap domain.StockSnapshot, productID int64, qty int) bool {
	return qty >= 1 && snap.ReadyQty(productID) >= int64(qty)
}

// ReadyOffer is a ready product together with the units on hand.
type ReadyOffer struct {
	domain.ReadyProduct
	InStock int64 `json:"in_stock"`
}

type Menu struct {
	BranchID      int64             `json:"branch_id"`
	Items         []domain.MenuItem `json:"items"`
	ReadyProducts []ReadyOffer      `json:"ready_products"`
}

// Contains reports whether an item is on the menu.
func (m Menu) Contains(itemID int64) bool {
	for _, it := range m.Items {
		if it.ID == itemID {
			return true
		}
	}
	return false
}

// Build computes the makeable menu from one view and one snapshot.
func Build(v *catalog.View, snap domain.StockSnapshot) Menu {
	m := Menu{BranchID: snap.BranchID, Items: []domain.MenuItem{}, ReadyProducts: []ReadyOffer{}}
	for _, it := range v.Items() {
		if CanMake(v, snap, it.ID, 1) {
			m.Items = append(m.Items, it)
		}
	}
	for _, p := range v.ReadyProducts() {
		if n := snap.ReadyQty(p.ID); n > 0 {
			m.ReadyProducts = append(m.ReadyProducts, ReadyOffer{ReadyProduct: p, InStock: n})
		}
	}
	return m
}

type SnapshotSource interface {
	Snapshot(ctx context.Context, branchID int64) (domain.StockSnapshot, error)
}

type PopularitySource interface {
	Popularity(ctx context.Context, branchID int64) ([]domain.ItemPopularity, error)
}

// Resolver answers availability questions for a branch. It holds no state
// of its own and is safe for concurrent use.
type Resolver struct {
	catalog    *catalog.Catalog
	stock      SnapshotSource
	popularity PopularitySource
}

func NewResolver(c *catalog.Catalog, s SnapshotSource, p PopularitySource) *Resolver {
	return &Resolver{catalog: c, stock: s, popularity: p}
}

func (r *Resolver) load(ctx context.Context, branchID int64) (*catalog.View, domain.StockSnapshot, error) {
	v, err := r.catalog.View(ctx)
	if err != nil {
		return nil, domain.StockSnapshot{}, err
	}
	snap, err := r.stock.Snapshot(ctx, branchID)
	if err != nil {
		return nil, domain.StockSnapshot{}, err
	}
	return v, snap, nil
}

func (r *Resolver) CanMakeAt(ctx context.Context, branchID, itemID int64, qty int) (bool, error) {
	v, snap, err := r.load(ctx, branchID)
	if err != nil {
		return false, err
	}
	return CanMake(v, snap, itemID, qty), nil
}

func (r *Resolver) MakeableMenu(ctx context.Context, branchID int64) (Menu, error) {
	v, snap, err := r.load(ctx, branchID)
	if err != nil {
		return Menu{}, err
	}
	return Build(v, snap), nil
}

type PopularItem struct {
	domain.MenuItem
	Ordered int64 `json:"ordered"`
}

// PopularItems ranks makeable items by historical quantity ordered.
func (r *Resolver) PopularItems(ctx context.Context, branchID int64, limit int) ([]PopularItem, error) {
	v, snap, err := r.load(ctx, branchID)
	if err != nil {
		return nil, err
	}
	ranks, err := r.popularity.Popularity(ctx, branchID)
	if err != nil {
		return nil, err
	}
	out := []PopularItem{}
	for _, p := range ranks {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !CanMake(v, snap, p.ItemID, 1) {
			continue
		}
		it, _ := v.Item(p.ItemID)
		out = append(out, PopularItem{MenuItem: it, Ordered: p.Quantity})
	}
	return out, nil
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLine is either a RecipeLine or a ReadyProductLine.
type OrderLine interface {
	isOrderLine()
	Qty() int
	UnitPrice() decimal.Decimal
	Ref() StockRef
}

// RecipeLine keeps the composition used at admission so cancellation restores
// exactly what was deducted even if the recipe changes later.
type RecipeLine struct {
	ID                int64
	ItemID            int64
	Quantity          int
	UnitPriceSnapshot decimal.Decimal
	Composition       []Composition
	CreatedAt         time.Time
}

type ReadyProductLine struct {
	ID                int64
	ProductID         int64
	Quantity          int
	UnitPriceSnapshot decimal.Decimal
	CreatedAt         time.Time
}

func (RecipeLine) isOrderLine()       {}
func (ReadyProductLine) isOrderLine() {}

func (l RecipeLine) Qty() int                         { return l.Quantity }
func (l ReadyProductLine) Qty() int                   { return l.Quantity }
func (l RecipeLine) UnitPrice() decimal.Decimal       { return l.UnitPriceSnapshot }
func (l ReadyProductLine) UnitPrice() decimal.Decimal { return l.UnitPriceSnapshot }

// Ref for a recipe line points at the menu item, not an ingredient row.
func (l RecipeLine) Ref() StockRef       { return ItemRef(l.ItemID) }
func (l ReadyProductLine) Ref() StockRef { return ProductRef(l.ProductID) }

func LineTotal(l OrderLine) decimal.Decimal {
	return l.UnitPrice().Mul(decimal.NewFromInt(int64(l.Qty())))
}

// Requirement is the per-ingredient amount a recipe line consumes.
func (l RecipeLine) Requirement() map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(l.Composition))
	q := decimal.NewFromInt(int64(l.Quantity))
	for _, c := range l.Composition {
		out[c.IngredientID] = out[c.IngredientID].Add(c.Quantity.Mul(q))
	}
	return out
}

// LineRequest is an unpriced line as submitted by a caller. Exactly one of
// ItemID and ProductID must be set.
type LineRequest struct {
	ItemID    *int64 `json:"item_id,omitempty"`
	ProductID *int64 `json:"ready_product_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

func (r LineRequest) Validate() error {
	if (r.ItemID == nil) == (r.ProductID == nil) {
		return Validationf("line must reference exactly one of item_id or ready_product_id")
	}
	if r.Quantity < 1 {
		return Validationf("line quantity must be at least 1")
	}
	return nil
}

package stock

import (
	"context"

	"github.com/shopspring/decimal"

	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
)

// Namer resolves display names for stock rows.
type Namer interface {
	NameOf(ref domain.StockRef) string
}

// Store is the read side of branch stock.
type Store struct {
	repo repository.Reader
}

func NewStore(repo repository.Reader) *Store { return &Store{repo: repo} }

func (s *Store) Snapshot(ctx context.Context, branchID int64) (domain.StockSnapshot, error) {
	return s.repo.StockSnapshot(ctx, branchID)
}

func (s *Store) Get(ctx context.Context, branchID, ingredientID int64) (decimal.Decimal, error) {
	snap, err := s.repo.StockSnapshot(ctx, branchID)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.Ingredient(ingredientID), nil
}

// BelowMinimal lists every row whose quantity is under its limit.
func (s *Store) BelowMinimal(ctx context.Context, branchID int64, names Namer) ([]domain.LowStock, error) {
	snap, err := s.repo.StockSnapshot(ctx, branchID)
	if err != nil {
		return nil, err
	}
	limits, err := s.repo.MinimalLimits(ctx, branchID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.LowStock, 0)
	for _, l := range limits {
		var q decimal.Decimal
		if l.Ref.Kind == domain.StockIngredient {
			q = snap.Ingredient(l.Ref.ID)
		} else {
			q = decimal.NewFromInt(snap.ReadyQty(l.Ref.ID))
		}
		if q.LessThan(l.Threshold) {
			row := domain.LowStock{Ref: l.Ref, Quantity: q, Threshold: l.Threshold}
			if names != nil {
				row.Name = names.NameOf(l.Ref)
			}
			out = append(out, row)
		}
	}
	return out, nil
}

// Receipt is one line of an admin stock delivery.
type Receipt struct {
	Ref      domain.StockRef `json:"ref"`
	Quantity decimal.Decimal `json:"quantity"`
	// Unit is the unit the quantity is expressed in; empty means the
	// ingredient's own unit. Ignored for ready products.
	Unit domain.Unit `json:"unit,omitempty"`
}

// Normalize converts the receipt into the ingredient's unit. Ready product
// quantities must be whole numbers.
func (r Receipt) Normalize(ingredientUnit domain.Unit) (decimal.Decimal, error) {
	if !r.Quantity.IsPositive() {
		return decimal.Zero, domain.Validationf("receipt quantity must be positive")
	}
	switch r.Ref.Kind {
	case domain.StockIngredient:
		if r.Unit == "" || r.Unit == ingredientUnit {
			return r.Quantity, nil
		}
		return r.Unit.Convert(r.Quantity, ingredientUnit)
	case domain.StockReadyProduct:
		if !r.Quantity.Equal(r.Quantity.Truncate(0)) {
			return decimal.Zero, domain.Validationf("ready product quantity must be whole")
		}
		return r.Quantity, nil
	}
	return decimal.Zero, domain.Validationf("unknown stock kind %q", r.Ref.Kind)
}

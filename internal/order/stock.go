package order

import (
	"context"

	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
	"cafe-system/internal/stock"
)

// ReceiveRequest is an admin stock delivery, optionally with new minimal
// limits for the same branch.
type ReceiveRequest struct {
	Receipts []stock.Receipt       `json:"receipts"`
	Limits   []domain.MinimalLimit `json:"limits,omitempty"`
}

// ReceiveStock books a delivery. Quantities are converted into each
// ingredient's unit; rows that never existed are created.
func (e *Engine) ReceiveStock(ctx context.Context, a domain.Actor, branchID int64, req ReceiveRequest) (domain.StockSnapshot, error) {
	if a.Role != domain.RoleAdmin {
		return domain.StockSnapshot{}, domain.Forbiddenf("only admins receive stock")
	}
	if len(req.Receipts) == 0 && len(req.Limits) == 0 {
		return domain.StockSnapshot{}, domain.Validationf("nothing to receive")
	}
	v, err := e.catalog.View(ctx)
	if err != nil {
		return domain.StockSnapshot{}, deadline(err)
	}

	var (
		ingIDs, prodIDs []int64
		amounts         = make([]stock.Receipt, 0, len(req.Receipts))
	)
	for _, r := range req.Receipts {
		var unit domain.Unit
		switch r.Ref.Kind {
		case domain.StockIngredient:
			ing, ok := v.Ingredient(r.Ref.ID)
			if !ok {
				return domain.StockSnapshot{}, domain.NotFoundf("ingredient %d not found", r.Ref.ID)
			}
			unit = ing.Unit
			ingIDs = append(ingIDs, r.Ref.ID)
		case domain.StockReadyProduct:
			if _, ok := v.Product(r.Ref.ID); !ok {
				return domain.StockSnapshot{}, domain.NotFoundf("ready product %d not found", r.Ref.ID)
			}
			prodIDs = append(prodIDs, r.Ref.ID)
		default:
			return domain.StockSnapshot{}, domain.Validationf("unknown stock kind %q", r.Ref.Kind)
		}
		q, err := r.Normalize(unit)
		if err != nil {
			return domain.StockSnapshot{}, err
		}
		amounts = append(amounts, stock.Receipt{Ref: r.Ref, Quantity: q, Unit: unit})
	}
	for _, l := range req.Limits {
		if l.Threshold.IsNegative() {
			return domain.StockSnapshot{}, domain.Validationf("minimal limit must not be negative")
		}
	}

	var snap domain.StockSnapshot
	err = e.atomically(ctx, "receive_stock", func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetBranch(ctx, branchID); err != nil {
			return err
		}
		for _, l := range req.Limits {
			l.BranchID = branchID
			if err := tx.UpsertMinimalLimit(ctx, l); err != nil {
				return err
			}
		}
		ledger, err := stock.Lock(ctx, tx, branchID, ingIDs, prodIDs)
		if err != nil {
			return err
		}
		for _, r := range amounts {
			if r.Ref.Kind == domain.StockIngredient {
				err = ledger.Increment(r.Ref.ID, r.Quantity)
			} else {
				err = ledger.IncrementReady(r.Ref.ID, r.Quantity.IntPart())
			}
			if err != nil {
				return err
			}
		}
		changed, _ := ledger.Changed()
		crossings, err := ledger.Flush(ctx)
		if err != nil {
			return err
		}
		evs, err := crossingEvents(v, branchID, crossings)
		if err != nil {
			return err
		}
		if err := e.publish(ctx, tx, evs...); err != nil {
			return err
		}
		e.afterCommit(tx, v, branchID, changed)
		snap = ledger.Snapshot()
		return nil
	})
	if err != nil {
		return domain.StockSnapshot{}, err
	}
	e.lg.Info("stock_received", map[string]any{"branch_id": branchID, "receipts": len(amounts), "limits": len(req.Limits), "actor": a.String()})
	return snap, nil
}

// ReplaceRecipe swaps an item's composition and refreshes its index entry
// at every branch.
func (e *Engine) ReplaceRecipe(ctx context.Context, a domain.Actor, itemID int64, comps []domain.Composition) error {
	if a.Role != domain.RoleAdmin {
		return domain.Forbiddenf("only admins edit recipes")
	}
	v, err := e.catalog.View(ctx)
	if err != nil {
		return err
	}
	if !v.Exists(itemID) {
		return domain.NotFoundf("menu item %d not found", itemID)
	}
	for _, c := range comps {
		if _, ok := v.Ingredient(c.IngredientID); !ok {
			return domain.NotFoundf("ingredient %d not found", c.IngredientID)
		}
	}
	if err := e.catalog.ReplaceComposition(ctx, itemID, comps); err != nil {
		return err
	}
	if e.index == nil {
		return nil
	}
	branches, err := e.store.ListBranches(ctx)
	if err != nil {
		// the recipe is saved; the index catches up on the next stock change
		e.lg.Error("index_resync_skipped", err, map[string]any{"item_id": itemID})
		return nil
	}
	for _, b := range branches {
		e.index.Changed(b.ID, []int64{itemID})
	}
	return nil
}

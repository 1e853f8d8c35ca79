package order

import (
	"context"

	"cafe-system/internal/catalog"
	"cafe-system/internal/domain"
	"cafe-system/internal/lifecycle"
	"cafe-system/internal/repository"
)

// Advance moves an order to target. Asking for the current status returns
// the order unchanged and emits nothing. Cancellation goes through Cancel.
// Orders the actor may not see are reported as not found.
func (e *Engine) Advance(ctx context.Context, orderID int64, target domain.OrderStatus, a domain.Actor) (domain.Order, error) {
	if target == domain.StatusCancelled {
		return e.Cancel(ctx, orderID, a)
	}
	var (
		out   domain.Order
		moved bool
		from  domain.OrderStatus
	)
	err := e.atomically(ctx, "advance", func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !canSee(a, o) {
			return domain.NotFoundf("order %d not found", orderID)
		}
		tr, ok, err := lifecycle.Plan(o, target, a)
		if err != nil {
			return err
		}
		out, moved, from = o, ok, o.Status
		if !ok {
			return nil
		}

		now := e.Now()
		o.Status = tr.To
		if tr.Completes() {
			o.CompletedAt = &now
			if err := e.credit(ctx, tx, &o); err != nil {
				return err
			}
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.AppendStatusLog(ctx, logEntry(o, a, "")); err != nil {
			return err
		}

		payload := domain.OrderAdvancedPayload{OrderID: o.ID, BranchID: o.BranchID, From: tr.From, To: tr.To, Actor: a.Role}
		evs, err := events(
			eventSpec{domain.BranchChannel(o.BranchID), domain.EventOrderAdvanced, payload},
			eventSpec{domain.UserChannel(o.CustomerID), domain.EventOrderAdvanced, payload},
		)
		if err != nil {
			return err
		}
		if err := e.publish(ctx, tx, evs...); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	if moved {
		e.lg.Info("order_advanced", map[string]any{"order_id": orderID, "from": from, "to": out.Status, "actor": a.String()})
	}
	return out, nil
}

// credit pays out the pending accrual once.
func (e *Engine) credit(ctx context.Context, tx repository.Tx, o *domain.Order) error {
	if o.BonusCredited || o.PendingBonus <= 0 {
		o.BonusCredited = true
		return nil
	}
	u, err := tx.LockUser(ctx, o.CustomerID)
	if err != nil {
		return err
	}
	if err := tx.SetBonusPoints(ctx, u.ID, u.BonusPoints+o.PendingBonus); err != nil {
		return err
	}
	o.BonusCredited = true
	return nil
}

// Cancel cancels an order, puts back exactly the stock taken at admission,
// refunds redeemed points and voids the pending accrual.
func (e *Engine) Cancel(ctx context.Context, orderID int64, a domain.Actor) (domain.Order, error) {
	v, err := e.catalog.View(ctx)
	if err != nil {
		return domain.Order{}, deadline(err)
	}
	var (
		out       domain.Order
		cancelled bool
		from      domain.OrderStatus
	)
	err = e.atomically(ctx, "cancel", func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !canSee(a, o) {
			return domain.NotFoundf("order %d not found", orderID)
		}
		tr, ok, err := lifecycle.Plan(o, domain.StatusCancelled, a)
		if err != nil {
			return err
		}
		out, cancelled, from = o, ok, o.Status
		if !ok {
			return nil
		}

		// customer before stock, same as Admit
		if o.SpentBonusPoints > 0 {
			u, err := tx.LockUser(ctx, o.CustomerID)
			if err != nil {
				return err
			}
			if err := tx.SetBonusPoints(ctx, u.ID, u.BonusPoints+o.SpentBonusPoints); err != nil {
				return err
			}
		}
		ingIDs, stockEvs, err := e.restore(ctx, tx, v, o)
		if err != nil {
			return err
		}

		now := e.Now()
		o.Status = tr.To
		o.CancelledAt = &now
		o.PendingBonus = 0
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.AppendStatusLog(ctx, logEntry(o, a, "")); err != nil {
			return err
		}

		payload := domain.OrderCancelledPayload{OrderID: o.ID, BranchID: o.BranchID, From: tr.From, Actor: a.Role, Refunded: o.SpentBonusPoints}
		evs, err := events(
			eventSpec{domain.BranchChannel(o.BranchID), domain.EventOrderCancelled, payload},
			eventSpec{domain.UserChannel(o.CustomerID), domain.EventOrderCancelled, payload},
		)
		if err != nil {
			return err
		}
		if err := e.publish(ctx, tx, append(evs, stockEvs...)...); err != nil {
			return err
		}
		e.afterCommit(tx, v, o.BranchID, ingIDs)
		out = o
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	if cancelled {
		e.lg.Info("order_cancelled", map[string]any{"order_id": orderID, "from": from, "actor": a.String(), "refunded": out.SpentBonusPoints})
	}
	return out, nil
}

// restore adds back every line's snapshot requirement. It returns the
// touched ingredient ids and the events for any limit crossings.
func (e *Engine) restore(ctx context.Context, tx repository.Tx, v *catalog.View, o domain.Order) ([]int64, []domain.Event, error) {
	ledger, err := lockFor(ctx, tx, o.BranchID, o.Lines)
	if err != nil {
		return nil, nil, err
	}
	for _, l := range o.Lines {
		switch line := l.(type) {
		case domain.RecipeLine:
			req := line.Requirement()
			for _, id := range sortedKeys(req) {
				if err := ledger.Increment(id, req[id]); err != nil {
					return nil, nil, err
				}
			}
		case domain.ReadyProductLine:
			if err := ledger.IncrementReady(line.ProductID, int64(line.Quantity)); err != nil {
				return nil, nil, err
			}
		}
	}
	ingIDs, _ := ledger.Changed()
	crossings, err := ledger.Flush(ctx)
	if err != nil {
		return nil, nil, err
	}
	evs, err := crossingEvents(v, o.BranchID, crossings)
	if err != nil {
		return nil, nil, err
	}
	return ingIDs, evs, nil
}

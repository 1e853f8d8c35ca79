package order

import (
	"context"

	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
)

// canSee reports whether a may read o: its customer or staff of its branch.
func canSee(a domain.Actor, o domain.Order) bool {
	return a.UserID == o.CustomerID || a.WorksAt(o.BranchID)
}

func (e *Engine) Get(ctx context.Context, a domain.Actor, orderID int64) (domain.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !canSee(a, o) {
		// чужие заказы не раскрываем
		return domain.Order{}, domain.NotFoundf("order %d not found", orderID)
	}
	return o, nil
}

func (e *Engine) Timeline(ctx context.Context, a domain.Actor, orderID int64) ([]domain.StatusLogEntry, error) {
	if _, err := e.Get(ctx, a, orderID); err != nil {
		return nil, err
	}
	return e.store.OrderTimeline(ctx, orderID)
}

func (e *Engine) ListForBranch(ctx context.Context, a domain.Actor, branchID int64, f domain.OrderFilter) ([]domain.Order, error) {
	if !a.WorksAt(branchID) {
		return nil, domain.Forbiddenf("%s does not work at branch %d", a, branchID)
	}
	if _, err := e.store.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}
	return e.store.ListOrders(ctx, repository.OrderQuery{BranchID: &branchID, Filter: f})
}

func (e *Engine) ListForCustomer(ctx context.Context, customerID int64, f domain.OrderFilter) ([]domain.Order, error) {
	return e.store.ListOrders(ctx, repository.OrderQuery{CustomerID: &customerID, Filter: f})
}

// OccupiedTables is the waiter view of a branch's dine-in tables.
func (e *Engine) OccupiedTables(ctx context.Context, a domain.Actor, branchID int64) ([]domain.TableOccupancy, error) {
	if !a.WorksAt(branchID) {
		return nil, domain.Forbiddenf("%s does not work at branch %d", a, branchID)
	}
	if _, err := e.store.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}
	return e.store.OccupiedTables(ctx, branchID)
}

package order

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"cafe-system/internal/availability"
	"cafe-system/internal/catalog"
	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
	"cafe-system/internal/stock"
)

var accrualRate = decimal.NewFromFloat(0.05)

type AdmitRequest struct {
	// CustomerID is honoured only for waiters and admins taking an order
	// on someone's behalf; clients always order for themselves.
	CustomerID       int64                `json:"customer_id,omitempty"`
	BranchID         int64                `json:"branch_id"`
	TableNumber      *int                 `json:"table_number,omitempty"`
	Lines            []domain.LineRequest `json:"lines"`
	SpendBonusPoints int64                `json:"spend_bonus_points"`
}

// Accrual is the bonus credited when an order with the given total completes.
func Accrual(total decimal.Decimal) int64 {
	return total.Mul(accrualRate).Floor().IntPart()
}

// ClampSpend limits a bonus redemption to what the customer holds and to
// the whole part of the order total.
func ClampSpend(requested, balance int64, total decimal.Decimal) int64 {
	limit := total.Floor().IntPart()
	if balance < limit {
		limit = balance
	}
	switch {
	case requested < 0:
		return 0
	case requested > limit:
		return limit
	}
	return requested
}

func (e *Engine) customerFor(a domain.Actor, req AdmitRequest) (int64, error) {
	switch a.Role {
	case domain.RoleClient:
		return a.UserID, nil
	case domain.RoleWaiter, domain.RoleAdmin:
		if !a.WorksAt(req.BranchID) {
			return 0, domain.Forbiddenf("%s does not work at branch %d", a, req.BranchID)
		}
		if req.CustomerID > 0 {
			return req.CustomerID, nil
		}
		return a.UserID, nil
	}
	return 0, domain.Forbiddenf("%s may not place orders", a.Role)
}

// Admit verifies, prices and persists a new order, deducting its stock.
func (e *Engine) Admit(ctx context.Context, a domain.Actor, req AdmitRequest) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AdmitTimeout)
	defer cancel()

	customerID, err := e.customerFor(a, req)
	if err != nil {
		return domain.Order{}, err
	}
	if len(req.Lines) == 0 {
		return domain.Order{}, domain.Validationf("order has no lines")
	}
	for i, l := range req.Lines {
		if err := l.Validate(); err != nil {
			return domain.Order{}, domain.Validationf("line %d: %v", i+1, err)
		}
	}
	v, err := e.catalog.View(ctx)
	if err != nil {
		return domain.Order{}, deadline(err)
	}

	var out domain.Order
	err = e.atomically(ctx, "admit", func(ctx context.Context, tx repository.Tx) error {
		o, err := e.admit(ctx, tx, v, a, customerID, req)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		e.lg.Debug("order_rejected", map[string]any{"branch_id": req.BranchID, "customer_id": customerID, "reason": domain.KindOf(err)})
		return domain.Order{}, err
	}
	e.lg.Info("order_admitted", map[string]any{
		"order_id": out.ID, "branch_id": out.BranchID, "customer_id": out.CustomerID,
		"total": out.TotalPrice.StringFixed(2), "spent_bonus": out.SpentBonusPoints,
	})
	return out, nil
}

func (e *Engine) admit(ctx context.Context, tx repository.Tx, v *catalog.View, a domain.Actor, customerID int64, req AdmitRequest) (domain.Order, error) {
	branch, err := tx.GetBranch(ctx, req.BranchID)
	if err != nil {
		return domain.Order{}, err
	}
	if req.TableNumber != nil {
		if !branch.HasTable(*req.TableNumber) {
			return domain.Order{}, domain.Validationf("table %d is not in 1..%d", *req.TableNumber, branch.TableCount)
		}
		if _, held, err := tx.TableHolder(ctx, branch.ID, *req.TableNumber); err != nil {
			return domain.Order{}, err
		} else if held {
			return domain.Order{}, domain.TableOccupied(branch.ID, *req.TableNumber)
		}
	}

	lines, total, err := price(v, req.Lines)
	if err != nil {
		return domain.Order{}, err
	}

	customer, err := tx.LockUser(ctx, customerID)
	if err != nil {
		return domain.Order{}, err
	}
	spend := ClampSpend(req.SpendBonusPoints, customer.BonusPoints, total)
	total = total.Sub(decimal.NewFromInt(spend))

	ledger, err := lockFor(ctx, tx, branch.ID, lines)
	if err != nil {
		return domain.Order{}, err
	}
	if err := deduct(v, ledger, lines); err != nil {
		return domain.Order{}, err
	}
	ingIDs, _ := ledger.Changed()
	crossings, err := ledger.Flush(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	if spend > 0 {
		if err := tx.SetBonusPoints(ctx, customer.ID, customer.BonusPoints-spend); err != nil {
			return domain.Order{}, err
		}
	}

	o := domain.Order{
		BranchID:         branch.ID,
		CustomerID:       customer.ID,
		TableNumber:      req.TableNumber,
		Status:           domain.StatusNew,
		TotalPrice:       total,
		SpentBonusPoints: spend,
		PendingBonus:     Accrual(total),
		Lines:            lines,
	}
	if err := tx.InsertOrder(ctx, &o); err != nil {
		return domain.Order{}, err
	}
	if err := tx.AppendStatusLog(ctx, logEntry(o, a, "")); err != nil {
		return domain.Order{}, err
	}

	payload := domain.OrderCreatedPayload{
		OrderID: o.ID, BranchID: o.BranchID, CustomerID: o.CustomerID,
		TableNumber: o.TableNumber, TotalPrice: o.TotalPrice, Lines: len(o.Lines),
	}
	evs, err := events(
		eventSpec{domain.BranchChannel(o.BranchID), domain.EventOrderCreated, payload},
		eventSpec{domain.UserChannel(o.CustomerID), domain.EventOrderCreated, payload},
	)
	if err != nil {
		return domain.Order{}, err
	}
	stockEvs, err := crossingEvents(v, branch.ID, crossings)
	if err != nil {
		return domain.Order{}, err
	}
	if err := e.publish(ctx, tx, append(evs, stockEvs...)...); err != nil {
		return domain.Order{}, err
	}

	if _, err := e.jobs.Schedule(ctx, tx, domain.JobOrderReminder, domain.BranchChannel(o.BranchID),
		domain.ReminderJob{OrderID: o.ID, BranchID: o.BranchID}, e.Now().Add(e.cfg.ReminderDelay)); err != nil {
		return domain.Order{}, err
	}

	e.afterCommit(tx, v, branch.ID, ingIDs)
	return o, nil
}

// price turns line requests into priced order lines, snapshotting each
// recipe as it is now.
func price(v *catalog.View, reqs []domain.LineRequest) ([]domain.OrderLine, decimal.Decimal, error) {
	lines := make([]domain.OrderLine, 0, len(reqs))
	total := decimal.Zero
	for _, r := range reqs {
		var l domain.OrderLine
		if r.ItemID != nil {
			it, ok := v.Item(*r.ItemID)
			if !ok {
				return nil, decimal.Zero, domain.NotFoundf("menu item %d not found", *r.ItemID)
			}
			if !it.IsAvailable {
				// скрыт администратором, это не нехватка продуктов
				return nil, decimal.Zero, domain.NotFoundf("menu item %d is not on sale", it.ID)
			}
			comps := v.CompositionOf(it.ID)
			l = domain.RecipeLine{
				ItemID:            it.ID,
				Quantity:          r.Quantity,
				UnitPriceSnapshot: it.Price,
				Composition:       append([]domain.Composition(nil), comps...),
			}
		} else {
			p, ok := v.Product(*r.ProductID)
			if !ok {
				return nil, decimal.Zero, domain.NotFoundf("ready product %d not found", *r.ProductID)
			}
			l = domain.ReadyProductLine{ProductID: p.ID, Quantity: r.Quantity, UnitPriceSnapshot: p.Price}
		}
		lines = append(lines, l)
		total = total.Add(domain.LineTotal(l))
	}
	return lines, total, nil
}

// rowsOf lists the stock rows the lines touch.
func rowsOf(lines []domain.OrderLine) (ingredientIDs, productIDs []int64) {
	for _, l := range lines {
		switch v := l.(type) {
		case domain.RecipeLine:
			for _, c := range v.Composition {
				ingredientIDs = append(ingredientIDs, c.IngredientID)
			}
		case domain.ReadyProductLine:
			productIDs = append(productIDs, v.ProductID)
		}
	}
	return ingredientIDs, productIDs
}

func lockFor(ctx context.Context, tx repository.Tx, branchID int64, lines []domain.OrderLine) (*stock.Ledger, error) {
	ing, prod := rowsOf(lines)
	return stock.Lock(ctx, tx, branchID, ing, prod)
}

// deduct checks every line against the locked rows, cumulatively, and
// takes its stock. A failing line reports the item or product it names.
func deduct(v *catalog.View, ledger *stock.Ledger, lines []domain.OrderLine) error {
	for _, l := range lines {
		switch line := l.(type) {
		case domain.RecipeLine:
			if !availability.CanMake(v, ledger.Snapshot(), line.ItemID, line.Quantity) {
				return shortOf(line.ItemID, ledger, line)
			}
			req := line.Requirement()
			for _, id := range sortedKeys(req) {
				if err := ledger.Decrement(id, req[id]); err != nil {
					return err
				}
			}
		case domain.ReadyProductLine:
			if err := ledger.DecrementReady(line.ProductID, int64(line.Quantity)); err != nil {
				if errors.Is(err, domain.ErrInsufficientStock) {
					return domain.InsufficientStock(line.Ref())
				}
				return err
			}
		}
	}
	return nil
}

// shortOf builds the InsufficientStock error for a recipe line and names
// the first ingredient that ran out, if any.
func shortOf(itemID int64, ledger *stock.Ledger, line domain.RecipeLine) error {
	err := domain.InsufficientStock(domain.ItemRef(itemID))
	req := line.Requirement()
	for _, id := range sortedKeys(req) {
		if ledger.Get(id).LessThan(req[id]) {
			err.Details["ingredient_id"] = id
			break
		}
	}
	return err
}

func sortedKeys(m map[int64]decimal.Decimal) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

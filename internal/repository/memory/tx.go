package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
)

type tx struct {
	st    *state
	now   func() time.Time
	hooks repository.CommitHooks
}

var _ repository.Tx = (*tx)(nil)

func (t *tx) OnCommit(fn func()) { t.hooks.Add(fn) }

func (t *tx) GetBranch(_ context.Context, id int64) (domain.Branch, error) { return t.st.branch(id) }

func (t *tx) LockUser(_ context.Context, id int64) (domain.User, error) { return t.st.user(id) }

func (t *tx) SetBonusPoints(_ context.Context, userID, points int64) error {
	u, err := t.st.user(userID)
	if err != nil {
		return err
	}
	if points < 0 {
		return domain.Validationf("bonus points cannot go negative")
	}
	u.BonusPoints = points
	t.st.users[userID] = u
	return nil
}

func (t *tx) TableHolder(_ context.Context, branchID int64, table int) (int64, bool, error) {
	for _, o := range t.st.orders {
		if o.BranchID == branchID && o.HoldsTable() && *o.TableNumber == table {
			return o.ID, true, nil
		}
	}
	return 0, false, nil
}

func (t *tx) LockIngredientStock(_ context.Context, branchID int64, ids []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		k := stockKey{branchID, id}
		if _, ok := t.st.stock[k]; !ok {
			t.st.stock[k] = decimal.Zero
		}
		out[id] = t.st.stock[k]
	}
	return out, nil
}

func (t *tx) LockReadyStock(_ context.Context, branchID int64, ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))
	for _, id := range ids {
		k := stockKey{branchID, id}
		if _, ok := t.st.ready[k]; !ok {
			t.st.ready[k] = 0
		}
		out[id] = t.st.ready[k]
	}
	return out, nil
}

func (t *tx) SetIngredientStock(_ context.Context, branchID, ingredientID int64, qty decimal.Decimal) error {
	if qty.IsNegative() {
		return domain.InsufficientStock(domain.IngredientRef(ingredientID))
	}
	t.st.stock[stockKey{branchID, ingredientID}] = qty
	return nil
}

func (t *tx) SetReadyStock(_ context.Context, branchID, productID int64, qty int64) error {
	if qty < 0 {
		return domain.InsufficientStock(domain.ProductRef(productID))
	}
	t.st.ready[stockKey{branchID, productID}] = qty
	return nil
}

func (t *tx) LimitsFor(_ context.Context, branchID int64, refs []domain.StockRef) (map[domain.StockRef]decimal.Decimal, error) {
	out := map[domain.StockRef]decimal.Decimal{}
	for _, r := range refs {
		if th, ok := t.st.limits[limitKey{branchID, r}]; ok {
			out[r] = th
		}
	}
	return out, nil
}

func (t *tx) UpsertMinimalLimit(_ context.Context, l domain.MinimalLimit) error {
	t.st.limits[limitKey{l.BranchID, l.Ref}] = l.Threshold
	return nil
}

func (t *tx) InsertOrder(_ context.Context, o *domain.Order) error {
	if o.TableNumber != nil {
		for _, x := range t.st.orders {
			if x.BranchID == o.BranchID && x.HoldsTable() && *x.TableNumber == *o.TableNumber {
				return domain.TableOccupied(o.BranchID, *o.TableNumber)
			}
		}
	}
	now := t.now()
	o.ID = t.st.id()
	o.CreatedAt, o.UpdatedAt = now, now
	lines := make([]domain.OrderLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		switch v := l.(type) {
		case domain.RecipeLine:
			v.ID, v.CreatedAt = t.st.id(), now
			lines = append(lines, v)
		case domain.ReadyProductLine:
			v.ID, v.CreatedAt = t.st.id(), now
			lines = append(lines, v)
		}
	}
	o.Lines = lines
	t.st.orders[o.ID] = *o
	return nil
}

func (t *tx) LockOrder(_ context.Context, id int64) (domain.Order, error) { return t.st.order(id) }

func (t *tx) UpdateOrder(_ context.Context, o domain.Order) error {
	cur, err := t.st.order(o.ID)
	if err != nil {
		return err
	}
	o.Lines = cur.Lines
	o.UpdatedAt = t.now()
	t.st.orders[o.ID] = o
	return nil
}

func (t *tx) AppendStatusLog(_ context.Context, e domain.StatusLogEntry) error {
	if e.ChangedAt.IsZero() {
		e.ChangedAt = t.now()
	}
	t.st.statusLog = append(t.st.statusLog, e)
	return nil
}

func (t *tx) AppendEvent(_ context.Context, e *domain.Event) error {
	t.st.heads[e.Channel]++
	e.Seq = t.st.heads[e.Channel]
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now()
	}
	t.st.events[e.Channel] = append(t.st.events[e.Channel], *e)
	return nil
}

func (t *tx) InsertBranchNotification(_ context.Context, n *domain.BranchNotification) error {
	n.ID, n.CreatedAt = t.st.id(), t.now()
	t.st.branchNotes = append(t.st.branchNotes, *n)
	return nil
}

func (t *tx) InsertClientNotification(_ context.Context, n *domain.ClientNotification) error {
	n.ID, n.CreatedAt = t.st.id(), t.now()
	t.st.clientNotes = append(t.st.clientNotes, *n)
	return nil
}

func (t *tx) InsertJob(_ context.Context, j domain.Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = t.now()
	}
	t.st.jobs[j.ID] = j
	return nil
}

func (t *tx) ClaimDueJob(_ context.Context, now time.Time) (domain.Job, bool, error) {
	var due []domain.Job
	for _, j := range t.st.jobs {
		if j.Status == domain.JobPending && !j.FireAt.After(now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return domain.Job{}, false, nil
	}
	sort.Slice(due, func(i, k int) bool { return due[i].FireAt.Before(due[k].FireAt) })
	return due[0], true, nil
}

func (t *tx) FinishJob(_ context.Context, id uuid.UUID, status domain.JobStatus, attempts int, fireAt time.Time, lastErr string) error {
	j, ok := t.st.jobs[id]
	if !ok {
		return domain.NotFoundf("job %s not found", id)
	}
	j.Status, j.Attempts, j.LastError = status, attempts, lastErr
	if !fireAt.IsZero() {
		j.FireAt = fireAt
	}
	t.st.jobs[id] = j
	return nil
}

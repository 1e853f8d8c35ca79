package stock

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
)

// Crossing reports that a quantity moved across its minimal limit.
type Crossing struct {
	Ref       domain.StockRef
	Quantity  decimal.Decimal
	Threshold decimal.Decimal
	// Below is true for a downward crossing, false for a restore.
	Below bool
}

// Ledger holds the locked stock rows of one branch for the duration of a
// transaction. Changes are buffered and written by Flush.
type Ledger struct {
	tx       repository.Tx
	branchID int64

	ing, ingBefore     map[int64]decimal.Decimal
	ready, readyBefore map[int64]int64
	dirty              map[domain.StockRef]struct{}
}

// Lock takes row locks on the given ingredients, then the given ready
// products, each in ascending id order. The store creates rows that were
// never stocked at zero before locking them, so every requested row is held.
//
// Lock order within one transaction is: the order row, then the customer,
// then stock rows. Callers that need the customer lock it before calling Lock.
func Lock(ctx context.Context, tx repository.Tx, branchID int64, ingredientIDs, productIDs []int64) (*Ledger, error) {
	ingIDs := sortedUnique(ingredientIDs)
	prodIDs := sortedUnique(productIDs)

	ing, err := tx.LockIngredientStock(ctx, branchID, ingIDs)
	if err != nil {
		return nil, err
	}
	ready, err := tx.LockReadyStock(ctx, branchID, prodIDs)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		tx:          tx,
		branchID:    branchID,
		ing:         make(map[int64]decimal.Decimal, len(ingIDs)),
		ingBefore:   make(map[int64]decimal.Decimal, len(ingIDs)),
		ready:       make(map[int64]int64, len(prodIDs)),
		readyBefore: make(map[int64]int64, len(prodIDs)),
		dirty:       map[domain.StockRef]struct{}{},
	}
	for _, id := range ingIDs {
		q, ok := ing[id]
		if !ok {
			q = decimal.Zero
		}
		l.ing[id], l.ingBefore[id] = q, q
	}
	for _, id := range prodIDs {
		l.ready[id], l.readyBefore[id] = ready[id], ready[id]
	}
	return l, nil
}

func sortedUnique(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l *Ledger) BranchID() int64 { return l.branchID }

func (l *Ledger) Get(ingredientID int64) decimal.Decimal { return l.ing[ingredientID] }

func (l *Ledger) GetReady(productID int64) int64 { return l.ready[productID] }

// Snapshot exposes the locked rows in the shape the availability resolver reads.
func (l *Ledger) Snapshot() domain.StockSnapshot {
	s := domain.NewStockSnapshot(l.branchID)
	for id, q := range l.ing {
		s.Ingredients[id] = q
	}
	for id, q := range l.ready {
		s.Ready[id] = q
	}
	return s
}

func (l *Ledger) mustHold(ref domain.StockRef) error {
	var ok bool
	switch ref.Kind {
	case domain.StockIngredient:
		_, ok = l.ing[ref.ID]
	case domain.StockReadyProduct:
		_, ok = l.ready[ref.ID]
	}
	if !ok {
		return fmt.Errorf("stock row %s %d was not locked", ref.Kind, ref.ID)
	}
	return nil
}

// Decrement fails with InsufficientStock instead of going negative.
func (l *Ledger) Decrement(ingredientID int64, delta decimal.Decimal) error {
	ref := domain.IngredientRef(ingredientID)
	if err := l.mustHold(ref); err != nil {
		return err
	}
	next := l.ing[ingredientID].Sub(delta)
	if next.IsNegative() {
		return domain.InsufficientStock(ref)
	}
	l.ing[ingredientID] = next
	l.dirty[ref] = struct{}{}
	return nil
}

func (l *Ledger) Increment(ingredientID int64, delta decimal.Decimal) error {
	ref := domain.IngredientRef(ingredientID)
	if err := l.mustHold(ref); err != nil {
		return err
	}
	if delta.IsNegative() {
		return domain.Validationf("increment must not be negative")
	}
	l.ing[ingredientID] = l.ing[ingredientID].Add(delta)
	l.dirty[ref] = struct{}{}
	return nil
}

func (l *Ledger) DecrementReady(productID, n int64) error {
	ref := domain.ProductRef(productID)
	if err := l.mustHold(ref); err != nil {
		return err
	}
	if l.ready[productID]-n < 0 {
		return domain.InsufficientStock(ref)
	}
	l.ready[productID] -= n
	l.dirty[ref] = struct{}{}
	return nil
}

func (l *Ledger) IncrementReady(productID, n int64) error {
	ref := domain.ProductRef(productID)
	if err := l.mustHold(ref); err != nil {
		return err
	}
	if n < 0 {
		return domain.Validationf("increment must not be negative")
	}
	l.ready[productID] += n
	l.dirty[ref] = struct{}{}
	return nil
}

// Changed lists the touched ingredient and product ids.
func (l *Ledger) Changed() (ingredientIDs, productIDs []int64) {
	for ref := range l.dirty {
		if ref.Kind == domain.StockIngredient {
			ingredientIDs = append(ingredientIDs, ref.ID)
		} else {
			productIDs = append(productIDs, ref.ID)
		}
	}
	return sortedUnique(ingredientIDs), sortedUnique(productIDs)
}

// Flush writes every changed row and returns the minimal-limit crossings
// caused by this transaction, ingredients first, each in ascending id order.
func (l *Ledger) Flush(ctx context.Context) ([]Crossing, error) {
	ingIDs, prodIDs := l.Changed()
	refs := make([]domain.StockRef, 0, len(ingIDs)+len(prodIDs))
	for _, id := range ingIDs {
		if err := l.tx.SetIngredientStock(ctx, l.branchID, id, l.ing[id]); err != nil {
			return nil, err
		}
		refs = append(refs, domain.IngredientRef(id))
	}
	for _, id := range prodIDs {
		if err := l.tx.SetReadyStock(ctx, l.branchID, id, l.ready[id]); err != nil {
			return nil, err
		}
		refs = append(refs, domain.ProductRef(id))
	}
	if len(refs) == 0 {
		return nil, nil
	}

	limits, err := l.tx.LimitsFor(ctx, l.branchID, refs)
	if err != nil {
		return nil, err
	}
	var out []Crossing
	for _, ref := range refs {
		th, ok := limits[ref]
		if !ok {
			continue
		}
		before, after := l.quantities(ref)
		if c, crossed := Detect(before, after, th); crossed {
			c.Ref = ref
			out = append(out, c)
		}
	}
	clear(l.dirty)
	for id, q := range l.ing {
		l.ingBefore[id] = q
	}
	for id, q := range l.ready {
		l.readyBefore[id] = q
	}
	return out, nil
}

func (l *Ledger) quantities(ref domain.StockRef) (before, after decimal.Decimal) {
	if ref.Kind == domain.StockIngredient {
		return l.ingBefore[ref.ID], l.ing[ref.ID]
	}
	return decimal.NewFromInt(l.readyBefore[ref.ID]), decimal.NewFromInt(l.ready[ref.ID])
}

// Detect fires once per crossing: below when the quantity drops under the
// threshold, restored when it climbs back to it.
func Detect(before, after, threshold decimal.Decimal) (Crossing, bool) {
	switch {
	case before.GreaterThanOrEqual(threshold) && after.LessThan(threshold):
		return Crossing{Quantity: after, Threshold: threshold, Below: true}, true
	case before.LessThan(threshold) && after.GreaterThanOrEqual(threshold):
		return Crossing{Quantity: after, Threshold: threshold, Below: false}, true
	}
	return Crossing{}, false
}

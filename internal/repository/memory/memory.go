// Package memory is an in-process Store used by tests and local runs. It
// serializes transactions and applies a transaction's writes atomically on
// commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
)

type stockKey struct {
	branch int64
	id     int64
}

type limitKey struct {
	branch int64
	ref    domain.StockRef
}

type cursorKey struct {
	subscriber string
	channel    domain.ChannelKey
}

type state struct {
	branches     map[int64]domain.Branch
	users        map[int64]domain.User
	categories   map[int64]domain.Category
	ingredients  map[int64]domain.Ingredient
	items        map[int64]domain.MenuItem
	compositions map[int64][]domain.Composition
	products     map[int64]domain.ReadyProduct

	stock  map[stockKey]decimal.Decimal
	ready  map[stockKey]int64
	limits map[limitKey]decimal.Decimal

	orders    map[int64]domain.Order
	statusLog []domain.StatusLogEntry

	heads   map[domain.ChannelKey]int64
	events  map[domain.ChannelKey][]domain.Event
	cursors map[cursorKey]int64

	branchNotes []domain.BranchNotification
	clientNotes []domain.ClientNotification
	jobs        map[uuid.UUID]domain.Job

	nextID int64
}

func newState() *state {
	return &state{
		branches:     map[int64]domain.Branch{},
		users:        map[int64]domain.User{},
		categories:   map[int64]domain.Category{},
		ingredients:  map[int64]domain.Ingredient{},
		items:        map[int64]domain.MenuItem{},
		compositions: map[int64][]domain.Composition{},
		products:     map[int64]domain.ReadyProduct{},
		stock:        map[stockKey]decimal.Decimal{},
		ready:        map[stockKey]int64{},
		limits:       map[limitKey]decimal.Decimal{},
		orders:       map[int64]domain.Order{},
		heads:        map[domain.ChannelKey]int64{},
		events:       map[domain.ChannelKey][]domain.Event{},
		cursors:      map[cursorKey]int64{},
		jobs:         map[uuid.UUID]domain.Job{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies everything a transaction may write. Order lines and events
// are never mutated in place so their backing arrays can be shared.
func (s *state) clone() *state {
	c := &state{
		branches:     copyMap(s.branches),
		users:        copyMap(s.users),
		categories:   copyMap(s.categories),
		ingredients:  copyMap(s.ingredients),
		items:        copyMap(s.items),
		compositions: copyMap(s.compositions),
		products:     copyMap(s.products),
		stock:        copyMap(s.stock),
		ready:        copyMap(s.ready),
		limits:       copyMap(s.limits),
		orders:       copyMap(s.orders),
		statusLog:    append([]domain.StatusLogEntry(nil), s.statusLog...),
		heads:        copyMap(s.heads),
		events:       make(map[domain.ChannelKey][]domain.Event, len(s.events)),
		cursors:      copyMap(s.cursors),
		branchNotes:  append([]domain.BranchNotification(nil), s.branchNotes...),
		clientNotes:  append([]domain.ClientNotification(nil), s.clientNotes...),
		jobs:         copyMap(s.jobs),
		nextID:       s.nextID,
	}
	for k, v := range s.events {
		c.events[k] = v[:len(v):len(v)]
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state

	// Now is the clock used for timestamps; tests may replace it.
	Now func() time.Time
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), Now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	t := &tx{st: work, now: s.Now}
	err := fn(ctx, t)
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		s.mu.Lock()
		s.st = work
		s.mu.Unlock()
	}
	s.txMu.Unlock()

	if err != nil {
		return err
	}
	t.hooks.Run()
	return nil
}

// read runs fn against committed state.
func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

// write mutates committed state outside a transaction. Used by seeding and
// by the few admin writes that have no transactional coupling.
func (s *Store) write(fn func(st *state)) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

func (s *Store) LoadCatalog(_ context.Context) (domain.CatalogData, error) {
	var d domain.CatalogData
	s.read(func(st *state) {
		for _, c := range st.categories {
			d.Categories = append(d.Categories, c)
		}
		for _, i := range st.ingredients {
			d.Ingredients = append(d.Ingredients, i)
		}
		for _, i := range st.items {
			d.Items = append(d.Items, i)
		}
		for _, cs := range st.compositions {
			d.Compositions = append(d.Compositions, cs...)
		}
		for _, p := range st.products {
			d.ReadyProducts = append(d.ReadyProducts, p)
		}
	})
	sort.Slice(d.Items, func(i, j int) bool { return d.Items[i].ID < d.Items[j].ID })
	sort.Slice(d.ReadyProducts, func(i, j int) bool { return d.ReadyProducts[i].ID < d.ReadyProducts[j].ID })
	sort.Slice(d.Ingredients, func(i, j int) bool { return d.Ingredients[i].ID < d.Ingredients[j].ID })
	return d, nil
}

func (s *Store) GetBranch(_ context.Context, id int64) (b domain.Branch, err error) {
	s.read(func(st *state) { b, err = st.branch(id) })
	return
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	var out []domain.Branch
	s.read(func(st *state) {
		for _, b := range st.branches {
			out = append(out, b)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *state) branch(id int64) (domain.Branch, error) {
	b, ok := st.branches[id]
	if !ok {
		return domain.Branch{}, domain.NotFoundf("branch %d not found", id)
	}
	return b, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (u domain.User, err error) {
	s.read(func(st *state) { u, err = st.user(id) })
	return
}

func (st *state) user(id int64) (domain.User, error) {
	u, ok := st.users[id]
	if !ok {
		return domain.User{}, domain.NotFoundf("user %d not found", id)
	}
	return u, nil
}

func (st *state) order(id int64) (domain.Order, error) {
	o, ok := st.orders[id]
	if !ok {
		return domain.Order{}, domain.NotFoundf("order %d not found", id)
	}
	return o, nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (o domain.Order, err error) {
	s.read(func(st *state) { o, err = st.order(id) })
	return
}

func (s *Store) ListOrders(_ context.Context, q repository.OrderQuery) ([]domain.Order, error) {
	var out []domain.Order
	s.read(func(st *state) {
		for _, o := range st.orders {
			if q.BranchID != nil && o.BranchID != *q.BranchID {
				continue
			}
			if q.CustomerID != nil && o.CustomerID != *q.CustomerID {
				continue
			}
			if !q.Filter.Matches(o.Status) {
				continue
			}
			out = append(out, o)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, q.Filter.Offset, q.Filter.Limit), nil
}

func page[T any](in []T, offset, limit int) []T {
	if offset >= len(in) {
		return nil
	}
	if offset > 0 {
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func (s *Store) OrderTimeline(_ context.Context, orderID int64) ([]domain.StatusLogEntry, error) {
	var out []domain.StatusLogEntry
	var err error
	s.read(func(st *state) {
		if _, err = st.order(orderID); err != nil {
			return
		}
		for _, e := range st.statusLog {
			if e.OrderID == orderID {
				out = append(out, e)
			}
		}
	})
	return out, err
}

func (s *Store) OccupiedTables(_ context.Context, branchID int64) ([]domain.TableOccupancy, error) {
	var out []domain.TableOccupancy
	s.read(func(st *state) {
		for _, o := range st.orders {
			if o.BranchID == branchID && o.HoldsTable() {
				out = append(out, domain.TableOccupancy{TableNumber: *o.TableNumber, OrderID: o.ID, Status: o.Status, Since: o.CreatedAt})
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TableNumber < out[j].TableNumber })
	return out, nil
}

func (s *Store) Popularity(_ context.Context, branchID int64) ([]domain.ItemPopularity, error) {
	totals := map[int64]int64{}
	s.read(func(st *state) {
		for _, o := range st.orders {
			if o.BranchID != branchID || o.Status == domain.StatusCancelled {
				continue
			}
			for _, l := range o.Lines {
				if rl, ok := l.(domain.RecipeLine); ok {
					totals[rl.ItemID] += int64(rl.Quantity)
				}
			}
		}
	})
	out := make([]domain.ItemPopularity, 0, len(totals))
	for id, q := range totals {
		out = append(out, domain.ItemPopularity{ItemID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity == out[j].Quantity {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].Quantity > out[j].Quantity
	})
	return out, nil
}

func (s *Store) StockSnapshot(_ context.Context, branchID int64) (domain.StockSnapshot, error) {
	snap := domain.NewStockSnapshot(branchID)
	var err error
	s.read(func(st *state) {
		if _, err = st.branch(branchID); err != nil {
			return
		}
		for k, q := range st.stock {
			if k.branch == branchID {
				snap.Ingredients[k.id] = q
			}
		}
		for k, q := range st.ready {
			if k.branch == branchID {
				snap.Ready[k.id] = q
			}
		}
	})
	return snap, err
}

func (s *Store) MinimalLimits(_ context.Context, branchID int64) ([]domain.MinimalLimit, error) {
	var out []domain.MinimalLimit
	s.read(func(st *state) {
		for k, t := range st.limits {
			if k.branch == branchID {
				out = append(out, domain.MinimalLimit{BranchID: branchID, Ref: k.ref, Threshold: t})
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ref.Kind == out[j].Ref.Kind {
			return out[i].Ref.ID < out[j].Ref.ID
		}
		return out[i].Ref.Kind < out[j].Ref.Kind
	})
	return out, nil
}

func (s *Store) ReadChannel(_ context.Context, key domain.ChannelKey, afterSeq int64, limit int) ([]domain.Event, error) {
	var out []domain.Event
	s.read(func(st *state) {
		for _, e := range st.events[key] {
			if e.Seq > afterSeq {
				out = append(out, e)
				if limit > 0 && len(out) == limit {
					return
				}
			}
		}
	})
	return out, nil
}

func (s *Store) ChannelHead(_ context.Context, key domain.ChannelKey) (h int64, err error) {
	s.read(func(st *state) { h = st.heads[key] })
	return
}

func (s *Store) GetCursor(_ context.Context, sub string, key domain.ChannelKey) (c int64, ok bool, err error) {
	s.read(func(st *state) { c, ok = st.cursors[cursorKey{sub, key}] })
	return
}

func (s *Store) SaveCursor(_ context.Context, sub string, key domain.ChannelKey, cursor int64) error {
	s.write(func(st *state) {
		k := cursorKey{sub, key}
		if cursor > st.cursors[k] {
			st.cursors[k] = cursor
		}
	})
	return nil
}

func (s *Store) ListBranchNotifications(_ context.Context, branchID int64, unreadOnly bool, limit int) ([]domain.BranchNotification, error) {
	var out []domain.BranchNotification
	s.read(func(st *state) {
		for i := len(st.branchNotes) - 1; i >= 0; i-- {
			n := st.branchNotes[i]
			if n.BranchID == branchID && (!unreadOnly || !n.IsRead) {
				out = append(out, n)
			}
		}
	})
	return page(out, 0, limit), nil
}

func (s *Store) MarkBranchNotificationRead(_ context.Context, branchID, id int64) (err error) {
	err = domain.NotFoundf("notification %d not found", id)
	s.write(func(st *state) {
		for i := range st.branchNotes {
			if st.branchNotes[i].ID == id && st.branchNotes[i].BranchID == branchID {
				st.branchNotes[i].IsRead = true
				err = nil
			}
		}
	})
	return
}

func (s *Store) DeleteBranchNotification(_ context.Context, branchID, id int64) (err error) {
	err = domain.NotFoundf("notification %d not found", id)
	s.write(func(st *state) {
		for i, n := range st.branchNotes {
			if n.ID == id && n.BranchID == branchID {
				st.branchNotes = append(st.branchNotes[:i:i], st.branchNotes[i+1:]...)
				err = nil
				return
			}
		}
	})
	return
}

func (s *Store) ListClientNotifications(_ context.Context, clientID int64, limit int) ([]domain.ClientNotification, error) {
	var out []domain.ClientNotification
	s.read(func(st *state) {
		for i := len(st.clientNotes) - 1; i >= 0; i-- {
			if st.clientNotes[i].ClientID == clientID {
				out = append(out, st.clientNotes[i])
			}
		}
	})
	return page(out, 0, limit), nil
}

func (s *Store) DeleteClientNotification(_ context.Context, clientID, id int64) (err error) {
	err = domain.NotFoundf("notification %d not found", id)
	s.write(func(st *state) {
		for i, n := range st.clientNotes {
			if n.ID == id && n.ClientID == clientID {
				st.clientNotes = append(st.clientNotes[:i:i], st.clientNotes[i+1:]...)
				err = nil
				return
			}
		}
	})
	return
}

func (s *Store) ReplaceComposition(_ context.Context, itemID int64, comps []domain.Composition) (err error) {
	s.write(func(st *state) {
		if _, ok := st.items[itemID]; !ok {
			err = domain.NotFoundf("menu item %d not found", itemID)
			return
		}
		for _, c := range comps {
			if _, ok := st.ingredients[c.IngredientID]; !ok {
				err = domain.NotFoundf("ingredient %d not found", c.IngredientID)
				return
			}
		}
		st.compositions[itemID] = append([]domain.Composition(nil), comps...)
	})
	return
}

// Jobs returns a copy of every scheduled job, for inspection in tests.
func (s *Store) Jobs() []domain.Job {
	var out []domain.Job
	s.read(func(st *state) {
		for _, j := range st.jobs {
			out = append(out, j)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Stock returns the committed ingredient quantity, zero when the row is missing.
func (s *Store) Stock(branchID, ingredientID int64) (q decimal.Decimal) {
	s.read(func(st *state) { q = st.stock[stockKey{branchID, ingredientID}] })
	return
}

func (s *Store) ReadyStock(branchID, productID int64) (q int64) {
	s.read(func(st *state) { q = st.ready[stockKey{branchID, productID}] })
	return
}

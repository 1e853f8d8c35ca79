package memory

import (
	"github.com/shopspring/decimal"

	"cafe-system/internal/domain"
)

// Seeding helpers. IDs left at zero are assigned from the store's sequence.

func (s *Store) AddBranch(b domain.Branch) domain.Branch {
	s.write(func(st *state) {
		if b.ID == 0 {
			b.ID = st.id()
		}
		st.branches[b.ID] = b
	})
	return b
}

func (s *Store) AddUser(u domain.User) domain.User {
	s.write(func(st *state) {
		if u.ID == 0 {
			u.ID = st.id()
		}
		st.users[u.ID] = u
	})
	return u
}

func (s *Store) AddCategory(c domain.Category) domain.Category {
	s.write(func(st *state) {
		if c.ID == 0 {
			c.ID = st.id()
		}
		st.categories[c.ID] = c
	})
	return c
}

func (s *Store) AddIngredient(i domain.Ingredient) domain.Ingredient {
	s.write(func(st *state) {
		if i.ID == 0 {
			i.ID = st.id()
		}
		st.ingredients[i.ID] = i
	})
	return i
}

// AddItem stores the item and its recipe; composition rows get the item id.
func (s *Store) AddItem(item domain.MenuItem, comps ...domain.Composition) domain.MenuItem {
	s.write(func(st *state) {
		if item.ID == 0 {
			item.ID = st.id()
		}
		st.items[item.ID] = item
		rows := make([]domain.Composition, len(comps))
		for i, c := range comps {
			c.ItemID = item.ID
			rows[i] = c
		}
		st.compositions[item.ID] = rows
	})
	return item
}

func (s *Store) AddProduct(p domain.ReadyProduct) domain.ReadyProduct {
	s.write(func(st *state) {
		if p.ID == 0 {
			p.ID = st.id()
		}
		st.products[p.ID] = p
	})
	return p
}

func (s *Store) SetStock(branchID, ingredientID int64, qty decimal.Decimal) {
	s.write(func(st *state) { st.stock[stockKey{branchID, ingredientID}] = qty })
}

func (s *Store) SetReady(branchID, productID, qty int64) {
	s.write(func(st *state) { st.ready[stockKey{branchID, productID}] = qty })
}

func (s *Store) SetLimit(l domain.MinimalLimit) {
	s.write(func(st *state) { st.limits[limitKey{l.BranchID, l.Ref}] = l.Threshold })
}

// Bonus returns the committed bonus balance of a user.
func (s *Store) Bonus(userID int64) (p int64) {
	s.read(func(st *state) { p = st.users[userID].BonusPoints })
	return
}

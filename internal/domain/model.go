package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Branch struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Address     string `json:"address"`
	Phone       string `json:"phone"`
	MapURL      string `json:"map_url"`
	TableCount  int    `json:"table_count"`
	Schedule    string `json:"schedule"`
}

// HasTable reports whether n is a valid table number for the branch.
func (b Branch) HasTable(n int) bool { return n >= 1 && n <= b.TableCount }

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Ingredient struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Unit Unit   `json:"unit"`
}

// MenuItem is a recipe-based product. IsAvailable is an admin override that
// hides the item regardless of stock.
type MenuItem struct {
	ID          int64           `json:"id"`
	CategoryID  int64           `json:"category_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageRef    string          `json:"image_ref"`
	IsAvailable bool            `json:"is_available"`
}

type Composition struct {
	ItemID       int64           `json:"item_id"`
	IngredientID int64           `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type ReadyProduct struct {
	ID          int64           `json:"id"`
	CategoryID  int64           `json:"category_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageRef    string          `json:"image_ref"`
}

// CatalogData is everything the recipe catalog loads in one pass.
type CatalogData struct {
	Categories    []Category
	Ingredients   []Ingredient
	Items         []MenuItem
	Compositions  []Composition
	ReadyProducts []ReadyProduct
}

type StockKind string

const (
	StockIngredient   StockKind = "ingredient"
	StockReadyProduct StockKind = "ready_product"
	// MenuItem refs name the recipe line that could not be satisfied.
	StockMenuItem     StockKind = "item"
)

// StockRef points at either an ingredient row or a ready product row.
type StockRef struct {
	Kind StockKind `json:"kind"`
	ID   int64     `json:"id"`
}

func IngredientRef(id int64) StockRef { return StockRef{Kind: StockIngredient, ID: id} }
func ProductRef(id int64) StockRef    { return StockRef{Kind: StockReadyProduct, ID: id} }
func ItemRef(id int64) StockRef       { return StockRef{Kind: StockMenuItem, ID: id} }

type MinimalLimit struct {
	BranchID  int64           `json:"branch_id"`
	Ref       StockRef        `json:"ref"`
	Threshold decimal.Decimal `json:"threshold"`
}

// StockSnapshot is a consistent read of one branch's stock.
type StockSnapshot struct {
	BranchID    int64
	Ingredients map[int64]decimal.Decimal
	Ready       map[int64]int64
}

func NewStockSnapshot(branchID int64) StockSnapshot {
	return StockSnapshot{
		BranchID:    branchID,
		Ingredients: map[int64]decimal.Decimal{},
		Ready:       map[int64]int64{},
	}
}

// Ingredient returns the quantity on hand; unknown rows read as zero.
func (s StockSnapshot) Ingredient(id int64) decimal.Decimal {
	if q, ok := s.Ingredients[id]; ok {
		return q
	}
	return decimal.Zero
}

func (s StockSnapshot) ReadyQty(id int64) int64 { return s.Ready[id] }

// LowStock is one row of the below-minimal report.
type LowStock struct {
	Ref       StockRef        `json:"ref"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	Threshold decimal.Decimal `json:"threshold"`
}

type User struct {
	ID          int64      `json:"id"`
	Phone       string     `json:"phone"`
	DisplayName string     `json:"display_name"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
	Role        Role       `json:"role"`
	BranchID    *int64     `json:"branch_id,omitempty"`
	BonusPoints int64      `json:"bonus_points"`
	IsVerified  bool       `json:"is_verified"`
}

type Order struct {
	ID               int64           `json:"id"`
	BranchID         int64           `json:"branch_id"`
	CustomerID       int64           `json:"customer_id"`
	TableNumber      *int            `json:"table_number,omitempty"`
	Status           OrderStatus     `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	SpentBonusPoints int64           `json:"spent_bonus_points"`
	PendingBonus     int64           `json:"pending_bonus"`
	BonusCredited    bool            `json:"bonus_credited"`
	Lines            []OrderLine     `json:"-"`
}

// InInstitution is derived from the table number and never stored independently.
func (o Order) InInstitution() bool { return o.TableNumber != nil }

// HoldsTable reports whether the order keeps its table occupied.
func (o Order) HoldsTable() bool { return o.TableNumber != nil && o.Status.Active() }

// TableOccupancy is one row of the waiter view.
type TableOccupancy struct {
	TableNumber int         `json:"table_number"`
	OrderID     int64       `json:"order_id"`
	Status      OrderStatus `json:"status"`
	Since       time.Time   `json:"since"`
}

// StatusLogEntry is one step in an order's timeline.
type StatusLogEntry struct {
	OrderID   int64       `json:"order_id"`
	Status    OrderStatus `json:"status"`
	ChangedBy *int64      `json:"changed_by,omitempty"`
	ActorRole Role        `json:"actor_role,omitempty"`
	ChangedAt time.Time   `json:"changed_at"`
	Notes     string      `json:"notes,omitempty"`
}

// OrderFilter narrows order listings. Empty Statuses means all.
type OrderFilter struct {
	Statuses []OrderStatus
	Limit    int
	Offset   int
}

func (f OrderFilter) Matches(s OrderStatus) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, x := range f.Statuses {
		if x == s {
			return true
		}
	}
	return false
}

// ItemPopularity is the historical ordered quantity of a menu item.
type ItemPopularity struct {
	ItemID   int64 `json:"item_id"`
	Quantity int64 `json:"quantity"`
}

type BranchNotification struct {
	ID        int64     `json:"id"`
	BranchID  int64     `json:"branch_id"`
	OrderID   *int64    `json:"order_id,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type ClientNotification struct {
	ID        int64     `json:"id"`
	ClientID  int64     `json:"client_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cafe-system/internal/domain"
)

// Store is the persistence boundary. Reads outside InTx see committed data;
// everything that mutates stock, orders or the event log runs through InTx.
type Store interface {
	Reader
	// InTx runs fn in one transaction. Commit hooks registered with
	// Tx.OnCommit run after a successful commit, never after a rollback.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type OrderQuery struct {
	BranchID   *int64
	CustomerID *int64
	Filter     domain.OrderFilter
}

type Reader interface {
	LoadCatalog(ctx context.Context) (domain.CatalogData, error)
	GetBranch(ctx context.Context, id int64) (domain.Branch, error)
	ListBranches(ctx context.Context) ([]domain.Branch, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)

	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	ListOrders(ctx context.Context, q OrderQuery) ([]domain.Order, error)
	OrderTimeline(ctx context.Context, orderID int64) ([]domain.StatusLogEntry, error)
	OccupiedTables(ctx context.Context, branchID int64) ([]domain.TableOccupancy, error)
	Popularity(ctx context.Context, branchID int64) ([]domain.ItemPopularity, error)

	StockSnapshot(ctx context.Context, branchID int64) (domain.StockSnapshot, error)
	MinimalLimits(ctx context.Context, branchID int64) ([]domain.MinimalLimit, error)

	ReadChannel(ctx context.Context, key domain.ChannelKey, afterSeq int64, limit int) ([]domain.Event, error)
	ChannelHead(ctx context.Context, key domain.ChannelKey) (int64, error)
	GetCursor(ctx context.Context, subscriberID string, key domain.ChannelKey) (int64, bool, error)
	SaveCursor(ctx context.Context, subscriberID string, key domain.ChannelKey, cursor int64) error

	ListBranchNotifications(ctx context.Context, branchID int64, unreadOnly bool, limit int) ([]domain.BranchNotification, error)
	MarkBranchNotificationRead(ctx context.Context, branchID, id int64) error
	DeleteBranchNotification(ctx context.Context, branchID, id int64) error
	ListClientNotifications(ctx context.Context, clientID int64, limit int) ([]domain.ClientNotification, error)
	DeleteClientNotification(ctx context.Context, clientID, id int64) error

	ReplaceComposition(ctx context.Context, itemID int64, comps []domain.Composition) error
}

// Tx is the unit of work used by the order engine, the stock ledger, the
// notification bus and the job scheduler.
type Tx interface {
	GetBranch(ctx context.Context, id int64) (domain.Branch, error)
	LockUser(ctx context.Context, id int64) (domain.User, error)
	SetBonusPoints(ctx context.Context, userID, points int64) error

	// TableHolder returns the active order holding the table, if any.
	TableHolder(ctx context.Context, branchID int64, table int) (int64, bool, error)

	// LockIngredientStock creates missing rows at zero, locks every requested
	// row in ascending id order and returns the quantities.
	LockIngredientStock(ctx context.Context, branchID int64, ids []int64) (map[int64]decimal.Decimal, error)
	LockReadyStock(ctx context.Context, branchID int64, ids []int64) (map[int64]int64, error)
	SetIngredientStock(ctx context.Context, branchID, ingredientID int64, qty decimal.Decimal) error
	SetReadyStock(ctx context.Context, branchID, productID int64, qty int64) error
	LimitsFor(ctx context.Context, branchID int64, refs []domain.StockRef) (map[domain.StockRef]decimal.Decimal, error)
	UpsertMinimalLimit(ctx context.Context, l domain.MinimalLimit) error

	InsertOrder(ctx context.Context, o *domain.Order) error
	LockOrder(ctx context.Context, id int64) (domain.Order, error)
	UpdateOrder(ctx context.Context, o domain.Order) error
	AppendStatusLog(ctx context.Context, e domain.StatusLogEntry) error

	// AppendEvent assigns the next seq of the event's channel.
	AppendEvent(ctx context.Context, e *domain.Event) error
	InsertBranchNotification(ctx context.Context, n *domain.BranchNotification) error
	InsertClientNotification(ctx context.Context, n *domain.ClientNotification) error

	InsertJob(ctx context.Context, j domain.Job) error
	// ClaimDueJob locks one pending job with fire_at <= now, skipping rows
	// locked by other workers.
	ClaimDueJob(ctx context.Context, now time.Time) (domain.Job, bool, error)
	FinishJob(ctx context.Context, id uuid.UUID, status domain.JobStatus, attempts int, fireAt time.Time, lastErr string) error

	OnCommit(fn func())
}

// CommitHooks collects OnCommit callbacks for Tx implementations.
type CommitHooks struct{ fns []func() }

func (h *CommitHooks) Add(fn func()) { h.fns = append(h.fns, fn) }

func (h *CommitHooks) Run() {
	for _, fn := range h.fns {
		fn()
	}
}

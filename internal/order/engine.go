// Package order admits, advances and cancels orders. Every state change
// runs in one transaction together with its stock movements, bonus points,
// events and scheduled jobs.
package order

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"cafe-system/internal/catalog"
	"cafe-system/internal/common/config"
	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
	"cafe-system/internal/notify"
	"cafe-system/internal/reminder"
	"cafe-system/internal/repository"
)

// IndexNotifier is told which menu items may have changed availability at
// a branch. It is called after commit and must not block.
type IndexNotifier interface {
	Changed(branchID int64, itemIDs []int64)
}

type Engine struct {
	store   repository.Store
	catalog *catalog.Catalog
	bus     *notify.Bus
	jobs    *reminder.Scheduler
	index   IndexNotifier
	cfg     config.Engine
	lg      *logger.Logger

	// Now is the engine clock; tests replace it.
	Now func() time.Time
}

func New(store repository.Store, cat *catalog.Catalog, bus *notify.Bus, jobs *reminder.Scheduler, cfg config.Engine, lg *logger.Logger) *Engine {
	if cfg.AdmitTimeout <= 0 {
		cfg.AdmitTimeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 20 * time.Millisecond
	}
	if cfg.ReminderDelay <= 0 {
		cfg.ReminderDelay = 120 * time.Second
	}
	e := &Engine{
		store:   store,
		catalog: cat,
		bus:     bus,
		jobs:    jobs,
		cfg:     cfg,
		lg:      lg,
		Now:     func() time.Time { return time.Now().UTC() },
	}
	jobs.Register(domain.JobOrderReminder, e.remind)
	return e
}

func (e *Engine) SetIndex(ix IndexNotifier) { e.index = ix }

// atomically runs fn in a transaction, retrying contention with jittered
// backoff. Other errors are returned as is.
func (e *Engine) atomically(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = e.store.InTx(ctx, fn)
		if domain.KindOf(err) != domain.KindContention || attempt >= e.cfg.MaxRetries {
			break
		}
		wait := e.cfg.RetryBackoff + time.Duration(rand.Int63n(int64(e.cfg.RetryBackoff)*(int64(attempt)+1)))
		e.lg.Warn("tx_retry", map[string]any{"op": op, "attempt": attempt + 1, "wait": wait.String()})
		select {
		case <-ctx.Done():
			return deadline(ctx.Err())
		case <-time.After(wait):
		}
	}
	return deadline(err)
}

func deadline(err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) && domain.KindOf(err) != domain.KindTimeout {
		return domain.Timeout(err)
	}
	return err
}

// afterCommit reports availability changes to the menu index.
func (e *Engine) afterCommit(tx repository.Tx, v *catalog.View, branchID int64, ingredientIDs []int64) {
	if e.index == nil || len(ingredientIDs) == 0 {
		return
	}
	items := v.ItemsUsing(ingredientIDs)
	if len(items) == 0 {
		return
	}
	tx.OnCommit(func() { e.index.Changed(branchID, items) })
}

func (e *Engine) publish(ctx context.Context, tx repository.Tx, evs ...domain.Event) error {
	return e.bus.Publish(ctx, tx, evs...)
}

func logEntry(o domain.Order, a domain.Actor, notes string) domain.StatusLogEntry {
	by := a.UserID
	return domain.StatusLogEntry{OrderID: o.ID, Status: o.Status, ChangedBy: &by, ActorRole: a.Role, Notes: notes}
}

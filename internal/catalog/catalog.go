package catalog

import (
	"context"
	"errors"
	"sync"

	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
)

var ErrClosed = errors.New("catalog is shut down")

type Source interface {
	LoadCatalog(ctx context.Context) (domain.CatalogData, error)
	ReplaceComposition(ctx context.Context, itemID int64, comps []domain.Composition) error
}

// Invalidator tells other processes that their cached view is stale.
type Invalidator interface {
	Publish(ctx context.Context) error
}

// Catalog caches one View at a time. Readers share the view; a write or an
// invalidation marks it stale and the next reader reloads it.
type Catalog struct {
	src Source
	inv Invalidator
	lg  *logger.Logger

	mu      sync.RWMutex
	view    *View
	stale   bool
	closed  bool
	version uint64
}

func New(src Source, lg *logger.Logger) *Catalog {
	return &Catalog{src: src, lg: lg}
}

func (c *Catalog) SetInvalidator(inv Invalidator) { c.inv = inv }

func (c *Catalog) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = false
	return c.reloadLocked(ctx)
}

func (c *Catalog) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.view = nil
}

// View returns the current snapshot, reloading it when stale.
func (c *Catalog) View(ctx context.Context) (*View, error) {
	c.mu.RLock()
	v, stale, closed := c.view, c.stale, c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if v != nil && !stale {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.view != nil && !c.stale {
		return c.view, nil
	}
	if err := c.reloadLocked(ctx); err != nil {
		return nil, err
	}
	return c.view, nil
}

func (c *Catalog) reloadLocked(ctx context.Context) error {
	d, err := c.src.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	c.version++
	c.view = newView(d, c.version)
	c.stale = false
	c.lg.Debug("catalog_loaded", map[string]any{"version": c.version, "items": len(d.Items), "ready_products": len(d.ReadyProducts)})
	return nil
}

// Invalidate marks the cached view stale without reloading it.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// ReplaceComposition writes a new recipe through to the source and busts
// the local cache before returning, then tells other processes.
func (c *Catalog) ReplaceComposition(ctx context.Context, itemID int64, comps []domain.Composition) error {
	seen := make(map[int64]struct{}, len(comps))
	rows := make([]domain.Composition, 0, len(comps))
	for _, cp := range comps {
		if !cp.Quantity.IsPositive() {
			return domain.Validationf("ingredient %d: quantity must be positive", cp.IngredientID)
		}
		if _, dup := seen[cp.IngredientID]; dup {
			return domain.Validationf("ingredient %d listed twice", cp.IngredientID)
		}
		seen[cp.IngredientID] = struct{}{}
		cp.ItemID = itemID
		rows = append(rows, cp)
	}
	if err := c.src.ReplaceComposition(ctx, itemID, rows); err != nil {
		return err
	}
	c.Invalidate()
	if c.inv != nil {
		if err := c.inv.Publish(ctx); err != nil {
			c.lg.Error("catalog_invalidate_publish_failed", err, map[string]any{"item_id": itemID})
		}
	}
	c.lg.Info("composition_replaced", map[string]any{"item_id": itemID, "rows": len(rows)})
	return nil
}

package menuindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cafe-system/internal/availability"
	"cafe-system/internal/catalog"
	"cafe-system/internal/collab"
	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
	"cafe-system/internal/reminder"
	"cafe-system/internal/repository"
)

// Entry is the indexed document of a makeable item at one branch.
type Entry struct {
	ItemID      int64           `json:"item_id"`
	BranchID    int64           `json:"branch_id"`
	CategoryID  int64           `json:"category_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageRef    string          `json:"image_ref,omitempty"`
}

// Syncer pushes availability changes to the index after commit. Failed
// pushes become menu_index_sync jobs and are retried by the scheduler.
type Syncer struct {
	index   collab.MenuIndex
	catalog *catalog.Catalog
	stock   availability.SnapshotSource
	jobs    *reminder.Scheduler
	timeout time.Duration
	lg      *logger.Logger

	wg sync.WaitGroup
}

func NewSyncer(index collab.MenuIndex, cat *catalog.Catalog, stock availability.SnapshotSource, jobs *reminder.Scheduler, timeout time.Duration, lg *logger.Logger) *Syncer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Syncer{index: index, catalog: cat, stock: stock, jobs: jobs, timeout: timeout, lg: lg}
	jobs.Register(domain.JobMenuIndexSync, s.handle)
	return s
}

// Changed refreshes the given items in the background. It never blocks the
// caller and never reports failure to it.
func (s *Syncer) Changed(branchID int64, itemIDs []int64) {
	if len(itemIDs) == 0 {
		return
	}
	ids := append([]int64(nil), itemIDs...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		err := s.Sync(ctx, branchID, ids)
		if err == nil {
			return
		}
		s.lg.Error("menu_index_sync_failed", err, map[string]any{"branch_id": branchID, "items": ids})
		job := domain.IndexSyncJob{BranchID: branchID, ItemIDs: ids}
		if err := s.jobs.ScheduleNow(context.Background(), domain.JobMenuIndexSync, domain.BranchChannel(branchID), job); err != nil {
			s.lg.Error("menu_index_retry_not_scheduled", err, map[string]any{"branch_id": branchID})
		}
	}()
}

// Wait blocks until in-flight background pushes finish.
func (s *Syncer) Wait() { s.wg.Wait() }

// Sync upserts makeable items and deletes the rest.
func (s *Syncer) Sync(ctx context.Context, branchID int64, itemIDs []int64) error {
	v, err := s.catalog.View(ctx)
	if err != nil {
		return err
	}
	snap, err := s.stock.Snapshot(ctx, branchID)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range itemIDs {
		it, ok := v.Item(id)
		if !ok || !availability.CanMake(v, snap, id, 1) {
			if err := s.index.Delete(ctx, id, branchID); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		body, err := json.Marshal(Entry{
			ItemID: it.ID, BranchID: branchID, CategoryID: it.CategoryID,
			Name: it.Name, Description: it.Description, Price: it.Price, ImageRef: it.ImageRef,
		})
		if err != nil {
			return err
		}
		if err := s.index.Upsert(ctx, id, branchID, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Syncer) handle(ctx context.Context, _ repository.Tx, job domain.Job) error {
	var p domain.IndexSyncJob
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("%w: bad index sync payload: %v", reminder.ErrDeadLetter, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.Sync(ctx, p.BranchID, p.ItemIDs); err != nil {
		return fmt.Errorf("%w: %v", reminder.ErrRequeue, err)
	}
	return nil
}

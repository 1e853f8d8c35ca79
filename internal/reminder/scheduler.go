// Package reminder runs durable delayed jobs stored in scheduled_jobs.
package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cafe-system/internal/common/config"
	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
)

var (
	ErrRequeue    = errors.New("requeue")     // retry later with backoff
	ErrDeadLetter = errors.New("dead_letter") // give up, mark failed
)

// Handler runs inside the transaction that claimed the job. Returning an
// error rolls back the handler's writes.
type Handler func(ctx context.Context, tx repository.Tx, job domain.Job) error

type Scheduler struct {
	store repository.Store
	lg    *logger.Logger
	cfg   config.Scheduler

	mu       sync.RWMutex
	handlers map[domain.JobKind]Handler

	// Now is the scheduler clock; tests replace it.
	Now func() time.Time
}

func New(store repository.Store, cfg config.Scheduler, lg *logger.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	return &Scheduler{
		store:    store,
		lg:       lg,
		cfg:      cfg,
		handlers: map[domain.JobKind]Handler{},
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scheduler) Register(kind domain.JobKind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

func (s *Scheduler) handler(kind domain.JobKind) Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[kind]
}

// Schedule stores a job in the caller's transaction, so it exists only if
// the surrounding work commits.
func (s *Scheduler) Schedule(ctx context.Context, tx repository.Tx, kind domain.JobKind, key domain.ChannelKey, payload any, fireAt time.Time) (domain.Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal %s job: %w", kind, err)
	}
	j := domain.Job{
		ID:         uuid.New(),
		Kind:       kind,
		ChannelKey: key,
		Payload:    body,
		FireAt:     fireAt.UTC(),
		Status:     domain.JobPending,
		CreatedAt:  s.Now(),
	}
	if err := tx.InsertJob(ctx, j); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// ScheduleNow stores a job in its own transaction, due immediately.
func (s *Scheduler) ScheduleNow(ctx context.Context, kind domain.JobKind, key domain.ChannelKey, payload any) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := s.Schedule(ctx, tx, kind, key, payload, s.Now())
		return err
	})
}

// RunOnce processes up to one batch of due jobs and reports how many ran.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	n := 0
	for n < s.cfg.Batch {
		ran, err := s.processOne(ctx)
		if err != nil {
			return n, err
		}
		if !ran {
			break
		}
		n++
	}
	return n, nil
}

func (s *Scheduler) processOne(ctx context.Context) (bool, error) {
	var (
		job     domain.Job
		claimed bool
		herr    error
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		j, ok, err := tx.ClaimDueJob(ctx, s.Now())
		if err != nil || !ok {
			return err
		}
		job, claimed = j, true

		h := s.handler(j.Kind)
		if h == nil {
			herr = fmt.Errorf("%w: no handler for %s", ErrDeadLetter, j.Kind)
			return herr
		}
		if err := h(ctx, tx, j); err != nil {
			herr = err
			return err
		}
		return tx.FinishJob(ctx, j.ID, domain.JobDone, j.Attempts+1, time.Time{}, "")
	})
	if !claimed {
		return false, err
	}
	if herr == nil {
		if err != nil {
			return false, err
		}
		s.lg.Debug("job_done", map[string]any{"job_id": job.ID, "kind": job.Kind})
		return true, nil
	}
	return true, s.fail(ctx, job, herr)
}

// fail records a handler error. Retries back off exponentially until the
// attempt budget is spent.
func (s *Scheduler) fail(ctx context.Context, job domain.Job, herr error) error {
	attempts := job.Attempts + 1
	status := domain.JobPending
	fireAt := s.Now().Add(s.backoff(attempts))
	if errors.Is(herr, ErrDeadLetter) || attempts >= s.cfg.MaxAttempts {
		status = domain.JobFailed
		fireAt = time.Time{}
	}

	fields := map[string]any{"job_id": job.ID, "kind": job.Kind, "attempts": attempts}
	if status == domain.JobFailed {
		s.lg.Error("job_dead_lettered", herr, fields)
	} else {
		fields["retry_at"] = fireAt
		s.lg.Warn("job_requeued", fields)
	}
	return s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.FinishJob(ctx, job.ID, status, attempts, fireAt, herr.Error())
	})
}

func (s *Scheduler) backoff(attempts int) time.Duration {
	d := s.cfg.Backoff
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	return d
}

// Run polls for due jobs until ctx is done, then lets the current batch
// finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.lg.Info("scheduler_started", map[string]any{"poll_interval": s.cfg.PollInterval.String(), "batch": s.cfg.Batch})

	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(s.cfg.PollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				// batch runs on a background context so shutdown drains it
				n, err := s.RunOnce(context.Background())
				if err != nil {
					s.lg.Error("scheduler_poll_failed", err, nil)
					continue
				}
				if n > 0 {
					s.lg.Debug("scheduler_batch", map[string]any{"jobs": n})
				}
			}
		}
	}()

	<-ctx.Done()
	s.lg.Info("graceful_shutdown", map[string]any{"component": "scheduler"})
	<-done
	return nil
}

package order

import (
	"context"
	"encoding/json"
	"fmt"

	"cafe-system/internal/domain"
	"cafe-system/internal/reminder"
	"cafe-system/internal/repository"
)

// remind nudges the branch about an order still waiting to be started.
func (e *Engine) remind(ctx context.Context, tx repository.Tx, job domain.Job) error {
	var p domain.ReminderJob
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("%w: bad reminder payload: %v", reminder.ErrDeadLetter, err)
	}
	o, err := tx.LockOrder(ctx, p.OrderID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return fmt.Errorf("%w: %v", reminder.ErrDeadLetter, err)
		}
		return err
	}
	if o.Status != domain.StatusNew {
		return nil
	}
	waiting := int64(e.Now().Sub(o.CreatedAt).Seconds())
	evs, err := events(eventSpec{domain.BranchChannel(o.BranchID), domain.EventOrderReminder,
		domain.OrderReminderPayload{OrderID: o.ID, BranchID: o.BranchID, Waiting: waiting}})
	if err != nil {
		return err
	}
	if err := e.publish(ctx, tx, evs...); err != nil {
		return err
	}
	e.lg.Info("order_reminder_sent", map[string]any{"order_id": o.ID, "branch_id": o.BranchID, "waiting_s": waiting})
	return nil
}

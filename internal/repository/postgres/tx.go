package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
)

type tx struct {
	q     pgx.Tx
	hooks repository.CommitHooks
}

var _ repository.Tx = (*tx)(nil)

func (t *tx) OnCommit(fn func()) { t.hooks.Add(fn) }

func (t *tx) GetBranch(ctx context.Context, id int64) (domain.Branch, error) {
	return getBranch(ctx, t.q, id)
}

func (t *tx) LockUser(ctx context.Context, id int64) (domain.User, error) {
	u, err := scanUser(t.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return domain.User{}, notFound(err, "user", id)
	}
	return u, nil
}

func (t *tx) SetBonusPoints(ctx context.Context, userID, points int64) error {
	if points < 0 {
		return domain.Validationf("bonus points cannot go negative")
	}
	_, err := t.q.Exec(ctx, `UPDATE users SET bonus_points=$2 WHERE id=$1`, userID, points)
	return classify(err, "set bonus points")
}

func (t *tx) TableHolder(ctx context.Context, branchID int64, table int) (int64, bool, error) {
	var id int64
	err := t.q.QueryRow(ctx, `
		SELECT id FROM orders
		WHERE branch_id=$1 AND table_number=$2 AND status IN ('new','in_progress','ready')
		LIMIT 1`, branchID, table).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify(err, "table holder")
	}
	return id, true, nil
}

// Rows come back (and are locked) in ascending id order. Missing rows are
// inserted at zero first so a concurrent receipt waits on them instead of
// overwriting.
func (t *tx) LockIngredientStock(ctx context.Context, branchID int64, ids []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO branch_stock (branch_id, ingredient_id, quantity, updated_at)
		SELECT $1, id, 0, now() FROM unnest($2::bigint[]) AS id ORDER BY id
		ON CONFLICT (branch_id, ingredient_id) DO NOTHING`, branchID, ids)
	if code, _ := pgCode(err); code == codeFKViolation {
		return nil, domain.NotFoundf("ingredient or branch not found")
	}
	if err != nil {
		return nil, classify(err, "create stock rows")
	}
	rows, err := t.q.Query(ctx, `
		SELECT ingredient_id, quantity FROM branch_stock
		WHERE branch_id=$1 AND ingredient_id = ANY($2)
		ORDER BY ingredient_id
		FOR UPDATE`, branchID, ids)
	if err != nil {
		return nil, classify(err, "lock stock")
	}
	var (
		id  int64
		qty decimal.Decimal
	)
	_, err = pgx.ForEachRow(rows, []any{&id, &qty}, func() error {
		out[id] = qty
		return nil
	})
	if err != nil {
		return nil, classify(err, "scan locked stock")
	}
	return out, nil
}

func (t *tx) LockReadyStock(ctx context.Context, branchID int64, ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO branch_ready_stock (branch_id, product_id, quantity, updated_at)
		SELECT $1, id, 0, now() FROM unnest($2::bigint[]) AS id ORDER BY id
		ON CONFLICT (branch_id, product_id) DO NOTHING`, branchID, ids)
	if code, _ := pgCode(err); code == codeFKViolation {
		return nil, domain.NotFoundf("ready product or branch not found")
	}
	if err != nil {
		return nil, classify(err, "create ready stock rows")
	}
	rows, err := t.q.Query(ctx, `
		SELECT product_id, quantity FROM branch_ready_stock
		WHERE branch_id=$1 AND product_id = ANY($2)
		ORDER BY product_id
		FOR UPDATE`, branchID, ids)
	if err != nil {
		return nil, classify(err, "lock ready stock")
	}
	var id, qty int64
	_, err = pgx.ForEachRow(rows, []any{&id, &qty}, func() error {
		out[id] = qty
		return nil
	})
	if err != nil {
		return nil, classify(err, "scan locked ready stock")
	}
	return out, nil
}

func (t *tx) SetIngredientStock(ctx context.Context, branchID, ingredientID int64, qty decimal.Decimal) error {
	if qty.IsNegative() {
		return domain.InsufficientStock(domain.IngredientRef(ingredientID))
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO branch_stock (branch_id, ingredient_id, quantity, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (branch_id, ingredient_id) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=now()`,
		branchID, ingredientID, qty)
	if code, _ := pgCode(err); code == codeFKViolation {
		return domain.NotFoundf("ingredient %d not found", ingredientID)
	}
	return classify(err, "set stock")
}

func (t *tx) SetReadyStock(ctx context.Context, branchID, productID int64, qty int64) error {
	if qty < 0 {
		return domain.InsufficientStock(domain.ProductRef(productID))
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO branch_ready_stock (branch_id, product_id, quantity, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (branch_id, product_id) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=now()`,
		branchID, productID, qty)
	if code, _ := pgCode(err); code == codeFKViolation {
		return domain.NotFoundf("ready product %d not found", productID)
	}
	return classify(err, "set ready stock")
}

func (t *tx) LimitsFor(ctx context.Context, branchID int64, refs []domain.StockRef) (map[domain.StockRef]decimal.Decimal, error) {
	out := map[domain.StockRef]decimal.Decimal{}
	if len(refs) == 0 {
		return out, nil
	}
	var ingIDs, prodIDs []int64
	for _, r := range refs {
		switch r.Kind {
		case domain.StockIngredient:
			ingIDs = append(ingIDs, r.ID)
		case domain.StockReadyProduct:
			prodIDs = append(prodIDs, r.ID)
		}
	}
	rows, err := t.q.Query(ctx, `
		SELECT ingredient_id, product_id, threshold FROM minimal_limits
		WHERE branch_id=$1 AND (ingredient_id = ANY($2) OR product_id = ANY($3))`,
		branchID, ingIDs, prodIDs)
	if err != nil {
		return nil, classify(err, "limits")
	}
	var (
		ingID, prodID *int64
		th            decimal.Decimal
	)
	_, err = pgx.ForEachRow(rows, []any{&ingID, &prodID, &th}, func() error {
		out[limitRef(ingID, prodID)] = th
		return nil
	})
	return out, classify(err, "scan limits")
}

func (t *tx) UpsertMinimalLimit(ctx context.Context, l domain.MinimalLimit) error {
	var err error
	switch l.Ref.Kind {
	case domain.StockIngredient:
		_, err = t.q.Exec(ctx, `
			INSERT INTO minimal_limits (branch_id, ingredient_id, threshold) VALUES ($1,$2,$3)
			ON CONFLICT (branch_id, ingredient_id) WHERE ingredient_id IS NOT NULL
			DO UPDATE SET threshold=EXCLUDED.threshold`, l.BranchID, l.Ref.ID, l.Threshold)
	case domain.StockReadyProduct:
		_, err = t.q.Exec(ctx, `
			INSERT INTO minimal_limits (branch_id, product_id, threshold) VALUES ($1,$2,$3)
			ON CONFLICT (branch_id, product_id) WHERE product_id IS NOT NULL
			DO UPDATE SET threshold=EXCLUDED.threshold`, l.BranchID, l.Ref.ID, l.Threshold)
	default:
		return domain.Validationf("minimal limit must reference an ingredient or a ready product")
	}
	return classify(err, "upsert minimal limit")
}

func (t *tx) InsertOrder(ctx context.Context, o *domain.Order) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO orders (branch_id, customer_id, table_number, status, total_price, spent_bonus_points, pending_bonus)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at, updated_at`,
		o.BranchID, o.CustomerID, o.TableNumber, string(o.Status), o.TotalPrice, o.SpentBonusPoints, o.PendingBonus).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if code, constraint := pgCode(err); code == codeUniqueViolation && constraint == activeTableIndex {
		return domain.TableOccupied(o.BranchID, *o.TableNumber)
	}
	if err != nil {
		return classify(err, "insert order")
	}

	b := &pgx.Batch{}
	for _, l := range o.Lines {
		switch v := l.(type) {
		case domain.RecipeLine:
			snap, err := json.Marshal(v.Composition)
			if err != nil {
				return fmt.Errorf("encode composition snapshot: %w", err)
			}
			b.Queue(`
				INSERT INTO order_lines (order_id, item_id, quantity, unit_price_snapshot, composition_snapshot)
				VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at`,
				o.ID, v.ItemID, v.Quantity, v.UnitPriceSnapshot, snap)
		case domain.ReadyProductLine:
			b.Queue(`
				INSERT INTO order_lines (order_id, ready_product_id, quantity, unit_price_snapshot)
				VALUES ($1,$2,$3,$4) RETURNING id, created_at`,
				o.ID, v.ProductID, v.Quantity, v.UnitPriceSnapshot)
		}
	}
	br := t.q.SendBatch(ctx, b)
	defer br.Close()
	for i, l := range o.Lines {
		var (
			id int64
			at time.Time
		)
		if err := br.QueryRow().Scan(&id, &at); err != nil {
			return classify(err, "insert order line")
		}
		switch v := l.(type) {
		case domain.RecipeLine:
			v.ID, v.CreatedAt = id, at
			o.Lines[i] = v
		case domain.ReadyProductLine:
			v.ID, v.CreatedAt = id, at
			o.Lines[i] = v
		}
	}
	return classify(br.Close(), "close line batch")
}

func (t *tx) LockOrder(ctx context.Context, id int64) (domain.Order, error) {
	return getOrder(ctx, t.q, id, true)
}

func (t *tx) UpdateOrder(ctx context.Context, o domain.Order) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now(), completed_at=$3, cancelled_at=$4,
		  pending_bonus=$5, bonus_credited=$6, spent_bonus_points=$7
		WHERE id=$1`,
		o.ID, string(o.Status), o.CompletedAt, o.CancelledAt, o.PendingBonus, o.BonusCredited, o.SpentBonusPoints)
	if err != nil {
		return classify(err, "update order")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("order %d not found", o.ID)
	}
	return nil
}

func (t *tx) AppendStatusLog(ctx context.Context, e domain.StatusLogEntry) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO order_status_log (order_id, status, changed_by, actor_role, changed_at, notes)
		VALUES ($1,$2,$3,$4,COALESCE($5, now()),$6)`,
		e.OrderID, string(e.Status), e.ChangedBy, string(e.ActorRole), nullTime(e.ChangedAt), e.Notes)
	return classify(err, "append status log")
}

// AppendEvent bumps the channel head and writes the event at the new seq.
// The head row lock orders concurrent writers to one channel by commit.
func (t *tx) AppendEvent(ctx context.Context, e *domain.Event) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO channel_heads (channel_key, last_seq) VALUES ($1, 1)
		ON CONFLICT (channel_key) DO UPDATE SET last_seq = channel_heads.last_seq + 1
		RETURNING last_seq`, string(e.Channel)).Scan(&e.Seq)
	if err != nil {
		return classify(err, "bump channel head")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO event_log (channel_key, seq, id, event_type, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		string(e.Channel), e.Seq, e.ID, string(e.Type), []byte(e.Payload), e.CreatedAt)
	return classify(err, "append event")
}

func (t *tx) InsertBranchNotification(ctx context.Context, n *domain.BranchNotification) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO branch_notifications (branch_id, order_id, title, body)
		VALUES ($1,$2,$3,$4) RETURNING id, created_at`,
		n.BranchID, n.OrderID, n.Title, n.Body).Scan(&n.ID, &n.CreatedAt)
	return classify(err, "insert branch notification")
}

func (t *tx) InsertClientNotification(ctx context.Context, n *domain.ClientNotification) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO client_notifications (client_id, title, body)
		VALUES ($1,$2,$3) RETURNING id, created_at`,
		n.ClientID, n.Title, n.Body).Scan(&n.ID, &n.CreatedAt)
	return classify(err, "insert client notification")
}

func (t *tx) InsertJob(ctx context.Context, j domain.Job) error {
	payload := []byte(j.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO scheduled_jobs (id, kind, channel_key, payload, fire_at, status, attempts)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		j.ID, string(j.Kind), string(j.ChannelKey), payload, j.FireAt, string(j.Status), j.Attempts)
	return classify(err, "insert job")
}

func (t *tx) ClaimDueJob(ctx context.Context, now time.Time) (domain.Job, bool, error) {
	var j domain.Job
	err := t.q.QueryRow(ctx, `
		SELECT id, kind, channel_key, payload, fire_at, status, attempts, last_error, created_at
		FROM scheduled_jobs
		WHERE status='pending' AND fire_at <= $1
		ORDER BY fire_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, now).
		Scan(&j.ID, &j.Kind, &j.ChannelKey, &j.Payload, &j.FireAt, &j.Status, &j.Attempts, &j.LastError, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, classify(err, "claim job")
	}
	return j, true, nil
}

func (t *tx) FinishJob(ctx context.Context, id uuid.UUID, status domain.JobStatus, attempts int, fireAt time.Time, lastErr string) error {
	_, err := t.q.Exec(ctx, `
		UPDATE scheduled_jobs
		SET status=$2, attempts=$3, fire_at=COALESCE($4, fire_at), last_error=$5, updated_at=now()
		WHERE id=$1`, id, string(status), attempts, nullTime(fireAt), lastErr)
	return classify(err, "finish job")
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

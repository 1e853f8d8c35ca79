package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
)

func (s *Store) LoadCatalog(ctx context.Context) (domain.CatalogData, error) {
	var d domain.CatalogData

	rows, err := s.pool.Query(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return d, classify(err, "load categories")
	}
	d.Categories, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Category, error) {
		var c domain.Category
		return c, r.Scan(&c.ID, &c.Name)
	})
	if err != nil {
		return d, classify(err, "scan categories")
	}

	rows, err = s.pool.Query(ctx, `SELECT id, name, unit FROM ingredients ORDER BY id`)
	if err != nil {
		return d, classify(err, "load ingredients")
	}
	d.Ingredients, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Ingredient, error) {
		var i domain.Ingredient
		return i, r.Scan(&i.ID, &i.Name, &i.Unit)
	})
	if err != nil {
		return d, classify(err, "scan ingredients")
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, category_id, name, description, price, image_ref, is_available
		FROM menu_items ORDER BY id`)
	if err != nil {
		return d, classify(err, "load menu items")
	}
	d.Items, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.MenuItem, error) {
		var m domain.MenuItem
		return m, r.Scan(&m.ID, &m.CategoryID, &m.Name, &m.Description, &m.Price, &m.ImageRef, &m.IsAvailable)
	})
	if err != nil {
		return d, classify(err, "scan menu items")
	}

	rows, err = s.pool.Query(ctx, `SELECT item_id, ingredient_id, quantity FROM compositions ORDER BY item_id, ingredient_id`)
	if err != nil {
		return d, classify(err, "load compositions")
	}
	d.Compositions, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Composition, error) {
		var c domain.Composition
		return c, r.Scan(&c.ItemID, &c.IngredientID, &c.Quantity)
	})
	if err != nil {
		return d, classify(err, "scan compositions")
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, category_id, name, description, price, image_ref
		FROM ready_products ORDER BY id`)
	if err != nil {
		return d, classify(err, "load ready products")
	}
	d.ReadyProducts, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ReadyProduct, error) {
		var p domain.ReadyProduct
		return p, r.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.Price, &p.ImageRef)
	})
	if err != nil {
		return d, classify(err, "scan ready products")
	}
	return d, nil
}

func getBranch(ctx context.Context, q querier, id int64) (domain.Branch, error) {
	var b domain.Branch
	err := q.QueryRow(ctx, `
		SELECT id, display_name, address, phone, map_url, table_count, schedule
		FROM branches WHERE id=$1`, id).
		Scan(&b.ID, &b.DisplayName, &b.Address, &b.Phone, &b.MapURL, &b.TableCount, &b.Schedule)
	if err != nil {
		return domain.Branch{}, notFound(err, "branch", id)
	}
	return b, nil
}

func (s *Store) GetBranch(ctx context.Context, id int64) (domain.Branch, error) {
	return getBranch(ctx, s.pool, id)
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, display_name, address, phone, map_url, table_count, schedule
		FROM branches ORDER BY id`)
	if err != nil {
		return nil, classify(err, "list branches")
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Branch, error) {
		var b domain.Branch
		err := r.Scan(&b.ID, &b.DisplayName, &b.Address, &b.Phone, &b.MapURL, &b.TableCount, &b.Schedule)
		return b, err
	})
	if err != nil {
		return nil, classify(err, "scan branches")
	}
	return out, nil
}

const userColumns = `id, phone, display_name, birth_date, role, branch_id, bonus_points, is_verified`

func scanUser(r pgx.Row) (domain.User, error) {
	var u domain.User
	err := r.Scan(&u.ID, &u.Phone, &u.DisplayName, &u.BirthDate, &u.Role, &u.BranchID, &u.BonusPoints, &u.IsVerified)
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		return domain.User{}, notFound(err, "user", id)
	}
	return u, nil
}

const orderColumns = `id, branch_id, customer_id, table_number, status, created_at, updated_at,
	completed_at, cancelled_at, total_price, spent_bonus_points, pending_bonus, bonus_credited`

func scanOrder(r pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := r.Scan(&o.ID, &o.BranchID, &o.CustomerID, &o.TableNumber, &o.Status, &o.CreatedAt, &o.UpdatedAt,
		&o.CompletedAt, &o.CancelledAt, &o.TotalPrice, &o.SpentBonusPoints, &o.PendingBonus, &o.BonusCredited)
	return o, err
}

// loadLines fills Lines for every order in the slice with one query.
func loadLines(ctx context.Context, q querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	idx := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		idx[o.ID] = i
	}
	rows, err := q.Query(ctx, `
		SELECT id, order_id, item_id, ready_product_id, quantity, unit_price_snapshot, composition_snapshot, created_at
		FROM order_lines WHERE order_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return classify(err, "load order lines")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, orderID    int64
			itemID, prodID *int64
			qty            int
			price          decimal.Decimal
			snapshot       []byte
			createdAt      time.Time
		)
		if err := rows.Scan(&id, &orderID, &itemID, &prodID, &qty, &price, &snapshot, &createdAt); err != nil {
			return classify(err, "scan order line")
		}
		var line domain.OrderLine
		if itemID != nil {
			rl := domain.RecipeLine{ID: id, ItemID: *itemID, Quantity: qty, UnitPriceSnapshot: price, CreatedAt: createdAt}
			if err := json.Unmarshal(snapshot, &rl.Composition); err != nil {
				return fmt.Errorf("decode composition snapshot of line %d: %w", id, err)
			}
			line = rl
		} else if prodID != nil {
			line = domain.ReadyProductLine{ID: id, ProductID: *prodID, Quantity: qty, UnitPriceSnapshot: price, CreatedAt: createdAt}
		}
		i := idx[orderID]
		orders[i].Lines = append(orders[i].Lines, line)
	}
	return classify(rows.Err(), "iterate order lines")
}

func getOrder(ctx context.Context, q querier, id int64, lock bool) (domain.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if err != nil {
		return domain.Order{}, notFound(err, "order", id)
	}
	one := []domain.Order{o}
	if err := loadLines(ctx, q, one); err != nil {
		return domain.Order{}, err
	}
	return one[0], nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	return getOrder(ctx, s.pool, id, false)
}

func (s *Store) ListOrders(ctx context.Context, q repository.OrderQuery) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.BranchID != nil {
		where = append(where, "branch_id = "+arg(*q.BranchID))
	}
	if q.CustomerID != nil {
		where = append(where, "customer_id = "+arg(*q.CustomerID))
	}
	if len(q.Filter.Statuses) > 0 {
		st := make([]string, len(q.Filter.Statuses))
		for i, s := range q.Filter.Statuses {
			st[i] = string(s)
		}
		where = append(where, "status = ANY("+arg(st)+")")
	}
	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC, id DESC`
	if q.Filter.Limit > 0 {
		sql += ` LIMIT ` + arg(q.Filter.Limit)
	}
	if q.Filter.Offset > 0 {
		sql += ` OFFSET ` + arg(q.Filter.Offset)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Order, error) { return scanOrder(r) })
	if err != nil {
		return nil, classify(err, "scan orders")
	}
	if err := loadLines(ctx, s.pool, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) OrderTimeline(ctx context.Context, orderID int64) ([]domain.StatusLogEntry, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&exists); err != nil {
		return nil, classify(err, "check order")
	}
	if !exists {
		return nil, domain.NotFoundf("order %d not found", orderID)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, status, changed_by, actor_role, changed_at, notes
		FROM order_status_log WHERE order_id=$1 ORDER BY changed_at, id`, orderID)
	if err != nil {
		return nil, classify(err, "load timeline")
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.StatusLogEntry, error) {
		var e domain.StatusLogEntry
		return e, r.Scan(&e.OrderID, &e.Status, &e.ChangedBy, &e.ActorRole, &e.ChangedAt, &e.Notes)
	})
	return out, classify(err, "scan timeline")
}

func (s *Store) OccupiedTables(ctx context.Context, branchID int64) ([]domain.TableOccupancy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_number, id, status, created_at FROM orders
		WHERE branch_id=$1 AND table_number IS NOT NULL AND status IN ('new','in_progress','ready')
		ORDER BY table_number`, branchID)
	if err != nil {
		return nil, classify(err, "occupied tables")
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.TableOccupancy, error) {
		var t domain.TableOccupancy
		return t, r.Scan(&t.TableNumber, &t.OrderID, &t.Status, &t.Since)
	})
	return out, classify(err, "scan occupied tables")
}

func (s *Store) Popularity(ctx context.Context, branchID int64) ([]domain.ItemPopularity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.item_id, SUM(l.quantity)::bigint
		FROM order_lines l JOIN orders o ON o.id = l.order_id
		WHERE o.branch_id=$1 AND o.status <> 'cancelled' AND l.item_id IS NOT NULL
		GROUP BY l.item_id
		ORDER BY 2 DESC, 1`, branchID)
	if err != nil {
		return nil, classify(err, "popularity")
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ItemPopularity, error) {
		var p domain.ItemPopularity
		return p, r.Scan(&p.ItemID, &p.Quantity)
	})
	return out, classify(err, "scan popularity")
}

// StockSnapshot reads both stock tables in one repeatable-read transaction
// so the menu is computed from a single consistent view.
func (s *Store) StockSnapshot(ctx context.Context, branchID int64) (domain.StockSnapshot, error) {
	snap := domain.NewStockSnapshot(branchID)
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(t pgx.Tx) error {
		if _, err := getBranch(ctx, t, branchID); err != nil {
			return err
		}
		rows, err := t.Query(ctx, `SELECT ingredient_id, quantity FROM branch_stock WHERE branch_id=$1`, branchID)
		if err != nil {
			return err
		}
		var (
			id  int64
			qty decimal.Decimal
		)
		if _, err := pgx.ForEachRow(rows, []any{&id, &qty}, func() error {
			snap.Ingredients[id] = qty
			return nil
		}); err != nil {
			return err
		}
		rows, err = t.Query(ctx, `SELECT product_id, quantity FROM branch_ready_stock WHERE branch_id=$1`, branchID)
		if err != nil {
			return err
		}
		var n int64
		_, err = pgx.ForEachRow(rows, []any{&id, &n}, func() error {
			snap.Ready[id] = n
			return nil
		})
		return err
	})
	if err != nil {
		return domain.StockSnapshot{}, classify(err, "stock snapshot")
	}
	return snap, nil
}

func (s *Store) MinimalLimits(ctx context.Context, branchID int64) ([]domain.MinimalLimit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ingredient_id, product_id, threshold FROM minimal_limits
		WHERE branch_id=$1 ORDER BY ingredient_id NULLS LAST, product_id`, branchID)
	if err != nil {
		return nil, classify(err, "minimal limits")
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.MinimalLimit, error) {
		var (
			ingID, prodID *int64
			l             = domain.MinimalLimit{BranchID: branchID}
		)
		if err := r.Scan(&ingID, &prodID, &l.Threshold); err != nil {
			return l, err
		}
		l.Ref = limitRef(ingID, prodID)
		return l, nil
	})
	return out, classify(err, "scan minimal limits")
}

func limitRef(ingID, prodID *int64) domain.StockRef {
	if ingID != nil {
		return domain.IngredientRef(*ingID)
	}
	return domain.ProductRef(*prodID)
}

func (s *Store) ReadChannel(ctx context.Context, key domain.ChannelKey, afterSeq int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_key, seq, event_type, payload, created_at
		FROM event_log WHERE channel_key=$1 AND seq > $2
		ORDER BY seq LIMIT $3`, string(key), afterSeq, limit)
	if err != nil {
		return nil, classify(err, "read channel")
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Event, error) {
		var e domain.Event
		return e, r.Scan(&e.ID, &e.Channel, &e.Seq, &e.Type, &e.Payload, &e.CreatedAt)
	})
	return out, classify(err, "scan channel")
}

func (s *Store) ChannelHead(ctx context.Context, key domain.ChannelKey) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(last_seq),0) FROM channel_heads WHERE channel_key=$1`, string(key)).Scan(&seq)
	return seq, classify(err, "channel head")
}

func (s *Store) GetCursor(ctx context.Context, sub string, key domain.ChannelKey) (int64, bool, error) {
	var c int64
	err := s.pool.QueryRow(ctx, `
		SELECT cursor FROM subscriber_cursors WHERE subscriber_id=$1 AND channel_key=$2`, sub, string(key)).Scan(&c)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify(err, "get cursor")
	}
	return c, true, nil
}

func (s *Store) SaveCursor(ctx context.Context, sub string, key domain.ChannelKey, cursor int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriber_cursors (subscriber_id, channel_key, cursor, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (subscriber_id, channel_key) DO UPDATE SET
		  cursor = GREATEST(subscriber_cursors.cursor, EXCLUDED.cursor),
		  updated_at = now()`, sub, string(key), cursor)
	return classify(err, "save cursor")
}

func (s *Store) ListBranchNotifications(ctx context.Context, branchID int64, unreadOnly bool, limit int) ([]domain.BranchNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, branch_id, order_id, title, body, is_read, created_at
		FROM branch_notifications
		WHERE branch_id=$1 AND (NOT $2 OR NOT is_read)
		ORDER BY created_at DESC, id DESC LIMIT $3`, branchID, unreadOnly, limit)
	if err != nil {
		return nil, classify(err, "list branch notifications")
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.BranchNotification, error) {
		var n domain.BranchNotification
		return n, r.Scan(&n.ID, &n.BranchID, &n.OrderID, &n.Title, &n.Body, &n.IsRead, &n.CreatedAt)
	})
	return out, classify(err, "scan branch notifications")
}

func (s *Store) MarkBranchNotificationRead(ctx context.Context, branchID, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE branch_notifications SET is_read=TRUE WHERE id=$1 AND branch_id=$2`, id, branchID)
	if err != nil {
		return classify(err, "mark notification read")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("notification %d not found", id)
	}
	return nil
}

func (s *Store) DeleteBranchNotification(ctx context.Context, branchID, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM branch_notifications WHERE id=$1 AND branch_id=$2`, id, branchID)
	if err != nil {
		return classify(err, "delete notification")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("notification %d not found", id)
	}
	return nil
}

func (s *Store) ListClientNotifications(ctx context.Context, clientID int64, limit int) ([]domain.ClientNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, client_id, title, body, created_at FROM client_notifications
		WHERE client_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, clientID, limit)
	if err != nil {
		return nil, classify(err, "list client notifications")
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ClientNotification, error) {
		var n domain.ClientNotification
		return n, r.Scan(&n.ID, &n.ClientID, &n.Title, &n.Body, &n.CreatedAt)
	})
	return out, classify(err, "scan client notifications")
}

func (s *Store) DeleteClientNotification(ctx context.Context, clientID, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM client_notifications WHERE id=$1 AND client_id=$2`, id, clientID)
	if err != nil {
		return classify(err, "delete client notification")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("notification %d not found", id)
	}
	return nil
}

// ReplaceComposition swaps an item's recipe in one transaction.
func (s *Store) ReplaceComposition(ctx context.Context, itemID int64, comps []domain.Composition) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(t pgx.Tx) error {
		var one int
		if err := t.QueryRow(ctx, `SELECT 1 FROM menu_items WHERE id=$1 FOR UPDATE`, itemID).Scan(&one); err != nil {
			return notFound(err, "menu item", itemID)
		}
		if _, err := t.Exec(ctx, `DELETE FROM compositions WHERE item_id=$1`, itemID); err != nil {
			return classify(err, "clear composition")
		}
		for _, c := range comps {
			_, err := t.Exec(ctx, `INSERT INTO compositions (item_id, ingredient_id, quantity) VALUES ($1,$2,$3)`,
				itemID, c.IngredientID, c.Quantity)
			if code, _ := pgCode(err); code == codeFKViolation {
				return domain.NotFoundf("ingredient %d not found", c.IngredientID)
			}
			if err != nil {
				return classify(err, "insert composition")
			}
		}
		return nil
	})
}

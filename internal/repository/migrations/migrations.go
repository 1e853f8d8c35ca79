package migrations

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cafe-system/internal/common/logger"
)

type step struct {
	name  string
	query string
}

var steps = []step{
	{"branches", `
		CREATE TABLE IF NOT EXISTS branches (
			id BIGSERIAL PRIMARY KEY,
			display_name TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			map_url TEXT NOT NULL DEFAULT '',
			table_count INT NOT NULL DEFAULT 0 CHECK (table_count >= 0),
			schedule TEXT NOT NULL DEFAULT ''
		)`},
	{"categories", `
		CREATE TABLE IF NOT EXISTS categories (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`},
	{"ingredients", `
		CREATE TABLE IF NOT EXISTS ingredients (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			unit TEXT NOT NULL CHECK (unit IN ('g','ml','l','kg'))
		)`},
	{"menu_items", `
		CREATE TABLE IF NOT EXISTS menu_items (
			id BIGSERIAL PRIMARY KEY,
			category_id BIGINT NOT NULL REFERENCES categories(id),
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price NUMERIC(10,2) NOT NULL CHECK (price >= 0),
			image_ref TEXT NOT NULL DEFAULT '',
			is_available BOOLEAN NOT NULL DEFAULT TRUE
		)`},
	{"compositions", `
		CREATE TABLE IF NOT EXISTS compositions (
			item_id BIGINT NOT NULL REFERENCES menu_items(id) ON DELETE CASCADE,
			ingredient_id BIGINT NOT NULL REFERENCES ingredients(id),
			quantity NUMERIC(12,3) NOT NULL CHECK (quantity > 0),
			PRIMARY KEY (item_id, ingredient_id)
		)`},
	{"ready_products", `
		CREATE TABLE IF NOT EXISTS ready_products (
			id BIGSERIAL PRIMARY KEY,
			category_id BIGINT NOT NULL REFERENCES categories(id),
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price NUMERIC(10,2) NOT NULL CHECK (price >= 0),
			image_ref TEXT NOT NULL DEFAULT ''
		)`},
	{"branch_stock", `
		CREATE TABLE IF NOT EXISTS branch_stock (
			branch_id BIGINT NOT NULL REFERENCES branches(id),
			ingredient_id BIGINT NOT NULL REFERENCES ingredients(id),
			quantity NUMERIC(14,3) NOT NULL CHECK (quantity >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (branch_id, ingredient_id)
		)`},
	{"branch_ready_stock", `
		CREATE TABLE IF NOT EXISTS branch_ready_stock (
			branch_id BIGINT NOT NULL REFERENCES branches(id),
			product_id BIGINT NOT NULL REFERENCES ready_products(id),
			quantity BIGINT NOT NULL CHECK (quantity >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (branch_id, product_id)
		)`},
	{"minimal_limits", `
		CREATE TABLE IF NOT EXISTS minimal_limits (
			id BIGSERIAL PRIMARY KEY,
			branch_id BIGINT NOT NULL REFERENCES branches(id),
			ingredient_id BIGINT REFERENCES ingredients(id),
			product_id BIGINT REFERENCES ready_products(id),
			threshold NUMERIC(14,3) NOT NULL CHECK (threshold >= 0),
			CHECK ((ingredient_id IS NULL) <> (product_id IS NULL))
		)`},
	{"minimal_limits_ingredient_uq", `
		CREATE UNIQUE INDEX IF NOT EXISTS minimal_limits_ingredient_uq
			ON minimal_limits (branch_id, ingredient_id) WHERE ingredient_id IS NOT NULL`},
	{"minimal_limits_product_uq", `
		CREATE UNIQUE INDEX IF NOT EXISTS minimal_limits_product_uq
			ON minimal_limits (branch_id, product_id) WHERE product_id IS NOT NULL`},
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			phone TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			birth_date DATE,
			role TEXT NOT NULL CHECK (role IN ('client','barista','waiter','admin')),
			branch_id BIGINT REFERENCES branches(id),
			bonus_points BIGINT NOT NULL DEFAULT 0 CHECK (bonus_points >= 0),
			is_verified BOOLEAN NOT NULL DEFAULT FALSE
		)`},
	{"orders", `
		CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			branch_id BIGINT NOT NULL REFERENCES branches(id),
			customer_id BIGINT NOT NULL REFERENCES users(id),
			table_number INT,
			in_institution BOOLEAN GENERATED ALWAYS AS (table_number IS NOT NULL) STORED,
			status TEXT NOT NULL CHECK (status IN ('new','in_progress','ready','completed','cancelled')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			total_price NUMERIC(10,2) NOT NULL CHECK (total_price >= 0),
			spent_bonus_points BIGINT NOT NULL DEFAULT 0 CHECK (spent_bonus_points >= 0),
			pending_bonus BIGINT NOT NULL DEFAULT 0,
			bonus_credited BOOLEAN NOT NULL DEFAULT FALSE
		)`},
	{"orders_active_table_uq", `
		CREATE UNIQUE INDEX IF NOT EXISTS orders_active_table_uq
			ON orders (branch_id, table_number)
			WHERE table_number IS NOT NULL AND status IN ('new','in_progress','ready')`},
	{"orders_branch_created_idx", `
		CREATE INDEX IF NOT EXISTS orders_branch_created_idx ON orders (branch_id, created_at DESC)`},
	{"orders_customer_created_idx", `
		CREATE INDEX IF NOT EXISTS orders_customer_created_idx ON orders (customer_id, created_at DESC)`},
	{"order_lines", `
		CREATE TABLE IF NOT EXISTS order_lines (
			id BIGSERIAL PRIMARY KEY,
			order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			item_id BIGINT REFERENCES menu_items(id),
			ready_product_id BIGINT REFERENCES ready_products(id),
			quantity INT NOT NULL CHECK (quantity >= 1),
			unit_price_snapshot NUMERIC(10,2) NOT NULL,
			composition_snapshot JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK ((item_id IS NULL) <> (ready_product_id IS NULL))
		)`},
	{"order_status_log", `
		CREATE TABLE IF NOT EXISTS order_status_log (
			id BIGSERIAL PRIMARY KEY,
			order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			changed_by BIGINT,
			actor_role TEXT NOT NULL DEFAULT '',
			changed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			notes TEXT NOT NULL DEFAULT ''
		)`},
	{"channel_heads", `
		CREATE TABLE IF NOT EXISTS channel_heads (
			channel_key TEXT PRIMARY KEY,
			last_seq BIGINT NOT NULL
		)`},
	{"event_log", `
		CREATE TABLE IF NOT EXISTS event_log (
			channel_key TEXT NOT NULL,
			seq BIGINT NOT NULL,
			id UUID NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (channel_key, seq)
		)`},
	{"subscriber_cursors", `
		CREATE TABLE IF NOT EXISTS subscriber_cursors (
			subscriber_id TEXT NOT NULL,
			channel_key TEXT NOT NULL,
			cursor BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (subscriber_id, channel_key)
		)`},
	{"branch_notifications", `
		CREATE TABLE IF NOT EXISTS branch_notifications (
			id BIGSERIAL PRIMARY KEY,
			branch_id BIGINT NOT NULL REFERENCES branches(id),
			order_id BIGINT REFERENCES orders(id) ON DELETE SET NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"client_notifications", `
		CREATE TABLE IF NOT EXISTS client_notifications (
			id BIGSERIAL PRIMARY KEY,
			client_id BIGINT NOT NULL REFERENCES users(id),
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"scheduled_jobs", `
		CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id UUID PRIMARY KEY,
			kind TEXT NOT NULL,
			channel_key TEXT NOT NULL DEFAULT '',
			payload JSONB NOT NULL DEFAULT '{}',
			fire_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','done','failed')),
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"scheduled_jobs_due_idx", `
		CREATE INDEX IF NOT EXISTS scheduled_jobs_due_idx ON scheduled_jobs (fire_at) WHERE status = 'pending'`},
}

// Apply creates every table and index that does not exist yet. Each step is
// retried a few times since the database may still be starting.
func Apply(ctx context.Context, pool *pgxpool.Pool, retries int, lg *logger.Logger) error {
	for _, s := range steps {
		var err error
		for i := 0; i <= retries; i++ {
			if _, err = pool.Exec(ctx, s.query); err == nil {
				break
			}
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", s.name, err)
		}
		lg.Debug("migration_applied", map[string]any{"step": s.name})
	}
	lg.Info("migrations_done", map[string]any{"steps": len(steps)})
	return nil
}

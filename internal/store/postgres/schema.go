package postgres

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS employees (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('admin','staff','cashier')),
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT '',
		price NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS equipment (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS packages (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		price NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		duration TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS suppliers (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		products TEXT NOT NULL DEFAULT '',
		delivery_schedule TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS suppliers_name_lower_idx ON suppliers (lower(name))`,
	`CREATE TABLE IF NOT EXISTS members (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS walk_ins (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS receipts (
		receipt_no TEXT PRIMARY KEY,
		idempotency_key TEXT UNIQUE,
		member_id BIGINT REFERENCES members(id),
		walk_in_id BIGINT REFERENCES walk_ins(id),
		employee_id BIGINT NOT NULL REFERENCES employees(id),
		payment_method TEXT NOT NULL,
		total_amount NUMERIC(12,2) NOT NULL,
		transaction_count INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (num_nonnulls(member_id, walk_in_id) = 1)
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		receipt_no TEXT NOT NULL REFERENCES receipts(receipt_no) DEFERRABLE INITIALLY DEFERRED,
		package_id BIGINT REFERENCES packages(id),
		product_id BIGINT REFERENCES products(id),
		member_id BIGINT REFERENCES members(id),
		walk_in_id BIGINT REFERENCES walk_ins(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(12,2) NOT NULL CHECK (unit_price >= 0),
		amount NUMERIC(12,2) NOT NULL,
		payment_method TEXT NOT NULL,
		recorded_by BIGINT NOT NULL,
		sold_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (num_nonnulls(package_id, product_id) = 1),
		CHECK (num_nonnulls(member_id, walk_in_id) = 1)
	)`,
	`CREATE INDEX IF NOT EXISTS sales_receipt_idx ON sales (receipt_no)`,
	`CREATE TABLE IF NOT EXISTS session_balances (
		id BIGSERIAL PRIMARY KEY,
		member_id BIGINT REFERENCES members(id),
		walk_in_id BIGINT REFERENCES walk_ins(id),
		package_id BIGINT NOT NULL REFERENCES packages(id),
		sessions_remaining INTEGER NOT NULL CHECK (sessions_remaining >= 0),
		start_date DATE NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (num_nonnulls(member_id, walk_in_id) = 1)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS session_balances_member_idx
		ON session_balances (member_id, package_id) WHERE member_id IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS session_balances_walk_in_idx
		ON session_balances (walk_in_id, package_id) WHERE walk_in_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS daily_sales (
		sale_date DATE NOT NULL,
		employee_id BIGINT NOT NULL REFERENCES employees(id),
		total_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		transaction_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (sale_date, employee_id)
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_orders (
		id BIGSERIAL PRIMARY KEY,
		po_number TEXT NOT NULL UNIQUE,
		supplier_id BIGINT NOT NULL REFERENCES suppliers(id),
		category TEXT NOT NULL CHECK (category IN ('product','equipment')),
		shipping_status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		subtotal NUMERIC(12,2) NOT NULL,
		tax NUMERIC(12,2) NOT NULL,
		total NUMERIC(12,2) NOT NULL,
		sent_to_inventory BOOLEAN NOT NULL DEFAULT false,
		sent_to_inventory_at TIMESTAMPTZ,
		sent_to_inventory_by TEXT,
		created_by BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_order_items (
		id BIGSERIAL PRIMARY KEY,
		purchase_order_id BIGINT NOT NULL REFERENCES purchase_orders(id) ON DELETE CASCADE,
		item_name TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT 'pcs',
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(12,2) NOT NULL,
		line_total NUMERIC(12,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS purchase_order_items_po_idx ON purchase_order_items (purchase_order_id)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		actor_id BIGINT NOT NULL,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_created_idx ON audit_logs (created_at DESC)`,
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}

// Package db provides database schema migration management.
package db

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is a single versioned schema change applied at startup.
type migration struct {
	version     int
	description string
	statements  []string
}

// migrations is the ordered schema history. Entries are append-only;
// never edit an applied migration in place.
var migrations = []migration{
	{
		version:     1,
		description: "offline queue",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS sync_queue (
				id TEXT PRIMARY KEY,
				action TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT '{}',
				enqueued_at INTEGER NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0
			);`,
		},
	},
	{
		version:     2,
		description: "catalog tables",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS categories (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				sort_order INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS menu_items (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				category_id TEXT NOT NULL DEFAULT '',
				price_cents INTEGER NOT NULL DEFAULT 0,
				sku TEXT NOT NULL DEFAULT '',
				image_url TEXT NOT NULL DEFAULT '',
				is_active INTEGER NOT NULL DEFAULT 1,
				sort_order INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_menu_items_category ON menu_items(category_id);`,
		},
	},
	{
		version:     3,
		description: "inventory and users",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS inventory_items (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				quantity REAL NOT NULL DEFAULT 0,
				unit TEXT NOT NULL DEFAULT '',
				min_threshold REAL NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				pin TEXT NOT NULL DEFAULT '',
				role TEXT NOT NULL DEFAULT 'cashier',
				is_active INTEGER NOT NULL DEFAULT 1,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_users_pin ON users(pin);`,
		},
	},
	{
		version:     4,
		description: "tickets and shifts",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS tickets (
				id TEXT PRIMARY KEY,
				number INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'open',
				total_cents INTEGER NOT NULL DEFAULT 0,
				opened_by TEXT NOT NULL DEFAULT '',
				table_label TEXT NOT NULL DEFAULT '',
				opened_at INTEGER NOT NULL,
				closed_at INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS ticket_lines (
				id TEXT PRIMARY KEY,
				ticket_id TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
				menu_item_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL,
				quantity INTEGER NOT NULL DEFAULT 1,
				unit_price_cents INTEGER NOT NULL DEFAULT 0,
				notes TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_ticket_lines_ticket ON ticket_lines(ticket_id);`,
			`CREATE TABLE IF NOT EXISTS shifts (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'open',
				opening_float_cents INTEGER NOT NULL DEFAULT 0,
				closing_total_cents INTEGER NOT NULL DEFAULT 0,
				opened_at INTEGER NOT NULL,
				closed_at INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL
			);`,
		},
	},
	{
		version:     5,
		description: "report cache and hydration state",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS report_cache (
				key TEXT PRIMARY KEY,
				payload TEXT NOT NULL DEFAULT '{}',
				cached_at INTEGER NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS hydration_state (
				tenant_id TEXT PRIMARY KEY,
				hydrated_at INTEGER NOT NULL
			);`,
		},
	},
}

// Migrate applies all pending migrations in version order.
func Migrate(db *DB) error {
	if err := initMigrations(db.DB); err != nil {
		return fmt.Errorf("failed to initialize schema_migrations: %w", err)
	}

	current, err := currentVersion(db.DB)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(db.DB, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
	}
	return nil
}

func initMigrations(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL,
		description TEXT NOT NULL
	);`
	_, err := db.Exec(query)
	return err
}

func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, stmt := range m.statements {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
		m.version, time.Now().Unix(), m.description,
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

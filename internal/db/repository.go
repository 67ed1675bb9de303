// Package db provides CRUD repository operations for possync data models.
package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tillworks/possync/internal/models"
)

// Repository provides CRUD operations for all cached entities.
// The synchronizer uses the Tx variants so that pruning and upserting a
// collection happens inside a single transaction.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.DB}
}

// WithTx runs fn inside a transaction, rolling back on error.
func (r *Repository) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// execer abstracts *sql.DB and *sql.Tx for shared statement helpers.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// deleteNotIn prunes rows whose id is not in keep. An empty keep set
// clears the whole table. Table names are compile-time constants.
func deleteNotIn(e execer, table string, keep []string) (int64, error) {
	if len(keep) == 0 {
		res, err := e.Exec("DELETE FROM " + table)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(keep)), ",")
	args := make([]interface{}, len(keep))
	for i, id := range keep {
		args[i] = id
	}
	res, err := e.Exec("DELETE FROM "+table+" WHERE id NOT IN ("+placeholders+")", args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =====================================================
// MenuItem Operations
// =====================================================

const menuItemCols = `id, name, category_id, price_cents, sku, image_url, is_active, sort_order, created_at, updated_at`

func upsertMenuItem(e execer, item *models.MenuItem) error {
	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().Unix()
	}
	if item.UpdatedAt == 0 {
		item.UpdatedAt = item.CreatedAt
	}
	_, err := e.Exec(`
		INSERT INTO menu_items (`+menuItemCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category_id = excluded.category_id,
			price_cents = excluded.price_cents,
			sku = excluded.sku,
			image_url = excluded.image_url,
			is_active = excluded.is_active,
			sort_order = excluded.sort_order,
			updated_at = excluded.updated_at
	`, item.ID, item.Name, item.CategoryID, item.PriceCents, item.SKU,
		item.ImageURL, item.IsActive, item.SortOrder, item.CreatedAt, item.UpdatedAt)
	return err
}

// UpsertMenuItem inserts or updates a menu item.
func (r *Repository) UpsertMenuItem(item *models.MenuItem) error {
	return upsertMenuItem(r.db, item)
}

// UpsertMenuItemTx inserts or updates a menu item inside tx.
func (r *Repository) UpsertMenuItemTx(tx *sql.Tx, item *models.MenuItem) error {
	return upsertMenuItem(tx, item)
}

func scanMenuItem(rows *sql.Rows) (*models.MenuItem, error) {
	var item models.MenuItem
	err := rows.Scan(&item.ID, &item.Name, &item.CategoryID, &item.PriceCents,
		&item.SKU, &item.ImageURL, &item.IsActive, &item.SortOrder,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListMenuItems returns all menu items ordered by sort order then name.
func (r *Repository) ListMenuItems() ([]*models.MenuItem, error) {
	rows, err := r.db.Query(`SELECT ` + menuItemCols + ` FROM menu_items ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.MenuItem
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetMenuItem retrieves a menu item by ID.
func (r *Repository) GetMenuItem(id string) (*models.MenuItem, error) {
	var item models.MenuItem
	err := r.db.QueryRow(`SELECT `+menuItemCols+` FROM menu_items WHERE id = ?`, id).
		Scan(&item.ID, &item.Name, &item.CategoryID, &item.PriceCents,
			&item.SKU, &item.ImageURL, &item.IsActive, &item.SortOrder,
			&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteMenuItemsNotInTx prunes menu items whose id is not in keep.
func (r *Repository) DeleteMenuItemsNotInTx(tx *sql.Tx, keep []string) (int64, error) {
	return deleteNotIn(tx, "menu_items", keep)
}

// CountMenuItems returns the number of cached menu items.
func (r *Repository) CountMenuItems() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM menu_items`).Scan(&n)
	return n, err
}

// =====================================================
// Category Operations
// =====================================================

const categoryCols = `id, name, sort_order, created_at, updated_at`

func upsertCategory(e execer, c *models.Category) error {
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().Unix()
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = c.CreatedAt
	}
	_, err := e.Exec(`
		INSERT INTO categories (`+categoryCols+`)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			sort_order = excluded.sort_order,
			updated_at = excluded.updated_at
	`, c.ID, c.Name, c.SortOrder, c.CreatedAt, c.UpdatedAt)
	return err
}

// UpsertCategory inserts or updates a category.
func (r *Repository) UpsertCategory(c *models.Category) error {
	return upsertCategory(r.db, c)
}

// UpsertCategoryTx inserts or updates a category inside tx.
func (r *Repository) UpsertCategoryTx(tx *sql.Tx, c *models.Category) error {
	return upsertCategory(tx, c)
}

// ListCategories returns all categories ordered by sort order then name.
func (r *Repository) ListCategories() ([]*models.Category, error) {
	rows, err := r.db.Query(`SELECT ` + categoryCols + ` FROM categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []*models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.SortOrder, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, &c)
	}
	return categories, rows.Err()
}

// DeleteCategoriesNotInTx prunes categories whose id is not in keep.
func (r *Repository) DeleteCategoriesNotInTx(tx *sql.Tx, keep []string) (int64, error) {
	return deleteNotIn(tx, "categories", keep)
}

// CountCategories returns the number of cached categories.
func (r *Repository) CountCategories() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM categories`).Scan(&n)
	return n, err
}

// =====================================================
// InventoryItem Operations
// =====================================================

const inventoryCols = `id, name, quantity, unit, min_threshold, created_at, updated_at`

func upsertInventoryItem(e execer, item *models.InventoryItem) error {
	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().Unix()
	}
	if item.UpdatedAt == 0 {
		item.UpdatedAt = item.CreatedAt
	}
	_, err := e.Exec(`
		INSERT INTO inventory_items (`+inventoryCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			quantity = excluded.quantity,
			unit = excluded.unit,
			min_threshold = excluded.min_threshold,
			updated_at = excluded.updated_at
	`, item.ID, item.Name, item.Quantity, item.Unit, item.MinThreshold,
		item.CreatedAt, item.UpdatedAt)
	return err
}

// UpsertInventoryItem inserts or updates an inventory item.
func (r *Repository) UpsertInventoryItem(item *models.InventoryItem) error {
	return upsertInventoryItem(r.db, item)
}

// UpsertInventoryItemTx inserts or updates an inventory item inside tx.
func (r *Repository) UpsertInventoryItemTx(tx *sql.Tx, item *models.InventoryItem) error {
	return upsertInventoryItem(tx, item)
}

// ListInventoryItems returns all inventory items ordered by name.
func (r *Repository) ListInventoryItems() ([]*models.InventoryItem, error) {
	rows, err := r.db.Query(`SELECT ` + inventoryCols + ` FROM inventory_items ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.InventoryItem
	for rows.Next() {
		var item models.InventoryItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Quantity, &item.Unit,
			&item.MinThreshold, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// DeleteInventoryItemsNotInTx prunes inventory items whose id is not in keep.
func (r *Repository) DeleteInventoryItemsNotInTx(tx *sql.Tx, keep []string) (int64, error) {
	return deleteNotIn(tx, "inventory_items", keep)
}

// =====================================================
// User Operations
// =====================================================

const userCols = `id, display_name, pin, role, is_active, created_at, updated_at`

func upsertUser(e execer, u *models.User) error {
	if u.CreatedAt == 0 {
		u.CreatedAt = time.Now().Unix()
	}
	if u.UpdatedAt == 0 {
		u.UpdatedAt = u.CreatedAt
	}
	_, err := e.Exec(`
		INSERT INTO users (`+userCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			pin = excluded.pin,
			role = excluded.role,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, u.ID, u.DisplayName, u.PIN, u.Role, u.IsActive, u.CreatedAt, u.UpdatedAt)
	return err
}

// UpsertUser inserts or updates a user.
func (r *Repository) UpsertUser(u *models.User) error {
	return upsertUser(r.db, u)
}

// UpsertUserTx inserts or updates a user inside tx.
func (r *Repository) UpsertUserTx(tx *sql.Tx, u *models.User) error {
	return upsertUser(tx, u)
}

// ListUsers returns all users ordered by display name.
func (r *Repository) ListUsers() ([]*models.User, error) {
	rows, err := r.db.Query(`SELECT ` + userCols + ` FROM users ORDER BY display_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.PIN, &u.Role, &u.IsActive,
			&u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// GetUserByPIN retrieves the active user with the given PIN.
func (r *Repository) GetUserByPIN(pin string) (*models.User, error) {
	var u models.User
	err := r.db.QueryRow(`SELECT `+userCols+` FROM users WHERE pin = ? AND is_active = 1`, pin).
		Scan(&u.ID, &u.DisplayName, &u.PIN, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteUsersNotInTx prunes users whose id is not in keep.
func (r *Repository) DeleteUsersNotInTx(tx *sql.Tx, keep []string) (int64, error) {
	return deleteNotIn(tx, "users", keep)
}

// CountUsers returns the number of cached users.
func (r *Repository) CountUsers() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// =====================================================
// Ticket Operations
// =====================================================

const ticketCols = `id, number, status, total_cents, opened_by, table_label, opened_at, closed_at, updated_at`

func upsertTicket(e execer, t *models.Ticket) error {
	if t.OpenedAt == 0 {
		t.OpenedAt = time.Now().Unix()
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = t.OpenedAt
	}
	if t.Status == "" {
		t.Status = models.TicketStatusOpen
	}
	_, err := e.Exec(`
		INSERT INTO tickets (`+ticketCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			status = excluded.status,
			total_cents = excluded.total_cents,
			opened_by = excluded.opened_by,
			table_label = excluded.table_label,
			closed_at = excluded.closed_at,
			updated_at = excluded.updated_at
	`, t.ID, t.Number, t.Status, t.TotalCents, t.OpenedBy, t.Table,
		t.OpenedAt, t.ClosedAt, t.UpdatedAt)
	return err
}

// UpsertTicket inserts or updates a ticket.
func (r *Repository) UpsertTicket(t *models.Ticket) error {
	return upsertTicket(r.db, t)
}

// UpsertTicketTx inserts or updates a ticket inside tx.
func (r *Repository) UpsertTicketTx(tx *sql.Tx, t *models.Ticket) error {
	return upsertTicket(tx, t)
}

func scanTicket(rows *sql.Rows) (*models.Ticket, error) {
	var t models.Ticket
	err := rows.Scan(&t.ID, &t.Number, &t.Status, &t.TotalCents, &t.OpenedBy,
		&t.Table, &t.OpenedAt, &t.ClosedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTicket retrieves a ticket by ID.
func (r *Repository) GetTicket(id string) (*models.Ticket, error) {
	var t models.Ticket
	err := r.db.QueryRow(`SELECT `+ticketCols+` FROM tickets WHERE id = ?`, id).
		Scan(&t.ID, &t.Number, &t.Status, &t.TotalCents, &t.OpenedBy,
			&t.Table, &t.OpenedAt, &t.ClosedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTickets returns tickets, optionally filtered by status, newest first.
func (r *Repository) ListTickets(status models.TicketStatus) ([]*models.Ticket, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = r.db.Query(`SELECT `+ticketCols+` FROM tickets WHERE status = ? ORDER BY opened_at DESC`, status)
	} else {
		rows, err = r.db.Query(`SELECT ` + ticketCols + ` FROM tickets ORDER BY opened_at DESC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// DeleteTicketsNotInTx prunes tickets whose id is not in keep.
func (r *Repository) DeleteTicketsNotInTx(tx *sql.Tx, keep []string) (int64, error) {
	return deleteNotIn(tx, "tickets", keep)
}

// =====================================================
// TicketLine Operations
// =====================================================

const ticketLineCols = `id, ticket_id, menu_item_id, name, quantity, unit_price_cents, notes, created_at, updated_at`

// UpsertTicketLine inserts or updates a ticket line.
func (r *Repository) UpsertTicketLine(l *models.TicketLine) error {
	if l.CreatedAt == 0 {
		l.CreatedAt = time.Now().Unix()
	}
	if l.UpdatedAt == 0 {
		l.UpdatedAt = l.CreatedAt
	}
	_, err := r.db.Exec(`
		INSERT INTO ticket_lines (`+ticketLineCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			menu_item_id = excluded.menu_item_id,
			name = excluded.name,
			quantity = excluded.quantity,
			unit_price_cents = excluded.unit_price_cents,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`, l.ID, l.TicketID, l.MenuItemID, l.Name, l.Quantity, l.UnitPriceCents,
		l.Notes, l.CreatedAt, l.UpdatedAt)
	return err
}

// ListTicketLines returns the lines of a ticket in insertion order.
func (r *Repository) ListTicketLines(ticketID string) ([]*models.TicketLine, error) {
	rows, err := r.db.Query(`SELECT `+ticketLineCols+` FROM ticket_lines WHERE ticket_id = ? ORDER BY rowid`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []*models.TicketLine
	for rows.Next() {
		var l models.TicketLine
		if err := rows.Scan(&l.ID, &l.TicketID, &l.MenuItemID, &l.Name, &l.Quantity,
			&l.UnitPriceCents, &l.Notes, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, &l)
	}
	return lines, rows.Err()
}

// DeleteTicketLine removes a single ticket line.
func (r *Repository) DeleteTicketLine(id string) error {
	res, err := r.db.Exec(`DELETE FROM ticket_lines WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("ticket line not found: %s", id)
	}
	return nil
}

// =====================================================
// Shift Operations
// =====================================================

const shiftCols = `id, user_id, status, opening_float_cents, closing_total_cents, opened_at, closed_at, updated_at`

func upsertShift(e execer, s *models.Shift) error {
	if s.OpenedAt == 0 {
		s.OpenedAt = time.Now().Unix()
	}
	if s.UpdatedAt == 0 {
		s.UpdatedAt = s.OpenedAt
	}
	if s.Status == "" {
		s.Status = models.ShiftStatusOpen
	}
	_, err := e.Exec(`
		INSERT INTO shifts (`+shiftCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			status = excluded.status,
			opening_float_cents = excluded.opening_float_cents,
			closing_total_cents = excluded.closing_total_cents,
			closed_at = excluded.closed_at,
			updated_at = excluded.updated_at
	`, s.ID, s.UserID, s.Status, s.OpeningFloatCents, s.ClosingTotalCents,
		s.OpenedAt, s.ClosedAt, s.UpdatedAt)
	return err
}

// UpsertShift inserts or updates a shift.
func (r *Repository) UpsertShift(s *models.Shift) error {
	return upsertShift(r.db, s)
}

// UpsertShiftTx inserts or updates a shift inside tx.
func (r *Repository) UpsertShiftTx(tx *sql.Tx, s *models.Shift) error {
	return upsertShift(tx, s)
}

// GetShift retrieves a shift by ID.
func (r *Repository) GetShift(id string) (*models.Shift, error) {
	var s models.Shift
	err := r.db.QueryRow(`SELECT `+shiftCols+` FROM shifts WHERE id = ?`, id).
		Scan(&s.ID, &s.UserID, &s.Status, &s.OpeningFloatCents, &s.ClosingTotalCents,
			&s.OpenedAt, &s.ClosedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListShifts returns shifts, optionally filtered by status, newest first.
func (r *Repository) ListShifts(status models.ShiftStatus) ([]*models.Shift, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = r.db.Query(`SELECT `+shiftCols+` FROM shifts WHERE status = ? ORDER BY opened_at DESC`, status)
	} else {
		rows, err = r.db.Query(`SELECT ` + shiftCols + ` FROM shifts ORDER BY opened_at DESC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shifts []*models.Shift
	for rows.Next() {
		var s models.Shift
		if err := rows.Scan(&s.ID, &s.UserID, &s.Status, &s.OpeningFloatCents,
			&s.ClosingTotalCents, &s.OpenedAt, &s.ClosedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		shifts = append(shifts, &s)
	}
	return shifts, rows.Err()
}

// DeleteShiftsNotInTx prunes shifts whose id is not in keep.
func (r *Repository) DeleteShiftsNotInTx(tx *sql.Tx, keep []string) (int64, error) {
	return deleteNotIn(tx, "shifts", keep)
}

// =====================================================
// ReportCache Operations
// =====================================================

// GetReportCache retrieves a cached report payload by key.
func (r *Repository) GetReportCache(key string) (*models.ReportCache, error) {
	var rc models.ReportCache
	var payload string
	err := r.db.QueryRow(`SELECT key, payload, cached_at FROM report_cache WHERE key = ?`, key).
		Scan(&rc.Key, &payload, &rc.CachedAt)
	if err != nil {
		return nil, err
	}
	rc.Payload = []byte(payload)
	return &rc, nil
}

// PutReportCache stores a report payload, replacing any previous entry.
func (r *Repository) PutReportCache(rc *models.ReportCache) error {
	if rc.CachedAt == 0 {
		rc.CachedAt = time.Now().Unix()
	}
	_, err := r.db.Exec(`
		INSERT INTO report_cache (key, payload, cached_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			cached_at = excluded.cached_at
	`, rc.Key, string(rc.Payload), rc.CachedAt)
	return err
}

// =====================================================
// Hydration State Operations
// =====================================================

// GetHydrationState returns the last hydration record for a tenant, or
// sql.ErrNoRows if the tenant has never been hydrated.
func (r *Repository) GetHydrationState(tenantID string) (*models.HydrationState, error) {
	var h models.HydrationState
	err := r.db.QueryRow(`SELECT tenant_id, hydrated_at FROM hydration_state WHERE tenant_id = ?`, tenantID).
		Scan(&h.TenantID, &h.HydratedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// SetHydrationState records a successful hydration for a tenant.
func (r *Repository) SetHydrationState(tenantID string, hydratedAt int64) error {
	_, err := r.db.Exec(`
		INSERT INTO hydration_state (tenant_id, hydrated_at)
		VALUES (?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET hydrated_at = excluded.hydrated_at
	`, tenantID, hydratedAt)
	return err
}

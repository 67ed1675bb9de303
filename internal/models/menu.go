// Package models provides data model definitions for the possync core.
package models

import "time"

// MenuItem represents a sellable catalog entry.
type MenuItem struct {
	ID         UUID   `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	CategoryID string `db:"category_id" json:"categoryId"`
	PriceCents int64  `db:"price_cents" json:"priceCents"`
	SKU        string `db:"sku" json:"sku,omitempty"`
	// ImageURL is resolved locally and is typically absent from the
	// remote payload; sync must not blank it on merge.
	ImageURL  string `db:"image_url" json:"imageUrl,omitempty"`
	IsActive  bool   `db:"is_active" json:"isActive"`
	SortOrder int    `db:"sort_order" json:"sortOrder"`
	CreatedAt int64  `db:"created_at" json:"createdAt"`
	UpdatedAt int64  `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for MenuItem.
func (MenuItem) TableName() string {
	return "menu_items"
}

// Touch updates the UpdatedAt timestamp.
func (m *MenuItem) Touch() {
	m.UpdatedAt = time.Now().Unix()
}

// Category represents a menu grouping.
type Category struct {
	ID        UUID   `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	SortOrder int    `db:"sort_order" json:"sortOrder"`
	CreatedAt int64  `db:"created_at" json:"createdAt"`
	UpdatedAt int64  `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for Category.
func (Category) TableName() string {
	return "categories"
}

// Touch updates the UpdatedAt timestamp.
func (c *Category) Touch() {
	c.UpdatedAt = time.Now().Unix()
}

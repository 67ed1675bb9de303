// Package models provides data model definitions for the possync core.
package models

import "time"

// InventoryItem represents a stocked ingredient or good.
type InventoryItem struct {
	ID           UUID    `db:"id" json:"id"`
	Name         string  `db:"name" json:"name"`
	Quantity     float64 `db:"quantity" json:"quantity"`
	Unit         string  `db:"unit" json:"unit"`
	MinThreshold float64 `db:"min_threshold" json:"minThreshold"`
	CreatedAt    int64   `db:"created_at" json:"createdAt"`
	UpdatedAt    int64   `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for InventoryItem.
func (InventoryItem) TableName() string {
	return "inventory_items"
}

// Touch updates the UpdatedAt timestamp.
func (i *InventoryItem) Touch() {
	i.UpdatedAt = time.Now().Unix()
}

// BelowThreshold reports whether the on-hand quantity is at or under
// the reorder threshold.
func (i *InventoryItem) BelowThreshold() bool {
	return i.Quantity <= i.MinThreshold
}

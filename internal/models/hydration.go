// Package models provides data model definitions for the possync core.
package models

import "time"

// HydrationState records the last successful full cache hydration for a
// tenant. Absence of a row means the cache has never been hydrated.
type HydrationState struct {
	TenantID   string `db:"tenant_id" json:"tenantId"`
	HydratedAt int64  `db:"hydrated_at" json:"hydratedAt"`
}

// TableName returns the table name for HydrationState.
func (HydrationState) TableName() string {
	return "hydration_state"
}

// OlderThan reports whether the hydration is older than ttl.
func (h *HydrationState) OlderThan(ttl time.Duration) bool {
	return time.Since(time.Unix(h.HydratedAt, 0)) > ttl
}

// Package models provides data model definitions for the possync core.
package models

// PagerEvent represents a staff page addressed to a PIN or a role within
// a tenant. Exactly one of TargetPin/TargetRole is expected to be set.
type PagerEvent struct {
	ID         UUID   `json:"id"`
	TenantID   string `json:"tenantId"`
	TargetPin  string `json:"targetPin,omitempty"`
	TargetRole string `json:"targetRole,omitempty"`
	Message    string `json:"message"`
	Sender     string `json:"sender,omitempty"`
	Origin     string `json:"origin,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

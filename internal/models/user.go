// Package models provides data model definitions for the possync core.
package models

import "time"

// User represents a staff member able to sign in with a PIN.
type User struct {
	ID          UUID   `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"displayName"`
	PIN         string `db:"pin" json:"pin"`
	Role        string `db:"role" json:"role"` // cashier, manager, kitchen
	IsActive    bool   `db:"is_active" json:"isActive"`
	CreatedAt   int64  `db:"created_at" json:"createdAt"`
	UpdatedAt   int64  `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// Touch updates the UpdatedAt timestamp.
func (u *User) Touch() {
	u.UpdatedAt = time.Now().Unix()
}

// Package models provides data model definitions for the possync core.
package models

import "time"

// ShiftStatus represents the lifecycle state of a register shift.
type ShiftStatus string

const (
	ShiftStatusOpen    ShiftStatus = "open"
	ShiftStatusClosed  ShiftStatus = "closed"
	ShiftStatusPending ShiftStatus = "pending"
)

// Valid reports whether the status is a known shift status.
func (s ShiftStatus) Valid() bool {
	switch s {
	case ShiftStatusOpen, ShiftStatusClosed, ShiftStatusPending:
		return true
	}
	return false
}

// Shift represents a register shift for a user.
type Shift struct {
	ID                UUID        `db:"id" json:"id"`
	UserID            string      `db:"user_id" json:"userId"`
	Status            ShiftStatus `db:"status" json:"status"`
	OpeningFloatCents int64       `db:"opening_float_cents" json:"openingFloatCents"`
	ClosingTotalCents int64       `db:"closing_total_cents" json:"closingTotalCents,omitempty"`
	OpenedAt          int64       `db:"opened_at" json:"openedAt"`
	ClosedAt          int64       `db:"closed_at" json:"closedAt,omitempty"`
	UpdatedAt         int64       `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for Shift.
func (Shift) TableName() string {
	return "shifts"
}

// Touch updates the UpdatedAt timestamp.
func (s *Shift) Touch() {
	s.UpdatedAt = time.Now().Unix()
}

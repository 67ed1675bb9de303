// Package models provides data model definitions for the possync core.
package models

import "time"

// TicketStatus represents the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
	TicketStatusVoid   TicketStatus = "void"
)

// Valid reports whether the status is a known ticket status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusClosed, TicketStatusVoid:
		return true
	}
	return false
}

// Ticket represents a sale in progress or completed.
type Ticket struct {
	ID         UUID         `db:"id" json:"id"`
	Number     int          `db:"number" json:"number"`
	Status     TicketStatus `db:"status" json:"status"`
	TotalCents int64        `db:"total_cents" json:"totalCents"`
	OpenedBy   string       `db:"opened_by" json:"openedBy"`
	Table      string       `db:"table_label" json:"table,omitempty"`
	OpenedAt   int64        `db:"opened_at" json:"openedAt"`
	ClosedAt   int64        `db:"closed_at" json:"closedAt,omitempty"`
	UpdatedAt  int64        `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for Ticket.
func (Ticket) TableName() string {
	return "tickets"
}

// Touch updates the UpdatedAt timestamp.
func (t *Ticket) Touch() {
	t.UpdatedAt = time.Now().Unix()
}

// TicketLine represents a single line on a ticket.
type TicketLine struct {
	ID             UUID   `db:"id" json:"id"`
	TicketID       UUID   `db:"ticket_id" json:"ticketId"`
	MenuItemID     string `db:"menu_item_id" json:"menuItemId"`
	Name           string `db:"name" json:"name"`
	Quantity       int    `db:"quantity" json:"quantity"`
	UnitPriceCents int64  `db:"unit_price_cents" json:"unitPriceCents"`
	Notes          string `db:"notes" json:"notes,omitempty"`
	CreatedAt      int64  `db:"created_at" json:"createdAt"`
	UpdatedAt      int64  `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for TicketLine.
func (TicketLine) TableName() string {
	return "ticket_lines"
}

// LineTotalCents returns quantity times unit price.
func (l *TicketLine) LineTotalCents() int64 {
	return int64(l.Quantity) * l.UnitPriceCents
}

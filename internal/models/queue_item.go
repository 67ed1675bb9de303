// Package models provides data model definitions for the possync core.
package models

import (
	"encoding/json"
	"time"
)

// QueueItem represents a pending mutating action awaiting remote delivery.
// Items are immutable after creation except for RetryCount.
type QueueItem struct {
	ID         UUID            `db:"id" json:"id"`
	Action     string          `db:"action" json:"action"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueuedAt"`
	RetryCount int             `db:"retry_count" json:"retryCount"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "sync_queue"
}

// EnqueuedAtTime returns EnqueuedAt as time.Time.
func (q *QueueItem) EnqueuedAtTime() time.Time {
	return time.Unix(q.EnqueuedAt, 0)
}

// Package queue provides the durable offline queue of pending mutating
// actions. Items survive restarts and are drained by the flush engine.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/tillworks/possync/internal/errors"
	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/models"
	"github.com/tillworks/possync/internal/uuid"
)

// requiredFields maps known action names to the payload keys they must
// carry. Unknown actions are accepted as-is but logged, so a new client
// action never gets stuck client-side behind a server upgrade.
var requiredFields = map[string][]string{
	"createTicket":     {"id"},
	"updateTicket":     {"id"},
	"closeTicket":      {"id"},
	"voidTicket":       {"id"},
	"upsertTicketLine": {"id", "ticketId"},
	"openShift":        {"id", "userId"},
	"closeShift":       {"id"},
	"adjustInventory":  {"id", "quantity"},
	"upsertMenuItem":   {"id", "name"},
}

// Queue is a SQLite-backed FIFO queue of pending remote actions.
// Insertion order is the storage order (rowid).
type Queue struct {
	db *sql.DB
}

// New creates a Queue over an opened database handle. A nil handle
// yields a queue whose every operation reports STORAGE_UNAVAILABLE.
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

func (q *Queue) storage() (*sql.DB, error) {
	if q == nil || q.db == nil {
		return nil, apperrors.New(apperrors.ErrStorageUnavailable, "queue storage is not available")
	}
	return q.db, nil
}

// Enqueue appends a new action to the queue and returns its assigned id.
// The optional ts overrides the enqueue timestamp (used when replaying
// actions captured earlier).
func (q *Queue) Enqueue(action string, payload json.RawMessage, ts ...time.Time) (string, error) {
	db, err := q.storage()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(action) == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "action is required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if err := validatePayload(action, payload); err != nil {
		return "", err
	}

	enqueuedAt := time.Now().Unix()
	if len(ts) > 0 && !ts[0].IsZero() {
		enqueuedAt = ts[0].Unix()
	}

	id := uuid.New()
	_, err = db.Exec(`
		INSERT INTO sync_queue (id, action, payload, enqueued_at, retry_count)
		VALUES (?, ?, ?, ?, 0)
	`, id, action, string(payload), enqueuedAt)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to enqueue action", err)
	}

	logging.Debug("enqueued action", map[string]interface{}{
		"id":     id,
		"action": action,
	})
	return id, nil
}

// validatePayload checks the minimal required fields for known actions.
func validatePayload(action string, payload json.RawMessage) error {
	fields, known := requiredFields[action]
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "payload is not a JSON object", err)
	}
	if !known {
		logging.Warn("enqueueing unknown action", map[string]interface{}{"action": action})
		return nil
	}
	for _, f := range fields {
		if _, ok := decoded[f]; !ok {
			return apperrors.New(apperrors.ErrValidation,
				fmt.Sprintf("action %s requires payload field %q", action, f))
		}
	}
	return nil
}

// Count returns the current queue depth.
func (q *Queue) Count() (int, error) {
	db, err := q.storage()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue", err)
	}
	return n, nil
}

// List returns up to limit items in storage insertion order.
func (q *Queue) List(limit int) ([]*models.QueueItem, error) {
	db, err := q.storage()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(`
		SELECT id, action, payload, enqueued_at, retry_count
		FROM sync_queue ORDER BY rowid LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		var item models.QueueItem
		var payload string
		if err := rows.Scan(&item.ID, &item.Action, &payload, &item.EnqueuedAt, &item.RetryCount); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue item", err)
		}
		item.Payload = json.RawMessage(payload)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate queue", err)
	}
	return items, nil
}

// RemoveMany deletes all items whose id is in ids. Ids no longer present
// are ignored, so repeated removal is safe.
func (q *Queue) RemoveMany(ids []string) error {
	db, err := q.storage()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin removal", err)
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id IN (`+placeholders+`)`, args...); err != nil {
		_ = tx.Rollback()
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove queue items", err)
	}
	return tx.Commit()
}

// IncrementRetry bumps the retry counter of the given items. RetryCount
// is the only field of a queue item that mutates after creation.
func (q *Queue) IncrementRetry(ids []string) error {
	db, err := q.storage()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := db.Exec(`UPDATE sync_queue SET retry_count = retry_count + 1 WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to increment retries", err)
	}
	return nil
}

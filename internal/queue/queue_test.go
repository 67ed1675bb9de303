// Package queue provides unit tests for the durable offline queue.
package queue

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/tillworks/possync/internal/db"
	apperrors "github.com/tillworks/possync/internal/errors"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	d, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if err := db.Migrate(d); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return New(d.DB)
}

// TestEnqueueAssignsID tests that enqueuing persists an item with an id.
func TestEnqueueAssignsID(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Enqueue("createTicket", json.RawMessage(`{"id":"t-1"}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == "" {
		t.Error("Expected assigned id to be non-empty")
	}

	n, err := q.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected count 1, got %d", n)
	}
}

// TestEnqueueValidation tests required-field checks for known actions.
func TestEnqueueValidation(t *testing.T) {
	q := newTestQueue(t)

	if _, err := q.Enqueue("createTicket", json.RawMessage(`{"number":5}`)); err == nil {
		t.Error("Expected error for createTicket without id")
	}

	if _, err := q.Enqueue("", json.RawMessage(`{"id":"x"}`)); err == nil {
		t.Error("Expected error for empty action")
	}

	if _, err := q.Enqueue("upsertTicketLine", json.RawMessage(`{"id":"l-1"}`)); err == nil {
		t.Error("Expected error for upsertTicketLine without ticketId")
	}

	// Unknown actions pass through so a newer client never gets stuck.
	if _, err := q.Enqueue("frobnicateWidget", json.RawMessage(`{"anything":true}`)); err != nil {
		t.Errorf("Expected unknown action to be accepted, got %v", err)
	}
}

// TestQueueUnavailableStorage tests degradation without a database.
func TestQueueUnavailableStorage(t *testing.T) {
	q := New(nil)

	_, err := q.Enqueue("createTicket", json.RawMessage(`{"id":"t-1"}`))
	if !apperrors.Is(err, apperrors.ErrStorageUnavailable) {
		t.Errorf("Expected STORAGE_UNAVAILABLE, got %v", err)
	}

	if _, err := q.Count(); !apperrors.Is(err, apperrors.ErrStorageUnavailable) {
		t.Errorf("Expected STORAGE_UNAVAILABLE from Count, got %v", err)
	}
}

// TestListInsertionOrder tests that list returns storage insertion order.
func TestListInsertionOrder(t *testing.T) {
	q := newTestQueue(t)

	actions := []string{"createTicket", "updateTicket", "closeTicket"}
	for _, a := range actions {
		if _, err := q.Enqueue(a, json.RawMessage(`{"id":"t-1"}`)); err != nil {
			t.Fatalf("Enqueue %s failed: %v", a, err)
		}
	}

	items, err := q.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}
	for i, a := range actions {
		if items[i].Action != a {
			t.Errorf("Expected action %s at position %d, got %s", a, i, items[i].Action)
		}
	}

	limited, err := q.List(2)
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 items with limit, got %d", len(limited))
	}
	if limited[0].Action != "createTicket" {
		t.Errorf("Expected oldest item first, got %s", limited[0].Action)
	}
}

// TestRemoveManyIdempotent tests removal of delivered items.
func TestRemoveManyIdempotent(t *testing.T) {
	q := newTestQueue(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := q.Enqueue("closeShift", json.RawMessage(`{"id":"s-1"}`))
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		ids = append(ids, id)
	}

	if err := q.RemoveMany([]string{ids[0], ids[2]}); err != nil {
		t.Fatalf("RemoveMany failed: %v", err)
	}

	items, err := q.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 || items[0].ID.String() != ids[1] {
		t.Errorf("Expected only middle item to remain, got %d items", len(items))
	}

	// Removing already-removed ids is a no-op.
	if err := q.RemoveMany([]string{ids[0], ids[2]}); err != nil {
		t.Errorf("Repeated RemoveMany failed: %v", err)
	}
	if err := q.RemoveMany(nil); err != nil {
		t.Errorf("Empty RemoveMany failed: %v", err)
	}

	n, _ := q.Count()
	if n != 1 {
		t.Errorf("Expected count 1, got %d", n)
	}
}

// TestIncrementRetry tests that failed deliveries bump only the retry count.
func TestIncrementRetry(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Enqueue("adjustInventory", json.RawMessage(`{"id":"i-1","quantity":4}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := q.IncrementRetry([]string{id}); err != nil {
		t.Fatalf("IncrementRetry failed: %v", err)
	}
	if err := q.IncrementRetry([]string{id}); err != nil {
		t.Fatalf("IncrementRetry failed: %v", err)
	}

	items, err := q.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if items[0].RetryCount != 2 {
		t.Errorf("Expected RetryCount 2, got %d", items[0].RetryCount)
	}
	if string(items[0].Payload) != `{"id":"i-1","quantity":4}` {
		t.Errorf("Payload changed after retry: %s", items[0].Payload)
	}
}

// TestExportCSV tests the diagnostics export round trip.
func TestExportCSV(t *testing.T) {
	q := newTestQueue(t)

	if _, err := q.Enqueue("createTicket", json.RawMessage(`{"id":"t-1","table":"5"}`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue("voidTicket", json.RawMessage(`{"id":"t-2"}`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var buf bytes.Buffer
	n, err := q.ExportCSV(&buf)
	if err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 exported rows, got %d", n)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse exported CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d records", len(records))
	}
	if records[0][0] != "id" || records[0][1] != "action" {
		t.Errorf("Unexpected header: %v", records[0])
	}
	if records[1][1] != "createTicket" || records[2][1] != "voidTicket" {
		t.Errorf("Rows out of order: %v / %v", records[1], records[2])
	}
	if records[1][2] != `{"id":"t-1","table":"5"}` {
		t.Errorf("Payload not preserved: %s", records[1][2])
	}
}

package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillworks/possync/internal/db"
	"github.com/tillworks/possync/internal/models"
)

func newTestStore(t *testing.T, reportTTL time.Duration) (*Store, *db.Repository) {
	t.Helper()

	d, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, db.Migrate(d))

	repo := db.NewRepository(d)
	return NewStore(repo, reportTTL), repo
}

// TestReportCacheTiers verifies reports survive an LRU miss by falling
// back to the table, and that the fallback warms the LRU.
func TestReportCacheTiers(t *testing.T) {
	store, repo := newTestStore(t, time.Minute)

	payload := json.RawMessage(`{"total":1200}`)
	require.NoError(t, store.PutReport("daily:2026-09-01", payload))

	// A fresh store over the same repository starts with a cold LRU.
	cold := NewStore(repo, time.Minute)
	got, ok := cold.GetReport("daily:2026-09-01")
	require.True(t, ok)
	assert.JSONEq(t, string(payload), string(got))

	// Second read is served from the warmed LRU.
	got, ok = cold.GetReport("daily:2026-09-01")
	require.True(t, ok)
	assert.JSONEq(t, string(payload), string(got))

	_, ok = cold.GetReport("missing-key")
	assert.False(t, ok)
}

// TestOptimisticWriteTouchesTimestamp verifies the store stamps ticket
// writes so merge conflicts resolve by recency.
func TestOptimisticWriteTouchesTimestamp(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)

	ticket := &models.Ticket{ID: "t-1", Number: 1}
	require.NoError(t, store.UpsertTicket(ticket))
	assert.NotZero(t, ticket.UpdatedAt)

	got, lines, err := store.GetTicket("t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusOpen, got.Status, "status defaults to open")
	assert.Empty(t, lines)
}

package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillworks/possync/internal/cache"
	"github.com/tillworks/possync/internal/db"
	"github.com/tillworks/possync/internal/flush"
	"github.com/tillworks/possync/internal/queue"
	"github.com/tillworks/possync/internal/remote"
)

func newTestScheduler(t *testing.T, cfg *Config) (*Scheduler, *queue.Queue, *atomic.Int32) {
	t.Helper()

	d, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, db.Migrate(d))

	var bulkCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action string        `json:"action"`
			Items  []remote.Item `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Action == "bulkImport" {
			bulkCalls.Add(1)
			acks := make([]string, len(req.Items))
			for i, item := range req.Items {
				acks[i] = item.ID
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"ackIds": acks})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"items": []interface{}{}})
	}))
	t.Cleanup(srv.Close)

	q := queue.New(d.DB)
	client := remote.NewClient(srv.URL, "", remote.WithHTTPClient(srv.Client()))
	engine := flush.NewEngine(q, client)
	store := cache.NewStore(db.NewRepository(d), time.Minute)
	syncer := cache.NewSynchronizer(store, client, "t1", 72*time.Hour)

	return New(engine, syncer, cfg), q, &bulkCalls
}

func TestStartStopIdempotent(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // second start is a no-op
	assert.True(t, s.Snapshot().Running)

	s.Stop()
	s.Stop() // second stop is a no-op
	assert.False(t, s.Snapshot().Running)
}

// TestOnlineTransitionTriggersFlush verifies regaining connectivity
// drains the queue without waiting for the next tick.
func TestOnlineTransitionTriggersFlush(t *testing.T) {
	s, q, bulkCalls := newTestScheduler(t, &Config{
		FlushInterval: time.Hour,
		SyncInterval:  time.Hour,
	})

	s.SetOnlineStatus(false)
	s.Start(context.Background())
	defer s.Stop()

	_, err := q.Enqueue("createTicket", json.RawMessage(`{"id":"t-1"}`))
	require.NoError(t, err)

	s.SetOnlineStatus(true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, err := q.Count(); err == nil && n == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n, "queue should drain on reconnect")
	assert.Equal(t, int32(1), bulkCalls.Load())
}

// TestOfflineSkipsFlush verifies the ticker path does nothing while
// offline.
func TestOfflineSkipsFlush(t *testing.T) {
	s, q, bulkCalls := newTestScheduler(t, &Config{
		FlushInterval: 20 * time.Millisecond,
		SyncInterval:  time.Hour,
	})

	s.SetOnlineStatus(false)
	s.Start(context.Background())
	defer s.Stop()

	_, err := q.Enqueue("createTicket", json.RawMessage(`{"id":"t-1"}`))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "offline scheduler must not flush")
	assert.Equal(t, int32(0), bulkCalls.Load())
}

package flush

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillworks/possync/internal/db"
	"github.com/tillworks/possync/internal/queue"
	"github.com/tillworks/possync/internal/remote"
)

type bulkRequest struct {
	Action string        `json:"action"`
	Items  []remote.Item `json:"items"`
}

// fakeRemote is an httptest-backed stand-in for the sync endpoint.
type fakeRemote struct {
	mu sync.Mutex

	// ackIDs is returned for bulkImport requests.
	ackIDs []string
	// failBulk makes bulkImport respond 500.
	failBulk bool
	// failActions lists per-item actions that respond 500.
	failActions map[string]bool
	// block, when set, stalls bulkImport until released.
	block chan struct{}

	bulkCalls [][]remote.Item
	itemPosts []string
}

func (f *fakeRemote) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if req.Action == "bulkImport" {
			if f.block != nil {
				<-f.block
			}
			f.mu.Lock()
			f.bulkCalls = append(f.bulkCalls, req.Items)
			failBulk, ackIDs := f.failBulk, f.ackIDs
			f.mu.Unlock()

			if failBulk {
				http.Error(w, "upstream exploded", http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"ackIds": ackIDs})
			return
		}

		f.mu.Lock()
		f.itemPosts = append(f.itemPosts, req.Action)
		fail := f.failActions[req.Action]
		f.mu.Unlock()

		if fail {
			http.Error(w, "rejected", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}
}

func newTestEngine(t *testing.T, f *fakeRemote) (*Engine, *queue.Queue) {
	t.Helper()

	d, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, db.Migrate(d))

	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	q := queue.New(d.DB)
	client := remote.NewClient(srv.URL, "", remote.WithHTTPClient(srv.Client()))
	return NewEngine(q, client), q
}

func enqueue(t *testing.T, q *queue.Queue, action, payload string) string {
	t.Helper()
	id, err := q.Enqueue(action, json.RawMessage(payload))
	require.NoError(t, err)
	return id
}

func TestFlushEmptyQueue(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeRemote{})

	result := engine.Flush(context.Background())
	assert.True(t, result.OK)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 0, result.Remaining)
}

// TestFlushSubsetAck covers the scenario where the remote acknowledges
// {A, C} out of {A, B, C}: exactly those are removed and B stays, in
// its original position.
func TestFlushSubsetAck(t *testing.T) {
	f := &fakeRemote{}
	engine, q := newTestEngine(t, f)

	idA := enqueue(t, q, "createTicket", `{"id":"t-a"}`)
	idB := enqueue(t, q, "updateTicket", `{"id":"t-b"}`)
	idC := enqueue(t, q, "closeTicket", `{"id":"t-c"}`)
	f.ackIDs = []string{idA, idC}

	result := engine.Flush(context.Background())
	require.True(t, result.OK)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Remaining)

	items, err := q.List(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, idB, items[0].ID.String())

	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestFlushIgnoresForeignAcks ensures acked ids outside the batch are
// not trusted.
func TestFlushIgnoresForeignAcks(t *testing.T) {
	f := &fakeRemote{ackIDs: []string{"never-sent-1", "never-sent-2"}}
	engine, q := newTestEngine(t, f)

	enqueue(t, q, "createTicket", `{"id":"t-a"}`)

	result := engine.Flush(context.Background())
	require.True(t, result.OK)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 1, result.Remaining)
}

// TestFlushTransportFailure verifies a failed bulk call leaves the
// queue untouched and surfaces the raw response text.
func TestFlushTransportFailure(t *testing.T) {
	f := &fakeRemote{failBulk: true}
	engine, q := newTestEngine(t, f)

	enqueue(t, q, "createTicket", `{"id":"t-a"}`)
	enqueue(t, q, "updateTicket", `{"id":"t-b"}`)

	result := engine.Flush(context.Background())
	assert.False(t, result.OK)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 2, result.Remaining)
	assert.Contains(t, result.Error, "upstream exploded")

	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.itemPosts, "transport failure must not trigger per-item fallback")
}

// TestFlushEmptyAckFallback verifies the per-item fallback: items whose
// individual POST succeeds are removed, failures stay with a bumped
// retry count.
func TestFlushEmptyAckFallback(t *testing.T) {
	f := &fakeRemote{failActions: map[string]bool{"updateTicket": true}}
	engine, q := newTestEngine(t, f)

	enqueue(t, q, "createTicket", `{"id":"t-a"}`)
	idB := enqueue(t, q, "updateTicket", `{"id":"t-b"}`)
	enqueue(t, q, "closeTicket", `{"id":"t-c"}`)

	result := engine.Flush(context.Background())
	assert.True(t, result.OK, "some items delivered means ok")
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Remaining)

	items, err := q.List(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, idB, items[0].ID.String())
	assert.Equal(t, 1, items[0].RetryCount)

	assert.Equal(t, []string{"createTicket", "updateTicket", "closeTicket"}, f.itemPosts)
}

// TestFlushAllItemsFailFallback verifies ok:false when nothing at all
// could be delivered in the fallback.
func TestFlushAllItemsFailFallback(t *testing.T) {
	f := &fakeRemote{failActions: map[string]bool{"createTicket": true}}
	engine, q := newTestEngine(t, f)

	enqueue(t, q, "createTicket", `{"id":"t-a"}`)

	result := engine.Flush(context.Background())
	assert.False(t, result.OK)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 1, result.Remaining)
}

// TestFlushReentrancyGuard verifies overlapping flushes never deliver
// the same item twice: the second call is skipped outright.
func TestFlushReentrancyGuard(t *testing.T) {
	f := &fakeRemote{block: make(chan struct{})}
	engine, q := newTestEngine(t, f)

	id := enqueue(t, q, "createTicket", `{"id":"t-a"}`)
	f.ackIDs = []string{id}

	done := make(chan Result, 1)
	go func() {
		done <- engine.Flush(context.Background())
	}()

	// Wait until the first flush is inside the bulk call.
	for !engine.inFlight.Load() {
		time.Sleep(time.Millisecond)
	}

	second := engine.Flush(context.Background())
	assert.True(t, second.OK)
	assert.Equal(t, 0, second.Sent, "overlapping flush must be skipped")

	close(f.block)
	first := <-done
	assert.True(t, first.OK)
	assert.Equal(t, 1, first.Sent)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.bulkCalls, 1, "item must be sent exactly once")
}

// Package flush drains the offline queue to the remote endpoint using a
// bulk-then-per-item delivery strategy.
package flush

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/queue"
	"github.com/tillworks/possync/internal/remote"
)

// batchSize bounds one flush to the oldest 500 items so old entries are
// never starved by newer ones.
const batchSize = 500

// Result reports the outcome of one flush attempt.
type Result struct {
	OK        bool   `json:"ok"`
	Sent      int    `json:"sent"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

// Engine drains the offline queue. Multiple triggers (timer, regained
// connectivity, manual) race to call Flush; a boolean guard serializes
// them by dropping overlapping calls rather than queueing them — the
// periodic timer retries soon enough.
type Engine struct {
	queue  *queue.Queue
	client *remote.Client

	inFlight atomic.Bool

	mu          sync.Mutex
	lastResult  *Result
	lastFlushAt time.Time
}

// NewEngine creates a flush engine over the queue and remote client.
func NewEngine(q *queue.Queue, client *remote.Client) *Engine {
	return &Engine{queue: q, client: client}
}

// Flush attempts to deliver the oldest batch of queued actions.
//
// It first tries one bulk delivery; if the remote acknowledges specific
// ids, exactly those are removed. If the bulk call succeeds transport-
// wise but acknowledges nothing, it falls back to delivering each item
// individually, removing items as they succeed. A transport failure
// leaves the queue untouched.
func (e *Engine) Flush(ctx context.Context) Result {
	if !e.inFlight.CompareAndSwap(false, true) {
		return Result{OK: true, Sent: 0, Remaining: e.depth()}
	}
	defer e.inFlight.Store(false)

	result := e.flush(ctx)

	e.mu.Lock()
	e.lastResult = &result
	e.lastFlushAt = time.Now()
	e.mu.Unlock()
	return result
}

func (e *Engine) flush(ctx context.Context) Result {
	items, err := e.queue.List(batchSize)
	if err != nil {
		return Result{OK: false, Error: err.Error(), Remaining: e.depth()}
	}
	if len(items) == 0 {
		return Result{OK: true, Sent: 0, Remaining: 0}
	}

	batch := make([]remote.Item, len(items))
	batchIDs := make(map[string]bool, len(items))
	for i, item := range items {
		batch[i] = remote.Item{
			ID:      item.ID.String(),
			Action:  item.Action,
			Payload: item.Payload,
			TS:      item.EnqueuedAt,
		}
		batchIDs[item.ID.String()] = true
	}

	ackIDs, err := e.client.BulkImport(ctx, batch)
	if err != nil {
		// Transport failure: queue untouched, raw error surfaced.
		logging.Warn("bulk flush failed", map[string]interface{}{"error": err.Error()})
		return Result{OK: false, Sent: 0, Remaining: e.depth(), Error: err.Error()}
	}

	if len(ackIDs) > 0 {
		// Only ids that were actually in this batch are deleted.
		confirmed := make([]string, 0, len(ackIDs))
		for _, id := range ackIDs {
			if batchIDs[id] {
				confirmed = append(confirmed, id)
			}
		}
		if err := e.queue.RemoveMany(confirmed); err != nil {
			return Result{OK: false, Sent: 0, Remaining: e.depth(), Error: err.Error()}
		}
		logging.Info("bulk flush acknowledged", map[string]interface{}{"sent": len(confirmed)})
		return Result{OK: true, Sent: len(confirmed), Remaining: e.depth()}
	}

	// The remote accepted the request but acknowledged nothing; it does
	// not implement bulk semantics. Deliver item by item.
	sent := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := e.client.Post(ctx, item.Action, item.Payload); err != nil {
			logging.Warn("per-item delivery failed", map[string]interface{}{
				"id":     item.ID.String(),
				"action": item.Action,
				"error":  err.Error(),
			})
			if rerr := e.queue.IncrementRetry([]string{item.ID.String()}); rerr != nil {
				logging.Error("failed to record retry", rerr, map[string]interface{}{"id": item.ID.String()})
			}
			continue
		}
		if err := e.queue.RemoveMany([]string{item.ID.String()}); err != nil {
			logging.Error("failed to remove delivered item", err, map[string]interface{}{"id": item.ID.String()})
			continue
		}
		sent++
	}

	return Result{OK: sent > 0, Sent: sent, Remaining: e.depth()}
}

// depth returns the current queue depth, swallowing secondary errors so
// the error path can still report a best-effort remaining count.
func (e *Engine) depth() int {
	n, err := e.queue.Count()
	if err != nil {
		return 0
	}
	return n
}

// Status returns the last flush result and timestamp, plus the current
// queue depth, for the status endpoint.
func (e *Engine) Status() (last *Result, at time.Time, depth int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResult, e.lastFlushAt, e.depth()
}

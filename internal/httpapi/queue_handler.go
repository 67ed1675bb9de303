package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tillworks/possync/internal/flush"
	"github.com/tillworks/possync/internal/queue"
	"github.com/tillworks/possync/internal/scheduler"
)

// QueueHandler exposes queue depth, manual flush, and the diagnostics
// export.
type QueueHandler struct {
	queue  *queue.Queue
	engine *flush.Engine
	sched  *scheduler.Scheduler
}

// NewQueueHandler creates a queue handler.
func NewQueueHandler(q *queue.Queue, e *flush.Engine, s *scheduler.Scheduler) *QueueHandler {
	return &QueueHandler{queue: q, engine: e, sched: s}
}

// Status reports the pending-action count plus the last flush outcome,
// so a client can show "N actions pending sync" without blocking.
func (h *QueueHandler) Status(c *gin.Context) {
	last, at, depth := h.engine.Status()

	resp := gin.H{
		"depth":  depth,
		"online": h.sched.Online(),
	}
	if last != nil {
		resp["lastFlush"] = last
		resp["lastFlushAt"] = at.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// Flush triggers a flush immediately. An overlapping flush is reported
// as ok with zero sent, same as the engine's guard semantics.
func (h *QueueHandler) Flush(c *gin.Context) {
	result := h.engine.Flush(c.Request.Context())
	status := http.StatusOK
	if !result.OK {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}

// Export streams the queue contents as a CSV download.
func (h *QueueHandler) Export(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="sync_queue.csv"`)
	if _, err := h.queue.ExportCSV(c.Writer); err != nil {
		// Headers may already be out; nothing useful left to send.
		c.Abort()
	}
}

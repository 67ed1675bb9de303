package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tillworks/possync/internal/cache"
)

// SyncHandler exposes manual sync triggers and the freshness report.
type SyncHandler struct {
	syncer *cache.Synchronizer
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(s *cache.Synchronizer) *SyncHandler {
	return &SyncHandler{syncer: s}
}

type syncNowBody struct {
	Collections []string `json:"collections,omitempty"`
}

// Now triggers a pull-merge immediately. A sync already in flight is
// skipped, not queued.
func (h *SyncHandler) Now(c *gin.Context) {
	var body syncNowBody
	_ = c.ShouldBindJSON(&body)

	counts := h.syncer.SyncFromRemote(c.Request.Context(), cache.Options{Collections: body.Collections})
	if counts == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "skipped": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "collections": counts})
}

// Status reports the hydration gate and the last sync outcome.
func (h *SyncHandler) Status(c *gin.Context) {
	stale, reason := h.syncer.NeedsHydration()
	lastAt, counts := h.syncer.Status()

	resp := gin.H{"stale": stale}
	if reason != "" {
		resp["staleReason"] = reason
	}
	if !lastAt.IsZero() {
		resp["lastSyncAt"] = lastAt.Format(time.RFC3339)
		resp["collections"] = counts
	}
	c.JSON(http.StatusOK, resp)
}

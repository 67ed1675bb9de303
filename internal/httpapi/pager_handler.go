package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/tillworks/possync/internal/errors"
	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/models"
	"github.com/tillworks/possync/internal/pager"
)

// PagerHandler exposes the pager fan-out over HTTP and WebSocket.
type PagerHandler struct {
	svc           *pager.Service
	defaultTenant string
}

// NewPagerHandler creates a pager handler with a fallback tenant for
// clients that omit tenantId.
func NewPagerHandler(svc *pager.Service, defaultTenant string) *PagerHandler {
	return &PagerHandler{svc: svc, defaultTenant: defaultTenant}
}

// Post creates a page and routes it.
func (h *PagerHandler) Post(c *gin.Context) {
	var evt models.PagerEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json body"})
		return
	}
	if evt.TenantID == "" {
		evt.TenantID = h.defaultTenant
	}

	posted, err := h.svc.Post(&evt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"ok": true,
		"event": gin.H{
			"id":        posted.ID,
			"tenantId":  posted.TenantID,
			"createdAt": posted.CreatedAt,
		},
	})
}

type ackBody struct {
	ID                        string `json:"id"`
	TenantID                  string `json:"tenantId"`
	AcknowledgedByMemberID    string `json:"acknowledgedByMemberId,omitempty"`
	AcknowledgedByDisplayName string `json:"acknowledgedByDisplayName,omitempty"`
}

// Ack acknowledges a page anywhere in the tenant. Re-acking a page that
// was already acknowledged succeeds; an id never seen is a 404.
func (h *PagerHandler) Ack(c *gin.Context) {
	var body ackBody
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "id is required"})
		return
	}
	if body.TenantID == "" {
		body.TenantID = h.defaultTenant
	}

	if !h.svc.Ack(body.TenantID, body.ID) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "event not found"})
		return
	}
	if body.AcknowledgedByMemberID != "" {
		logging.Debug("page acknowledged", map[string]interface{}{
			"id": body.ID,
			"by": body.AcknowledgedByMemberID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Latest returns the most relevant unacknowledged page for the calling
// identity, or {ok:true} with no event when nothing is pending.
func (h *PagerHandler) Latest(c *gin.Context) {
	identity, err := h.identityFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	evt := h.svc.Latest(identity)
	if evt == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "event": evt})
}

// ServeWS upgrades the request and attaches the connection under the
// identity carried in the query string.
func (h *PagerHandler) ServeWS(c *gin.Context) {
	identity, err := h.identityFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if err := h.svc.Serve(c.Writer, c.Request, identity); err != nil {
		logging.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
	}
}

func (h *PagerHandler) identityFromQuery(c *gin.Context) (pager.Identity, error) {
	identity := pager.Identity{
		TenantID: strings.TrimSpace(c.Query("tenantId")),
		PIN:      strings.TrimSpace(c.Query("pin")),
		Role:     strings.TrimSpace(c.Query("role")),
	}
	if identity.TenantID == "" {
		identity.TenantID = h.defaultTenant
	}
	if identity.TenantID == "" {
		return identity, apperrors.New(apperrors.ErrValidation, "tenantId is required")
	}
	if identity.PIN == "" && identity.Role == "" {
		return identity, apperrors.New(apperrors.ErrValidation, "pin or role is required")
	}
	return identity, nil
}

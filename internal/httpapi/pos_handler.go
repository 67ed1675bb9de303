package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tillworks/possync/internal/cache"
	apperrors "github.com/tillworks/possync/internal/errors"
	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/models"
	"github.com/tillworks/possync/internal/queue"
	"github.com/tillworks/possync/internal/uuid"
)

// POSHandler is the optimistic write path: every mutating request is
// applied to the local cache first, then appended to the offline queue
// for eventual delivery. A queue failure never rolls back the local
// write; the action is simply not propagated and the client sees
// queued:false.
type POSHandler struct {
	store *cache.Store
	queue *queue.Queue
}

// NewPOSHandler creates a POS handler.
func NewPOSHandler(store *cache.Store, q *queue.Queue) *POSHandler {
	return &POSHandler{store: store, queue: q}
}

// enqueue appends an action for eventual delivery and reports whether
// it was captured.
func (h *POSHandler) enqueue(action string, payload interface{}) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		logging.Error("failed to encode queue payload", err, map[string]interface{}{"action": action})
		return false
	}
	if _, err := h.queue.Enqueue(action, raw); err != nil {
		logging.Warn("failed to enqueue action", map[string]interface{}{
			"action": action,
			"error":  err.Error(),
		})
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	switch {
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not found"})
	case errors.As(err, &appErr):
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrValidation, apperrors.ErrInvalid:
			status = http.StatusBadRequest
		case apperrors.ErrNotFound:
			status = http.StatusNotFound
		case apperrors.ErrStorageUnavailable:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ok": false, "error": appErr.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
	}
}

// =====================================================
// Read endpoints
// =====================================================

// Menu returns the cached menu and its categories.
func (h *POSHandler) Menu(c *gin.Context) {
	items, err := h.store.ListMenuItems()
	if err != nil {
		writeError(c, err)
		return
	}
	categories, err := h.store.ListCategories()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "categories": categories})
}

// Inventory returns the cached inventory.
func (h *POSHandler) Inventory(c *gin.Context) {
	items, err := h.store.ListInventoryItems()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Users returns the cached staff roster.
func (h *POSHandler) Users(c *gin.Context) {
	users, err := h.store.ListUsers()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// ListTickets returns tickets, optionally filtered by ?status=.
func (h *POSHandler) ListTickets(c *gin.Context) {
	status := models.TicketStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unknown ticket status"})
		return
	}
	tickets, err := h.store.ListTickets(status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

// GetTicket returns one ticket with its lines.
func (h *POSHandler) GetTicket(c *gin.Context) {
	ticket, lines, err := h.store.GetTicket(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket, "lines": lines})
}

// ListShifts returns shifts, optionally filtered by ?status=.
func (h *POSHandler) ListShifts(c *gin.Context) {
	status := models.ShiftStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unknown shift status"})
		return
	}
	shifts, err := h.store.ListShifts(status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shifts": shifts})
}

// =====================================================
// Ticket write path
// =====================================================

// SaveTicket creates or updates a ticket. A missing id means create.
func (h *POSHandler) SaveTicket(c *gin.Context) {
	var t models.Ticket
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json body"})
		return
	}
	if t.Status != "" && !t.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unknown ticket status"})
		return
	}

	action := "updateTicket"
	status := http.StatusOK
	if t.ID == "" {
		t.ID = models.UUID(uuid.New())
		action = "createTicket"
		status = http.StatusCreated
	}

	if err := h.store.UpsertTicket(&t); err != nil {
		writeError(c, err)
		return
	}
	queued := h.enqueue(action, &t)
	c.JSON(status, gin.H{"ok": true, "ticket": t, "queued": queued})
}

// CloseTicket closes a ticket and recomputes its total from its lines.
func (h *POSHandler) CloseTicket(c *gin.Context) {
	h.transitionTicket(c, models.TicketStatusClosed, "closeTicket")
}

// VoidTicket voids a ticket.
func (h *POSHandler) VoidTicket(c *gin.Context) {
	h.transitionTicket(c, models.TicketStatusVoid, "voidTicket")
}

func (h *POSHandler) transitionTicket(c *gin.Context, status models.TicketStatus, action string) {
	ticket, lines, err := h.store.GetTicket(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if ticket.Status != models.TicketStatusOpen {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "ticket is not open"})
		return
	}

	var total int64
	for _, l := range lines {
		total += l.LineTotalCents()
	}
	ticket.Status = status
	ticket.TotalCents = total
	ticket.Touch()
	ticket.ClosedAt = ticket.UpdatedAt

	if err := h.store.UpsertTicket(ticket); err != nil {
		writeError(c, err)
		return
	}
	queued := h.enqueue(action, map[string]interface{}{
		"id":         ticket.ID,
		"totalCents": ticket.TotalCents,
		"closedAt":   ticket.ClosedAt,
	})
	c.JSON(http.StatusOK, gin.H{"ok": true, "ticket": ticket, "queued": queued})
}

// SaveTicketLine adds or updates a line on an open ticket and keeps the
// ticket total in step.
func (h *POSHandler) SaveTicketLine(c *gin.Context) {
	ticket, _, err := h.store.GetTicket(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if ticket.Status != models.TicketStatusOpen {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "ticket is not open"})
		return
	}

	var line models.TicketLine
	if err := c.ShouldBindJSON(&line); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json body"})
		return
	}
	if line.Quantity <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "quantity must be positive"})
		return
	}
	if line.ID == "" {
		line.ID = models.UUID(uuid.New())
	}
	line.TicketID = ticket.ID

	if err := h.store.UpsertTicketLine(&line); err != nil {
		writeError(c, err)
		return
	}

	// Re-derive the running total so reads stay consistent offline.
	_, lines, err := h.store.GetTicket(ticket.ID.String())
	if err == nil {
		var total int64
		for _, l := range lines {
			total += l.LineTotalCents()
		}
		ticket.TotalCents = total
		if err := h.store.UpsertTicket(ticket); err != nil {
			logging.Warn("failed to update ticket total", map[string]interface{}{
				"ticket": ticket.ID.String(),
				"error":  err.Error(),
			})
		}
	}

	queued := h.enqueue("upsertTicketLine", &line)
	c.JSON(http.StatusOK, gin.H{"ok": true, "line": line, "ticket": ticket, "queued": queued})
}

// =====================================================
// Shift write path
// =====================================================

// OpenShift opens a register shift for a user.
func (h *POSHandler) OpenShift(c *gin.Context) {
	var s models.Shift
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json body"})
		return
	}
	if s.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "userId is required"})
		return
	}
	if s.ID == "" {
		s.ID = models.UUID(uuid.New())
	}
	s.Status = models.ShiftStatusOpen

	if err := h.store.UpsertShift(&s); err != nil {
		writeError(c, err)
		return
	}
	queued := h.enqueue("openShift", &s)
	c.JSON(http.StatusCreated, gin.H{"ok": true, "shift": s, "queued": queued})
}

type closeShiftBody struct {
	ClosingTotalCents int64 `json:"closingTotalCents"`
}

// CloseShift closes an open shift with its counted drawer total.
func (h *POSHandler) CloseShift(c *gin.Context) {
	shift, err := h.store.Repo().GetShift(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if shift.Status != models.ShiftStatusOpen {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "shift is not open"})
		return
	}

	var body closeShiftBody
	_ = c.ShouldBindJSON(&body)

	shift.Status = models.ShiftStatusClosed
	shift.ClosingTotalCents = body.ClosingTotalCents
	shift.Touch()
	shift.ClosedAt = shift.UpdatedAt

	if err := h.store.UpsertShift(shift); err != nil {
		writeError(c, err)
		return
	}
	queued := h.enqueue("closeShift", map[string]interface{}{
		"id":                shift.ID,
		"closingTotalCents": shift.ClosingTotalCents,
		"closedAt":          shift.ClosedAt,
	})
	c.JSON(http.StatusOK, gin.H{"ok": true, "shift": shift, "queued": queued})
}

// =====================================================
// Menu and inventory write path
// =====================================================

// UpsertMenuItem applies a manager's menu edit locally and queues it.
func (h *POSHandler) UpsertMenuItem(c *gin.Context) {
	var item models.MenuItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json body"})
		return
	}
	if item.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "name is required"})
		return
	}
	if item.ID == "" {
		item.ID = models.UUID(uuid.New())
	}
	item.Touch()

	if err := h.store.UpsertMenuItem(&item); err != nil {
		writeError(c, err)
		return
	}
	queued := h.enqueue("upsertMenuItem", &item)
	c.JSON(http.StatusOK, gin.H{"ok": true, "item": item, "queued": queued})
}

type adjustInventoryBody struct {
	Delta float64 `json:"delta"`
}

// AdjustInventory applies a stock delta locally and queues the new
// absolute quantity.
func (h *POSHandler) AdjustInventory(c *gin.Context) {
	var body adjustInventoryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json body"})
		return
	}

	items, err := h.store.ListInventoryItems()
	if err != nil {
		writeError(c, err)
		return
	}
	id := c.Param("id")
	var item *models.InventoryItem
	for _, it := range items {
		if it.ID.String() == id {
			item = it
			break
		}
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not found"})
		return
	}

	item.Quantity += body.Delta
	item.Touch()
	if err := h.store.UpsertInventoryItem(item); err != nil {
		writeError(c, err)
		return
	}
	queued := h.enqueue("adjustInventory", map[string]interface{}{
		"id":       item.ID,
		"quantity": item.Quantity,
	})
	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"item":           item,
		"belowThreshold": item.BelowThreshold(),
		"queued":         queued,
	})
}

// =====================================================
// Report cache
// =====================================================

// GetReport serves a cached report payload.
func (h *POSHandler) GetReport(c *gin.Context) {
	payload, ok := h.store.GetReport(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "report": payload})
}

// PutReport stores a computed report payload for offline viewing.
func (h *POSHandler) PutReport(c *gin.Context) {
	var payload json.RawMessage
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json body"})
		return
	}
	if err := h.store.PutReport(c.Param("key"), payload); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

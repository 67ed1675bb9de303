// Package cache provides the local-first cache store mirroring the
// remote source of truth, and the synchronizer that reconciles it.
package cache

import (
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tillworks/possync/internal/db"
	"github.com/tillworks/possync/internal/models"
)

// reportLRUSize bounds the in-memory report cache in front of the
// report_cache table.
const reportLRUSize = 64

// Store is the local cache of remote truth plus optimistic local
// writes. It owns all cache rows; the synchronizer is the only writer
// during pull-merge, UI-driven handlers are the only writer during
// optimistic updates.
type Store struct {
	repo    *db.Repository
	reports *expirable.LRU[string, json.RawMessage]
}

// NewStore creates a Store over the repository. reportTTL bounds how
// long report payloads are served from memory before falling back to
// the table.
func NewStore(repo *db.Repository, reportTTL time.Duration) *Store {
	return &Store{
		repo:    repo,
		reports: expirable.NewLRU[string, json.RawMessage](reportLRUSize, nil, reportTTL),
	}
}

// Repo exposes the underlying repository for transaction-scoped work.
func (s *Store) Repo() *db.Repository {
	return s.repo
}

// =====================================================
// Entity listings and optimistic upserts
// =====================================================

// ListMenuItems returns the cached menu.
func (s *Store) ListMenuItems() ([]*models.MenuItem, error) {
	return s.repo.ListMenuItems()
}

// UpsertMenuItem applies an optimistic local menu write.
func (s *Store) UpsertMenuItem(item *models.MenuItem) error {
	return s.repo.UpsertMenuItem(item)
}

// ListCategories returns the cached categories.
func (s *Store) ListCategories() ([]*models.Category, error) {
	return s.repo.ListCategories()
}

// ListInventoryItems returns the cached inventory.
func (s *Store) ListInventoryItems() ([]*models.InventoryItem, error) {
	return s.repo.ListInventoryItems()
}

// UpsertInventoryItem applies an optimistic local inventory write.
func (s *Store) UpsertInventoryItem(item *models.InventoryItem) error {
	return s.repo.UpsertInventoryItem(item)
}

// ListTickets returns cached tickets, optionally filtered by status.
func (s *Store) ListTickets(status models.TicketStatus) ([]*models.Ticket, error) {
	return s.repo.ListTickets(status)
}

// GetTicket returns one ticket with its lines.
func (s *Store) GetTicket(id string) (*models.Ticket, []*models.TicketLine, error) {
	t, err := s.repo.GetTicket(id)
	if err != nil {
		return nil, nil, err
	}
	lines, err := s.repo.ListTicketLines(id)
	if err != nil {
		return nil, nil, err
	}
	return t, lines, nil
}

// UpsertTicket applies an optimistic local ticket write.
func (s *Store) UpsertTicket(t *models.Ticket) error {
	t.Touch()
	return s.repo.UpsertTicket(t)
}

// UpsertTicketLine applies an optimistic local ticket-line write.
func (s *Store) UpsertTicketLine(l *models.TicketLine) error {
	l.UpdatedAt = time.Now().Unix()
	return s.repo.UpsertTicketLine(l)
}

// ListShifts returns cached shifts, optionally filtered by status.
func (s *Store) ListShifts(status models.ShiftStatus) ([]*models.Shift, error) {
	return s.repo.ListShifts(status)
}

// UpsertShift applies an optimistic local shift write.
func (s *Store) UpsertShift(sh *models.Shift) error {
	sh.Touch()
	return s.repo.UpsertShift(sh)
}

// ListUsers returns the cached staff roster.
func (s *Store) ListUsers() ([]*models.User, error) {
	return s.repo.ListUsers()
}

// =====================================================
// Report cache
// =====================================================

// GetReport returns a cached report payload, serving from the LRU when
// warm and falling back to the table.
func (s *Store) GetReport(key string) (json.RawMessage, bool) {
	if payload, ok := s.reports.Get(key); ok {
		return payload, true
	}
	rc, err := s.repo.GetReportCache(key)
	if err != nil {
		return nil, false
	}
	s.reports.Add(key, rc.Payload)
	return rc.Payload, true
}

// PutReport stores a report payload in both tiers.
func (s *Store) PutReport(key string, payload json.RawMessage) error {
	if err := s.repo.PutReportCache(&models.ReportCache{Key: key, Payload: payload}); err != nil {
		return err
	}
	s.reports.Add(key, payload)
	return nil
}

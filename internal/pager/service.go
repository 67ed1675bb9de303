// Package pager implements the in-process staff paging fan-out: posted
// pages are routed by PIN or role within a tenant, buffered while the
// target is away, and replayed when a device connects.
package pager

import (
	"sync"
	"time"

	apperrors "github.com/tillworks/possync/internal/errors"
	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/models"
	"github.com/tillworks/possync/internal/uuid"
)

// maxBacklog bounds the per-key buffer of undelivered pages; the oldest
// page is evicted when an eleventh arrives.
const maxBacklog = 10

// ackedCap bounds the remembered ack ids used for idempotent re-acks.
const ackedCap = 1024

// Identity is the addressable identity of a connected device.
type Identity struct {
	TenantID string
	PIN      string
	Role     string
}

// Keys returns the routing keys this identity listens on.
func (id Identity) Keys() []string {
	var keys []string
	if id.PIN != "" {
		keys = append(keys, routingKey(id.TenantID, "pin", id.PIN))
	}
	if id.Role != "" {
		keys = append(keys, routingKey(id.TenantID, "role", id.Role))
	}
	return keys
}

func routingKey(tenant, kind, value string) string {
	return tenant + "::" + kind + "::" + value
}

// Receiver is a live delivery target. Deliver returns false when the
// receiver can no longer accept events.
type Receiver interface {
	Deliver(evt *models.PagerEvent) bool
}

// Service routes pager events to connected receivers and keeps a
// bounded per-key backlog of unacknowledged pages. All state is
// process-local: pages do not survive a restart and do not cross
// instances.
type Service struct {
	mu         sync.RWMutex
	conns      map[string]map[Receiver]bool
	identities map[Receiver]Identity
	backlog    map[string][]*models.PagerEvent
	acked      map[string]bool
	ackedOrder []string
}

// NewService creates an empty pager service.
func NewService() *Service {
	return &Service{
		conns:      make(map[string]map[Receiver]bool),
		identities: make(map[Receiver]Identity),
		backlog:    make(map[string][]*models.PagerEvent),
		acked:      make(map[string]bool),
	}
}

// Post validates and routes a page. The event is buffered under each
// applicable routing key until acknowledged, and delivered once to
// every receiver currently on any of those keys.
func (s *Service) Post(evt *models.PagerEvent) (*models.PagerEvent, error) {
	if evt.TenantID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "tenantId is required")
	}
	if evt.Message == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "message is required")
	}
	if evt.TargetPin == "" && evt.TargetRole == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "targetPin or targetRole is required")
	}
	if evt.ID == "" {
		evt.ID = models.UUID(uuid.New())
	}
	if evt.CreatedAt == 0 {
		evt.CreatedAt = time.Now().Unix()
	}

	keys := s.keysOf(evt)

	s.mu.Lock()
	defer s.mu.Unlock()

	delivered := make(map[Receiver]bool)
	for _, key := range keys {
		s.backlog[key] = append(s.backlog[key], evt)
		if len(s.backlog[key]) > maxBacklog {
			dropped := s.backlog[key][0]
			s.backlog[key] = s.backlog[key][1:]
			logging.Warn("pager backlog full, oldest page dropped", map[string]interface{}{
				"key":     key,
				"dropped": dropped.ID.String(),
			})
		}

		for r := range s.conns[key] {
			if delivered[r] {
				continue
			}
			delivered[r] = true
			if !r.Deliver(evt) {
				s.removeLocked(r)
			}
		}
	}
	return evt, nil
}

// Ack acknowledges a page by id anywhere in the tenant. Repeat acks of
// a known id succeed; unknown ids report false.
func (s *Service) Ack(tenantID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	prefix := tenantID + "::"
	for key, events := range s.backlog {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if s.removeFromBacklogLocked(key, events, id) {
			found = true
		}
	}
	if found {
		s.rememberAckLocked(id)
		return true
	}
	return s.acked[id]
}

// AckFrom acknowledges a page by id on the acking identity's own keys
// only; a page addressed to someone else stays buffered.
func (s *Service) AckFrom(identity Identity, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, key := range identity.Keys() {
		if s.removeFromBacklogLocked(key, s.backlog[key], id) {
			found = true
		}
	}
	if found {
		s.rememberAckLocked(id)
		return true
	}
	return s.acked[id]
}

// Latest returns the most relevant unacknowledged page for an identity:
// the oldest PIN-addressed page first, then the oldest role-addressed
// one. Nil when nothing is pending.
func (s *Service) Latest(identity Identity) *models.PagerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range identity.Keys() {
		if events := s.backlog[key]; len(events) > 0 {
			return events[0]
		}
	}
	return nil
}

// Register attaches a receiver under its identity's routing keys and
// replays any buffered pages oldest first.
func (s *Service) Register(identity Identity, r Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities[r] = identity
	for _, key := range identity.Keys() {
		if s.conns[key] == nil {
			s.conns[key] = make(map[Receiver]bool)
		}
		s.conns[key][r] = true

		for _, evt := range s.backlog[key] {
			if !r.Deliver(evt) {
				s.removeLocked(r)
				return
			}
		}
	}
	logging.Debug("pager receiver registered", map[string]interface{}{
		"tenant": identity.TenantID,
		"pin":    identity.PIN,
		"role":   identity.Role,
	})
}

// Unregister detaches a receiver from every routing key it was on.
func (s *Service) Unregister(r Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(r)
}

// Pending returns the number of buffered pages for an identity.
func (s *Service) Pending(identity Identity) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, key := range identity.Keys() {
		n += len(s.backlog[key])
	}
	return n
}

func (s *Service) keysOf(evt *models.PagerEvent) []string {
	var keys []string
	if evt.TargetPin != "" {
		keys = append(keys, routingKey(evt.TenantID, "pin", evt.TargetPin))
	}
	if evt.TargetRole != "" {
		keys = append(keys, routingKey(evt.TenantID, "role", evt.TargetRole))
	}
	return keys
}

func (s *Service) removeLocked(r Receiver) {
	identity, ok := s.identities[r]
	if !ok {
		return
	}
	delete(s.identities, r)
	for _, key := range identity.Keys() {
		if set := s.conns[key]; set != nil {
			delete(set, r)
			if len(set) == 0 {
				delete(s.conns, key)
			}
		}
	}
}

func (s *Service) removeFromBacklogLocked(key string, events []*models.PagerEvent, id string) bool {
	for i, evt := range events {
		if evt.ID.String() == id {
			s.backlog[key] = append(events[:i:i], events[i+1:]...)
			if len(s.backlog[key]) == 0 {
				delete(s.backlog, key)
			}
			return true
		}
	}
	return false
}

func (s *Service) rememberAckLocked(id string) {
	if s.acked[id] {
		return
	}
	s.acked[id] = true
	s.ackedOrder = append(s.ackedOrder, id)
	if len(s.ackedOrder) > ackedCap {
		delete(s.acked, s.ackedOrder[0])
		s.ackedOrder = s.ackedOrder[1:]
	}
}

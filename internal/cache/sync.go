// Package cache provides the local-first cache store mirroring the
// remote source of truth, and the synchronizer that reconciles it.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/tillworks/possync/internal/errors"
	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/models"
	"github.com/tillworks/possync/internal/remote"
)

// mergeLimit bounds how many row merges are decoded concurrently.
const mergeLimit = 8

// Counts reports the outcome of syncing one collection.
type Counts struct {
	Collection string `json:"collection"`
	Upserted   int    `json:"upserted"`
	Pruned     int    `json:"pruned"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// Options selects which collections a sync run covers. Empty means all.
type Options struct {
	Collections []string
}

// Synchronizer pulls authoritative state from the remote endpoint and
// reconciles it into the local cache store.
type Synchronizer struct {
	store    *Store
	client   *remote.Client
	tenantID string
	ttl      time.Duration

	inFlight atomic.Bool

	mu         sync.Mutex
	lastSyncAt time.Time
	lastCounts []Counts
}

// NewSynchronizer creates a synchronizer for one tenant's cache.
func NewSynchronizer(store *Store, client *remote.Client, tenantID string, hydrationTTL time.Duration) *Synchronizer {
	return &Synchronizer{
		store:    store,
		client:   client,
		tenantID: tenantID,
		ttl:      hydrationTTL,
	}
}

// SyncFromRemote pulls each selected collection and reconciles it.
// Failures are contained per collection: a network or parse error marks
// that collection's Counts and the cache keeps serving last-known-good
// rows. Overlapping calls are skipped, not queued.
func (s *Synchronizer) SyncFromRemote(ctx context.Context, opts Options) []Counts {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer s.inFlight.Store(false)

	selected := opts.Collections
	if len(selected) == 0 {
		selected = []string{"menu", "categories", "inventory", "users", "tickets", "shifts"}
	}

	var counts []Counts
	for _, name := range selected {
		if ctx.Err() != nil {
			break
		}
		var c Counts
		switch name {
		case "menu":
			c = syncCollection(ctx, s, "menu", "listMenu",
				s.store.ListMenuItems,
				func(m *models.MenuItem) string { return m.ID.String() },
				func(m *models.MenuItem, id string) { m.ID = models.UUID(id) },
				s.store.repo.UpsertMenuItemTx,
				s.store.repo.DeleteMenuItemsNotInTx)
		case "categories":
			c = syncCollection(ctx, s, "categories", "listCategories",
				s.store.ListCategories,
				func(m *models.Category) string { return m.ID.String() },
				func(m *models.Category, id string) { m.ID = models.UUID(id) },
				s.store.repo.UpsertCategoryTx,
				s.store.repo.DeleteCategoriesNotInTx)
		case "inventory":
			c = syncCollection(ctx, s, "inventory", "listInventory",
				s.store.ListInventoryItems,
				func(m *models.InventoryItem) string { return m.ID.String() },
				func(m *models.InventoryItem, id string) { m.ID = models.UUID(id) },
				s.store.repo.UpsertInventoryItemTx,
				s.store.repo.DeleteInventoryItemsNotInTx)
		case "users":
			c = syncCollection(ctx, s, "users", "listUsers",
				s.store.ListUsers,
				func(m *models.User) string { return m.ID.String() },
				func(m *models.User, id string) { m.ID = models.UUID(id) },
				s.store.repo.UpsertUserTx,
				s.store.repo.DeleteUsersNotInTx)
		case "tickets":
			c = syncCollection(ctx, s, "tickets", "listTickets",
				func() ([]*models.Ticket, error) { return s.store.ListTickets("") },
				func(m *models.Ticket) string { return m.ID.String() },
				func(m *models.Ticket, id string) { m.ID = models.UUID(id) },
				s.store.repo.UpsertTicketTx,
				s.store.repo.DeleteTicketsNotInTx)
		case "shifts":
			c = syncCollection(ctx, s, "shifts", "listShifts",
				func() ([]*models.Shift, error) { return s.store.ListShifts("") },
				func(m *models.Shift) string { return m.ID.String() },
				func(m *models.Shift, id string) { m.ID = models.UUID(id) },
				s.store.repo.UpsertShiftTx,
				s.store.repo.DeleteShiftsNotInTx)
		default:
			c = Counts{Collection: name, Error: "unknown collection"}
		}
		counts = append(counts, c)
	}

	s.mu.Lock()
	s.lastSyncAt = time.Now()
	s.lastCounts = counts
	s.mu.Unlock()
	return counts
}

// syncCollection reconciles one collection: fetch authoritative rows,
// merge them field-by-field over cached rows, then prune and upsert in
// a single transaction. Individual row failures are tolerated.
func syncCollection[T any](
	ctx context.Context,
	s *Synchronizer,
	name, action string,
	listLocal func() ([]*T, error),
	idOf func(*T) string,
	setID func(*T, string),
	upsertTx func(tx *sql.Tx, row *T) error,
	pruneTx func(tx *sql.Tx, keep []string) (int64, error),
) Counts {
	counts := Counts{Collection: name}

	rows, err := s.client.FetchCollection(ctx, action)
	if err != nil {
		logging.Error("collection fetch failed", err, map[string]interface{}{"collection": name})
		counts.Error = err.Error()
		return counts
	}

	local, err := listLocal()
	if err != nil {
		counts.Error = err.Error()
		return counts
	}
	localByID := make(map[string]*T, len(local))
	for _, row := range local {
		localByID[idOf(row)] = row
	}

	// Merge phase: decode rows concurrently, tolerating bad ones.
	// Remote values win; fields absent from the payload keep their
	// previously cached values.
	merged := make([]*T, len(rows))
	keep := make([]string, 0, len(rows))
	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mergeLimit)
	for i, row := range rows {
		id := stringField(row, "id")
		if id == "" {
			failed++
			continue
		}
		keep = append(keep, id)

		i, row, id := i, row, id
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			m, err := mergeRow(localByID[id], row)
			if err != nil {
				logging.Warn("row merge failed", map[string]interface{}{
					"collection": name,
					"id":         id,
					"error":      err.Error(),
				})
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			setID(m, id)
			merged[i] = m
			return nil
		})
	}
	_ = g.Wait()

	// Apply phase: one transaction per collection so a failed sync never
	// leaves the store half-cleared.
	err = s.store.repo.WithTx(func(tx *sql.Tx) error {
		pruned, err := pruneTx(tx, keep)
		if err != nil {
			return err
		}
		counts.Pruned = int(pruned)
		for _, m := range merged {
			if m == nil {
				continue
			}
			if err := upsertTx(tx, m); err != nil {
				logging.Warn("row upsert failed", map[string]interface{}{
					"collection": name,
					"error":      err.Error(),
				})
				counts.Failed++
				continue
			}
			counts.Upserted++
		}
		return nil
	})
	if err != nil {
		counts.Error = err.Error()
		counts.Upserted = 0
		counts.Pruned = 0
	}
	counts.Failed += failed
	return counts
}

// mergeRow overlays a remote payload onto the cached row. The cached
// row is serialized to a field map, remote fields overwrite, and the
// result is decoded back into the model.
func mergeRow[T any](existing *T, payload map[string]json.RawMessage) (*T, error) {
	base := map[string]json.RawMessage{}
	if existing != nil {
		raw, err := json.Marshal(existing)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			return nil, err
		}
	}
	for k, v := range payload {
		base[k] = v
	}
	raw, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// stringField extracts a string field from a loose row map.
func stringField(row map[string]json.RawMessage, key string) string {
	raw, ok := row[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// =====================================================
// Hydration
// =====================================================

// NeedsHydration reports whether the tenant's cache is stale: never
// hydrated, hydrated longer than the TTL ago, or any core collection
// (menu, categories, users) empty.
func (s *Synchronizer) NeedsHydration() (bool, string) {
	state, err := s.store.repo.GetHydrationState(s.tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return true, "never hydrated"
	}
	if err != nil {
		return true, "hydration state unreadable"
	}
	if state.OlderThan(s.ttl) {
		return true, "hydration ttl exceeded"
	}
	for _, check := range []struct {
		name  string
		count func() (int, error)
	}{
		{"menu", s.store.repo.CountMenuItems},
		{"categories", s.store.repo.CountCategories},
		{"users", s.store.repo.CountUsers},
	} {
		n, err := check.count()
		if err != nil || n == 0 {
			return true, "empty core collection: " + check.name
		}
	}
	return false, ""
}

// Hydrate re-pulls all collections if the freshness gate says the cache
// is stale. The hydration timestamp is only advanced when every core
// collection synced without error.
func (s *Synchronizer) Hydrate(ctx context.Context) error {
	needed, reason := s.NeedsHydration()
	if !needed {
		return nil
	}
	logging.Info("hydrating cache", map[string]interface{}{
		"tenant": s.tenantID,
		"reason": reason,
	})

	counts := s.SyncFromRemote(ctx, Options{})
	for _, c := range counts {
		if c.Error == "" {
			continue
		}
		switch c.Collection {
		case "menu", "categories", "users":
			return apperrors.New(apperrors.ErrHydrationFailed,
				"core collection failed to hydrate: "+c.Collection)
		}
	}

	if err := s.store.repo.SetHydrationState(s.tenantID, time.Now().Unix()); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to record hydration", err)
	}
	return nil
}

// Status returns the last sync time and per-collection counts.
func (s *Synchronizer) Status() (time.Time, []Counts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncAt, s.lastCounts
}

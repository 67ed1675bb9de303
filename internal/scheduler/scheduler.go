// Package scheduler runs the background loops that keep the terminal
// converged: periodic queue flushes and periodic pull-merge syncs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/tillworks/possync/internal/cache"
	"github.com/tillworks/possync/internal/flush"
	"github.com/tillworks/possync/internal/logging"
)

// Scheduler owns the flush and sync tickers. Both loops are paused
// while the terminal is offline; a transition back to online triggers
// an immediate flush so queued actions drain without waiting a full
// tick.
type Scheduler struct {
	engine *flush.Engine
	syncer *cache.Synchronizer

	flushInterval time.Duration
	syncInterval  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu           sync.RWMutex
	isRunning    bool
	isOnline     bool
	lastFlushAt  time.Time
	lastSyncAt   time.Time
	flushTrigger chan struct{}
}

// Config holds scheduler intervals.
type Config struct {
	FlushInterval time.Duration // queue drain cadence (default: 1 minute)
	SyncInterval  time.Duration // pull-merge cadence (default: 15 minutes)
}

// DefaultConfig returns the default scheduler intervals.
func DefaultConfig() *Config {
	return &Config{
		FlushInterval: 1 * time.Minute,
		SyncInterval:  15 * time.Minute,
	}
}

// New creates a scheduler over the flush engine and synchronizer.
func New(engine *flush.Engine, syncer *cache.Synchronizer, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		engine:        engine,
		syncer:        syncer,
		flushInterval: config.FlushInterval,
		syncInterval:  config.SyncInterval,
		stopCh:        make(chan struct{}),
		flushTrigger:  make(chan struct{}, 1),
		isOnline:      true,
	}
}

// Start launches the background loops. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.flushLoop(ctx)
	go s.syncLoop(ctx)

	logging.Info("background scheduler started", map[string]interface{}{
		"flush_interval": s.flushInterval.String(),
		"sync_interval":  s.syncInterval.String(),
	})
}

// Stop shuts the loops down and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("background scheduler stopped", nil)
}

// SetOnlineStatus records connectivity. Coming back online fires an
// immediate flush so the backlog drains right away.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	logging.Info("online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})
	if isOnline {
		select {
		case s.flushTrigger <- struct{}{}:
		default:
		}
	}
}

// Online reports the current connectivity flag.
func (s *Scheduler) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// Status is a point-in-time snapshot for the status endpoints.
type Status struct {
	Running     bool      `json:"running"`
	Online      bool      `json:"online"`
	LastFlushAt time.Time `json:"lastFlushAt"`
	LastSyncAt  time.Time `json:"lastSyncAt"`
}

// Snapshot returns the scheduler's current status.
func (s *Scheduler) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Running:     s.isRunning,
		Online:      s.isOnline,
		LastFlushAt: s.lastFlushAt,
		LastSyncAt:  s.lastSyncAt,
	}
}

func (s *Scheduler) flushLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runFlush(ctx)
		case <-s.flushTrigger:
			s.runFlush(ctx)
		}
	}
}

func (s *Scheduler) runFlush(ctx context.Context) {
	if !s.Online() {
		return
	}
	result := s.engine.Flush(ctx)
	if !result.OK {
		logging.Warn("scheduled flush failed", map[string]interface{}{"error": result.Error})
	}

	s.mu.Lock()
	s.lastFlushAt = time.Now()
	s.mu.Unlock()
}

func (s *Scheduler) syncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.Online() {
				continue
			}
			s.syncer.SyncFromRemote(ctx, cache.Options{})

			s.mu.Lock()
			s.lastSyncAt = time.Now()
			s.mu.Unlock()
		}
	}
}

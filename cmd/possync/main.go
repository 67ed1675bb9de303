// possync is the local-first sync core for a POS terminal: it owns the
// durable offline queue, the local cache, the flush and sync loops, and
// the pager fan-out, and exposes them over HTTP/WebSocket.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tillworks/possync/internal/cache"
	"github.com/tillworks/possync/internal/config"
	"github.com/tillworks/possync/internal/db"
	"github.com/tillworks/possync/internal/flush"
	"github.com/tillworks/possync/internal/httpapi"
	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/pager"
	"github.com/tillworks/possync/internal/queue"
	"github.com/tillworks/possync/internal/remote"
	"github.com/tillworks/possync/internal/scheduler"
)

func main() {
	cfg := config.Load()
	logging.Init(os.Stdout, cfg.LogLevel)

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logging.Error("failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		logging.Error("failed to run migrations", err, nil)
		os.Exit(1)
	}

	repo := db.NewRepository(database)
	// Report payloads go stale after a sync cycle anyway.
	store := cache.NewStore(repo, cfg.SyncInterval)
	q := queue.New(database.DB)
	client := remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteToken)
	engine := flush.NewEngine(q, client)
	syncer := cache.NewSynchronizer(store, client, cfg.TenantID, cfg.HydrationTTL)
	pagerSvc := pager.NewService()

	sched := scheduler.New(engine, syncer, &scheduler.Config{
		FlushInterval: cfg.FlushInterval,
		SyncInterval:  cfg.SyncInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if client.Configured() {
		sched.Start(ctx)
		// Initial hydration runs in the background; the terminal serves
		// last-known-good cache until it completes.
		go func() {
			if err := syncer.Hydrate(ctx); err != nil {
				logging.Error("initial hydration failed", err, nil)
			}
		}()
	} else {
		logging.Warn("no remote endpoint configured, running offline-only", nil)
		sched.SetOnlineStatus(false)
		sched.Start(ctx)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Cfg:    cfg,
		Store:  store,
		Queue:  q,
		Engine: engine,
		Syncer: syncer,
		Sched:  sched,
		Pager:  pagerSvc,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info("possync listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("http server failed", err, nil)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	logging.Info("shutting down", nil)
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown failed", err, nil)
	}
}

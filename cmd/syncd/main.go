package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pastor-macsagun/drouple-sync/api/routes"
	"github.com/pastor-macsagun/drouple-sync/internal/announcements"
	"github.com/pastor-macsagun/drouple-sync/internal/attendance"
	"github.com/pastor-macsagun/drouple-sync/internal/coordinator"
	"github.com/pastor-macsagun/drouple-sync/internal/events"
	"github.com/pastor-macsagun/drouple-sync/internal/members"
	"github.com/pastor-macsagun/drouple-sync/internal/outbox"
	"github.com/pastor-macsagun/drouple-sync/internal/repo"
	"github.com/pastor-macsagun/drouple-sync/internal/syncstate"
	"github.com/pastor-macsagun/drouple-sync/pkg/config"
	"github.com/pastor-macsagun/drouple-sync/pkg/db"
	"github.com/pastor-macsagun/drouple-sync/pkg/enums"
	"github.com/pastor-macsagun/drouple-sync/pkg/logger"
	"github.com/pastor-macsagun/drouple-sync/pkg/metrics"
	"github.com/pastor-macsagun/drouple-sync/pkg/remote"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "syncd"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "syncd",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := db.New(cfg.Store, logg)
	if err := store.Init(ctx); err != nil {
		logg.Error(ctx, "failed to bootstrap local store", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logg.Error(context.Background(), "error closing local store", err)
		}
	}()

	remoteClient, err := remote.NewClient(
		cfg.Remote.BaseURL,
		remote.StaticToken(cfg.Remote.Token),
		remote.WithTimeout(cfg.Remote.Timeout),
	)
	if err != nil {
		logg.Error(ctx, "failed to create remote client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	syncMetrics := metrics.NewSyncMetrics(registry)

	outboxSvc, err := outbox.NewService(outbox.ServiceParams{
		Repo:    outbox.NewRepository(store.DB()),
		Store:   store,
		Remote:  remoteClient,
		Logger:  logg,
		Metrics: syncMetrics,
		Config: outbox.Config{
			BatchSize:   cfg.Outbox.BatchSize,
			MaxAttempts: cfg.Outbox.MaxAttempts,
			BaseBackoff: cfg.Outbox.BaseBackoff,
		},
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox service", err)
		os.Exit(1)
	}

	if err := outboxSvc.ReconcileInFlight(ctx); err != nil {
		logg.Error(ctx, "failed to reconcile in-flight outbox entries", err)
		os.Exit(1)
	}

	scope := repo.Scope{TenantID: cfg.Sync.TenantID, ChurchID: cfg.Sync.ChurchID}
	syncStates := syncstate.NewRepository(store.DB())

	membersSvc, err := members.NewService(members.ServiceParams{
		Repo:      members.NewRepository(store.DB(), scope),
		SyncState: syncStates,
		Outbox:    outboxSvc,
		Remote:    remoteClient,
		Store:     store,
		Logger:    logg,
		Scope:     scope,
	})
	if err != nil {
		logg.Error(ctx, "failed to create members service", err)
		os.Exit(1)
	}

	eventsSvc, err := events.NewService(events.ServiceParams{
		Repo:      events.NewRepository(store.DB(), scope),
		SyncState: syncStates,
		Outbox:    outboxSvc,
		Remote:    remoteClient,
		Store:     store,
		Logger:    logg,
		Scope:     scope,
	})
	if err != nil {
		logg.Error(ctx, "failed to create events service", err)
		os.Exit(1)
	}

	attendanceSvc, err := attendance.NewService(attendance.ServiceParams{
		Repo:      attendance.NewRepository(store.DB(), scope),
		SyncState: syncStates,
		Outbox:    outboxSvc,
		Remote:    remoteClient,
		Store:     store,
		Logger:    logg,
		Scope:     scope,
	})
	if err != nil {
		logg.Error(ctx, "failed to create attendance service", err)
		os.Exit(1)
	}

	announcementsSvc, err := announcements.NewService(announcements.ServiceParams{
		Repo:      announcements.NewRepository(store.DB(), scope),
		SyncState: syncStates,
		Outbox:    outboxSvc,
		Remote:    remoteClient,
		Store:     store,
		Logger:    logg,
		Scope:     scope,
	})
	if err != nil {
		logg.Error(ctx, "failed to create announcements service", err)
		os.Exit(1)
	}

	outboxSvc.RegisterApplier(enums.EntityMembers, membersSvc)
	outboxSvc.RegisterApplier(enums.EntityEvents, eventsSvc)
	outboxSvc.RegisterApplier(enums.EntityAttendance, attendanceSvc)
	outboxSvc.RegisterApplier(enums.EntityAnnouncements, announcementsSvc)

	coord, err := coordinator.NewService(coordinator.ServiceParams{
		Outbox:    outboxSvc,
		SyncState: syncStates,
		Refreshers: []coordinator.Refresher{
			{Name: "members", Refresh: func(ctx context.Context) error {
				return membersSvc.Refresh(ctx, members.ListFilter{})
			}},
			{Name: "events", Refresh: func(ctx context.Context) error {
				return eventsSvc.Refresh(ctx, events.ListFilter{})
			}},
			{Name: "attendance", Refresh: func(ctx context.Context) error {
				return attendanceSvc.Refresh(ctx, attendance.ListFilter{})
			}},
			{Name: "announcements", Refresh: func(ctx context.Context) error {
				return announcementsSvc.Refresh(ctx, announcements.ListFilter{})
			}},
		},
		Logger:  logg,
		Metrics: syncMetrics,
		Config: coordinator.Config{
			Interval:      cfg.Sync.Interval,
			RetentionDays: cfg.Outbox.RetentionDays,
			StartPaused:   cfg.Sync.StartPaused,
			AssumeOnline:  cfg.Sync.AssumeOnline,
		},
	})
	if err != nil {
		logg.Error(ctx, "failed to create sync coordinator", err)
		os.Exit(1)
	}

	go outboxSvc.Start(ctx)
	go coord.Run(ctx)
	coord.ForceSync()

	addr := ":" + cfg.Status.Port
	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(logg, store, coord, outboxSvc, registry),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	startCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(startCtx, "starting sync daemon")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(startCtx, "status listener stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(startCtx, "sync daemon stopped")
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/entity"
	"github.com/placette/zticket/internal/ledger"
	"github.com/placette/zticket/internal/remote"
	"github.com/placette/zticket/internal/syncengine"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := ledger.Open(cfg.Ledger.Path, logger)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close ledger", "error", cerr)
		}
	}()

	if err := store.HealthCheck(ctx, 3*time.Second); err != nil {
		logger.Error("ledger health check failed", "error", err)
		os.Exit(1)
	}
	logger.Info("ledger health OK")

	tickets := ledger.NewTicketRepository(store, logger)
	photos := ledger.NewPhotoRepository(store, logger)
	queue := ledger.NewQueueRepository(store, logger)
	views := ledger.NewViews(store, tickets, queue, logger)
	defer views.Close()

	client := remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Timeout: cfg.Remote.Timeout,
		Token: func(context.Context) (string, error) {
			return cfg.Remote.Token, nil
		},
	}, logger)
	reconciler := remote.NewReconciler(client, photos, logger)

	state := syncengine.NewState()
	state.Listen(syncengine.Callbacks{
		CycleFinished: func(sum syncengine.Summary) {
			logger.Info("sync summary",
				"completed", sum.Completed,
				"failed", sum.Failed,
				"remaining", sum.Remaining,
				"pending_badge", views.PendingSyncCount())
		},
		AuthRequired: func() {
			logger.Warn("session invalid, re-authentication required")
		},
		ItemFailed: func(item entity.QueueItem, message string) {
			logger.Warn("sync item needs manual retry",
				"queue_id", item.ID,
				"entity_type", item.EntityType,
				"entity_id", item.EntityID,
				"error", message)
		},
	})

	engine := syncengine.New(store, queue, tickets, reconciler, state, logger, syncengine.Options{
		Interval:  cfg.Sync.Interval,
		BatchSize: cfg.Sync.BatchSize,
		FanOut:    cfg.Sync.FanOut,
		Authenticated: func() bool {
			return cfg.Remote.Token != ""
		},
	})

	engine.Run(ctx)
	logger.Info("shutting down")
}

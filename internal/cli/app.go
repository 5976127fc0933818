package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/placette/zticket/internal/capture"
	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/export"
	"github.com/placette/zticket/internal/ledger"
	"github.com/placette/zticket/internal/lifecycle"
	"github.com/placette/zticket/internal/ocr"
	"github.com/placette/zticket/internal/remote"
	"github.com/placette/zticket/internal/syncengine"
)

// App wires the ledger, services and sync engine for one CLI invocation.
type App struct {
	Cfg    *common.Config
	Logger *slog.Logger
	Store  *ledger.Store

	Tickets ledger.TicketRepository
	Photos  ledger.PhotoRepository
	Markets ledger.MarketRepository
	Queue   ledger.QueueRepository
	Views   *ledger.Views

	Lifecycle *lifecycle.Service
	MarketSvc *lifecycle.MarketService
	Capture   *capture.Service
	Export    *export.Service
	State     *syncengine.State
	Engine    *syncengine.Engine
}

// OpenApp loads configuration and opens the ledger. Callers must Close.
func OpenApp(verbose bool) (*App, error) {
	_ = godotenv.Load()

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	store, err := ledger.Open(cfg.Ledger.Path, logger)
	if err != nil {
		return nil, err
	}

	a := &App{Cfg: cfg, Logger: logger, Store: store}
	a.Tickets = ledger.NewTicketRepository(store, logger)
	a.Photos = ledger.NewPhotoRepository(store, logger)
	a.Markets = ledger.NewMarketRepository(store, logger)
	a.Queue = ledger.NewQueueRepository(store, logger)
	a.Views = ledger.NewViews(store, a.Tickets, a.Queue, logger)

	a.Lifecycle = lifecycle.NewService(store, a.Tickets, a.Queue, logger)
	a.MarketSvc = lifecycle.NewMarketService(store, a.Markets, a.Queue, logger)
	a.Export = export.NewService(a.Tickets, a.Markets, logger)

	var extractor capture.Extractor
	if cfg.OCR.BaseURL != "" {
		extractor = ocr.NewClient(ocr.Config{BaseURL: cfg.OCR.BaseURL, Timeout: cfg.OCR.Timeout}, logger)
	}
	a.Capture = capture.NewService(store, a.Tickets, a.Photos, a.Queue, extractor, logger)

	client := remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Timeout: cfg.Remote.Timeout,
		Token: func(context.Context) (string, error) {
			return cfg.Remote.Token, nil
		},
	}, logger)
	reconciler := remote.NewReconciler(client, a.Photos, logger)
	a.State = syncengine.NewState()
	a.Engine = syncengine.New(store, a.Queue, a.Tickets, reconciler, a.State, logger, syncengine.Options{
		Interval:  cfg.Sync.Interval,
		BatchSize: cfg.Sync.BatchSize,
		FanOut:    cfg.Sync.FanOut,
		Authenticated: func() bool {
			return cfg.Remote.Token != ""
		},
	})
	return a, nil
}

// Close releases the view subscription and the ledger.
func (a *App) Close() {
	a.Views.Close()
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("failed to close ledger", "error", err)
	}
}

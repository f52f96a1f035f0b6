package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/rewarder/internal/api"
	"github.com/vietddude/rewarder/internal/core/config"
	"github.com/vietddude/rewarder/internal/core/domain"
	redisclient "github.com/vietddude/rewarder/internal/infra/redis"
	"github.com/vietddude/rewarder/internal/infra/storage/postgres"
	"github.com/vietddude/rewarder/internal/jobs"
	"github.com/vietddude/rewarder/internal/ledger"
	"github.com/vietddude/rewarder/internal/ledger/reconcile"
	"github.com/vietddude/rewarder/internal/metrics"
	"github.com/vietddude/rewarder/internal/points"
)

// App is the main application struct that manages the indexer lifecycle.
type App struct {
	cfg         *config.AppConfig
	db          *postgres.DB
	redisClient *redisclient.Client
	worker      *jobs.Worker
	scheduler   *points.Scheduler
	reconciler  *reconcile.Reconciler
	apiServer   *api.Server
	log         *slog.Logger
}

// NewApp creates an App instance with all dependencies initialized.
func NewApp(cfg *config.AppConfig, migrationsDir string) (*App, error) {
	log := slog.Default()

	// 1. Storage
	db, err := postgres.NewDB(context.Background(), cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if migrationsDir != "" {
		if err := db.Migrate(migrationsDir); err != nil {
			return nil, err
		}
	}

	userRepo := postgres.NewUserRepo(db)
	assetRepo := postgres.NewAssetRepo(db)
	headRepo := postgres.NewHeadRepo(db)
	eventRepo := postgres.NewEventRepo(db)
	pointsRepo := postgres.NewPointsRepo(db)
	reconcileRepo := postgres.NewReconcileRepo(db)

	// 2. Job transport
	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	// 3. Core components
	scheduler := points.NewScheduler(redisClient, redisClient, points.Config{
		Delay:        cfg.Points.RefreshDelay,
		PollInterval: cfg.Points.PollInterval,
	}, log)

	engine := ledger.NewEngine(db, userRepo, assetRepo, scheduler, ledger.Config{
		NetworkVersion:     cfg.Ledger.NetworkVersion,
		TransactionTimeout: cfg.Ledger.TransactionTimeout,
		Rules:              domain.DefaultRules().WithMinDeposit(cfg.Ledger.MinDepositOre),
	}, log)

	dispatcher := ledger.NewDispatcher(redisClient, log)

	reconciler := reconcile.NewReconciler(reconcileRepo, engine, reconcile.Config{
		BeforeSequence: cfg.Reconcile.BeforeSequence,
		MaxRows:        cfg.Reconcile.MaxRows,
		Queues:         cfg.Reconcile.Queues,
	}, log)

	aggregator := points.NewAggregator(userRepo, eventRepo, pointsRepo, log)

	// 4. Worker
	worker := jobs.NewWorker(redisClient, cfg.Jobs.MaxAttempts, log)
	worker.Register(jobs.TypeUpsertLedger, func(ctx context.Context, job jobs.Job) error {
		var payload jobs.UpsertLedgerPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("malformed upsert payload: %w", err)
		}
		_, err := engine.Upsert(ctx, payload.Operation)
		return err
	})
	worker.Register(jobs.TypeRefreshUserPoints, func(ctx context.Context, job jobs.Job) error {
		var payload jobs.RefreshUserPointsPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("malformed refresh payload: %w", err)
		}
		return aggregator.Refresh(ctx, payload.UserID, payload.EventType)
	})
	worker.Register(jobs.TypeRefreshLedger, func(ctx context.Context, job jobs.Job) error {
		result, err := reconciler.Sweep(ctx)
		if err != nil {
			return err
		}
		log.Info("reconciler sweep finished",
			"found", result.Found, "repaired", result.Repaired)
		return nil
	})

	// 5. API
	apiServer := api.NewServer(headRepo, reconciler, dispatcher, db, cfg.Server.Port, log)

	return &App{
		cfg:         cfg,
		db:          db,
		redisClient: redisClient,
		worker:      worker,
		scheduler:   scheduler,
		reconciler:  reconciler,
		apiServer:   apiServer,
		log:         log,
	}, nil
}

// Start launches the worker, scheduler, periodic sweep and HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.worker.Start(ctx)
	go a.scheduler.Run(ctx)

	if interval := a.cfg.Reconcile.SweepInterval; interval > 0 {
		go a.sweepLoop(ctx, interval)
	}
	go a.queueDepthLoop(ctx)

	go func() {
		a.log.Info("API server listening", "port", a.cfg.Server.Port)
		if err := a.apiServer.Start(); err != nil && ctx.Err() == nil {
			a.log.Error("API server stopped", "error", err)
		}
	}()

	return nil
}

func (a *App) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := a.reconciler.Sweep(ctx)
			if err != nil {
				a.log.Error("reconciler sweep failed", "error", err)
				continue
			}
			if result.Found > 0 {
				a.log.Info("reconciler sweep finished",
					"found", result.Found, "repaired", result.Repaired)
			}
		}
	}
}

func (a *App) queueDepthLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range jobs.Types() {
				depth, err := a.redisClient.QueueDepth(ctx, t)
				if err != nil {
					continue
				}
				metrics.JobQueueDepth.WithLabelValues(string(t)).Set(float64(depth))
			}
		}
	}
}

// Stop gracefully shuts down the application.
func (a *App) Stop(ctx context.Context) error {
	if err := a.apiServer.Stop(ctx); err != nil {
		a.log.Error("failed to stop API server", "error", err)
	}
	a.worker.Wait()
	if err := a.redisClient.Close(); err != nil {
		a.log.Error("failed to close redis", "error", err)
	}
	return a.db.Close()
}

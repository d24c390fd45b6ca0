package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	adaptermiddleware "admin-dashboard/internal/adapters/http/middleware"
	adapterlogger "admin-dashboard/internal/adapters/logger"
	adaptermetrics "admin-dashboard/internal/adapters/metrics"
	"admin-dashboard/internal/application"
	"admin-dashboard/internal/config"
	"admin-dashboard/internal/infrastructure/backend"
	"admin-dashboard/internal/infrastructure/storage"
	httpiface "admin-dashboard/internal/interfaces/http"
	"admin-dashboard/internal/platform/lambda"
	"admin-dashboard/internal/platform/scheduler"
	"admin-dashboard/internal/platform/stores"
	"admin-dashboard/internal/ports"

	"github.com/aws/aws-xray-sdk-go/xray"
)

const clientKeyPrefix = "client:"

func main() {
	logger := adapterlogger.New(os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load("")
	if err != nil {
		logger.Error(context.Background(), "configuration error", "error", err)
		os.Exit(1)
	}
	logger = adapterlogger.New(cfg.LogLevel)
	if cfg.Tracing.Enabled {
		xray.Configure(xray.Config{LogLevel: "error"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := adaptermetrics.New()
	client, err := backend.New(backend.Config{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
		Tracing: cfg.Tracing.Enabled,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Error(ctx, "failed to initialize backend client", "error", err)
		os.Exit(1)
	}

	persistent, closeStore, err := stores.Open(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "failed to open session store", "store", cfg.StoreKind, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn(context.Background(), "closing session store failed", "error", err)
		}
	}()
	volatile := storage.NewMemory()

	sched := scheduler.New(logger)
	if err := sched.AddPrune(cfg.Cache.PruneSchedule, volatile, clientKeyPrefix, cfg.Cache.PruneRetention); err != nil {
		logger.Error(ctx, "invalid prune schedule", "schedule", cfg.Cache.PruneSchedule, "error", err)
		os.Exit(1)
	}
	if mem, ok := persistent.(*storage.Memory); ok {
		_ = sched.AddPrune(cfg.Cache.PruneSchedule, mem, clientKeyPrefix, cfg.Cache.EntryTTL)
	}

	registry := application.NewRegistry(ctx, client, func(clientID string) (ports.KVStore, ports.KVStore) {
		prefix := storage.ClientPrefix(clientID)
		return storage.NewNamespace(persistent, prefix), storage.NewNamespace(volatile, prefix)
	}, logger, metrics, application.Settings{
		CompaniesTTL:   cfg.Cache.CompaniesTTL,
		PanelTTL:       cfg.Cache.PanelTTL,
		RefreshTimeout: cfg.Cache.RefreshTimeout,
		RequestTimeout: cfg.RequestTimeout,
	})
	defer registry.Close()
	if err := sched.AddEviction(cfg.Cache.PruneSchedule, registry, cfg.Server.WorkspaceIdle); err != nil {
		logger.Error(ctx, "invalid eviction schedule", "schedule", cfg.Cache.PruneSchedule, "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop(context.Background())

	mw := httpiface.Middleware{
		Tracing:       adaptermiddleware.Tracing(cfg.Tracing.Enabled, cfg.Tracing.SegmentName),
		RequestLogger: adaptermiddleware.RequestLogger(logger),
		Metrics:       metrics.Middleware(),
		Workspace: adaptermiddleware.ClientWorkspace(registry, adaptermiddleware.CookieConfig{
			Secure: cfg.Server.SecureCookies,
			MaxAge: cfg.Server.CookieMaxAge,
		}),
		LoginLimit: adaptermiddleware.RateLimit(cfg.Auth.LoginPerMinute, cfg.Auth.LoginBurst),
	}
	e := httpiface.NewMainRouter(httpiface.Handlers{
		Session:        httpiface.NewSessionHandler(logger),
		Analytics:      httpiface.NewAnalyticsHandler(),
		Views:          httpiface.NewViewsHandler(),
		Admin:          httpiface.NewAdminHandler(logger),
		MetricsHandler: metrics.Handler(),
	}, mw)

	if config.Lambda() {
		logger.Info(ctx, "starting lambda handler")
		lambda.Start(e)
		return
	}

	go func() {
		logger.Info(ctx, "starting http server", "port", cfg.Server.Port, "backend", cfg.Backend.URL, "store", cfg.StoreKind)
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", "error", err)
			stop()
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "graceful shutdown failed", "error", err)
	}
	logger.Info(shutdownCtx, "server stopped")
}

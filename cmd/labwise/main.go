package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/labwise/internal/app"
	"github.com/joseph-ayodele/labwise/internal/async"
	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/otel"
	"github.com/joseph-ayodele/labwise/internal/quota"
	"github.com/joseph-ayodele/labwise/internal/repository"
	"github.com/joseph-ayodele/labwise/internal/server"
	"github.com/joseph-ayodele/labwise/internal/storage"
)

const serviceName = "labwise"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, serviceName, cfg.Server.Version, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pl, err := app.NewPipeline(ctx, cfg, reg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer pl.Close()

	db, err := app.OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer repository.Close(db, logger)

	deps := server.Deps{
		Analyzer:        pl.Processor,
		DB:              db,
		ModelConfigured: pl.ModelConfigured,
		Registry:        reg,
	}

	var sweep func(context.Context, time.Time)
	if cfg.Quota.Enabled {
		qcfg := quota.Config{
			Window:        cfg.Quota.Window,
			MaxRequests:   cfg.Quota.MaxRequests,
			BlockDuration: cfg.Quota.BlockDuration,
		}
		if cfg.Quota.Backend == "sql" {
			store := repository.NewQuotaRepository(db, logger)
			deps.Limiter = quota.NewLimiter(qcfg, store, logger)
			sweep = func(ctx context.Context, now time.Time) {
				if n, err := store.Sweep(ctx, now); err != nil {
					logger.Warn("quota.sweep.failed", "error", err)
				} else if n > 0 {
					logger.Debug("quota.sweep", "removed", n)
				}
			}
		} else {
			store := quota.NewMemoryStore()
			deps.Limiter = quota.NewLimiter(qcfg, store, logger)
			sweep = func(_ context.Context, now time.Time) {
				if n := store.Sweep(now); n > 0 {
					logger.Debug("quota.sweep", "removed", n)
				}
			}
		}
		logger.Info("quota enabled", "backend", cfg.Quota.Backend, "max_requests", cfg.Quota.MaxRequests, "window", cfg.Quota.Window)
	}

	if cfg.Storage.Enabled {
		st, err := storage.NewMinIO(ctx, cfg.Storage, logger)
		if err != nil {
			logger.Error("failed to init object storage", "error", err)
			os.Exit(1)
		}
		deps.Storage = st
	}

	var queue *async.ProcessorQueue
	if db != nil {
		deps.Analyses = repository.NewAnalysisRepository(db, logger)
		queue = async.NewProcessorQueue(pl.Processor, deps.Analyses, logger,
			async.WithWorkers(cfg.Queue.Workers),
			async.WithQueueSize(cfg.Queue.Size),
			async.WithProcessTimeout(cfg.Queue.JobTimeout),
		)
		deps.Queue = queue
	}

	httpApp, err := server.New(server.Config{
		BodyLimit: cfg.Server.BodyLimit,
		Version:   cfg.Server.Version,
	}, deps, logger)
	if err != nil {
		logger.Error("failed to build http server", "error", err)
		os.Exit(1)
	}

	// gRPC health for orchestrators that probe over grpc
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("grpc health serving", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc server error", "error", err)
			stop()
		}
	}()

	go func() {
		logger.Info("http serving", "addr", cfg.Server.HTTPAddr, "version", cfg.Server.Version)
		if err := httpApp.Listen(cfg.Server.HTTPAddr); err != nil {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	if sweep != nil {
		go runSweeper(ctx, cfg.Quota.Window, sweep)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpApp.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	if queue != nil {
		queue.Shutdown(shutdownCtx)
	}
	grpcServer.GracefulStop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown error", "error", err)
	}
	logger.Info("stopped")
}

// runSweeper drops expired quota records once per window.
func runSweeper(ctx context.Context, every time.Duration, sweep func(context.Context, time.Time)) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			sweep(ctx, now)
		}
	}
}

func logLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return l
}

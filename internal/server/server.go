// Package server is the HTTP surface of the analysis service.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/labwise/internal/async"
	"github.com/joseph-ayodele/labwise/internal/document"
	"github.com/joseph-ayodele/labwise/internal/export"
	"github.com/joseph-ayodele/labwise/internal/pipeline"
	"github.com/joseph-ayodele/labwise/internal/quota"
	"github.com/joseph-ayodele/labwise/internal/repository"
	"github.com/joseph-ayodele/labwise/internal/storage"
)

type Analyzer interface {
	Analyze(ctx context.Context, doc document.UploadedDocument) (*pipeline.Outcome, error)
}

type Config struct {
	BodyLimit     int
	Version       string
	PresignExpiry time.Duration // default 15m
}

// Deps are the collaborators of the server. Only Analyzer is required;
// nil optional deps switch their routes off or report them as disabled.
type Deps struct {
	Analyzer        Analyzer
	Limiter         *quota.Limiter
	Analyses        repository.AnalysisRepository
	Queue           async.Queue
	Storage         storage.Storage
	Exporter        *export.Service
	DB              *repository.DB
	ModelConfigured bool
	Registry        *prometheus.Registry
}

type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// New builds the Fiber app with middleware and routes attached.
func New(cfg Config, deps Deps, logger *slog.Logger) (*fiber.App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.Exporter == nil {
		deps.Exporter = export.NewService(deps.Analyses, logger)
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger}

	app := fiber.New(fiber.Config{
		AppName:               "labwise",
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          ErrorHandler(),
		DisableStartupMessage: true,
		Immutable:             true,
	})

	prom, err := NewPrometheusMiddleware(deps.Registry)
	if err != nil {
		return nil, err
	}
	app.Use(recover.New())
	app.Use(RequestID())
	app.Use(otelfiber.Middleware(otelfiber.WithNext(func(c *fiber.Ctx) bool {
		return c.Path() == "/metrics" || c.Path() == "/healthz"
	})))
	app.Use(Logger(logger))
	app.Use(prom.Handler())

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	api := app.Group("/api")
	api.Get("/health", s.health)
	api.Get("/quota", s.quotaStatus)
	api.Post("/analyze", s.analyze)
	api.Post("/analyses", s.analyzeAsync)
	api.Get("/analyses", s.listAnalyses)
	api.Get("/analyses/:id", s.getAnalysis)
	api.Get("/analyses/:id/export", s.exportAnalysis)
	api.Get("/analyses/:id/source", s.sourceURL)

	return app, nil
}

// Package app assembles the analysis pipeline and its infrastructure from
// a loaded configuration. Both the daemon and the batch CLI build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/document"
	"github.com/joseph-ayodele/labwise/internal/extract"
	"github.com/joseph-ayodele/labwise/internal/llm"
	"github.com/joseph-ayodele/labwise/internal/llm/openai"
	"github.com/joseph-ayodele/labwise/internal/llm/vertex"
	"github.com/joseph-ayodele/labwise/internal/normalize"
	"github.com/joseph-ayodele/labwise/internal/pipeline"
	"github.com/joseph-ayodele/labwise/internal/prompt"
	"github.com/joseph-ayodele/labwise/internal/repository"
	"github.com/joseph-ayodele/labwise/internal/truncate"
	"github.com/joseph-ayodele/labwise/internal/vision"
)

// Pipeline is a wired processor plus what it holds open.
type Pipeline struct {
	Processor       *pipeline.Processor
	Client          *llm.Client
	ModelConfigured bool

	closers []func() error
}

// Close releases the provider connection, if any.
func (p *Pipeline) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewProvider builds the completion provider named by cfg.Provider. The
// returned bool reports whether credentials are present.
func NewProvider(ctx context.Context, cfg common.LLMConfig, logger *slog.Logger) (llm.Provider, bool, func() error, error) {
	switch cfg.Provider {
	case "", "openai":
		c := openai.NewClient(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger)
		return c, c.Configured(), func() error { return nil }, nil
	case "vertex":
		c, err := vertex.NewClient(ctx, vertex.Config{
			ProjectID:   cfg.GCPProject,
			Region:      cfg.GCPRegion,
			Temperature: cfg.Temperature,
		}, logger)
		if err != nil {
			return nil, false, nil, common.NewAppError(common.CodeConfig, "vertex client", err)
		}
		return c, true, c.Close, nil
	default:
		return nil, false, nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("unknown llm provider %q", cfg.Provider), nil)
	}
}

// NewPipeline wires every stage of the processor. reg may be nil, in which
// case no pipeline metrics are recorded.
func NewPipeline(ctx context.Context, cfg *common.Config, reg prometheus.Registerer, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	provider, configured, closeProvider, err := NewProvider(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	client := llm.NewClient(provider, llm.ClientConfig{
		TextModel:       cfg.LLM.Model,
		VisionModel:     cfg.LLM.VisionModel,
		MaxTokens:       cfg.LLM.MaxTokens,
		VisionMaxTokens: cfg.LLM.VisionMaxTokens,
		AdaptiveTokens:  cfg.LLM.AdaptiveTokens,
	}, logger)

	norm, err := normalize.NewNormalizer(logger)
	if err != nil {
		_ = closeProvider()
		return nil, common.WrapError(err, "compile analysis schema")
	}

	var metrics *pipeline.Metrics
	if reg != nil {
		if metrics, err = pipeline.NewMetrics(reg); err != nil {
			_ = closeProvider()
			return nil, common.WrapError(err, "register pipeline metrics")
		}
	}

	p := cfg.Pipeline
	prompts := prompt.NewBuilder()
	proc := pipeline.NewProcessor(pipeline.Config{
		EnableVisionFallbackForPDF: p.EnableVisionFallbackForPDF,
		ImageMode:                  p.ImageMode,
		RequestTimeout:             p.RequestTimeout,
	}, pipeline.Components{
		Classifier: document.NewClassifier(document.Limits{
			MaxTextBytes:  p.MaxTextBytes,
			MaxPDFBytes:   p.MaxPDFBytes,
			MaxImageBytes: p.MaxImageBytes,
		}, p.VerifyContentType, logger),
		Extractor: extract.NewExtractor(extract.Config{
			MinPDFChars: p.MinPDFChars,
			PDFTimeout:  p.PDFTimeout,
		}, nil, logger),
		OCR:        vision.NewAdapter(client, prompts, logger),
		Policy:     truncate.NewPolicy(p.TextBudget, p.TruncationKeywords, p.TruncationMarker),
		Prompts:    prompts,
		Client:     client,
		Normalizer: norm,
		Metrics:    metrics,
	}, logger)

	logger.Info("pipeline ready",
		"provider", client.ProviderName(),
		"model", client.TextModel(),
		"configured", configured,
		"image_mode", p.ImageMode,
		"text_budget", p.TextBudget)

	return &Pipeline{
		Processor:       proc,
		Client:          client,
		ModelConfigured: configured,
		closers:         []func() error{closeProvider},
	}, nil
}

// OpenDatabase opens the configured database, or returns nil when none is
// configured.
func OpenDatabase(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repository.DB, error) {
	if cfg.Driver == "" {
		return nil, nil
	}
	return repository.Open(ctx, repository.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
		MaxConnIdleTime: cfg.MaxConnIdleTime,
		DialTimeout:     cfg.DialTimeout,
	}, logger)
}

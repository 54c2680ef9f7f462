// Package pipeline runs one uploaded document through classification,
// extraction, truncation, prompting, completion and normalization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/analysis"
	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/document"
	"github.com/joseph-ayodele/labwise/internal/extract"
	"github.com/joseph-ayodele/labwise/internal/llm"
	"github.com/joseph-ayodele/labwise/internal/prompt"
	"github.com/joseph-ayodele/labwise/internal/truncate"
)

const (
	ImageModeOCR    = "ocr"
	ImageModeDirect = "direct"
)

type Classifier interface {
	Classify(doc document.UploadedDocument) (constants.Strategy, error)
}

type TextExtractor interface {
	Extract(ctx context.Context, doc document.UploadedDocument, strategy constants.Strategy) (extract.Result, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, mediaType string) (extract.Result, error)
}

type Completer interface {
	CompleteText(ctx context.Context, system, user string) (llm.Completion, error)
	CompleteVision(ctx context.Context, system, user, b64, mimeType string, json bool) (llm.Completion, error)
}

type ResponseNormalizer interface {
	Normalize(raw string) (analysis.AnalysisResult, error)
}

type Config struct {
	EnableVisionFallbackForPDF bool
	ImageMode                  string
	// RequestTimeout bounds a whole invocation; zero leaves the caller's deadline.
	RequestTimeout time.Duration
}

// Components are the collaborators of a Processor.
type Components struct {
	Classifier Classifier
	Extractor  TextExtractor
	OCR        Transcriber
	Policy     *truncate.Policy
	Prompts    *prompt.Builder
	Client     Completer
	Normalizer ResponseNormalizer
	Metrics    *Metrics
}

// Outcome is a successful analysis. Extraction lengths describe the text
// before truncation.
type Outcome struct {
	Result     analysis.AnalysisResult
	Strategy   constants.Strategy
	Extraction extract.Result
	Truncated  truncate.Result
	Model      string
	Duration   time.Duration
}

// Processor is stateless between invocations and safe for concurrent use.
type Processor struct {
	cfg    Config
	c      Components
	tracer trace.Tracer
	logger *slog.Logger
}

func NewProcessor(cfg Config, c Components, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ImageMode == "" {
		cfg.ImageMode = ImageModeOCR
	}
	if c.Prompts == nil {
		c.Prompts = prompt.NewBuilder()
	}
	return &Processor{
		cfg:    cfg,
		c:      c,
		tracer: otel.Tracer("github.com/joseph-ayodele/labwise/internal/pipeline"),
		logger: logger,
	}
}

// invocation carries the per-document state of one Analyze call.
type invocation struct {
	p        *Processor
	doc      document.UploadedDocument
	rid      string
	strategy constants.Strategy
	extract  extract.Result
	trunc    truncate.Result
	msgs     prompt.Messages
	reply    llm.Completion
	result   analysis.AnalysisResult
}

// Analyze runs the stages strictly in order. Any failure ends the run with
// a *Error naming the stage; no partial result is returned.
func (p *Processor) Analyze(ctx context.Context, doc document.UploadedDocument) (*Outcome, error) {
	start := time.Now()
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.Analyze", trace.WithAttributes(
		attribute.String("document.name", doc.Name),
		attribute.String("document.media_type", doc.MediaType),
		attribute.Int64("document.size", doc.Size()),
	))
	defer span.End()

	inv := &invocation{p: p, doc: doc, rid: common.RequestIDFromContext(ctx)}
	p.logger.Info("pipeline.start", "req_id", inv.rid, "name", doc.Name, "media_type", doc.MediaType, "size", doc.Size())

	stages := []struct {
		stage constants.Stage
		run   func(context.Context) error
	}{
		{constants.StageClassifying, inv.classify},
		{constants.StageExtracting, inv.extractText},
		{constants.StageTruncating, inv.truncate},
		{constants.StagePrompting, inv.prompt},
		{constants.StageCompleting, inv.complete},
		{constants.StageNormalizing, inv.normalize},
	}
	for _, s := range stages {
		if err := p.runStage(ctx, inv, s.stage, s.run); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(s.stage))
			p.c.Metrics.observe("failed", time.Since(start).Seconds())
			p.logger.Error("pipeline.failed",
				"req_id", inv.rid,
				"stage", s.stage,
				"code", common.CodeOf(err),
				"timeout", common.IsTimeout(err),
				"error", err,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil, err
		}
	}

	out := &Outcome{
		Result:     inv.result,
		Strategy:   inv.strategy,
		Extraction: inv.extract,
		Truncated:  inv.trunc,
		Model:      inv.reply.Model,
		Duration:   time.Since(start),
	}
	p.c.Metrics.observe("done", out.Duration.Seconds())
	p.c.Metrics.stage(string(constants.StageDone), "ok")
	span.SetAttributes(
		attribute.String("analysis.method", string(out.Extraction.Method)),
		attribute.Int("analysis.findings", len(out.Result.Results)),
	)
	p.logger.Info("pipeline.done",
		"req_id", inv.rid,
		"strategy", out.Strategy,
		"method", out.Extraction.Method,
		"truncated", out.Truncated.Truncated,
		"findings", len(out.Result.Results),
		"elapsed_ms", out.Duration.Milliseconds(),
	)
	return out, nil
}

func (p *Processor) runStage(ctx context.Context, inv *invocation, stage constants.Stage, run func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+string(stage))
	defer span.End()
	start := time.Now()

	err := ctx.Err()
	if err == nil {
		err = run(ctx)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && common.CodeOf(err) == common.CodeInternal {
			err = common.NewTimeoutError(inv.timeoutCode(stage), fmt.Sprintf("%s exceeded the request deadline", stage), err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.c.Metrics.stage(string(stage), "failed")
		return &Error{Stage: stage, Err: err}
	}

	p.c.Metrics.stage(string(stage), "ok")
	p.logger.Debug("pipeline.stage.ok", "req_id", inv.rid, "stage", stage, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// timeoutCode is the error kind a deadline maps to in each stage. Only
// extraction and completion wait on anything, so the in-memory stages keep
// INTERNAL.
func (inv *invocation) timeoutCode(stage constants.Stage) string {
	switch stage {
	case constants.StageExtracting:
		if inv.strategy == constants.StrategyVisionImage {
			return common.CodeOCRFailed
		}
		return common.CodeExtractionFailed
	case constants.StageCompleting:
		return common.CodeCompletionFailed
	default:
		return common.CodeInternal
	}
}

func (inv *invocation) classify(context.Context) error {
	s, err := inv.p.c.Classifier.Classify(inv.doc)
	if err != nil {
		return err
	}
	inv.strategy = s
	return nil
}

func (inv *invocation) direct() bool {
	return inv.strategy == constants.StrategyVisionImage && inv.p.cfg.ImageMode == ImageModeDirect
}

func (inv *invocation) extractText(ctx context.Context) error {
	p := inv.p
	switch {
	case inv.direct():
		// The image goes to the model as-is.
		inv.extract = extract.Result{Pages: 1}
		return nil
	case inv.strategy == constants.StrategyVisionImage:
		res, err := p.c.OCR.Transcribe(ctx, inv.doc.Data, document.BaseMediaType(inv.doc.MediaType))
		if err != nil {
			return err
		}
		inv.extract = res
		return nil
	}

	res, err := p.c.Extractor.Extract(ctx, inv.doc, inv.strategy)
	if err == nil {
		inv.extract = res
		return nil
	}
	if inv.strategy != constants.StrategyPdfText || !p.cfg.EnableVisionFallbackForPDF || !errors.Is(err, common.ErrExtractionFailed) || ctx.Err() != nil {
		return err
	}

	p.logger.Warn("pipeline.pdf.vision_fallback", "req_id", inv.rid, "name", inv.doc.Name, "cause", err)
	ocr, ocrErr := p.c.OCR.Transcribe(ctx, inv.doc.Data, constants.MediaTypePDF)
	if ocrErr != nil {
		return ocrErr
	}
	ocr.Warnings = append(append(ocr.Warnings, res.Warnings...), "pdf text layer unavailable: "+err.Error())
	if res.Pages > 0 {
		ocr.Pages = res.Pages
	}
	inv.extract = ocr
	return nil
}

func (inv *invocation) truncate(context.Context) error {
	if inv.direct() {
		inv.trunc = truncate.Result{}
		return nil
	}
	inv.trunc = inv.p.c.Policy.Apply(inv.extract.Text)
	if inv.trunc.Truncated {
		inv.p.logger.Info("pipeline.truncated",
			"req_id", inv.rid,
			"original_length", inv.trunc.OriginalLength,
			"budget", inv.p.c.Policy.Budget,
		)
	}
	return nil
}

func (inv *invocation) prompt(context.Context) error {
	if inv.direct() {
		inv.msgs = inv.p.c.Prompts.VisionAnalysis(inv.doc.Name)
		return nil
	}
	inv.msgs = inv.p.c.Prompts.Analysis(inv.trunc.Text, inv.doc.Name)
	return nil
}

func (inv *invocation) complete(ctx context.Context) error {
	var (
		out llm.Completion
		err error
	)
	if inv.direct() {
		out, err = inv.p.c.Client.CompleteVision(ctx, inv.msgs.System, inv.msgs.User,
			llm.EncodeBase64(inv.doc.Data), document.BaseMediaType(inv.doc.MediaType), true)
	} else {
		out, err = inv.p.c.Client.CompleteText(ctx, inv.msgs.System, inv.msgs.User)
	}
	if err != nil {
		return err
	}
	inv.reply = out
	return nil
}

func (inv *invocation) normalize(context.Context) error {
	res, err := inv.p.c.Normalizer.Normalize(inv.reply.Content)
	if err != nil {
		return err
	}
	inv.result = res
	return nil
}

package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/document"
)

// Suggestion is attached to every PDF extraction failure.
const Suggestion = "try uploading the report as a .txt file or an image (PNG/JPG)"

type Config struct {
	MinPDFChars int           // trimmed rune count a text layer must reach, default 10
	PDFTimeout  time.Duration // bound on a single parse, default 30s
}

// Result is the text of a document plus where it came from.
// Lengths always describe the text before truncation.
type Result struct {
	Text           string
	Pages          int
	Method         constants.ExtractionMethod
	OriginalLength int
	Duration       time.Duration
	Warnings       []string
}

// NewResult fills OriginalLength from text.
func NewResult(text string, pages int, method constants.ExtractionMethod) Result {
	return Result{
		Text:           text,
		Pages:          pages,
		Method:         method,
		OriginalLength: utf8.RuneCountInString(text),
	}
}

type Extractor struct {
	cfg    Config
	parser PDFParser
	logger *slog.Logger
}

func NewExtractor(cfg Config, parser PDFParser, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinPDFChars <= 0 {
		cfg.MinPDFChars = 10
	}
	if cfg.PDFTimeout <= 0 {
		cfg.PDFTimeout = 30 * time.Second
	}
	if parser == nil {
		parser = NewLedongthucParser(logger)
	}
	return &Extractor{cfg: cfg, parser: parser, logger: logger}
}

// Extract pulls text out of a PlainText or PdfText document. Images are not
// handled here; they go through the vision adapter.
func (e *Extractor) Extract(ctx context.Context, doc document.UploadedDocument, strategy constants.Strategy) (Result, error) {
	start := time.Now()
	switch strategy {
	case constants.StrategyPlainText:
		res := e.extractText(doc)
		res.Duration = time.Since(start)
		return res, nil
	case constants.StrategyPdfText:
		res, err := e.extractPDF(ctx, doc)
		res.Duration = time.Since(start)
		return res, err
	default:
		return Result{}, common.NewAppError(common.CodeExtractionFailed,
			fmt.Sprintf("no text extractor for strategy %q", strategy), common.ErrInvalidInput)
	}
}

func (e *Extractor) extractText(doc document.UploadedDocument) Result {
	text := string(doc.Data)
	var warns []string
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
		warns = append(warns, "invalid utf-8 sequences replaced")
	}
	res := NewResult(text, 1, constants.MethodDirectText)
	res.Warnings = warns
	e.logger.Debug("extract.text.ok", "name", doc.Name, "chars", res.OriginalLength)
	return res
}

func (e *Extractor) extractPDF(ctx context.Context, doc document.UploadedDocument) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.PDFTimeout)
	defer cancel()

	type parsed struct {
		out ParseOutput
		err error
	}
	ch := make(chan parsed, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- parsed{err: fmt.Errorf("pdf parser panic: %v", r)}
			}
		}()
		out, err := e.parser.Parse(ctx, doc.Data)
		ch <- parsed{out: out, err: err}
	}()

	var p parsed
	interrupted := false
	select {
	case p = <-ch:
		interrupted = p.err != nil && ctx.Err() != nil
	case <-ctx.Done():
		interrupted = true
	}
	if interrupted {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.logger.Error("extract.pdf.timeout", "name", doc.Name, "timeout", e.cfg.PDFTimeout)
			return Result{Method: constants.MethodPDFTextLayer}, common.NewTimeoutError(common.CodeExtractionFailed,
				fmt.Sprintf("pdf text extraction exceeded %s; %s", e.cfg.PDFTimeout, Suggestion), ctx.Err())
		}
		return Result{Method: constants.MethodPDFTextLayer}, common.NewAppError(common.CodeExtractionFailed,
			"pdf text extraction cancelled", ctx.Err())
	}

	if p.err != nil {
		e.logger.Error("extract.pdf.failed", "name", doc.Name, "error", p.err)
		return Result{Method: constants.MethodPDFTextLayer}, common.NewAppError(common.CodeExtractionFailed,
			"could not read the PDF text layer; "+Suggestion, p.err)
	}

	text := Normalize(p.out.Text)
	res := NewResult(text, p.out.Pages, constants.MethodPDFTextLayer)
	res.Warnings = p.out.Warnings
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n <= e.cfg.MinPDFChars {
		e.logger.Warn("extract.pdf.too_little_text", "name", doc.Name, "chars", n, "min", e.cfg.MinPDFChars, "pages", p.out.Pages)
		return res, common.NewAppError(common.CodeExtractionFailed,
			fmt.Sprintf("PDF contains %d characters of text (need more than %d), it may be scanned; %s", n, e.cfg.MinPDFChars, Suggestion), nil)
	}

	e.logger.Info("extract.pdf.ok", "name", doc.Name, "pages", res.Pages, "chars", res.OriginalLength, "warnings", len(res.Warnings))
	return res, nil
}

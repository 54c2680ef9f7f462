package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/app"
	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/document"
	"github.com/joseph-ayodele/labwise/internal/extract"
	"github.com/joseph-ayodele/labwise/internal/ingest"
	"github.com/joseph-ayodele/labwise/internal/llm"
	"github.com/joseph-ayodele/labwise/internal/prompt"
	"github.com/joseph-ayodele/labwise/internal/truncate"
	"github.com/joseph-ayodele/labwise/internal/vision"
)

func main() {
	// time and level only add noise for a one-shot debug tool
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	var (
		mediaType = flag.String("type", "", "declared media type (default from the extension)")
		ocr       = flag.Bool("ocr", false, "transcribe images with the vision model")
		truncated = flag.Bool("truncate", false, "print the text after the truncation policy")
		verify    = flag.Bool("verify", false, "check the declared type against the content")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "extract [-type T] [-ocr] [-truncate] <file>")
		os.Exit(2)
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(2)
	}

	f, err := ingest.LoadFile(flag.Arg(0))
	doc := f.Document
	if *mediaType != "" {
		// an explicit type lets unknown extensions through to the classifier
		data, rerr := os.ReadFile(flag.Arg(0))
		if rerr != nil {
			logger.Error("read file", "error", rerr)
			os.Exit(1)
		}
		doc = document.UploadedDocument{Data: data, MediaType: *mediaType, Name: filepath.Base(flag.Arg(0))}
	} else if err != nil {
		logger.Error("load file", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.RequestTimeout)
	defer cancel()

	classifier := document.NewClassifier(document.Limits{
		MaxTextBytes:  cfg.Pipeline.MaxTextBytes,
		MaxPDFBytes:   cfg.Pipeline.MaxPDFBytes,
		MaxImageBytes: cfg.Pipeline.MaxImageBytes,
	}, *verify, logger)
	strategy, err := classifier.Classify(doc)
	if err != nil {
		logger.Error("classification failed", "code", common.CodeOf(err), "error", err)
		os.Exit(1)
	}

	start := time.Now()
	var res extract.Result
	if strategy == constants.StrategyVisionImage {
		if !*ocr {
			logger.Error("images need -ocr and a configured model provider", "strategy", strategy)
			os.Exit(1)
		}
		provider, configured, closeProvider, perr := app.NewProvider(ctx, cfg.LLM, logger)
		if perr != nil || !configured {
			logger.Error("model provider not configured", "provider", cfg.LLM.Provider, "error", perr)
			os.Exit(1)
		}
		defer closeProvider()
		client := llm.NewClient(provider, llm.ClientConfig{VisionModel: cfg.LLM.VisionModel, VisionMaxTokens: cfg.LLM.VisionMaxTokens}, logger)
		res, err = vision.NewAdapter(client, prompt.NewBuilder(), logger).Transcribe(ctx, doc.Data, doc.MediaType)
	} else {
		res, err = extract.NewExtractor(extract.Config{
			MinPDFChars: cfg.Pipeline.MinPDFChars,
			PDFTimeout:  cfg.Pipeline.PDFTimeout,
		}, nil, logger).Extract(ctx, doc, strategy)
	}
	if err != nil {
		logger.Error("extraction failed",
			"code", common.CodeOf(err),
			"timeout", common.IsTimeout(err),
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		os.Exit(1)
	}

	text := res.Text
	cut := false
	if *truncated {
		tr := truncate.NewPolicy(cfg.Pipeline.TextBudget, cfg.Pipeline.TruncationKeywords, cfg.Pipeline.TruncationMarker).Apply(text)
		text, cut = tr.Text, tr.Truncated
	}

	logger.Info("extraction OK",
		"strategy", strategy,
		"method", res.Method,
		"pages", res.Pages,
		"chars", res.OriginalLength,
		"truncated", cut,
		"warnings", len(res.Warnings),
		"duration_ms", time.Since(start).Milliseconds())
	for _, w := range res.Warnings {
		logger.Warn("extraction warning", "detail", w)
	}
	fmt.Println(text)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/joseph-ayodele/labwise/internal/app"
	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/document"
	"github.com/joseph-ayodele/labwise/internal/export"
	"github.com/joseph-ayodele/labwise/internal/ingest"
	"github.com/joseph-ayodele/labwise/internal/pipeline"
)

// fileList collects repeated -file flags.
type fileList []string

func (f *fileList) String() string     { return strings.Join(*f, ",") }
func (f *fileList) Set(v string) error { *f = append(*f, v); return nil }

func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var files fileList
	var (
		dir         = flag.String("dir", "", "directory of lab reports to analyze")
		out         = flag.String("out", "", "output XLSX path (default <dir>/../labwise-report.xlsx)")
		concurrency = flag.Int("concurrency", 4, "analyses in flight")
		watch       = flag.Bool("watch", false, "keep watching -dir and analyze new files")
		skipHidden  = flag.Bool("skip-hidden", true, "skip dotfiles and dot directories")
		maxFiles    = flag.Int("max-files", 0, "stop after this many files (0 = no limit)")
	)
	flag.Var(&files, "file", "a single report to analyze (repeatable)")
	flag.Parse()

	if *dir == "" && len(files) == 0 {
		printError("Error: -dir or -file is required\n")
		os.Exit(1)
	}
	if *watch && *dir == "" {
		printError("Error: -watch needs -dir\n")
		os.Exit(1)
	}
	if *out == "" {
		base := *dir
		if base == "" {
			base = files[0]
		}
		*out = filepath.Join(filepath.Dir(filepath.Clean(base)), "labwise-report.xlsx")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
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

	pl, err := app.NewPipeline(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer pl.Close()

	docs, failedRows := collect(*dir, files, ingest.DirOptions{SkipHidden: *skipHidden, MaxFiles: *maxFiles}, logger)
	logger.Info("batch.start", "documents", len(docs), "unreadable", len(failedRows), "concurrency", *concurrency)

	start := time.Now()
	items := pl.Processor.AnalyzeBatch(ctx, docs, *concurrency)
	rows := append(failedRows, rowsFromBatch(items)...)
	failures := countFailures(rows)

	if *watch {
		rows = append(rows, watchDir(ctx, *dir, *skipHidden, pl.Processor, logger)...)
		failures = countFailures(rows)
	}

	xlsx, err := export.NewService(nil, logger).BatchXLSX(rows)
	if err != nil {
		logger.Error("failed to render report", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
		logger.Error("failed to write report", "path", *out, "error", err)
		os.Exit(1)
	}

	logger.Info("batch.done",
		"documents", len(rows),
		"failures", failures,
		"duration_ms", time.Since(start).Milliseconds(),
		"output", *out)

	fmt.Printf("Batch analysis complete!\n")
	fmt.Printf("- Reports: %d\n", len(rows))
	fmt.Printf("- Failures: %d\n", failures)
	fmt.Printf("- Output: %s\n", *out)
	if failures > 0 {
		os.Exit(3)
	}
}

// collect loads -dir and every -file. Files that cannot be read become
// failed rows so they still show up in the report.
func collect(dir string, paths []string, opts ingest.DirOptions, logger *slog.Logger) ([]document.UploadedDocument, []export.Row) {
	var (
		docs   []document.UploadedDocument
		failed []export.Row
	)
	if dir != "" {
		loaded, errs, stats, err := ingest.ScanDirectory(dir, opts, logger)
		if err != nil {
			logger.Error("batch.scan.failed", "dir", dir, "error", err)
		}
		logger.Info("batch.scan",
			"dir", dir,
			"scanned", stats.Scanned,
			"matched", stats.Matched,
			"loaded", stats.Loaded,
			"deduplicated", stats.Deduplicated,
			"failed", stats.Failed)
		for _, f := range loaded {
			docs = append(docs, f.Document)
		}
		for _, fe := range errs {
			failed = append(failed, failedRow(filepath.Base(fe.Path), fe.Err))
		}
	}
	for _, p := range paths {
		f, err := ingest.LoadFile(p)
		if err != nil {
			logger.Warn("batch.load.failed", "path", p, "error", err)
			failed = append(failed, failedRow(filepath.Base(p), err))
			continue
		}
		docs = append(docs, f.Document)
	}
	return docs, failed
}

// watchDir analyzes files that appear under dir until ctx ends.
func watchDir(ctx context.Context, dir string, skipHidden bool, proc *pipeline.Processor, logger *slog.Logger) []export.Row {
	paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:      []string{dir},
		Debounce:   500 * time.Millisecond,
		SkipHidden: skipHidden,
	}, logger)
	if err != nil {
		logger.Error("batch.watch.failed", "dir", dir, "error", err)
		return nil
	}
	logger.Info("batch.watch", "dir", dir)

	var rows []export.Row
	for {
		select {
		case <-ctx.Done():
			return rows
		case err, ok := <-errs:
			if ok {
				logger.Warn("batch.watch.error", "error", err)
			}
		case p, ok := <-paths:
			if !ok {
				return rows
			}
			f, err := ingest.LoadFile(p)
			if err != nil {
				logger.Warn("batch.load.failed", "path", p, "error", err)
				rows = append(rows, failedRow(filepath.Base(p), err))
				continue
			}
			out, err := proc.Analyze(ctx, f.Document)
			rows = append(rows, rowsFromBatch([]pipeline.BatchItem{{Document: f.Document, Outcome: out, Err: err}})...)
			if err != nil {
				logger.Warn("batch.analyze.failed", "path", p, "error", err)
			} else {
				logger.Info("batch.analyze.ok", "path", p, "findings", len(out.Result.Results))
			}
		}
	}
}

func rowsFromBatch(items []pipeline.BatchItem) []export.Row {
	rows := make([]export.Row, 0, len(items))
	for _, it := range items {
		if it.Err != nil {
			rows = append(rows, failedRow(it.Document.Name, it.Err))
			continue
		}
		res := it.Outcome.Result
		rows = append(rows, export.Row{
			FileName:  it.Document.Name,
			Method:    it.Outcome.Extraction.Method,
			Pages:     it.Outcome.Extraction.Pages,
			Truncated: it.Outcome.Truncated.Truncated,
			Result:    &res,
		})
	}
	return rows
}

func failedRow(name string, err error) export.Row {
	return export.Row{
		FileName:     name,
		ErrorCode:    common.CodeOf(err),
		ErrorMessage: err.Error(),
	}
}

func countFailures(rows []export.Row) int {
	n := 0
	for _, r := range rows {
		if r.Result == nil {
			n++
		}
	}
	return n
}

package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
)

type DirOptions struct {
	IncludeExts []string // lowercased without '.'; empty means every accepted extension
	SkipHidden  bool
	MaxFiles    int // 0 means no limit
}

type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Loaded       uint32
	Deduplicated uint32
	Failed       uint32
}

// FileError is a file that matched but could not be loaded.
type FileError struct {
	Path string
	Err  error
}

// ScanDirectory walks root and loads every matching file. Files with the
// same content as an earlier one are skipped. Per-file failures are
// collected rather than ending the walk.
func ScanDirectory(root string, opts DirOptions, logger *slog.Logger) ([]File, []FileError, DirStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(root) == "" {
		return nil, nil, DirStats{}, errors.New("root path is required")
	}

	var exts map[string]struct{}
	if len(opts.IncludeExts) > 0 {
		exts = make(map[string]struct{}, len(opts.IncludeExts))
		for _, e := range opts.IncludeExts {
			e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
			if e != "" {
				exts[e] = struct{}{}
			}
		}
	}
	match := func(path string) bool {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if !AllowedExt(ext) {
			return false
		}
		if exts == nil {
			return true
		}
		_, ok := exts[ext]
		return ok
	}

	var (
		files  []File
		failed []FileError
		stats  DirStats
		seen   = map[string]string{}
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			failed = append(failed, FileError{Path: path, Err: walkErr})
			stats.Failed++
			return nil
		}
		if opts.SkipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !match(path) {
			return nil
		}
		stats.Matched++
		if opts.MaxFiles > 0 && int(stats.Loaded) >= opts.MaxFiles {
			return filepath.SkipAll
		}

		f, err := LoadFile(path)
		if err != nil {
			failed = append(failed, FileError{Path: path, Err: err})
			stats.Failed++
			return nil
		}
		if first, dup := seen[f.HashHex]; dup {
			logger.Info("ingest.duplicate", "path", path, "same_as", first)
			stats.Deduplicated++
			return nil
		}
		seen[f.HashHex] = path
		files = append(files, f)
		stats.Loaded++
		return nil
	})
	if err != nil {
		return files, failed, stats, fmt.Errorf("walk: %w", err)
	}
	logger.Info("ingest.scan.ok",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"loaded", stats.Loaded,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed,
	)
	return files, failed, stats, nil
}

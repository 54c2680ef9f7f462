package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/analysis"
	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/entity"
	"github.com/joseph-ayodele/labwise/internal/repository"
)

const (
	findingsSheet = "Findings"
	summarySheet  = "Summary"
	reportsSheet  = "Reports"
)

// Service renders analyses as XLSX workbooks.
type Service struct {
	repo   repository.AnalysisRepository
	logger *slog.Logger
}

// NewService accepts a nil repo; only AnalysisXLSX needs it.
func NewService(repo repository.AnalysisRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Row is one document of a batch report. Result is nil when the document failed.
type Row struct {
	FileName     string
	Method       constants.ExtractionMethod
	Pages        int
	Truncated    bool
	Result       *analysis.AnalysisResult
	ErrorCode    string
	ErrorMessage string
}

// AnalysisXLSX loads a finished analysis and renders it.
func (s *Service) AnalysisXLSX(ctx context.Context, id string) ([]byte, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("export: no analysis repository configured")
	}
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.RenderAnalysis(a)
}

// RenderAnalysis writes a Findings sheet and a Summary sheet for a.
func (s *Service) RenderAnalysis(a *entity.Analysis) ([]byte, error) {
	start := time.Now()
	if a.Status != constants.JobStatusDone || len(a.Result) == 0 {
		return nil, common.NewAppError(common.CodeInvalidInput,
			fmt.Sprintf("analysis %s is %s, nothing to export", a.ID, a.Status), nil)
	}
	var res analysis.AnalysisResult
	if err := json.Unmarshal(a.Result, &res); err != nil {
		return nil, fmt.Errorf("decode stored result: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", findingsSheet); err != nil {
		return nil, err
	}
	writeFindings(f, findingsSheet, res.Results, 1)

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	rows := [][2]any{
		{"Analysis ID", a.ID},
		{"File", a.FileName},
		{"Media Type", a.MediaType},
		{"Extraction Method", string(a.Method)},
		{"Pages", a.Pages},
		{"Text Length", a.OriginalLength},
		{"Truncated", a.Truncated},
		{"Model", a.Model},
		{"Created", a.CreatedAt.UTC().Format(time.RFC3339)},
		{"Summary", res.Summary},
	}
	counts := res.CountByStatus()
	for _, st := range []constants.FindingStatus{constants.StatusNormal, constants.StatusHigh, constants.StatusLow, constants.StatusUnknown} {
		rows = append(rows, [2]any{constants.StatusLabel(st) + " Findings", counts[st]})
	}
	r := 1
	for _, kv := range rows {
		setRow(f, summarySheet, r, kv[0], kv[1])
		r++
	}
	r++
	r = writeList(f, summarySheet, r, "Critical Findings", res.CriticalFindings)
	r++
	writeList(f, summarySheet, r, "Recommendations", res.Recommendations)
	_ = f.SetColWidth(summarySheet, "A", "A", 22)
	_ = f.SetColWidth(summarySheet, "B", "B", 80)

	idx, _ := f.GetSheetIndex(findingsSheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"analysis_id", a.ID,
		"rows", len(res.Results),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// BatchXLSX renders one workbook for a batch: a Reports sheet with a line
// per document and a Findings sheet with every finding, tagged by file.
func (s *Service) BatchXLSX(rows []Row) ([]byte, error) {
	start := time.Now()
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportsSheet); err != nil {
		return nil, err
	}
	setRow(f, reportsSheet, 1, "File", "Status", "Method", "Pages", "Truncated", "Findings", "Critical", "Summary / Error")

	if _, err := f.NewSheet(findingsSheet); err != nil {
		return nil, err
	}
	setRow(f, findingsSheet, 1, "File", "Test", "Value", "Unit", "Reference Range", "Status", "Interpretation")

	findingRow := 2
	failed := 0
	for i, row := range rows {
		r := i + 2
		if row.Result == nil {
			failed++
			setRow(f, reportsSheet, r, row.FileName, "FAILED", string(row.Method), row.Pages, row.Truncated, 0, 0,
				truncate(row.ErrorCode+": "+row.ErrorMessage, 240))
			continue
		}
		res := row.Result
		setRow(f, reportsSheet, r, row.FileName, "DONE", string(row.Method), row.Pages, row.Truncated,
			len(res.Results), len(res.CriticalFindings), truncate(res.Summary, 240))
		for _, fd := range res.Results {
			setRow(f, findingsSheet, findingRow, row.FileName, fd.TestName, fd.Value, fd.Unit, fd.ReferenceRange,
				constants.StatusLabel(fd.Status), truncate(fd.Interpretation, 240))
			findingRow++
		}
	}

	_ = f.SetColWidth(reportsSheet, "A", "A", 32)
	_ = f.SetColWidth(reportsSheet, "B", "G", 12)
	_ = f.SetColWidth(reportsSheet, "H", "H", 80)
	_ = f.SetColWidth(findingsSheet, "A", "B", 28)
	_ = f.SetColWidth(findingsSheet, "C", "F", 14)
	_ = f.SetColWidth(findingsSheet, "G", "G", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.batch.ok",
		"documents", len(rows),
		"failed", failed,
		"findings", findingRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeFindings(f *excelize.File, sheet string, findings []analysis.Finding, headerRow int) {
	setRow(f, sheet, headerRow, "Test", "Value", "Unit", "Reference Range", "Status", "Interpretation")
	r := headerRow + 1
	for _, fd := range findings {
		setRow(f, sheet, r, fd.TestName, fd.Value, fd.Unit, fd.ReferenceRange, constants.StatusLabel(fd.Status), truncate(fd.Interpretation, 240))
		r++
	}
	_ = f.SetColWidth(sheet, "A", "A", 28)
	_ = f.SetColWidth(sheet, "B", "E", 14)
	_ = f.SetColWidth(sheet, "F", "F", 60)
}

// writeList writes a heading and one item per row, returning the next free row.
func writeList(f *excelize.File, sheet string, row int, heading string, items []string) int {
	setRow(f, sheet, row, heading)
	row++
	if len(items) == 0 {
		setRow(f, sheet, row, "", "None")
		return row + 1
	}
	for _, it := range items {
		setRow(f, sheet, row, "", it)
		row++
	}
	return row
}

func setRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

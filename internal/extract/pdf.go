package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ParseOutput is the raw text layer of a PDF.
type ParseOutput struct {
	Text     string
	Pages    int
	Warnings []string
}

// PDFParser lets us stub PDF parsing in tests.
type PDFParser interface {
	Parse(ctx context.Context, data []byte) (ParseOutput, error)
}

// LedongthucParser reads the text layer with ledongthuc/pdf after a relaxed
// pdfcpu validation pass that also yields the page count.
type LedongthucParser struct {
	logger *slog.Logger
}

func NewLedongthucParser(logger *slog.Logger) *LedongthucParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedongthucParser{logger: logger}
}

func (p *LedongthucParser) Parse(ctx context.Context, data []byte) (ParseOutput, error) {
	var out ParseOutput

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if n, err := api.PageCount(bytes.NewReader(data), conf); err != nil {
		out.Warnings = append(out.Warnings, "pdf validation: "+err.Error())
		p.logger.Warn("extract.pdf.validation_warning", "error", err)
	} else {
		out.Pages = n
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return out, fmt.Errorf("open pdf: %w", err)
	}
	numPages := r.NumPage()
	if out.Pages == 0 {
		out.Pages = numPages
	}

	var b strings.Builder
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		txt, err := page.GetPlainText(nil)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("page %d: %v", i, err))
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(txt)
	}
	out.Text = b.String()
	return out, nil
}

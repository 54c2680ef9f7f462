package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/labwise/internal/document"
)

// BatchItem is the result of one document in a batch. Exactly one of
// Outcome and Err is set.
type BatchItem struct {
	Document document.UploadedDocument
	Outcome  *Outcome
	Err      error
}

// AnalyzeBatch analyzes docs with at most limit invocations in flight.
// Items are independent: a failure never cancels its siblings. The returned
// slice is in input order.
func (p *Processor) AnalyzeBatch(ctx context.Context, docs []document.UploadedDocument, limit int) []BatchItem {
	items := make([]BatchItem, len(docs))
	if limit <= 0 {
		limit = 4
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, doc := range docs {
		g.Go(func() error {
			out, err := p.Analyze(ctx, doc)
			items[i] = BatchItem{Document: doc, Outcome: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

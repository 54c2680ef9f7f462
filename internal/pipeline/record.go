package pipeline

import (
	"encoding/json"

	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/entity"
)

// Completion converts a successful outcome into its persisted form.
func (o *Outcome) Completion() (entity.Completion, error) {
	raw, err := json.Marshal(o.Result)
	if err != nil {
		return entity.Completion{}, common.WrapError(err, "encode analysis result")
	}
	return entity.Completion{
		Method:         o.Extraction.Method,
		Pages:          o.Extraction.Pages,
		OriginalLength: o.Extraction.OriginalLength,
		Truncated:      o.Truncated.Truncated,
		Model:          o.Model,
		Result:         raw,
	}, nil
}

// FailureOf converts an Analyze error into its persisted form.
func FailureOf(err error) entity.Failure {
	return entity.Failure{
		Code:    common.CodeOf(err),
		Message: err.Error(),
		Stage:   string(StageOf(err)),
	}
}

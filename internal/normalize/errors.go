package normalize

import (
	"fmt"

	"github.com/joseph-ayodele/labwise/internal/common"
)

// Reasons reported by ResponseError.
const (
	ReasonEmpty     = "empty response"
	ReasonMalformed = "malformed JSON"
	ReasonNotObject = "top-level value is not an object"
	ReasonSchema    = "schema violation"
)

// ResponseError is a model reply that could not be turned into an
// AnalysisResult. Raw and Value are excerpts, safe to log.
type ResponseError struct {
	Reason string
	Field  string
	Value  string
	Detail string
	Raw    string
	Err    error
}

func (e *ResponseError) Error() string {
	msg := "invalid model response: " + e.Reason
	if e.Field != "" {
		msg += fmt.Sprintf(" at %q", e.Field)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" (got %s)", e.Value)
	}
	return msg
}

func (e *ResponseError) Unwrap() error { return e.Err }

func (e *ResponseError) Is(target error) bool { return target == common.ErrInvalidModelResponse }

func (e *ResponseError) ErrorCode() string { return common.CodeInvalidModelResponse }

package entity

import (
	"encoding/json"
	"time"

	"github.com/joseph-ayodele/labwise/constants"
)

// Analysis is a persisted analysis run for data transfer between layers.
type Analysis struct {
	ID             string                     `json:"id"`
	Status         constants.JobStatus        `json:"status"`
	CallerID       string                     `json:"caller_id,omitempty"`
	FileName       string                     `json:"file_name"`
	MediaType      string                     `json:"media_type"`
	Size           int64                      `json:"size"`
	Method         constants.ExtractionMethod `json:"method,omitempty"`
	Pages          int                        `json:"pages,omitempty"`
	OriginalLength int                        `json:"original_length,omitempty"`
	Truncated      bool                       `json:"truncated"`
	Model          string                     `json:"model,omitempty"`
	Result         json.RawMessage            `json:"result,omitempty"`
	ErrorCode      *string                    `json:"error_code,omitempty"`
	ErrorMessage   *string                    `json:"error_message,omitempty"`
	Stage          *string                    `json:"stage,omitempty"`
	ObjectKey      *string                    `json:"object_key,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
	FinishedAt     *time.Time                 `json:"finished_at,omitempty"`
}

// Completion is what a successful run writes back to its record.
type Completion struct {
	Method         constants.ExtractionMethod
	Pages          int
	OriginalLength int
	Truncated      bool
	Model          string
	Result         json.RawMessage
}

// Failure is what a failed run writes back to its record.
type Failure struct {
	Code    string
	Message string
	Stage   string
}

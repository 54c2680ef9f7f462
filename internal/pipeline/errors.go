package pipeline

import (
	"errors"
	"fmt"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/common"
)

// Error is a failed analysis: the stage that failed and why.
type Error struct {
	Stage constants.Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode is the code of the underlying failure.
func (e *Error) ErrorCode() string { return common.CodeOf(e.Err) }

func (e *Error) IsTimeout() bool { return common.IsTimeout(e.Err) }

// StageOf returns the stage a pipeline error failed at, or "".
func StageOf(err error) constants.Stage {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

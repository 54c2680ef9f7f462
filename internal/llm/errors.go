package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/labwise/internal/common"
)

// CompletionError is a failed call to the model provider. StatusCode is the
// transport status (0 when the request never got a response) and
// FinishReason is set when the provider answered but produced no content.
type CompletionError struct {
	Provider     string
	StatusCode   int
	FinishReason string
	Message      string
	Timeout      bool
	Err          error
}

func (e *CompletionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s completion failed", e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.FinishReason != "" {
		fmt.Fprintf(&b, " (finish reason %q)", e.FinishReason)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CompletionError) Unwrap() error { return e.Err }

func (e *CompletionError) Is(target error) bool { return target == common.ErrCompletionFailed }

func (e *CompletionError) ErrorCode() string { return common.CodeCompletionFailed }

func (e *CompletionError) IsTimeout() bool { return e.Timeout }

// Declined reports whether the provider answered but the model produced no usable content.
func (e *CompletionError) Declined() bool {
	return e.StatusCode/100 == 2 && e.FinishReason != ""
}

// AsCompletionError normalizes any provider error into *CompletionError.
func AsCompletionError(provider string, err error) *CompletionError {
	if err == nil {
		return nil
	}
	var ce *CompletionError
	if errors.As(err, &ce) {
		if !ce.Timeout {
			ce.Timeout = errors.Is(err, context.DeadlineExceeded)
		}
		return ce
	}
	return &CompletionError{
		Provider: provider,
		Timeout:  errors.Is(err, context.DeadlineExceeded),
		Err:      err,
	}
}

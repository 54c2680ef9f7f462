// Package vision transcribes images and scanned PDFs through the model provider.
package vision

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/extract"
	"github.com/joseph-ayodele/labwise/internal/llm"
	"github.com/joseph-ayodele/labwise/internal/prompt"
)

// Completer is the part of llm.Client the adapter needs.
type Completer interface {
	CompleteVision(ctx context.Context, system, user, b64, mimeType string, json bool) (llm.Completion, error)
}

type Adapter struct {
	client  Completer
	prompts *prompt.Builder
	logger  *slog.Logger
}

func NewAdapter(client Completer, prompts *prompt.Builder, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if prompts == nil {
		prompts = prompt.NewBuilder()
	}
	return &Adapter{client: client, prompts: prompts, logger: logger}
}

// Transcribe returns the visible text of data. Every failure is an
// OCR_FAILED AppError with the provider error as its cause.
func (a *Adapter) Transcribe(ctx context.Context, data []byte, mediaType string) (extract.Result, error) {
	start := time.Now()
	rid := common.RequestIDFromContext(ctx)
	if len(data) == 0 {
		return extract.Result{}, common.NewAppError(common.CodeOCRFailed, "empty payload", nil)
	}

	msgs := a.prompts.Transcription(mediaType)
	out, err := a.client.CompleteVision(ctx, msgs.System, msgs.User, llm.EncodeBase64(data), mediaType, false)
	if err != nil {
		a.logger.Error("vision.transcribe.failed", "req_id", rid, "media_type", mediaType, "error", err)
		if common.IsTimeout(err) {
			return extract.Result{}, common.NewTimeoutError(common.CodeOCRFailed, "transcription timed out", err)
		}
		return extract.Result{}, common.NewAppError(common.CodeOCRFailed, "transcription failed", err)
	}

	text := strings.TrimSpace(out.Content)
	if text == "" {
		return extract.Result{}, common.NewAppError(common.CodeOCRFailed, "transcription returned no text", nil)
	}

	res := extract.NewResult(text, 1, constants.MethodVisionOCR)
	res.Duration = time.Since(start)
	a.logger.Info("vision.transcribe.ok",
		"req_id", rid,
		"media_type", mediaType,
		"chars", res.OriginalLength,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

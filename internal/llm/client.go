package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/labwise/internal/common"
)

// ClientConfig selects models and token ceilings for the two call shapes.
type ClientConfig struct {
	TextModel       string
	VisionModel     string
	MaxTokens       int
	VisionMaxTokens int
	// AdaptiveTokens scales the text ceiling with the prompt size,
	// min(8000, max(3000, len(user)/2)).
	AdaptiveTokens bool
}

// Client is the completion client used by the pipeline and the OCR adapter.
// It fills in model and token defaults and guarantees that every failure
// surfaces as *CompletionError.
type Client struct {
	provider Provider
	cfg      ClientConfig
	logger   *slog.Logger
}

func NewClient(provider Provider, cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "gpt-4o-mini"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 3000
	}
	if cfg.VisionMaxTokens <= 0 {
		cfg.VisionMaxTokens = 4000
	}
	return &Client{provider: provider, cfg: cfg, logger: logger}
}

// ProviderName is the name of the wrapped provider.
func (c *Client) ProviderName() string { return c.provider.Name() }

// TextModel is the model used for text completions.
func (c *Client) TextModel() string { return c.cfg.TextModel }

// CompleteText runs a JSON-constrained text completion.
func (c *Client) CompleteText(ctx context.Context, system, user string) (Completion, error) {
	req := Request{
		System:    system,
		User:      user,
		Model:     c.cfg.TextModel,
		MaxTokens: c.textTokens(user),
		JSON:      true,
	}
	return c.do(ctx, "text", req.Model, len(user), func(ctx context.Context) (Completion, error) {
		return c.provider.CompleteText(ctx, req)
	})
}

// CompleteVision runs a multimodal completion with an inlined payload.
// json=false is used for plain transcription.
func (c *Client) CompleteVision(ctx context.Context, system, user, b64, mimeType string, json bool) (Completion, error) {
	req := VisionRequest{
		Request: Request{
			System:    system,
			User:      user,
			Model:     c.cfg.VisionModel,
			MaxTokens: c.cfg.VisionMaxTokens,
			JSON:      json,
		},
		ImageBase64: b64,
		MIMEType:    mimeType,
	}
	return c.do(ctx, "vision", req.Model, len(b64), func(ctx context.Context) (Completion, error) {
		return c.provider.CompleteVision(ctx, req)
	})
}

func (c *Client) textTokens(user string) int {
	if !c.cfg.AdaptiveTokens {
		return c.cfg.MaxTokens
	}
	return min(8000, max(3000, len(user)/2))
}

func (c *Client) do(ctx context.Context, shape, model string, inputLen int, call func(context.Context) (Completion, error)) (Completion, error) {
	rid := common.RequestIDFromContext(ctx)
	start := time.Now()
	c.logger.Info("llm.complete.start",
		"req_id", rid,
		"provider", c.provider.Name(),
		"shape", shape,
		"model", model,
		"input_len", inputLen,
	)

	out, err := call(ctx)
	if err != nil {
		ce := AsCompletionError(c.provider.Name(), err)
		if ctx.Err() != nil && !ce.Timeout {
			ce.Timeout = ctx.Err() == context.DeadlineExceeded
		}
		c.logger.Error("llm.complete.failed",
			"req_id", rid,
			"shape", shape,
			"status", ce.StatusCode,
			"finish_reason", ce.FinishReason,
			"timeout", ce.Timeout,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return Completion{}, ce
	}

	if strings.TrimSpace(out.Content) == "" {
		ce := &CompletionError{
			Provider:     c.provider.Name(),
			StatusCode:   200,
			FinishReason: out.FinishReason,
			Message:      "model returned no content",
		}
		if ce.FinishReason == "" {
			ce.FinishReason = "unknown"
		}
		c.logger.Error("llm.complete.empty",
			"req_id", rid,
			"shape", shape,
			"finish_reason", ce.FinishReason,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return Completion{}, ce
	}

	c.logger.Info("llm.complete.ok",
		"req_id", rid,
		"shape", shape,
		"model", out.Model,
		"finish_reason", out.FinishReason,
		"content_len", len(out.Content),
		"total_tokens", out.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

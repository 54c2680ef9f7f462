// Package vertex is the Gemini model provider on Google Vertex AI.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/labwise/internal/llm"
)

const providerName = "vertex"

// Config for the Vertex client.
type Config struct {
	ProjectID   string
	Region      string
	Temperature float32
}

type generateFunc func(ctx context.Context, m *genai.GenerativeModel, parts ...genai.Part) (*genai.GenerateContentResponse, error)

// Client implements llm.Provider on top of a genai client. A fresh
// GenerativeModel is configured per request so concurrent calls never share
// generation settings.
type Client struct {
	cfg      Config
	base     *genai.Client
	model    func(name string) *genai.GenerativeModel
	generate generateFunc
	logger   *slog.Logger
}

func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("vertex.NewClient: projectID and region cannot be empty")
	}
	base, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return newClient(cfg, base, base.GenerativeModel, defaultGenerate, logger), nil
}

func newClient(cfg Config, base *genai.Client, model func(string) *genai.GenerativeModel, generate generateFunc, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, base: base, model: model, generate: generate, logger: logger}
}

func defaultGenerate(ctx context.Context, m *genai.GenerativeModel, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return m.GenerateContent(ctx, parts...)
}

func (c *Client) Name() string { return providerName }

func (c *Client) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

func (c *Client) CompleteText(ctx context.Context, req llm.Request) (llm.Completion, error) {
	return c.complete(ctx, req, genai.Text(req.User))
}

// CompleteVision attaches the payload as an inline blob. Gemini reads PDFs
// and images the same way.
func (c *Client) CompleteVision(ctx context.Context, req llm.VisionRequest) (llm.Completion, error) {
	data, err := decodeBase64(req.ImageBase64)
	if err != nil {
		return llm.Completion{}, &llm.CompletionError{Provider: providerName, Message: "invalid base64 payload", Err: err}
	}
	return c.complete(ctx, req.Request,
		genai.Blob{MIMEType: req.MIMEType, Data: data},
		genai.Text(req.User),
	)
}

func (c *Client) configure(req llm.Request) *genai.GenerativeModel {
	m := c.model(req.Model)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	m.SetTemperature(c.cfg.Temperature)
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.JSON {
		m.ResponseMIMEType = "application/json"
	}
	return m
}

func (c *Client) complete(ctx context.Context, req llm.Request, parts ...genai.Part) (llm.Completion, error) {
	resp, err := c.generate(ctx, c.configure(req), parts...)
	if err != nil {
		return llm.Completion{}, mapError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		reason := "no_candidates"
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
			reason = "blocked: " + resp.PromptFeedback.BlockReason.String()
		}
		return llm.Completion{}, &llm.CompletionError{
			Provider:     providerName,
			StatusCode:   200,
			FinishReason: reason,
			Message:      "model returned no candidates",
		}
	}

	cand := resp.Candidates[0]
	out := llm.Completion{
		Content:      textFromCandidate(cand),
		FinishReason: finishReason(cand.FinishReason),
		Model:        req.Model,
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	c.logger.Debug("vertex.generate.ok", "model", req.Model, "finish_reason", out.FinishReason)
	return out, nil
}

func textFromCandidate(cand *genai.Candidate) string {
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

// finishReason maps Gemini reasons onto the OpenAI-style vocabulary used in logs.
func finishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent, genai.FinishReasonSpii:
		return "content_filter"
	case genai.FinishReasonRecitation:
		return "recitation"
	case genai.FinishReasonUnspecified:
		return ""
	default:
		return strings.ToLower(r.String())
	}
}

// httpStatus approximates the HTTP status for a gRPC failure.
var httpStatus = map[codes.Code]int{
	codes.InvalidArgument:   400,
	codes.Unauthenticated:   401,
	codes.PermissionDenied:  403,
	codes.NotFound:          404,
	codes.ResourceExhausted: 429,
	codes.Unavailable:       503,
	codes.DeadlineExceeded:  504,
	codes.Internal:          500,
}

func mapError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &llm.CompletionError{
			Provider:     providerName,
			StatusCode:   200,
			FinishReason: "content_filter",
			Message:      blocked.Error(),
		}
	}
	ce := &llm.CompletionError{
		Provider: providerName,
		Timeout:  errors.Is(err, context.DeadlineExceeded),
		Err:      err,
	}
	if st, ok := status.FromError(err); ok {
		ce.StatusCode = httpStatus[st.Code()]
		ce.Message = st.Message()
		if st.Code() == codes.DeadlineExceeded {
			ce.Timeout = true
		}
	}
	return ce
}

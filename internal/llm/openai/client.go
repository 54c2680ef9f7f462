package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/joseph-ayodele/labwise/internal/llm"
)

const providerName = "openai"

func (c *Client) Name() string { return providerName }

// CompleteText implements llm.Provider using chat/completions.
func (c *Client) CompleteText(ctx context.Context, req llm.Request) (llm.Completion, error) {
	messages := []map[string]any{
		{"role": "system", "content": req.System},
		{"role": "user", "content": req.User},
	}
	return c.chat(ctx, req, messages)
}

// CompleteVision sends the payload inline: images as an image_url data URL,
// PDFs as a file part.
func (c *Client) CompleteVision(ctx context.Context, req llm.VisionRequest) (llm.Completion, error) {
	var attachment map[string]any
	if llm.IsPDF(req.MIMEType) {
		attachment = map[string]any{
			"type": "file",
			"file": map[string]any{
				"filename":  "document.pdf",
				"file_data": llm.DataURL("application/pdf", req.ImageBase64),
			},
		}
	} else {
		attachment = map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url":    llm.DataURL(req.MIMEType, req.ImageBase64),
				"detail": "high",
			},
		}
	}
	messages := []map[string]any{
		{"role": "system", "content": req.System},
		{"role": "user", "content": []map[string]any{
			{"type": "text", "text": req.User},
			attachment,
		}},
	}
	return c.chat(ctx, req.Request, messages)
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage llm.Usage `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *Client) chat(ctx context.Context, req llm.Request, messages []map[string]any) (llm.Completion, error) {
	body := map[string]any{
		"model":                 req.Model,
		"temperature":           c.cfg.Temperature,
		"max_completion_tokens": req.MaxTokens,
		"messages":              messages,
	}
	if req.JSON {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	raw, status, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		ce := &llm.CompletionError{Provider: providerName, StatusCode: status, Err: err}
		var se *llm.StatusError
		if errors.As(err, &se) {
			ce.Message = providerMessage(se.Body)
		}
		return llm.Completion{}, ce
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return llm.Completion{}, &llm.CompletionError{
			Provider:   providerName,
			StatusCode: status,
			Message:    "decode response: " + llm.Excerpt(string(raw), 200),
			Err:        err,
		}
	}
	if len(cc.Choices) == 0 {
		msg := providerMessage(raw)
		if msg == "" {
			msg = "no choices in response"
		}
		return llm.Completion{}, &llm.CompletionError{Provider: providerName, StatusCode: status, Message: msg}
	}

	choice := cc.Choices[0]
	if choice.Message.Refusal != "" && strings.TrimSpace(choice.Message.Content) == "" {
		return llm.Completion{}, &llm.CompletionError{
			Provider:     providerName,
			StatusCode:   status,
			FinishReason: "refusal",
			Message:      choice.Message.Refusal,
		}
	}
	return llm.Completion{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        cc.Model,
		Usage:        cc.Usage,
	}, nil
}

func providerMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error.Message == "" {
		return llm.Excerpt(strings.TrimSpace(string(body)), 300)
	}
	return er.Error.Message
}

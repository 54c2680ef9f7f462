package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/llm"
)

type roundTrip func(*http.Request) *http.Response

func (rt roundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newTestClient(fn roundTrip) *Client {
	return NewClient(Config{
		APIKey:     "sk-test",
		BaseURL:    "https://api.test/v1/",
		HTTPClient: &http.Client{Transport: fn},
	}, nil)
}

func decodeBody(t *testing.T, req *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	return body
}

func TestCompleteText(t *testing.T) {
	c := newTestClient(func(req *http.Request) *http.Response {
		assert.Equal(t, "https://api.test/v1/chat/completions", req.URL.String())
		assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))

		body := decodeBody(t, req)
		assert.Equal(t, "gpt-test", body["model"])
		assert.EqualValues(t, 3000, body["max_completion_tokens"])
		assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
		assert.Equal(t, "Glucose 95", msgs[1].(map[string]any)["content"])

		return jsonResponse(200, `{"model":"gpt-test","choices":[{"message":{"content":"{\"summary\":\"ok\"}"},"finish_reason":"stop"}],"usage":{"total_tokens":42}}`)
	})

	out, err := c.CompleteText(context.Background(), llm.Request{System: "sys", User: "Glucose 95", Model: "gpt-test", MaxTokens: 3000, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, out.Content)
	assert.Equal(t, "stop", out.FinishReason)
	assert.Equal(t, 42, out.Usage.TotalTokens)
}

func TestCompleteTextWithoutJSONMode(t *testing.T) {
	c := newTestClient(func(req *http.Request) *http.Response {
		body := decodeBody(t, req)
		_, ok := body["response_format"]
		assert.False(t, ok)
		return jsonResponse(200, `{"choices":[{"message":{"content":"text"},"finish_reason":"stop"}]}`)
	})
	_, err := c.CompleteText(context.Background(), llm.Request{Model: "m"})
	require.NoError(t, err)
}

func TestCompleteVisionImage(t *testing.T) {
	c := newTestClient(func(req *http.Request) *http.Response {
		body := decodeBody(t, req)
		user := body["messages"].([]any)[1].(map[string]any)
		parts := user["content"].([]any)
		require.Len(t, parts, 2)
		img := parts[1].(map[string]any)
		assert.Equal(t, "image_url", img["type"])
		assert.Equal(t, "data:image/png;base64,aGk=", img["image_url"].(map[string]any)["url"])
		return jsonResponse(200, `{"choices":[{"message":{"content":"WBC 6.1"},"finish_reason":"stop"}]}`)
	})

	out, err := c.CompleteVision(context.Background(), llm.VisionRequest{
		Request:     llm.Request{System: "s", User: "transcribe", Model: "gpt-4o"},
		ImageBase64: "aGk=",
		MIMEType:    "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, "WBC 6.1", out.Content)
}

func TestCompleteVisionPDFUsesFilePart(t *testing.T) {
	c := newTestClient(func(req *http.Request) *http.Response {
		body := decodeBody(t, req)
		parts := body["messages"].([]any)[1].(map[string]any)["content"].([]any)
		file := parts[1].(map[string]any)
		assert.Equal(t, "file", file["type"])
		assert.Equal(t, "data:application/pdf;base64,JVBERg==", file["file"].(map[string]any)["file_data"])
		return jsonResponse(200, `{"choices":[{"message":{"content":"text"},"finish_reason":"stop"}]}`)
	})

	_, err := c.CompleteVision(context.Background(), llm.VisionRequest{ImageBase64: "JVBERg==", MIMEType: "application/pdf"})
	require.NoError(t, err)
}

func TestCompleteNon2xx(t *testing.T) {
	c := newTestClient(func(req *http.Request) *http.Response {
		return jsonResponse(429, `{"error":{"message":"Rate limit reached","type":"requests"}}`)
	})

	_, err := c.CompleteText(context.Background(), llm.Request{Model: "m"})
	require.Error(t, err)

	var ce *llm.CompletionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 429, ce.StatusCode)
	assert.Equal(t, "Rate limit reached", ce.Message)
	assert.True(t, errors.Is(err, common.ErrCompletionFailed))
}

func TestCompleteNoChoices(t *testing.T) {
	c := newTestClient(func(req *http.Request) *http.Response {
		return jsonResponse(200, `{"error":{"message":"bad"}}`)
	})
	_, err := c.CompleteText(context.Background(), llm.Request{Model: "m"})

	var ce *llm.CompletionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "bad", ce.Message)
}

func TestCompleteRefusal(t *testing.T) {
	c := newTestClient(func(req *http.Request) *http.Response {
		return jsonResponse(200, `{"choices":[{"message":{"content":"","refusal":"I can't help with that."},"finish_reason":"stop"}]}`)
	})
	_, err := c.CompleteText(context.Background(), llm.Request{Model: "m"})

	var ce *llm.CompletionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "refusal", ce.FinishReason)
	assert.True(t, ce.Declined())
}

func TestCompleteMalformedBody(t *testing.T) {
	c := newTestClient(func(req *http.Request) *http.Response {
		return jsonResponse(200, `<html>gateway</html>`)
	})
	_, err := c.CompleteText(context.Background(), llm.Request{Model: "m"})
	assert.True(t, errors.Is(err, common.ErrCompletionFailed))
}

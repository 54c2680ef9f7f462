package llm

import "context"

// Request is one text completion. System and User are the two prompt parts.
type Request struct {
	System    string
	User      string
	Model     string
	MaxTokens int
	// JSON asks the provider to constrain output to a single JSON object
	// where it supports that.
	JSON bool
}

// VisionRequest carries an inlined base64 payload next to the prompt.
// MIMEType may be an image type or application/pdf.
type VisionRequest struct {
	Request
	ImageBase64 string
	MIMEType    string
}

// Usage is the token accounting reported by the provider, if any.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the raw reply of the model.
type Completion struct {
	Content      string
	FinishReason string
	Model        string
	Usage        Usage
}

// Provider is the external model service. Implementations return
// *CompletionError for provider-side failures.
type Provider interface {
	Name() string
	CompleteText(ctx context.Context, req Request) (Completion, error)
	CompleteVision(ctx context.Context, req VisionRequest) (Completion, error)
}

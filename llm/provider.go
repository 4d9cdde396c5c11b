// Package llm defines the synchronous vision-LLM call surface the analyzer
// uses. Providers take a system prompt plus mixed text/image content and
// return plain text; everything else (schema prompting, JSON parsing,
// fallbacks) lives with the caller.
package llm

import (
	"context"
	"time"
)

// Part is one piece of user content: text, or an inline base64 image.
type Part struct {
	Text     string `json:"text,omitempty"`
	ImageB64 string `json:"image_b64,omitempty"`
	MimeType string `json:"mime_type,omitempty"` // required when ImageB64 is set
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart builds an inline image part.
func ImagePart(b64, mimeType string) Part {
	return Part{ImageB64: b64, MimeType: mimeType}
}

// Request is one vision completion request.
type Request struct {
	System      string        `json:"system,omitempty"`
	Parts       []Part        `json:"parts"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Response is the provider's text output.
type Response struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// HealthStatus reports a provider probe result.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider is a synchronous multimodal completion backend.
type Provider interface {
	// Name returns the provider identifier ("gemini", ...).
	Name() string
	// Complete runs one completion and returns the text response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// HealthCheck probes the provider.
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}

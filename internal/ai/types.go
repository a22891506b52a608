package ai

import "context"

// Request is a single model invocation. Vision calls set ImageBase64;
// plain completions leave it empty. JSONMode asks the backend for a
// JSON-only reply where the API supports it.
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
	ImageBase64  string
	ImageMIME    string
	Temperature  float64
	MaxTokens    int
	JSONMode     bool
}

// Response is the model's reply.
type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Client is a completion backend. Name returns the provider tag the
// API exposes (local, cloud_a, cloud_b).
type Client interface {
	Name() string
	Do(ctx context.Context, req Request) (Response, error)
}

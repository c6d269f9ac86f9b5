// Package provider abstracts the language model behind a single-shot
// text generation contract. The agent protocol is plain text with
// embedded JSON; no function-calling surface is exposed.
package provider

import (
	"context"
)

// Response represents the output from the model.
type Response struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for AI model interactions.
type Provider interface {
	// Generate sends a fully built prompt to the model and returns its
	// raw text answer. Transport or provider failures are returned as
	// errors; retries are the caller's concern.
	Generate(ctx context.Context, prompt string) (*Response, error)

	// Name returns the provider identifier (e.g. "stub", "gemini").
	Name() string
}

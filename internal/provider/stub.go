package provider

import (
	"context"
	"errors"
)

// StubProvider is a scripted provider for testing. Each Generate call
// consumes the next queued response; an exhausted stub answers with a
// canned fallback. Set Err to simulate a provider failure.
type StubProvider struct {
	Responses []string
	Err       error

	Prompts []string // prompts received, for assertions
}

func NewStubProvider(responses ...string) *StubProvider {
	return &StubProvider{Responses: responses}
}

func (m *StubProvider) Generate(ctx context.Context, prompt string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}

	m.Prompts = append(m.Prompts, prompt)

	if len(m.Responses) == 0 {
		return &Response{Text: "I have nothing further to add."}, nil
	}

	text := m.Responses[0]
	m.Responses = m.Responses[1:]
	return &Response{
		Text:  text,
		Usage: Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func (m *StubProvider) Name() string {
	return "stub"
}

// ErrStubFailure is a convenience error for provider-failure tests.
var ErrStubFailure = errors.New("stub provider failure")

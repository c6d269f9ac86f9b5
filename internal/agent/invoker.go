package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/felixgeelhaar/lookout/internal/provider"
)

// InvokeResult is the outcome of one model call. Parsed is nil when
// the model's answer carried no extractable JSON; the raw text then
// stands on its own as a conversational message.
type InvokeResult struct {
	Text   string
	Parsed *ParsedResponse
	Usage  provider.Usage
}

// Invoker wraps a single call to the language model. It does not
// retry: transport and provider failures surface as errors and the
// caller decides what to do with them.
type Invoker struct {
	provider provider.Provider
}

func NewInvoker(p provider.Provider) *Invoker {
	return &Invoker{provider: p}
}

// Invoke sends the prompt and attempts to extract the structured
// response from the raw answer. A parse failure is not an error.
func (inv *Invoker) Invoke(ctx context.Context, prompt string) (*InvokeResult, error) {
	resp, err := inv.provider.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return &InvokeResult{
		Text:   resp.Text,
		Parsed: ExtractResponse(resp.Text),
		Usage:  resp.Usage,
	}, nil
}

// ExtractResponse pulls a structured response out of free-form model
// output. Stage one looks for a fenced code block tagged as JSON;
// stage two tries the entire text as JSON. Returns nil when neither
// stage yields a JSON object.
func ExtractResponse(text string) *ParsedResponse {
	if body, ok := fencedJSON(text); ok {
		if parsed := parseResponse(body); parsed != nil {
			return parsed
		}
	}
	return parseResponse(text)
}

func fencedJSON(text string) (string, bool) {
	const fence = "```json"
	start := strings.Index(text, fence)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func parseResponse(s string) *ParsedResponse {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil
	}
	var parsed ParsedResponse
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil
	}
	return &parsed
}

package synthesize

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/switchboard/internal/llm"
)

// Payload is one successful agent (or fallback) answer fed into synthesis.
type Payload struct {
	AgentID string
	Body    string
}

// Responder adapts the LLM provider into the fallback and synthesis
// collaborators.
type Responder struct {
	Provider llm.Provider
}

func New(provider llm.Provider) *Responder {
	return &Responder{Provider: provider}
}

// Fallback produces a generic answer. It is invoked only when no agent
// produced a usable result.
func (r *Responder) Fallback(ctx context.Context, query string) (string, error) {
	out, err := r.Provider.Complete(ctx, fmt.Sprintf("Answer this query directly and concisely: %s", query))
	if err != nil {
		return "", fmt.Errorf("fallback answer failed: %w", err)
	}
	return out, nil
}

// Synthesize merges the successful payloads into one final answer.
func (r *Responder) Synthesize(ctx context.Context, query, category string, payloads []Payload) (string, error) {
	if len(payloads) == 0 {
		return "", fmt.Errorf("nothing to synthesize")
	}
	var b strings.Builder
	for _, p := range payloads {
		fmt.Fprintf(&b, "Data from %s: %s\n", p.AgentID, p.Body)
	}
	prompt := fmt.Sprintf("Query: %s\nCategory: %s\nContext:\n%s\nSynthesize one final answer from the context.", query, category, b.String())
	out, err := r.Provider.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("synthesis failed: %w", err)
	}
	return out, nil
}

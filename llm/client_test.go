package llm

import (
	"context"
	"testing"
)

// mockAdapter is a test double for ProviderAdapter.
type mockAdapter struct {
	name     string
	response *Response
	err      error
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func newMockAdapter(name, text string) *mockAdapter {
	return &mockAdapter{
		name: name,
		response: &Response{
			ID:       "test_resp",
			Model:    "test-model",
			Provider: name,
			Message: Message{
				Role:    RoleAssistant,
				Content: []ContentPart{TextPart(text)},
			},
			FinishReason: FinishReason{Reason: "stop"},
			Usage:        Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		},
	}
}

func TestClientComplete(t *testing.T) {
	mock := newMockAdapter("test-provider", "Hello!")
	client := NewClient(
		WithProvider("test-provider", mock),
		WithDefaultProvider("test-provider"),
	)

	resp, err := client.Complete(context.Background(), Request{Model: "test-model"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Hello!" {
		t.Errorf("expected %q, got %q", "Hello!", resp.Text())
	}
}

func TestClientSingleProviderBecomesDefault(t *testing.T) {
	mock := newMockAdapter("only", "hi")
	client := NewClient(WithProvider("only", mock))

	resp, err := client.Complete(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "only" {
		t.Errorf("expected provider %q, got %q", "only", resp.Provider)
	}
}

func TestClientUnknownProvider(t *testing.T) {
	client := NewClient(WithProvider("a", newMockAdapter("a", "x")))

	_, err := client.Complete(context.Background(), Request{Provider: "missing"})
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestClientNoProviders(t *testing.T) {
	client := NewClient()
	_, err := client.Complete(context.Background(), Request{})
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestResponseToolCalls(t *testing.T) {
	resp := Response{
		Message: Message{
			Role: RoleAssistant,
			Content: []ContentPart{
				TextPart("running a command"),
				ToolCallPart("call_1", "bash", []byte(`{"command":"ls"}`)),
				ThinkingPart("let me check", ""),
			},
		},
	}

	calls := resp.ToolCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].Name != "bash" || calls[0].ID != "call_1" {
		t.Errorf("unexpected tool call: %+v", calls[0])
	}
	if resp.Thinking() != "let me check" {
		t.Errorf("unexpected thinking: %q", resp.Thinking())
	}
	if resp.Text() != "running a command" {
		t.Errorf("unexpected text: %q", resp.Text())
	}
}

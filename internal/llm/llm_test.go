package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockProvider is a test provider that records calls and returns canned responses.
type MockProvider struct {
	mu       sync.Mutex
	Calls    []CompletionRequest
	Response *CompletionResponse
	Err      error
	ProvName string
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		ProvName: name,
		Response: &CompletionResponse{
			Content:      "mock response",
			InputTokens:  10,
			OutputTokens: 20,
			Model:        "mock-model",
			FinishReason: "stop",
		},
	}
}

func (m *MockProvider) Name() string {
	return m.ProvName
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// --- Tests ---

func TestFactoryReturnsErrorForMissingAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")

	for _, p := range SupportedProviders() {
		if _, err := NewProvider(p, "some-model", ""); err == nil {
			t.Errorf("expected error for provider %q with missing API key", p)
		}
	}
}

func TestFactoryReturnsErrorForUnknownProvider(t *testing.T) {
	if _, err := NewProvider("unknown", "some-model", "key"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestFactoryUsesExplicitKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	provider, err := NewProvider("openai", "gpt-4o-mini", "sk-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.Name() != "openai" {
		t.Errorf("expected name 'openai', got %q", provider.Name())
	}
}

func TestFactoryFallsBackToEnv(t *testing.T) {
	tests := []struct {
		provider string
		env      string
	}{
		{"anthropic", "ANTHROPIC_API_KEY"},
		{"openai", "OPENAI_API_KEY"},
		{"openrouter", "OPENROUTER_API_KEY"},
	}
	for _, tt := range tests {
		t.Setenv(tt.env, "test-key")
		provider, err := NewProvider(tt.provider, "m", "")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.provider, err)
		}
		if provider.Name() != tt.provider {
			t.Errorf("expected name %q, got %q", tt.provider, provider.Name())
		}
		if APIKeyEnv(tt.provider) != tt.env {
			t.Errorf("APIKeyEnv(%q) = %q", tt.provider, APIKeyEnv(tt.provider))
		}
	}
}

func TestRateLimiterPassesThrough(t *testing.T) {
	mock := NewMockProvider("test")
	rl := NewRateLimitedProvider(mock, 60)

	resp, err := rl.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "mock response" {
		t.Errorf("expected 'mock response', got %q", resp.Content)
	}
	if rl.Name() != "test" {
		t.Errorf("expected name 'test', got %q", rl.Name())
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	mock := NewMockProvider("test")
	if got := NewRateLimitedProvider(mock, 0); got != Provider(mock) {
		t.Errorf("expected unwrapped provider for rpm=0, got %T", got)
	}
}

func TestRateLimiterLimitsRequests(t *testing.T) {
	mock := NewMockProvider("test")
	// Allow only 2 requests per minute.
	rl := NewRateLimitedProvider(mock, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	req := CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hello"}}}
	for i := 0; i < 2; i++ {
		if _, err := rl.Complete(ctx, req); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}

	// Third should block and eventually fail due to context timeout.
	if _, err := rl.Complete(ctx, req); err == nil {
		t.Error("expected error due to rate limiting + context timeout")
	}
	if mock.CallCount() != 2 {
		t.Errorf("expected 2 calls to reach the provider, got %d", mock.CallCount())
	}
}

func TestEstimateCost(t *testing.T) {
	// gpt-4o-mini: $0.15/1M input, $0.60/1M output
	cost := EstimateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	if cost < 0.74 || cost > 0.76 {
		t.Errorf("expected cost ~$0.75, got $%.4f", cost)
	}
	if EstimateCost("unknown-model", 1000, 500) != 0 {
		t.Error("expected 0 for unknown model")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hi", 1},
		{"hello world!!", 3},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestAnthropicToolRoundTrip(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"model": "claude-haiku-4-5-20251001",
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 42, "output_tokens": 7},
			"content": [
				{"type": "text", "text": "Sure."},
				{"type": "tool_use", "id": "tu_2", "name": "end_call", "input": {}}
			]
		}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("key", "claude-haiku-4-5-20251001")
	p.url = srv.URL

	resp, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "I want a cleaning"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{
				{ID: "tu_1", Name: "set_intent", Arguments: json.RawMessage(`{"intent":"book_appointment"}`)},
			}},
			{Role: RoleTool, ToolCallID: "tu_1", Content: `{"status":"ok"}`},
		},
		Tools: []ToolDefinition{{
			Name:       "end_call",
			Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
		}},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if captured.System != "be brief" {
		t.Errorf("system = %q", captured.System)
	}
	if len(captured.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(captured.Messages))
	}
	if b := captured.Messages[1].Content[0]; b.Type != "tool_use" || b.ID != "tu_1" {
		t.Errorf("assistant block = %+v", b)
	}
	if b := captured.Messages[2].Content[0]; b.Type != "tool_result" || b.ToolUseID != "tu_1" {
		t.Errorf("tool result block = %+v", b)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Name != "end_call" {
		t.Errorf("tools = %+v", captured.Tools)
	}

	if resp.Content != "Sure." {
		t.Errorf("Content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "end_call" {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 7 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestAnthropicAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error": {"type": "rate_limit_error", "message": "slow down"}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("key", "m")
	p.url = srv.URL
	if _, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAIMessagesCarryToolCalls(t *testing.T) {
	msgs := toOpenAIMessages([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "set_intent", Arguments: json.RawMessage(`{"intent":"take_message"}`)}}},
		{Role: RoleTool, ToolCallID: "c1", Content: `{"status":"ok"}`},
	})
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].Function.Name != "set_intent" {
		t.Errorf("tool calls = %+v", msgs[0].ToolCalls)
	}
	if msgs[1].Role != "tool" || msgs[1].ToolCallID != "c1" {
		t.Errorf("tool message = %+v", msgs[1])
	}
}

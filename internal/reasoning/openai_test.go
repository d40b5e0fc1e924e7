package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/resilience"
	"github.com/aristath/autopilot/internal/tools"
)

// fakeEndpoint records chat requests and replies with scripted handlers.
type fakeEndpoint struct {
	mu       sync.Mutex
	requests []chatRequest
	replies  []func(w http.ResponseWriter)
}

func (f *fakeEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/models" {
		io.WriteString(w, `{"data":[{"id":"zeta"},{"id":"alpha"}]}`)
		return
	}

	var req chatRequest
	json.NewDecoder(r.Body).Decode(&req)
	f.requests = append(f.requests, req)

	idx := len(f.requests) - 1
	if idx >= len(f.replies) {
		http.Error(w, "no reply scripted", http.StatusInternalServerError)
		return
	}
	f.replies[idx](w)
}

func replyJSON(body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}
}

func replyStatus(code int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		http.Error(w, body, code)
	}
}

func newTestClient(t *testing.T, endpoint *fakeEndpoint) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(endpoint)
	t.Cleanup(srv.Close)

	client, err := NewOpenAI(OpenAIConfig{APIKey: "test-key", Model: "test-model", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	return client
}

func TestNewOpenAIRequiresKeyAndModel(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{Model: "m"}); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := NewOpenAI(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Error("expected error without model")
	}
}

func TestPlanDecodesToolCalls(t *testing.T) {
	endpoint := &fakeEndpoint{replies: []func(http.ResponseWriter){
		replyJSON(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call-1","type":"function","function":{"name":"navigate","arguments":"{\"url\":\"https://example.com\"}"}},
			{"id":"call-2","type":"function","function":{"name":"click","arguments":"not json"}}
		]}}]}`),
	}}
	client := newTestClient(t, endpoint)

	transcript := []conversation.Turn{
		conversation.SystemTurn("sys"),
		conversation.UserTurn("open example.com"),
	}
	descriptors := []tools.Descriptor{{Name: "navigate", Description: "go", Schema: map[string]any{"type": "object"}}}

	turn, err := client.Plan(context.Background(), transcript, descriptors)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if turn.Role != conversation.RoleAssistant || len(turn.ToolCalls) != 2 {
		t.Fatalf("turn = %+v", turn)
	}
	if got := turn.ToolCalls[0].Arguments["url"]; got != "https://example.com" {
		t.Errorf("url argument = %v", got)
	}
	bad := turn.ToolCalls[1]
	if bad.Arguments != nil || bad.RawArguments != "not json" || bad.DecodeError == "" {
		t.Errorf("undecodable arguments not preserved: %+v", bad)
	}

	req := endpoint.requests[0]
	if req.Model != "test-model" || req.ToolChoice != "auto" {
		t.Errorf("request model=%q tool_choice=%q", req.Model, req.ToolChoice)
	}
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "navigate" {
		t.Errorf("tools not forwarded: %+v", req.Tools)
	}
}

func TestToChatMessagesOrphanToolResult(t *testing.T) {
	turns := []conversation.Turn{
		{Role: conversation.RoleSystem, Content: "earlier stuff", Summary: true},
		conversation.ToolTurn(conversation.ToolResult{CallID: "gone", Name: "read", Success: true, Payload: "page"}),
		conversation.AssistantTurn("", []conversation.ToolCall{{ID: "c1", Name: "read"}}),
		conversation.ToolTurn(conversation.ToolResult{CallID: "c1", Name: "read", Success: true, Payload: "text"}),
	}
	msgs := toChatMessages(turns)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if !strings.HasPrefix(msgs[0].Content, "Summary of the earlier conversation") {
		t.Errorf("summary message = %q", msgs[0].Content)
	}
	if msgs[1].Role != "user" {
		t.Errorf("orphan tool result role = %q, want user", msgs[1].Role)
	}
	if msgs[3].Role != "tool" || msgs[3].ToolCallID != "c1" {
		t.Errorf("tool message = %+v", msgs[3])
	}
	if msgs[2].ToolCalls[0].Function.Arguments != "{}" {
		t.Errorf("empty arguments encoded as %q", msgs[2].ToolCalls[0].Function.Arguments)
	}
}

func TestCompleteFallsBackWithoutJSONFormat(t *testing.T) {
	endpoint := &fakeEndpoint{replies: []func(http.ResponseWriter){
		replyStatus(http.StatusBadRequest, "response_format not supported"),
		replyJSON(`{"choices":[{"message":{"role":"assistant","content":"{\"status\":\"complete\"}"}}]}`),
	}}
	client := newTestClient(t, endpoint)

	text, err := client.Complete(context.Background(), CompletionRequest{Prompt: "evaluate", JSON: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != `{"status":"complete"}` {
		t.Errorf("text = %q", text)
	}
	if endpoint.requests[0].ResponseFormat == nil || endpoint.requests[1].ResponseFormat != nil {
		t.Errorf("expected json format then plain retry")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		kind      ErrorKind
		transient bool
	}{
		{http.StatusUnauthorized, KindAuth, false},
		{http.StatusTooManyRequests, KindRateLimit, true},
		{http.StatusBadGateway, KindServer, true},
		{http.StatusNotFound, KindBadRequest, false},
	}
	for _, tt := range tests {
		endpoint := &fakeEndpoint{replies: []func(http.ResponseWriter){replyStatus(tt.status, "nope")}}
		client := newTestClient(t, endpoint)

		_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "x"})
		var re *Error
		if !errors.As(err, &re) {
			t.Fatalf("status %d: error %v is not *Error", tt.status, err)
		}
		if re.Kind != tt.kind || re.StatusCode != tt.status {
			t.Errorf("status %d: kind=%s code=%d", tt.status, re.Kind, re.StatusCode)
		}
		if IsTransient(err) != tt.transient {
			t.Errorf("status %d: IsTransient = %v", tt.status, IsTransient(err))
		}
	}
}

func TestProtocolErrorOnGarbage(t *testing.T) {
	endpoint := &fakeEndpoint{replies: []func(http.ResponseWriter){replyJSON(`<html>`)}}
	client := newTestClient(t, endpoint)

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	if KindOf(err) != KindProtocol {
		t.Errorf("kind = %q, want protocol", KindOf(err))
	}
}

func TestListModelsAndSwitch(t *testing.T) {
	client := newTestClient(t, &fakeEndpoint{})

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0] != "alpha" {
		t.Errorf("models = %v", models)
	}

	client.SetModel("alpha")
	if client.Model() != "alpha" {
		t.Errorf("Model = %q", client.Model())
	}
	client.SetModel("  ")
	if client.Model() != "alpha" {
		t.Error("blank SetModel changed the model")
	}
}

func TestResilientRetriesTransient(t *testing.T) {
	endpoint := &fakeEndpoint{replies: []func(http.ResponseWriter){
		replyStatus(http.StatusServiceUnavailable, "busy"),
		replyJSON(`{"choices":[{"message":{"role":"assistant","content":"done"}}]}`),
	}}
	client := newTestClient(t, endpoint)
	retry := resilience.RetryConfig{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
		Multiplier:      2,
	}
	svc := NewResilient(client, nil, retry)

	turn, err := svc.Plan(context.Background(), []conversation.Turn{conversation.UserTurn("hi")}, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if turn.Content != "done" {
		t.Errorf("content = %q", turn.Content)
	}
	if len(endpoint.requests) != 2 {
		t.Errorf("requests = %d, want 2", len(endpoint.requests))
	}

	if sw, ok := SwitcherOf(svc); !ok || sw.Model() != "test-model" {
		t.Error("SwitcherOf did not find the wrapped client")
	}
}

func TestResilientDoesNotRetryAuth(t *testing.T) {
	endpoint := &fakeEndpoint{replies: []func(http.ResponseWriter){
		replyStatus(http.StatusUnauthorized, "bad key"),
		replyJSON(`{"choices":[{"message":{"role":"assistant","content":"unreachable"}}]}`),
	}}
	svc := NewResilient(newTestClient(t, endpoint), nil, resilience.RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1})

	_, err := svc.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	if KindOf(err) != KindAuth {
		t.Fatalf("err = %v, want auth", err)
	}
	if len(endpoint.requests) != 1 {
		t.Errorf("requests = %d, want 1", len(endpoint.requests))
	}
}

type cannedService struct {
	text string
	err  error
	got  CompletionRequest
}

func (c *cannedService) Plan(ctx context.Context, transcript []conversation.Turn, available []tools.Descriptor) (conversation.Turn, error) {
	return conversation.Turn{}, errors.New("not used")
}

func (c *cannedService) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	c.got = req
	return c.text, c.err
}

func TestSummarizer(t *testing.T) {
	svc := &cannedService{text: "  visited two pages  "}
	sum := Summarizer{Service: svc, TargetWords: 100}

	text, err := sum.Summarize(context.Background(), []conversation.Turn{conversation.UserTurn("find the weather")})
	if err != nil {
		t.Fatal(err)
	}
	if text != "visited two pages" {
		t.Errorf("summary = %q", text)
	}
	if !strings.Contains(svc.got.Prompt, "USER: find the weather") || !strings.Contains(svc.got.Prompt, "100 words") {
		t.Errorf("prompt = %q", svc.got.Prompt)
	}

	svc.text = "   "
	if _, err := sum.Summarize(context.Background(), nil); KindOf(err) != KindProtocol {
		t.Errorf("empty summary err = %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	c, err := NewProvider("openrouter", OpenAIConfig{APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if c.baseURL != openRouterBaseURL {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if _, err := NewProvider("acme", OpenAIConfig{APIKey: "k", Model: "m"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

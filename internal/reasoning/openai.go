package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/tools"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 120 * time.Second
	maxBodyBytes   = 4 << 20
)

// OpenAIConfig configures an OpenAI-compatible client. OpenRouter and
// other compatible gateways only differ by BaseURL and Headers.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature *float64
	Timeout     time.Duration
	Headers     map[string]string
	HTTPClient  *http.Client
}

// OpenAI talks to a chat-completions endpoint.
type OpenAI struct {
	apiKey      string
	baseURL     string
	temperature *float64
	headers     map[string]string
	httpClient  *http.Client

	mu    sync.RWMutex
	model string
}

var (
	_ Service       = (*OpenAI)(nil)
	_ ModelSwitcher = (*OpenAI)(nil)
)

// NewOpenAI validates cfg and builds a client.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("new openai client: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("new openai client: model is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &OpenAI{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		temperature: cfg.Temperature,
		headers:     cfg.Headers,
		httpClient:  httpClient,
		model:       model,
	}, nil
}

// Model returns the active model name.
func (c *OpenAI) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// SetModel switches the model used by subsequent requests.
func (c *OpenAI) SetModel(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	c.mu.Lock()
	c.model = name
	c.mu.Unlock()
}

// ListModels returns the model ids offered by the endpoint, sorted.
func (c *OpenAI) ListModels(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Kind: KindProtocol, Err: fmt.Errorf("decode model list: %w", err)}
	}

	ids := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Plan sends the transcript with the tool set and returns the assistant turn.
func (c *OpenAI) Plan(ctx context.Context, transcript []conversation.Turn, available []tools.Descriptor) (conversation.Turn, error) {
	req := chatRequest{
		Model:       c.Model(),
		Messages:    toChatMessages(transcript),
		Tools:       toChatTools(available),
		Temperature: c.temperature,
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}

	msg, err := c.chat(ctx, req)
	if err != nil {
		return conversation.Turn{}, err
	}
	return toAssistantTurn(msg), nil
}

// Complete sends a single prompt. When a JSON response is requested and
// the endpoint rejects response_format, the prompt is retried once as
// plain text.
func (c *OpenAI) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload := chatRequest{
		Model:       c.Model(),
		Messages:    messages,
		Temperature: c.temperature,
	}
	if req.JSON {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	msg, err := c.chat(ctx, payload)
	if err != nil && req.JSON && KindOf(err) == KindBadRequest {
		payload.ResponseFormat = nil
		msg, err = c.chat(ctx, payload)
	}
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

func (c *OpenAI) chat(ctx context.Context, req chatRequest) (chatMessage, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return chatMessage{}, &Error{Kind: KindBadRequest, Err: fmt.Errorf("encode request: %w", err)}
	}

	body, err := c.do(ctx, http.MethodPost, "/chat/completions", encoded)
	if err != nil {
		return chatMessage{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return chatMessage{}, &Error{Kind: KindProtocol, Err: fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Error != nil {
		return chatMessage{}, &Error{Kind: KindServer, Err: errors.New(parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return chatMessage{}, &Error{Kind: KindProtocol, Err: errors.New("response has no choices")}
	}
	return parsed.Choices[0].Message, nil
}

func (c *OpenAI) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Kind: KindBadRequest, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		kind := KindTransport
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: KindTransport, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &Error{
			Kind:       statusKind(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}
	return body, nil
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Tools          []chatTool      `json:"tools,omitempty"`
	ToolChoice     string          `json:"tool_choice,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type chatToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function chatToolCallFunction `json:"function"`
}

type chatToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func toChatTools(descriptors []tools.Descriptor) []chatTool {
	out := make([]chatTool, 0, len(descriptors))
	for _, d := range descriptors {
		params := d.Schema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// toChatMessages converts turns to provider messages. A tool turn whose
// call is not in the transcript (its assistant turn was compacted away) is
// sent as a user message, since providers reject unmatched tool_call_ids.
func toChatMessages(turns []conversation.Turn) []chatMessage {
	out := make([]chatMessage, 0, len(turns))
	seenCalls := make(map[string]struct{})

	for _, t := range turns {
		switch t.Role {
		case conversation.RoleSystem:
			content := t.Content
			if t.Summary {
				content = "Summary of the earlier conversation:\n" + content
			}
			out = append(out, chatMessage{Role: "system", Content: content})
		case conversation.RoleUser:
			out = append(out, chatMessage{Role: "user", Content: t.Content})
		case conversation.RoleAssistant:
			msg := chatMessage{Role: "assistant", Content: t.Content}
			for _, call := range t.ToolCalls {
				seenCalls[call.ID] = struct{}{}
				msg.ToolCalls = append(msg.ToolCalls, chatToolCall{
					ID:   call.ID,
					Type: "function",
					Function: chatToolCallFunction{
						Name:      call.Name,
						Arguments: encodeArguments(call),
					},
				})
			}
			out = append(out, msg)
		case conversation.RoleTool:
			if t.Result == nil {
				continue
			}
			if _, ok := seenCalls[t.Result.CallID]; !ok {
				out = append(out, chatMessage{
					Role:    "user",
					Content: fmt.Sprintf("Result of tool %s: %s", t.Result.Name, t.Content),
				})
				continue
			}
			out = append(out, chatMessage{Role: "tool", ToolCallID: t.Result.CallID, Content: t.Content})
		}
	}
	return out
}

func encodeArguments(call conversation.ToolCall) string {
	if call.Arguments == nil && call.RawArguments != "" {
		return call.RawArguments
	}
	if len(call.Arguments) == 0 {
		return "{}"
	}
	encoded, err := json.Marshal(call.Arguments)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// toAssistantTurn decodes the provider message. Tool-call arguments that
// are not a JSON object are kept raw with the decode error so the
// dispatcher can reject them as invalid arguments.
func toAssistantTurn(msg chatMessage) conversation.Turn {
	calls := make([]conversation.ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		call := conversation.ToolCall{ID: tc.ID, Name: tc.Function.Name}
		raw := strings.TrimSpace(tc.Function.Arguments)
		if raw == "" {
			call.Arguments = map[string]any{}
		} else {
			var args map[string]any
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				call.RawArguments = raw
				call.DecodeError = err.Error()
			} else {
				if args == nil {
					args = map[string]any{}
				}
				call.Arguments = args
			}
		}
		calls = append(calls, call)
	}
	if len(calls) == 0 {
		calls = nil
	}
	return conversation.AssistantTurn(msg.Content, calls)
}

// Package reasoning defines the language-model service the engine plans
// with, and an OpenAI-compatible chat-completions implementation of it.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/tools"
)

// Service is the reasoning-service interface consumed by the engine.
type Service interface {
	// Plan returns one assistant turn for the transcript. The turn may
	// request zero or more tool calls.
	Plan(ctx context.Context, transcript []conversation.Turn, available []tools.Descriptor) (conversation.Turn, error)

	// Complete runs a single constrained prompt (evaluation, summarization)
	// and returns the raw text answer.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is a one-shot prompt without tools.
type CompletionRequest struct {
	System string
	Prompt string
	JSON   bool // Ask for a JSON object response
}

// ModelSwitcher is implemented by services that can list and change models.
type ModelSwitcher interface {
	Model() string
	SetModel(name string)
	ListModels(ctx context.Context) ([]string, error)
}

// ErrorKind classifies a reasoning-service failure.
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindRateLimit  ErrorKind = "rate_limit"
	KindTransport  ErrorKind = "transport"
	KindTimeout    ErrorKind = "timeout"
	KindServer     ErrorKind = "server"
	KindProtocol   ErrorKind = "protocol"
	KindBadRequest ErrorKind = "bad_request"
)

// Error is the typed failure returned by Service implementations.
type Error struct {
	Kind       ErrorKind
	StatusCode int // HTTP status, 0 when no response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("reasoning %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("reasoning %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind, or "" when err is not a *Error.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsTransient reports whether a reasoning failure is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindRateLimit, KindTransport, KindTimeout, KindServer:
		return true
	case "":
		var netErr net.Error
		return errors.As(err, &netErr)
	default:
		return false
	}
}

func statusKind(code int) ErrorKind {
	switch {
	case code == 401 || code == 403:
		return KindAuth
	case code == 408:
		return KindTimeout
	case code == 429:
		return KindRateLimit
	case code >= 500:
		return KindServer
	default:
		return KindBadRequest
	}
}

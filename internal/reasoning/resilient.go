package reasoning

import (
	"context"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/resilience"
	"github.com/aristath/autopilot/internal/tools"
)

// Resilient retries transient failures of the wrapped service behind a
// circuit breaker. Non-transient failures are returned immediately.
type Resilient struct {
	inner Service
	cb    *gobreaker.CircuitBreaker
	retry resilience.RetryConfig
}

var _ Service = (*Resilient)(nil)

// NewResilient wraps inner. cb may be nil; unset retry fields take the
// resilience defaults.
func NewResilient(inner Service, cb *gobreaker.CircuitBreaker, retry resilience.RetryConfig) *Resilient {
	return &Resilient{inner: inner, cb: cb, retry: retry.WithDefaults()}
}

// Inner returns the wrapped service.
func (r *Resilient) Inner() Service {
	return r.inner
}

func (r *Resilient) Plan(ctx context.Context, transcript []conversation.Turn, available []tools.Descriptor) (conversation.Turn, error) {
	turn, _, err := resilience.Retry(ctx, r.cb, r.retry, IsTransient, func(ctx context.Context) (conversation.Turn, error) {
		return r.inner.Plan(ctx, transcript, available)
	})
	return turn, r.wrapOpen(err)
}

func (r *Resilient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	text, _, err := resilience.Retry(ctx, r.cb, r.retry, IsTransient, func(ctx context.Context) (string, error) {
		return r.inner.Complete(ctx, req)
	})
	return text, r.wrapOpen(err)
}

// wrapOpen reports an open breaker as a transient server failure so callers
// see a typed error.
func (r *Resilient) wrapOpen(err error) error {
	if err != nil && resilience.IsCircuitOpen(err) {
		return &Error{Kind: KindServer, Err: err}
	}
	return err
}

// SwitcherOf finds a ModelSwitcher behind any number of Resilient wrappers.
func SwitcherOf(s Service) (ModelSwitcher, bool) {
	for s != nil {
		if sw, ok := s.(ModelSwitcher); ok {
			return sw, true
		}
		r, ok := s.(*Resilient)
		if !ok {
			return nil, false
		}
		s = r.inner
	}
	return nil, false
}

// Summarizer collapses dropped conversation turns through a Service.
type Summarizer struct {
	Service     Service
	TargetWords int
}

var _ conversation.Summarizer = Summarizer{}

func (s Summarizer) Summarize(ctx context.Context, turns []conversation.Turn) (string, error) {
	target := s.TargetWords
	if target <= 0 {
		target = 5000
	}
	prompt := fmt.Sprintf(`Summarize the following part of an automation session in at most %d words.
Keep every fact needed to continue the task: pages visited, data found, actions
that failed and why, and what remained to be done. Do not add commentary.

CONVERSATION:
%s`, target, conversation.Transcript(turns))

	text, err := s.Service.Complete(ctx, CompletionRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &Error{Kind: KindProtocol, Err: fmt.Errorf("empty summary")}
	}
	return text, nil
}

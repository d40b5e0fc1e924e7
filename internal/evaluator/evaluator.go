// Package evaluator asks the reasoning service whether a task is done and
// turns its answer into a Verdict. Malformed answers never fail a task:
// parsing is strict first, then heuristic, then a fixed default.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/reasoning"
)

// Status is the evaluator's judgment of a task.
type Status string

const (
	StatusContinue Status = "continue"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Source records how a verdict was obtained.
type Source string

const (
	SourceStructured Source = "structured"
	SourceHeuristic  Source = "heuristic"
	SourceDefault    Source = "default"
)

// DefaultRationale is the rationale of the verdict returned when no
// attempt could be parsed.
const DefaultRationale = "evaluation parse failure"

// Verdict is the structured completion judgment for one iteration.
type Verdict struct {
	Status        Status
	Rationale     string
	Confidence    *float64
	Accomplished  string
	Progress      int // 0-100, -1 when unknown
	NextStep      string
	SuggestedTool string
	Source        Source
	Attempts      int
}

// Degraded reports whether the verdict is the fixed fallback.
func (v Verdict) Degraded() bool {
	return v.Source == SourceDefault
}

// Terminal reports whether the verdict ends the task.
func (v Verdict) Terminal() bool {
	return v.Status == StatusComplete || v.Status == StatusFailed
}

// Options configures an Evaluator.
type Options struct {
	Attempts   int // Evaluation calls before falling back (default 3)
	Logger     *slog.Logger
	OnDegraded func(reason string) // Called when the default verdict is used
}

// Evaluator produces verdicts through a reasoning service.
type Evaluator struct {
	service    reasoning.Service
	attempts   int
	logger     *slog.Logger
	onDegraded func(string)
}

// New creates an evaluator.
func New(service reasoning.Service, opts Options) *Evaluator {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		service:    service,
		attempts:   opts.Attempts,
		logger:     logger,
		onDegraded: opts.OnDegraded,
	}
}

// Evaluate judges progress on goal given the conversation so far.
//
// A reply that cannot be parsed is retried up to the attempt budget, and
// transient service failures count against the same budget. Context
// errors and non-transient service errors are returned as errors.
func (e *Evaluator) Evaluate(ctx context.Context, goal string, snapshot []conversation.Turn, toolNames []string) (Verdict, error) {
	req := reasoning.CompletionRequest{
		System: systemPrompt,
		Prompt: buildPrompt(goal, snapshot, toolNames),
		JSON:   true,
	}

	var lastProblem string
	for attempt := 1; attempt <= e.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Verdict{}, err
		}

		reply, err := e.service.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return Verdict{}, ctx.Err()
			}
			if !reasoning.IsTransient(err) && reasoning.KindOf(err) != reasoning.KindProtocol {
				return Verdict{}, fmt.Errorf("evaluate progress: %w", err)
			}
			lastProblem = err.Error()
			e.logger.Debug("evaluation call failed", "attempt", attempt, "error", err)
			continue
		}

		if v, ok := Parse(reply); ok {
			v.Attempts = attempt
			if v.Source == SourceHeuristic {
				e.logger.Info("evaluation parsed heuristically", "attempt", attempt, "status", v.Status)
			}
			return v, nil
		}
		lastProblem = "unparseable reply: " + clip(reply, 120)
		e.logger.Debug("evaluation reply not parseable", "attempt", attempt, "reply", clip(reply, 200))
	}

	e.logger.Warn("evaluation fell back to default verdict",
		"attempts", e.attempts, "last_problem", lastProblem, "degraded", true)
	if e.onDegraded != nil {
		e.onDegraded(fmt.Sprintf("evaluation failed %d times: %s", e.attempts, lastProblem))
	}
	return Verdict{
		Status:    StatusContinue,
		Rationale: DefaultRationale,
		Progress:  -1,
		Source:    SourceDefault,
		Attempts:  e.attempts,
	}, nil
}

// payload is the structured verdict shape. Both the status form and the
// is_complete form are accepted.
type payload struct {
	Status             *string         `json:"status"`
	IsComplete         *bool           `json:"is_complete"`
	Rationale          string          `json:"rationale"`
	Reasoning          string          `json:"reasoning"`
	Confidence         *float64        `json:"confidence"`
	Accomplished       string          `json:"accomplished"`
	Progress           json.RawMessage `json:"progress"`
	ProgressPercentage json.RawMessage `json:"progress_percentage"`
	NextStep           string          `json:"next_step"`
	SuggestedTool      *string         `json:"suggested_tool"`
}

// Parse converts a reply into a verdict. It reports false when neither the
// structured nor the heuristic pass finds a usable judgment.
func Parse(reply string) (Verdict, bool) {
	text := stripFences(reply)
	if text == "" {
		return Verdict{}, false
	}
	if v, ok := parseStructured(text); ok {
		return v, true
	}
	return parseHeuristic(text)
}

func parseStructured(text string) (Verdict, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Verdict{}, false
	}

	var p payload
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return Verdict{}, false
	}

	v := Verdict{
		Rationale:    firstNonEmpty(p.Rationale, p.Reasoning),
		Accomplished: p.Accomplished,
		NextStep:     p.NextStep,
		Progress:     -1,
		Source:       SourceStructured,
	}
	switch {
	case p.Status != nil:
		status, ok := normalizeStatus(*p.Status)
		if !ok {
			return Verdict{}, false
		}
		v.Status = status
	case p.IsComplete != nil:
		v.Status = StatusContinue
		if *p.IsComplete {
			v.Status = StatusComplete
		}
	default:
		return Verdict{}, false
	}

	if p.Confidence != nil {
		c := clampFloat(*p.Confidence, 0, 1)
		v.Confidence = &c
	}
	if n, ok := progressValue(p.Progress); ok {
		v.Progress = n
	} else if n, ok := progressValue(p.ProgressPercentage); ok {
		v.Progress = n
	}
	if p.SuggestedTool != nil && *p.SuggestedTool != "null" {
		v.SuggestedTool = *p.SuggestedTool
	}
	return v, true
}

func normalizeStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "continue", "in_progress", "in progress", "incomplete", "running":
		return StatusContinue, true
	case "complete", "completed", "done", "success", "succeeded":
		return StatusComplete, true
	case "failed", "fail", "failure", "error", "impossible":
		return StatusFailed, true
	}
	return "", false
}

// progressValue accepts 40, 40.5, "40" or "40%".
func progressValue(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return clampInt(int(f), 0, 100), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%")))
	if err != nil {
		return 0, false
	}
	return clampInt(n, 0, 100), true
}

var (
	percentPattern = regexp.MustCompile(`(\d{1,3})\s*%`)
	wordPattern    = regexp.MustCompile(`[a-z']+`)

	// Fields of a reply whose JSON did not parse, usually because it was cut off.
	statusField     = regexp.MustCompile(`"status"\s*:\s*"([^"]*)"`)
	isCompleteField = regexp.MustCompile(`"is_complete"\s*:\s*(true|false)`)
	rationaleField  = regexp.MustCompile(`"(?:rationale|reasoning)"\s*:\s*"((?:[^"\\]|\\.)*)"?`)
	progressField   = regexp.MustCompile(`"progress(?:_percentage)?"\s*:\s*"?(\d{1,3})`)

	completeWords = map[string]bool{"complete": true, "completed": true, "done": true, "finished": true}
	failedWords   = map[string]bool{"failed": true, "failure": true, "impossible": true, "unachievable": true}
	negations     = map[string]bool{"not": true, "no": true, "never": true, "isn't": true, "wasn't": true, "hasn't": true, "yet": true, "cannot": true, "can't": true}
)

// parseHeuristic recovers a verdict from text that is not valid JSON. A
// status the reply states explicitly wins; otherwise it scans for
// completion or failure keywords that are not negated, and for a
// percentage figure. A reply that reports both completion and failure is
// ambiguous and yields no verdict.
func parseHeuristic(text string) (Verdict, bool) {
	lower := strings.ToLower(text)

	progress := -1
	if m := progressField.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		progress = clampInt(n, 0, 100)
	} else if m := percentPattern.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		progress = clampInt(n, 0, 100)
	}

	v := Verdict{
		Accomplished: clip(text, 100),
		Progress:     progress,
		Source:       SourceHeuristic,
	}

	if status, ok := statedStatus(lower); ok {
		v.Status = status
		v.Rationale = "reply states " + string(status)
		if m := rationaleField.FindStringSubmatch(text); m != nil && m[1] != "" {
			v.Rationale = clip(m[1], 200)
		}
		if status == StatusComplete && progress < 0 {
			v.Progress = 100
		}
		return v, true
	}

	var complete, failed bool
	words := wordPattern.FindAllString(lower, -1)
	for i, w := range words {
		if !completeWords[w] && !failedWords[w] {
			continue
		}
		if negated(words, i) {
			continue
		}
		if failedWords[w] {
			failed = true
		} else {
			complete = true
		}
	}

	switch {
	case complete && failed:
		return Verdict{}, false
	case failed:
		v.Status = StatusFailed
		v.Rationale = "reply reports failure"
	case complete:
		v.Status = StatusComplete
		v.Rationale = "reply reports completion"
		v.Progress = 100
	case progress >= 0:
		v.Status = StatusContinue
		v.Rationale = fmt.Sprintf("reply reports %d%% progress", progress)
	default:
		return Verdict{}, false
	}
	return v, true
}

// statedStatus extracts a status or is_complete field from partial JSON.
func statedStatus(lower string) (Status, bool) {
	if m := statusField.FindStringSubmatch(lower); m != nil {
		if status, ok := normalizeStatus(m[1]); ok {
			return status, true
		}
	}
	if m := isCompleteField.FindStringSubmatch(lower); m != nil {
		if m[1] == "true" {
			return StatusComplete, true
		}
		return StatusContinue, true
	}
	return "", false
}

// negated reports whether one of the two words before words[i] negates it.
func negated(words []string, i int) bool {
	for j := i - 1; j >= 0 && j >= i-2; j-- {
		if negations[words[j]] {
			return true
		}
	}
	return false
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // language tag
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func clampInt(n, lo, hi int) int {
	return max(lo, min(n, hi))
}

func clampFloat(f, lo, hi float64) float64 {
	return max(lo, min(f, hi))
}

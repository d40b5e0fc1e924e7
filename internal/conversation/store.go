package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrInvalidTurn is returned when a turn cannot be appended.
var ErrInvalidTurn = errors.New("invalid turn")

// Summarizer collapses dropped turns into a single summary text.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn) (string, error)
}

// RetentionPolicy controls when and how the store compacts itself.
type RetentionPolicy struct {
	BudgetTokens int  // Compaction threshold; 0 disables compaction
	KeepRecent   int  // Non-pinned turns always kept at the tail
	Summarize    bool // Collapse dropped turns into a summary turn instead of dropping them
}

// DefaultRetentionPolicy mirrors the engine defaults.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		BudgetTokens: 100000,
		KeepRecent:   8,
		Summarize:    true,
	}
}

// CompactReport describes one compaction pass.
type CompactReport struct {
	Dropped      int
	Summarized   bool
	Degraded     bool // Summarization failed and plain truncation was used
	TokensBefore int
	TokensAfter  int
	Err          error // Summarizer error when Degraded
}

// Options configures a Store.
type Options struct {
	Policy     RetentionPolicy
	Summarizer Summarizer // Optional; nil forces truncation
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Store is an append-only, ordered log of turns.
// Turns are copied on the way in and on the way out, so callers can never
// mutate a stored turn.
type Store struct {
	mu         sync.RWMutex
	turns      []Turn
	nextSeq    uint64
	epoch      uint64 // Bumped by Clear; lets compaction detect a concurrent reset
	policy     RetentionPolicy
	summarizer Summarizer
	logger     *slog.Logger
	now        func() time.Time
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	if opts.Policy.KeepRecent < 0 {
		opts.Policy.KeepRecent = 0
	}
	return &Store{
		nextSeq:    1,
		policy:     opts.Policy,
		summarizer: opts.Summarizer,
		logger:     logger,
		now:        now,
	}
}

// SetSummarizer swaps the summarizer (e.g. after a model switch).
func (s *Store) SetSummarizer(sum Summarizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summarizer = sum
}

// Append adds turns atomically: either all of them are appended or none.
// Returns the stored copies with their assigned sequence numbers.
func (s *Store) Append(turns ...Turn) ([]Turn, error) {
	for i, t := range turns {
		if err := validateTurn(t); err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]Turn, len(turns))
	for i := range turns {
		t := turns[i].Clone()
		t.Seq = s.nextSeq
		s.nextSeq++
		if t.Timestamp.IsZero() {
			t.Timestamp = s.now()
		}
		s.turns = append(s.turns, t)
		stored[i] = t.Clone()
	}
	return stored, nil
}

func validateTurn(t Turn) error {
	switch t.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	case RoleTool:
		if t.Result == nil || t.Result.CallID == "" {
			return fmt.Errorf("%w: tool turn without call id", ErrInvalidTurn)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, t.Role)
	}
	if t.Pinned && t.Role != RoleSystem {
		return fmt.Errorf("%w: only system turns can be pinned", ErrInvalidTurn)
	}
	return nil
}

// Snapshot returns a deep copy of all turns in insertion order.
func (s *Store) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloneTurns(s.turns)
}

// Since returns copies of all turns with Seq greater than seq.
func (s *Store) Since(seq uint64) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Turn
	for _, t := range s.turns {
		if t.Seq > seq {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Len returns the number of stored turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// LastSeq returns the highest sequence number handed out so far (0 if none).
func (s *Store) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq - 1
}

// HasPinned reports whether a pinned turn is present.
func (s *Store) HasPinned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.turns {
		if t.Pinned {
			return true
		}
	}
	return false
}

// EstimatedTokens returns the approximate token size of the whole log.
func (s *Store) EstimatedTokens() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tokensOf(s.turns)
}

func tokensOf(turns []Turn) int {
	n := 0
	for _, t := range turns {
		n += estimateTokens(t)
	}
	return n
}

// Clear drops every turn. Sequence numbers keep increasing across clears.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.epoch++
}

// NeedsCompaction reports whether the log exceeds the retention budget.
func (s *Store) NeedsCompaction() bool {
	if s.policy.BudgetTokens <= 0 {
		return false
	}
	return s.EstimatedTokens() > s.policy.BudgetTokens
}

// Compact applies the retention policy when the log is over budget.
// The oldest non-pinned turns are collapsed into one summary turn, or dropped
// when summarization is disabled or fails. A failed summarization is a
// degraded event: it is logged and reported, never swallowed.
func (s *Store) Compact(ctx context.Context) (CompactReport, error) {
	if !s.NeedsCompaction() {
		return CompactReport{}, nil
	}

	s.mu.RLock()
	epoch := s.epoch
	snapshot := CloneTurns(s.turns)
	summarizer := s.summarizer
	s.mu.RUnlock()

	report := CompactReport{TokensBefore: tokensOf(snapshot)}

	dropIdx := s.selectDropped(snapshot)
	if len(dropIdx) == 0 {
		report.TokensAfter = report.TokensBefore
		return report, nil
	}

	dropped := make([]Turn, len(dropIdx))
	for i, idx := range dropIdx {
		dropped[i] = snapshot[idx]
	}

	var summary string
	if s.policy.Summarize {
		if summarizer == nil {
			report.Degraded = true
			report.Err = errors.New("no summarizer configured")
		} else {
			text, err := summarizer.Summarize(ctx, dropped)
			if err != nil {
				if ctx.Err() != nil {
					return CompactReport{}, ctx.Err()
				}
				report.Degraded = true
				report.Err = err
			} else {
				summary = text
				report.Summarized = true
			}
		}
		if report.Degraded {
			s.logger.Warn("conversation summarization failed, truncating",
				"degraded", true,
				"dropped", len(dropped),
				"error", report.Err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		// Cleared while we were summarizing; nothing left to compact.
		return CompactReport{}, nil
	}

	drop := make(map[uint64]bool, len(dropped))
	for _, t := range dropped {
		drop[t.Seq] = true
	}
	lastDropped := dropped[len(dropped)-1].Seq

	kept := make([]Turn, 0, len(s.turns)-len(dropped)+1)
	for _, t := range s.turns {
		if !drop[t.Seq] {
			kept = append(kept, t)
			continue
		}
		if t.Seq == lastDropped && report.Summarized {
			// The summary takes the slot (and sequence number) of the
			// newest dropped turn so ordering stays strictly increasing.
			kept = append(kept, Turn{
				Seq:       lastDropped,
				Role:      RoleSystem,
				Content:   summary,
				Summary:   true,
				Timestamp: s.now(),
			})
		}
	}
	s.turns = kept

	report.Dropped = len(dropped)
	report.TokensAfter = tokensOf(s.turns)

	s.logger.Info("conversation compacted",
		"dropped", report.Dropped,
		"summarized", report.Summarized,
		"tokens_before", report.TokensBefore,
		"tokens_after", report.TokensAfter)

	return report, nil
}

// selectDropped picks indices of turns to drop: every non-pinned turn except
// the newest KeepRecent ones. A tool turn is never kept without the assistant
// turn that requested it, so the boundary moves forward past leading tool turns.
func (s *Store) selectDropped(turns []Turn) []int {
	var candidates []int
	for i, t := range turns {
		if !t.Pinned {
			candidates = append(candidates, i)
		}
	}

	cut := len(candidates) - s.policy.KeepRecent
	if cut <= 0 {
		return nil
	}
	for cut < len(candidates) && turns[candidates[cut]].Role == RoleTool {
		cut++
	}
	return candidates[:cut]
}

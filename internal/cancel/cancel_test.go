package cancel

import (
	"context"
	"errors"
	"testing"
)

func TestBeginIssuesGenerations(t *testing.T) {
	c := NewController()
	first, _ := c.Begin(context.Background())
	c.Release(first)
	second, _ := c.Begin(context.Background())

	if first.Generation() != 1 || second.Generation() != 2 {
		t.Errorf("generations = %d, %d", first.Generation(), second.Generation())
	}
	if c.Generation() != 2 {
		t.Errorf("controller generation = %d", c.Generation())
	}
	if second.Cancelled() {
		t.Error("fresh token cancelled")
	}
}

func TestInterrupt(t *testing.T) {
	c := NewController()
	if c.Interrupt() {
		t.Error("interrupt with nothing running reported true")
	}

	tok, ctx := c.Begin(context.Background())
	if !c.Interrupt() {
		t.Fatal("interrupt reported no running task")
	}
	if tok.Mode() != ModeInterrupt || !errors.Is(tok.Err(), ErrInterrupted) {
		t.Errorf("mode = %s err = %v", tok.Mode(), tok.Err())
	}
	if ctx.Err() == nil || !errors.Is(context.Cause(ctx), ErrInterrupted) {
		t.Errorf("context not cancelled with cause: %v", context.Cause(ctx))
	}
}

func TestBeginInterruptsPrevious(t *testing.T) {
	c := NewController()
	old, _ := c.Begin(context.Background())
	fresh, _ := c.Begin(context.Background())

	if old.Mode() != ModeInterrupt {
		t.Errorf("previous token mode = %s", old.Mode())
	}
	if fresh.Cancelled() {
		t.Error("new token cancelled")
	}

	// Releasing the stale token must not clear the fresh one
	c.Release(old)
	if !c.Active() {
		t.Error("stale release cleared the active token")
	}
}

func TestResetRunsHooksAndClearsGeneration(t *testing.T) {
	c := NewController()
	cleared := 0
	c.OnReset(func() { cleared++ })

	tok, _ := c.Begin(context.Background())
	c.Interrupt()
	c.Reset()

	if tok.Mode() != ModeReset {
		t.Errorf("mode = %s, want reset to upgrade interrupt", tok.Mode())
	}
	if cleared != 1 {
		t.Errorf("hooks ran %d times", cleared)
	}
	if c.Generation() != 0 {
		t.Errorf("generation = %d after reset", c.Generation())
	}

	// An interrupt after reset does not downgrade the mode
	c.Interrupt()
	if tok.Mode() != ModeReset {
		t.Errorf("mode = %s after later interrupt", tok.Mode())
	}
}

func TestReleaseCancelsContext(t *testing.T) {
	c := NewController()
	tok, ctx := c.Begin(context.Background())
	c.Release(tok)

	if ctx.Err() == nil {
		t.Error("context still live after release")
	}
	if tok.Cancelled() {
		t.Error("release marked the token cancelled")
	}
	if c.Active() {
		t.Error("controller still active")
	}
}

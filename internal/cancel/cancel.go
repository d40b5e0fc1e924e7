// Package cancel implements cooperative task cancellation: a flag checked
// at suspension points, a generation counter, and two modes (interrupt and
// reset).
package cancel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Mode is how a task was cancelled.
type Mode int32

const (
	ModeNone Mode = iota
	ModeInterrupt
	ModeReset
)

func (m Mode) String() string {
	switch m {
	case ModeInterrupt:
		return "interrupt"
	case ModeReset:
		return "reset"
	default:
		return "none"
	}
}

var (
	ErrInterrupted = errors.New("task interrupted")
	ErrReset       = errors.New("task reset")
)

// Token is the cancellation signal of one task run.
type Token struct {
	generation uint64
	mode       atomic.Int32
	cancel     context.CancelCauseFunc
}

// Generation is the controller generation the token was issued in.
func (t *Token) Generation() uint64 {
	return t.generation
}

// Cancelled reports whether the task has been told to stop.
func (t *Token) Cancelled() bool {
	return t.Mode() != ModeNone
}

// Mode reports how the task was cancelled, if at all.
func (t *Token) Mode() Mode {
	return Mode(t.mode.Load())
}

// Err returns ErrInterrupted or ErrReset once cancelled, nil before.
func (t *Token) Err() error {
	switch t.Mode() {
	case ModeInterrupt:
		return ErrInterrupted
	case ModeReset:
		return ErrReset
	}
	return nil
}

// signal marks the token. A reset upgrades an earlier interrupt; the first
// mode otherwise wins.
func (t *Token) signal(m Mode) {
	for {
		cur := Mode(t.mode.Load())
		if cur == m || cur == ModeReset {
			return
		}
		if t.mode.CompareAndSwap(int32(cur), int32(m)) {
			break
		}
	}
	t.cancel(t.Err())
}

// Controller issues tokens for successive task runs. At most one token is
// active at a time.
type Controller struct {
	mu         sync.Mutex
	generation uint64
	active     *Token
	onReset    []func()
}

// NewController creates a controller at generation 0.
func NewController() *Controller {
	return &Controller{}
}

// OnReset registers fn to run on every Reset, after the active task has
// been signalled.
func (c *Controller) OnReset(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReset = append(c.onReset, fn)
}

// Begin starts a new generation. Any still-active token is interrupted
// first. The returned context is cancelled when the token is.
func (c *Controller) Begin(parent context.Context) (*Token, context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.active.signal(ModeInterrupt)
	}

	ctx, cancel := context.WithCancelCause(parent)
	c.generation++
	tok := &Token{generation: c.generation, cancel: cancel}
	c.active = tok
	return tok, ctx
}

// Release ends tok's run. Releasing a token that is no longer active is a
// no-op.
func (c *Controller) Release(tok *Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == tok {
		c.active = nil
	}
	tok.cancel(context.Canceled)
}

// Interrupt stops the active task, keeping history. It reports whether a
// task was running.
func (c *Controller) Interrupt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return false
	}
	c.active.signal(ModeInterrupt)
	return true
}

// Reset stops the active task, runs the reset hooks and sets the
// generation counter back to zero.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.active != nil {
		c.active.signal(ModeReset)
	}
	c.generation = 0
	hooks := append([]func(){}, c.onReset...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Generation returns the number of runs begun since the last reset.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Active reports whether a token is outstanding.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

package vad

import "context"

// Scorer wraps a speech probability model. A session calls Reset once before
// its first frame and Score exactly once per frame, in order, from a single
// goroutine. Implementations may keep recurrent state between calls; they
// must tolerate being abandoned mid-call when a session is force-stopped.
type Scorer interface {
	Score(ctx context.Context, f Frame) (float32, error)
	Reset(ctx context.Context) error
}

// ScorerFunc adapts a stateless function to Scorer.
type ScorerFunc func(ctx context.Context, f Frame) (float32, error)

// Score calls fn.
func (fn ScorerFunc) Score(ctx context.Context, f Frame) (float32, error) { return fn(ctx, f) }

// Reset is a no-op.
func (ScorerFunc) Reset(context.Context) error { return nil }

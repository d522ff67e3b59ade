package core

import (
	"fmt"
	"sync/atomic"
)

// RoundLimiter counts the model-call rounds consumed by a run and trips once
// the ceiling is crossed, so a tool-call cycle cannot spin forever. A zero
// max disables the ceiling.
type RoundLimiter struct {
	max   int
	count atomic.Int64
}

// NewRoundLimiter returns a limiter allowing max rounds (0 = unlimited).
func NewRoundLimiter(max int) *RoundLimiter {
	return &RoundLimiter{max: max}
}

// Increment consumes one round. Past the ceiling it returns a wrapped
// ErrMaxTurnsExceeded carrying the offending round number.
func (rl *RoundLimiter) Increment() error {
	n := rl.count.Add(1)
	if rl.max > 0 && int(n) > rl.max {
		return fmt.Errorf("round %d: %w", n, ErrMaxTurnsExceeded)
	}
	return nil
}

// Count returns the rounds consumed so far.
func (rl *RoundLimiter) Count() int {
	return int(rl.count.Load())
}

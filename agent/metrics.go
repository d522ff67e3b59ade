package agent

import "sync/atomic"

// Metrics aggregates quality counters across all runs of a Loop. Counters
// are monotonically increasing and safe for concurrent use.
type Metrics struct {
	messages             atomic.Int64
	modelCalls           atomic.Int64
	toolCalls            atomic.Int64
	failedCalls          atomic.Int64
	validationFailures   atomic.Int64
	moderationDetected   atomic.Int64
	promiseDetected      atomic.Int64
	emptyOutputRetries   atomic.Int64
	maxRoundTerminations atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Messages             int64 `json:"messages"`
	ModelCalls           int64 `json:"model_calls"`
	ToolCalls            int64 `json:"tool_calls"`
	FailedCalls          int64 `json:"failed_calls"`
	ValidationFailures   int64 `json:"validation_failures"`
	ModerationDetected   int64 `json:"moderation_detected"`
	PromiseDetected      int64 `json:"promise_detected"`
	EmptyOutputRetries   int64 `json:"empty_output_retries"`
	MaxRoundTerminations int64 `json:"max_round_terminations"`
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Messages:             m.messages.Load(),
		ModelCalls:           m.modelCalls.Load(),
		ToolCalls:            m.toolCalls.Load(),
		FailedCalls:          m.failedCalls.Load(),
		ValidationFailures:   m.validationFailures.Load(),
		ModerationDetected:   m.moderationDetected.Load(),
		PromiseDetected:      m.promiseDetected.Load(),
		EmptyOutputRetries:   m.emptyOutputRetries.Load(),
		MaxRoundTerminations: m.maxRoundTerminations.Load(),
	}
}

package pipeline

import (
	"log/slog"

	"github.com/openpas/csv2hl7/internal/telemetry"
)

// RetryCoordinator applies the batch state machine. A batch moves
// Pending -> Dispatched -> Succeeded or Failed; a failed batch returns to
// Pending while attempts remain, otherwise it is abandoned. Abandonment is
// reported and non-fatal.
type RetryCoordinator struct {
	maxRetries int
	events     *telemetry.Aggregator

	abandoned []string
}

func NewRetryCoordinator(maxRetries int, events *telemetry.Aggregator) *RetryCoordinator {
	return &RetryCoordinator{maxRetries: maxRetries, events: events}
}

// Dispatch marks the batch as owned by a worker and counts the attempt.
func (c *RetryCoordinator) Dispatch(b *Batch) {
	b.State = StateDispatched
	b.Attempt++
}

// Settle applies an attempt's result to the batch and reports whether the
// batch should be requeued. When it returns false the batch is terminal,
// either Succeeded or Abandoned, and its result belongs in the run totals.
func (c *RetryCoordinator) Settle(b *Batch, res *BatchResult) (requeue bool) {
	if !res.Failed() {
		b.State = StateSucceeded
		return false
	}

	b.State = StateFailed
	if b.Attempt <= c.maxRetries {
		b.State = StatePending
		c.events.Record(slog.LevelWarn, "batch retry scheduled",
			slog.String("batch", b.ID()),
			slog.Int("attempt", b.Attempt),
			slog.Int("max_retries", c.maxRetries),
			slog.Int64("write_failures", res.WriteFailures),
		)
		return true
	}

	b.State = StateAbandoned
	c.abandoned = append(c.abandoned, b.ID())
	c.events.Record(slog.LevelError, "batch abandoned after retries",
		slog.String("batch", b.ID()),
		slog.Int("attempts", b.Attempt),
		slog.Int64("write_failures", res.WriteFailures),
	)
	return false
}

// Abandon forces a terminal failure outside the attempt budget, used when
// shutdown prevents further retries.
func (c *RetryCoordinator) Abandon(b *Batch, res *BatchResult) {
	b.State = StateAbandoned
	c.abandoned = append(c.abandoned, b.ID())
	c.events.Record(slog.LevelError, "batch abandoned at shutdown",
		slog.String("batch", b.ID()),
		slog.Int("attempts", b.Attempt),
		slog.Int64("write_failures", res.WriteFailures),
	)
}

// Abandoned lists the IDs of batches that exhausted their retry budget.
func (c *RetryCoordinator) Abandoned() []string { return c.abandoned }

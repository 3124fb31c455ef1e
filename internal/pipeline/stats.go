package pipeline

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
)

// Stats holds the run counters with thread-safe access. Counter fields use
// atomic operations so the coordinator and any observer can read them while
// batches are still settling.
type Stats struct {
	total         atomic.Int64
	errors        atomic.Int64
	initialized   atomic.Int64
	saved         atomic.Int64
	skipped       atomic.Int64
	writeFailures atomic.Int64
}

// Total returns the number of records read from all sources.
func (s *Stats) Total() int64 { return s.total.Load() }

// Errors returns the number of records rejected before a patient could be
// built.
func (s *Stats) Errors() int64 { return s.errors.Load() }

// Initialized returns the number of records that produced a patient.
func (s *Stats) Initialized() int64 { return s.initialized.Load() }

// Saved returns the number of messages written to disk.
func (s *Stats) Saved() int64 { return s.saved.Load() }

// Skipped returns the number of patients excluded by business rules.
func (s *Stats) Skipped() int64 { return s.skipped.Load() }

// WriteFailures returns the number of records whose message could not be
// written after all retries.
func (s *Stats) WriteFailures() int64 { return s.writeFailures.Load() }

// AddResult folds a batch's settled result into the run totals. Called by
// the coordinator exactly once per batch, on its final attempt.
func (s *Stats) AddResult(r *BatchResult) {
	s.total.Add(r.Total)
	s.errors.Add(r.Errors)
	s.initialized.Add(r.Initialized)
	s.saved.Add(r.Saved)
	s.skipped.Add(r.Skipped)
	s.writeFailures.Add(r.WriteFailures)
}

// AddErrors records source-level failures that never produced a batch
// record, keeping the totals honest when a file dies mid-read.
func (s *Stats) AddErrors(n int64) {
	s.total.Add(n)
	s.errors.Add(n)
}

// LogValue implements slog.LogValuer for structured logging.
func (s *Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("total", s.Total()),
		slog.Int64("errors", s.Errors()),
		slog.Int64("initialized", s.Initialized()),
		slog.Int64("saved", s.Saved()),
		slog.Int64("skipped", s.Skipped()),
		slog.Int64("write_failures", s.WriteFailures()),
	)
}

// statsJSON is the JSON representation for marshaling Stats.
type statsJSON struct {
	Total         int64 `json:"total"`
	Errors        int64 `json:"errors"`
	Initialized   int64 `json:"initialized"`
	Saved         int64 `json:"saved"`
	Skipped       int64 `json:"skipped"`
	WriteFailures int64 `json:"write_failures"`
}

// MarshalJSON implements json.Marshaler for Stats serialization.
func (s *Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(statsJSON{
		Total:         s.total.Load(),
		Errors:        s.errors.Load(),
		Initialized:   s.initialized.Load(),
		Saved:         s.saved.Load(),
		Skipped:       s.skipped.Load(),
		WriteFailures: s.writeFailures.Load(),
	})
}

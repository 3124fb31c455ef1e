package pipeline

import (
	"fmt"
	"log/slog"
	"time"
)

// Reconciliation is the post-run accounting check. Two identities must hold
// once every batch has settled:
//
//	total == errors + initialized
//	initialized == saved + skipped
//
// Unrecovered write failures break the second identity: those records were
// initialized but neither saved nor skipped. The report calls that out
// separately so an abandoned batch reads as the integrity problem it is.
type Reconciliation struct {
	Consistent bool
	Issues     []string
}

// Reconcile checks the settled run totals.
func Reconcile(s *Stats) Reconciliation {
	var issues []string

	if got, want := s.Errors()+s.Initialized(), s.Total(); got != want {
		issues = append(issues, fmt.Sprintf(
			"total %d does not equal errors %d + initialized %d",
			want, s.Errors(), s.Initialized()))
	}
	if got, want := s.Saved()+s.Skipped(), s.Initialized(); got != want {
		issues = append(issues, fmt.Sprintf(
			"initialized %d does not equal saved %d + skipped %d (%d unrecovered write failures)",
			want, s.Saved(), s.Skipped(), s.WriteFailures()))
	}

	return Reconciliation{Consistent: len(issues) == 0, Issues: issues}
}

// Summary is the end-of-run report.
type Summary struct {
	RunID          string
	Stats          *Stats
	Reconciliation Reconciliation
	Abandoned      []string
	Elapsed        time.Duration
}

// LogValue implements slog.LogValuer so the summary logs as one structured
// record.
func (s Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("run_id", s.RunID),
		slog.Any("stats", s.Stats),
		slog.Bool("consistent", s.Reconciliation.Consistent),
		slog.Int("abandoned_batches", len(s.Abandoned)),
		slog.Duration("elapsed", s.Elapsed),
	}
	if len(s.Reconciliation.Issues) > 0 {
		attrs = append(attrs, slog.Any("issues", s.Reconciliation.Issues))
	}
	return slog.GroupValue(attrs...)
}

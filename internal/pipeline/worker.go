package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/openpas/csv2hl7/internal/hl7"
	"github.com/openpas/csv2hl7/internal/patient"
	"github.com/openpas/csv2hl7/internal/schema"
	"github.com/openpas/csv2hl7/internal/telemetry"
)

// MessageWriter persists one encoded message and returns where it went.
// Satisfied by output.Writer.
type MessageWriter interface {
	Save(msg *hl7.Message) (string, error)
}

// Worker converts the records of one batch: map, validate, compose, write.
// Workers share the sequencer (inside the writer) and the telemetry funnel;
// everything else is either immutable or owned by the batch in hand.
type Worker struct {
	schema    *schema.Schema
	validator *patient.Validator
	composer  *hl7.Composer
	writer    MessageWriter
	events    *telemetry.Aggregator
	eventType string
}

// NewWorker wires one worker. All workers in a pool share the same
// collaborators.
func NewWorker(
	s *schema.Schema,
	v *patient.Validator,
	c *hl7.Composer,
	w MessageWriter,
	events *telemetry.Aggregator,
	eventType string,
) *Worker {
	return &Worker{
		schema:    s,
		validator: v,
		composer:  c,
		writer:    w,
		events:    events,
		eventType: eventType,
	}
}

// Process runs one attempt over a batch. Counts in the result cover every
// record in the batch: records written on earlier attempts count as saved
// without being re-emitted, so the final attempt's result is the batch's
// complete accounting. Context cancellation stops mid-batch; unprocessed
// records surface as write failures so the batch is retried or abandoned,
// never silently dropped.
func (w *Worker) Process(ctx context.Context, b *Batch) *BatchResult {
	start := time.Now()
	res := &BatchResult{
		BatchID: b.ID(),
		Attempt: b.Attempt,
		Total:   int64(len(b.Records)),
	}

	for pos, rec := range b.Records {
		if err := ctx.Err(); err != nil {
			if !b.Saved(pos) {
				res.WriteFailures++
				res.FailedPositions = append(res.FailedPositions, pos)
			} else {
				res.Initialized++
				res.Saved++
			}
			continue
		}

		if b.Saved(pos) {
			res.Initialized++
			res.Saved++
			continue
		}

		w.processRecord(b, pos, rec, res)
	}

	res.Elapsed = time.Since(start)
	return res
}

func (w *Worker) processRecord(b *Batch, pos int, rec RawRecord, res *BatchResult) {
	if len(rec.Fields) != w.schema.ExpectedFields() {
		res.Errors++
		w.events.Record(slog.LevelError, "record rejected",
			slog.String("batch", b.ID()),
			slog.String("patient", w.schema.BestIdentifier(rec.Fields)),
			slog.String("reason", patient.ReasonFieldCountMismatch),
			slog.String("source", rec.Source),
			slog.Int("line", rec.Line),
			slog.Int("fields", len(rec.Fields)),
			slog.Int("expected", w.schema.ExpectedFields()),
		)
		return
	}

	outcome := w.validator.Validate(w.schema.Map(rec.Fields))

	for _, note := range outcome.Notes {
		w.events.Record(note.Level, note.Message,
			slog.String("batch", b.ID()),
			slog.String("source", rec.Source),
			slog.Int("line", rec.Line),
		)
	}

	if !outcome.Accepted() {
		rej := outcome.Rejection
		switch rej.Tier {
		case patient.TierSkip:
			// A patient was built and then excluded by a business rule.
			res.Initialized++
			res.Skipped++
			w.events.Record(slog.LevelInfo, "record skipped",
				slog.String("batch", b.ID()),
				slog.String("patient", rej.PatientID),
				slog.String("reason", rej.Reason),
				slog.String("detail", rej.Detail),
			)
		default:
			res.Errors++
			w.events.Record(slog.LevelError, "record rejected",
				slog.String("batch", b.ID()),
				slog.String("patient", rej.PatientID),
				slog.String("reason", rej.Reason),
				slog.String("detail", rej.Detail),
				slog.String("source", rec.Source),
				slog.Int("line", rec.Line),
			)
		}
		return
	}

	p := outcome.Patient
	res.Initialized++

	msg, err := w.composer.Compose(p, w.eventType)
	if err != nil {
		// Validation should make this impossible; treat as a write failure
		// so the retry machinery surfaces it rather than losing the record.
		res.WriteFailures++
		res.FailedPositions = append(res.FailedPositions, pos)
		w.events.Record(slog.LevelError, "message composition failed",
			slog.String("batch", b.ID()),
			slog.String("patient", p.InternalPatientNumber),
			slog.String("error", err.Error()),
		)
		return
	}

	path, err := w.writer.Save(msg)
	if err != nil {
		res.WriteFailures++
		res.FailedPositions = append(res.FailedPositions, pos)
		w.events.Record(slog.LevelError, "message write failed",
			slog.String("batch", b.ID()),
			slog.String("patient", p.InternalPatientNumber),
			slog.String("error", err.Error()),
		)
		return
	}

	b.MarkSaved(pos)
	res.Saved++
	w.events.Record(slog.LevelDebug, "message saved",
		slog.String("batch", b.ID()),
		slog.String("patient", p.InternalPatientNumber),
		slog.String("path", path),
	)
}

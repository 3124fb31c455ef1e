package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpas/csv2hl7/internal/config"
	"github.com/openpas/csv2hl7/internal/hl7"
	"github.com/openpas/csv2hl7/internal/patient"
	"github.com/openpas/csv2hl7/internal/pipeline"
	"github.com/openpas/csv2hl7/internal/schema"
	"github.com/openpas/csv2hl7/internal/telemetry"
)

// nopSink discards telemetry; worker tests assert on counts, not events.
type nopSink struct{}

func (nopSink) Emit(telemetry.Event) {}

// fakeWriter fails its first failRemaining saves, then records the rest.
type fakeWriter struct {
	mu            sync.Mutex
	failRemaining int
	saved         []string
}

var _ pipeline.MessageWriter = (*fakeWriter)(nil)

func (w *fakeWriter) Save(msg *hl7.Message) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failRemaining > 0 {
		w.failRemaining--
		return "", errors.New("disk full")
	}
	w.saved = append(w.saved, msg.PatientID)
	return "out/" + msg.PatientID, nil
}

func (w *fakeWriter) saveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.saved)
}

// patientRecord builds a conforming 26-field record in the default layout.
func patientRecord(line int, id, surname, dob string) pipeline.RawRecord {
	fields := make([]string, config.DefaultExpectedFieldCount)
	fields[0] = id
	fields[2] = "C" + id
	fields[5] = surname
	fields[6] = "JOHN"
	fields[7] = dob
	fields[8] = "M"
	fields[15] = "SW1A 1AA"
	return pipeline.RawRecord{Source: "test", Line: line, Fields: fields}
}

func newTestWorker(t *testing.T, w pipeline.MessageWriter) (*pipeline.Worker, *telemetry.Aggregator) {
	t.Helper()
	cfg := config.Default()
	events := telemetry.NewAggregator(nopSink{})
	t.Cleanup(func() { _ = events.Close() })

	worker := pipeline.NewWorker(
		schema.Default(),
		patient.NewValidator(cfg.Patient),
		hl7.NewComposer(cfg.HL7, cfg.PV1),
		w,
		events,
		cfg.HL7.DefaultEventType,
	)
	return worker, events
}

func TestWorker_Process_Accounting(t *testing.T) {
	records := []pipeline.RawRecord{
		patientRecord(1, "001", "SMITH", "19800115"),
		patientRecord(2, "002", "JONES", "19950320"),
		{Source: "test", Line: 3, Fields: []string{"003", "short"}}, // field count mismatch
		patientRecord(4, "004", "BROWN", "18960115"),                // age over limit, no death
		patientRecord(5, "005", "TAYLOR", "19701224"),
	}
	b := &pipeline.Batch{Source: "test", Index: 0, Records: records, Attempt: 1}

	w, _ := newTestWorker(t, &fakeWriter{})
	res := w.Process(context.Background(), b)

	require.Equal(t, int64(5), res.Total)
	require.Equal(t, int64(1), res.Errors)
	require.Equal(t, int64(4), res.Initialized)
	require.Equal(t, int64(3), res.Saved)
	require.Equal(t, int64(1), res.Skipped)
	require.Equal(t, int64(0), res.WriteFailures)
	require.False(t, res.Failed())

	require.Equal(t, res.Total, res.Errors+res.Initialized)
	require.Equal(t, res.Initialized, res.Saved+res.Skipped)
}

func TestWorker_Process_RetrySkipsSavedPositions(t *testing.T) {
	records := []pipeline.RawRecord{
		patientRecord(1, "001", "SMITH", "19800115"),
		patientRecord(2, "002", "JONES", "19950320"),
		patientRecord(3, "003", "BROWN", "19701224"),
	}
	b := &pipeline.Batch{Source: "test", Index: 0, Records: records, Attempt: 1}

	writer := &fakeWriter{failRemaining: 1}
	w, _ := newTestWorker(t, writer)

	first := w.Process(context.Background(), b)
	require.Equal(t, int64(2), first.Saved)
	require.Equal(t, int64(1), first.WriteFailures)
	require.True(t, first.Failed())
	require.Equal(t, []int{0}, first.FailedPositions)

	b.Attempt = 2
	second := w.Process(context.Background(), b)
	require.Equal(t, int64(3), second.Saved)
	require.Equal(t, int64(0), second.WriteFailures)
	require.False(t, second.Failed())

	// The two records written on the first attempt were not re-emitted.
	require.Equal(t, 3, writer.saveCount())
}

func TestWorker_Process_CancelledContext(t *testing.T) {
	records := []pipeline.RawRecord{
		patientRecord(1, "001", "SMITH", "19800115"),
		patientRecord(2, "002", "JONES", "19950320"),
	}
	b := &pipeline.Batch{Source: "test", Index: 0, Records: records, Attempt: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writer := &fakeWriter{}
	w, _ := newTestWorker(t, writer)
	res := w.Process(ctx, b)

	require.Equal(t, int64(2), res.WriteFailures, "unprocessed records surface as write failures")
	require.Equal(t, 0, writer.saveCount())
}

func TestWorker_Process_DeterministicOutcomes(t *testing.T) {
	rec := patientRecord(1, "001", "SMITH", "19800115")

	for attempt := 1; attempt <= 3; attempt++ {
		b := &pipeline.Batch{
			Source:  "test",
			Index:   0,
			Records: []pipeline.RawRecord{rec},
			Attempt: attempt,
		}
		w, _ := newTestWorker(t, &fakeWriter{})
		res := w.Process(context.Background(), b)
		require.Equal(t, int64(1), res.Saved, "attempt %d", attempt)
	}
}

func TestWorker_Process_LargeBatchInvariant(t *testing.T) {
	var records []pipeline.RawRecord
	for i := range 200 {
		switch {
		case i%50 == 7:
			records = append(records, pipeline.RawRecord{
				Source: "test", Line: i + 1, Fields: []string{"bad"},
			})
		case i%50 == 19:
			records = append(records, patientRecord(i+1, fmt.Sprintf("%03d", i), "OLD", "19000101"))
		default:
			records = append(records, patientRecord(i+1, fmt.Sprintf("%03d", i), "SMITH", "19800115"))
		}
	}
	b := &pipeline.Batch{Source: "test", Index: 0, Records: records, Attempt: 1}

	w, _ := newTestWorker(t, &fakeWriter{})
	res := w.Process(context.Background(), b)

	require.Equal(t, int64(200), res.Total)
	require.Equal(t, res.Total, res.Errors+res.Initialized)
	require.Equal(t, res.Initialized, res.Saved+res.Skipped)
	require.Equal(t, int64(4), res.Errors)
	require.Equal(t, int64(4), res.Skipped)
}

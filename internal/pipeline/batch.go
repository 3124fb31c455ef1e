package pipeline

import (
	"fmt"
	"iter"
	"time"
)

// BatchState tracks a batch through dispatch and retry.
type BatchState int

const (
	// StatePending means the batch is queued and waiting for a worker.
	StatePending BatchState = iota
	// StateDispatched means a worker currently owns the batch.
	StateDispatched
	// StateSucceeded means every record settled with no write failures.
	StateSucceeded
	// StateFailed means the last attempt left write failures; the batch
	// may return to StatePending if attempts remain.
	StateFailed
	// StateAbandoned means the retry budget is exhausted with write
	// failures outstanding. Terminal, reported, non-fatal.
	StateAbandoned
)

func (s BatchState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDispatched:
		return "dispatched"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Batch is one unit of work for the worker pool: a slice of records from a
// single source plus the retry bookkeeping that travels with it. A batch is
// owned by exactly one goroutine at a time — by the coordinator while
// pending or settled, by one worker while dispatched — so it needs no
// locking.
type Batch struct {
	Source  string
	Index   int
	Records []RawRecord

	State   BatchState
	Attempt int // 1-based, set on dispatch

	// saved holds record positions written on earlier attempts. A retry
	// re-runs the whole batch but never re-emits these.
	saved map[int]struct{}
}

// ID is the batch identifier used in telemetry, unique within a run.
func (b *Batch) ID() string {
	return fmt.Sprintf("%s:%d", b.Source, b.Index)
}

// Saved reports whether the record at pos was written on a prior attempt.
func (b *Batch) Saved(pos int) bool {
	_, ok := b.saved[pos]
	return ok
}

// MarkSaved records that the record at pos has been written.
func (b *Batch) MarkSaved(pos int) {
	if b.saved == nil {
		b.saved = make(map[int]struct{})
	}
	b.saved[pos] = struct{}{}
}

// BatchResult is the accounting for one attempt over a full batch. Counts
// cover every record in the batch, including records carried over as saved
// from earlier attempts, so the final attempt's result is the batch's
// settled contribution to the run totals.
type BatchResult struct {
	BatchID string
	Attempt int

	Total         int64
	Errors        int64
	Initialized   int64
	Saved         int64
	Skipped       int64
	WriteFailures int64

	// FailedPositions are the record positions that hit a write failure
	// this attempt.
	FailedPositions []int

	Elapsed time.Duration
}

// Failed reports whether this attempt left anything unwritten.
func (r *BatchResult) Failed() bool { return r.WriteFailures > 0 }

// Batches groups a source's records into batches of size, the last one
// short. Records stream through; a whole file is never held in memory. A
// source read error is yielded once and ends the sequence; any complete
// records gathered before it still form a final batch first.
func Batches(src Source, size int) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		index := 0
		records := make([]RawRecord, 0, size)

		flush := func() bool {
			if len(records) == 0 {
				return true
			}
			b := &Batch{
				Source:  src.Name(),
				Index:   index,
				Records: records,
				State:   StatePending,
			}
			index++
			records = make([]RawRecord, 0, size)
			return yield(b, nil)
		}

		for rec, err := range src.Records() {
			if err != nil {
				if !flush() {
					return
				}
				yield(nil, err)
				return
			}
			records = append(records, rec)
			if len(records) >= size {
				if !flush() {
					return
				}
			}
		}
		flush()
	}
}
